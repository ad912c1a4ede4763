package progress

import (
	"errors"
	"io"
)

// Reader wraps an io.Reader and reports cumulative progress via a callback
// every interval bytes and once more when the stream ends.
type Reader struct {
	reader     io.Reader
	total      int64
	interval   int64
	read       int64
	lastReport int64
	done       bool
	onProgress func(written int64, total int64)
}

// NewReader starts counting at offset so resumed transfers report the size of
// the whole file. total may be -1 when unknown.
func NewReader(r io.Reader, offset, total, interval int64, cb func(written int64, total int64)) *Reader {
	if cb == nil {
		cb = func(int64, int64) {}
	}

	return &Reader{
		reader:     r,
		total:      total,
		interval:   interval,
		read:       offset,
		lastReport: offset,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)

		if pr.interval > 0 && pr.read-pr.lastReport >= pr.interval {
			pr.onProgress(pr.read, pr.total)
			pr.lastReport = pr.read
		}
	}

	if errors.Is(err, io.EOF) && !pr.done {
		pr.done = true
		pr.onProgress(pr.read, pr.total)
	}

	return n, err
}

// Written returns the bytes seen so far, including the starting offset.
func (pr *Reader) Written() int64 {
	return pr.read
}
