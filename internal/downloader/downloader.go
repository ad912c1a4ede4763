package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rood-one/telegram-anime-downloader/internal/downloader/progress"
	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

const (
	dirPerm  = 0755
	filePerm = 0644

	copyBufferSize          = 32 * 1024
	defaultProgressInterval = 10 * 1024 * 1024
)

// Downloader streams remote files to disk, resuming partial files between
// attempts.
type Downloader struct {
	client           *http.Client
	policy           transfer.RetryPolicy
	telemetry        *telemetry.Telemetry
	progressInterval int64
	maxBytes         int64
}

type Option func(*Downloader)

// WithTelemetry records download metrics and spans.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = t }
}

// WithProgressInterval sets how many bytes pass between progress log lines.
func WithProgressInterval(n int64) Option {
	return func(d *Downloader) { d.progressInterval = n }
}

// WithMaxBytes aborts a download as soon as the source grows past n bytes,
// whatever length it declared. Zero means unlimited.
func WithMaxBytes(n int64) Option {
	return func(d *Downloader) { d.maxBytes = n }
}

func New(client *http.Client, policy transfer.RetryPolicy, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}

	d := &Downloader{
		client:           client,
		policy:           policy,
		progressInterval: defaultProgressInterval,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Probe asks the source for its size with a HEAD request. Any failure yields
// transfer.UnknownSize.
func (d *Downloader) Probe(ctx context.Context, url string) int64 {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return transfer.UnknownSize
	}

	resp, err := d.client.Do(req)
	if err != nil {
		logger.DebugContext(ctx, "size probe failed", "err", err)

		return transfer.UnknownSize
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 || resp.ContentLength < 0 {
		logger.DebugContext(ctx, "size probe inconclusive", "status", resp.StatusCode)

		return transfer.UnknownSize
	}

	return resp.ContentLength
}

// Download fetches url into destPath. Transient failures are retried with the
// configured policy and resume from the bytes already on disk. On terminal
// failure the partial file is removed and a *transfer.DownloadError returned.
func (d *Downloader) Download(ctx context.Context, url, destPath string) (transfer.DownloadState, error) {
	logger := logctx.LoggerFromContext(ctx)

	state := transfer.DownloadState{LocalPath: destPath, TotalBytesExpected: transfer.UnknownSize}

	if err := os.MkdirAll(filepath.Dir(destPath), dirPerm); err != nil {
		return state, &transfer.DownloadError{URL: url, Attempts: 0, Err: &transfer.ResourceError{Path: filepath.Dir(destPath), Err: err}}
	}

	err := d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (int64, error) {
		st, attempts, err := transfer.Retry(ctx, d.policy, "download", func(ctx context.Context, attempt uint) (transfer.DownloadState, error) {
			return d.attempt(ctx, url, destPath, attempt)
		})
		if err != nil {
			return st.BytesWritten, &transfer.DownloadError{URL: url, Attempts: attempts, Err: err}
		}

		state = st

		return st.BytesWritten, nil
	})
	if err != nil {
		if rmErr := os.Remove(destPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.WarnContext(ctx, "failed to remove partial download", "path", destPath, "err", rmErr)
		}

		return state, err
	}

	logger.InfoContext(ctx, "download finished", "path", destPath, "size", humanize.IBytes(uint64(state.BytesWritten)))

	return state, nil
}

func (d *Downloader) attempt(ctx context.Context, url, destPath string, attempt uint) (transfer.DownloadState, error) {
	logger := logctx.LoggerFromContext(ctx).With("attempt", attempt)

	state := transfer.DownloadState{LocalPath: destPath, TotalBytesExpected: transfer.UnknownSize}

	offset, err := existingSize(destPath)
	if err != nil {
		return state, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return state, &transfer.InvalidInputError{Field: "url", Reason: "cannot build request", Err: err}
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return state, &transfer.NetworkError{Operation: "download", APIMessage: "request failed", Err: err}
	}

	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	total := resp.ContentLength

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			// The server resumed somewhere else; start over on the next attempt.
			_ = os.Truncate(destPath, 0)

			return state, &transfer.NetworkError{Operation: "download", StatusCode: resp.StatusCode, APIMessage: "unexpected content range"}
		}

		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		total = size

		logger.InfoContext(ctx, "resuming download", "offset", humanize.IBytes(uint64(offset)))
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		if _, size, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && size == offset {
			state.BytesWritten = offset
			state.TotalBytesExpected = offset

			return state, nil
		}

		_ = os.Truncate(destPath, 0)

		return state, &transfer.NetworkError{Operation: "download", StatusCode: resp.StatusCode, APIMessage: "range not satisfiable"}
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		offset = 0
	case transfer.TransientStatus(resp.StatusCode):
		return state, &transfer.NetworkError{Operation: "download", StatusCode: resp.StatusCode, APIMessage: resp.Status}
	default:
		return state, &transfer.InvalidInputError{Field: "source", Reason: "server answered " + resp.Status}
	}

	state.TotalBytesExpected = total

	if d.maxBytes > 0 && total > d.maxBytes {
		return state, &transfer.SizeExceededError{SizeBytes: total, LimitBytes: d.maxBytes, SourceURL: url}
	}

	f, err := os.OpenFile(destPath, flags, filePerm)
	if err != nil {
		return state, &transfer.ResourceError{Path: destPath, Err: err}
	}

	logger.DebugContext(ctx, "downloading file", "path", destPath, "expected", sizeLabel(total))

	pr := progress.NewReader(resp.Body, offset, total, d.progressInterval, func(written, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.IBytes(uint64(written)),
				"total", humanize.IBytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.IBytes(uint64(written)))
		}
	})

	var body io.Reader = pr
	if d.maxBytes > 0 {
		// One byte past the ceiling is enough to know it was crossed.
		body = io.LimitReader(pr, max(d.maxBytes-offset+1, 0))
	}

	w := &fileWriter{f: f}
	_, copyErr := io.CopyBuffer(w, body, make([]byte, copyBufferSize))
	closeErr := f.Close()

	state.BytesWritten = pr.Written()

	switch {
	case w.err != nil:
		return state, &transfer.ResourceError{Path: destPath, Err: w.err}
	case copyErr != nil:
		return state, &transfer.NetworkError{Operation: "download", APIMessage: "body read interrupted", Err: copyErr}
	case closeErr != nil:
		return state, &transfer.ResourceError{Path: destPath, Err: closeErr}
	case d.maxBytes > 0 && state.BytesWritten > d.maxBytes:
		return state, &transfer.SizeExceededError{SizeBytes: max(total, state.BytesWritten), LimitBytes: d.maxBytes, SourceURL: url}
	}

	if total >= 0 && state.BytesWritten < total {
		return state, &transfer.NetworkError{
			Operation:  "download",
			APIMessage: fmt.Sprintf("short body: got %d of %d bytes", state.BytesWritten, total),
			Err:        io.ErrUnexpectedEOF,
		}
	}

	if total < 0 {
		state.TotalBytesExpected = state.BytesWritten
	}

	return state, nil
}

// fileWriter keeps disk errors apart from network errors during the copy and
// hides ReadFrom so the bounded buffer is used.
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}

	return n, err
}

func existingSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}

		return 0, &transfer.ResourceError{Path: path, Err: err}
	}

	return info.Size(), nil
}

// parseContentRange understands "bytes start-end/size" and "bytes */size".
// start is -1 for the unsatisfied form, size is -1 when the server sent "*".
func parseContentRange(v string) (start, size int64, ok bool) {
	v, found := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !found {
		return 0, 0, false
	}

	rng, sizeStr, found := strings.Cut(v, "/")
	if !found {
		return 0, 0, false
	}

	size = -1
	if sizeStr != "*" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}

		size = n
	}

	if rng == "*" {
		return -1, size, true
	}

	startStr, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return start, size, true
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown"
	}

	return humanize.IBytes(uint64(n))
}
