package provider

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// NewHTTPClient returns the client upload adapters share. A request fails
// once its body stops moving for longer than stall, or the host takes longer
// than stall to answer after the last byte. Steady uploads are never cut off
// however long they run.
func NewHTTPClient(base http.RoundTripper, stall time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}

	if stall <= 0 {
		return &http.Client{Transport: base}
	}

	return &http.Client{Transport: &stallTransport{base: base, stall: stall}}
}

type stallTransport struct {
	base  http.RoundTripper
	stall time.Duration
}

func (t *stallTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	timer := &stallTimer{d: t.stall}
	timer.t = time.AfterFunc(t.stall, cancel)

	req = req.WithContext(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		req.Body = &stallBody{ReadCloser: req.Body, timer: timer}
	}

	resp, err := t.base.RoundTrip(req)
	timer.stop()

	if err != nil {
		cancel()

		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}

	return resp, nil
}

type stallTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	d       time.Duration
	stopped bool
}

func (s *stallTimer) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.t.Reset(s.d)
	}
}

func (s *stallTimer) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.t.Stop()
}

type stallBody struct {
	io.ReadCloser
	timer *stallTimer
}

func (b *stallBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.timer.touch()
	}

	return n, err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}
