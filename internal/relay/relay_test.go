package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/downloader"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/routing"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

var testPolicy = transfer.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

// sizedSource serves a zero-filled file of n bytes with a declared length.
func sizedSource(t *testing.T, n int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "video.mp4", time.Time{}, zeroReader(n))
	}))
	t.Cleanup(srv.Close)

	return srv
}

type zeros struct{ size, off int64 }

func zeroReader(n int64) *zeros { return &zeros{size: n} }

func (z *zeros) Read(p []byte) (int, error) {
	if z.off >= z.size {
		return 0, io.EOF
	}

	n := int64(len(p))
	if rem := z.size - z.off; n > rem {
		n = rem
	}

	clear(p[:n])
	z.off += n

	return int(n), nil
}

func (z *zeros) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		z.off = offset
	case 1:
		z.off += offset
	case 2:
		z.off = z.size + offset
	}

	return z.off, nil
}

type fakeCourier struct {
	mu    sync.Mutex
	err   error
	sent  []int64
	files []string
}

func (c *fakeCourier) SendFile(_ context.Context, _ int64, path, filename string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, statErr := os.Stat(path)
	if statErr == nil && info.Size() == size {
		c.files = append(c.files, filename)
	}

	if c.err != nil {
		return c.err
	}

	c.sent = append(c.sent, size)

	return nil
}

type fakeHost struct {
	name  string
	link  string
	err   error
	calls int
}

func (h *fakeHost) Name() string { return h.name }

func (h *fakeHost) Upload(_ context.Context, path, _ string) (string, error) {
	h.calls++

	if _, err := os.Stat(path); err != nil {
		return "", err
	}

	if h.err != nil {
		return "", h.err
	}

	return h.link, nil
}

type memLedger struct {
	mu       sync.Mutex
	started  []storage.TransferRecord
	finished map[string]storage.Completion
}

func (l *memLedger) Start(_ context.Context, rec storage.TransferRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.started = append(l.started, rec)

	return nil
}

func (l *memLedger) Finish(_ context.Context, jobID string, c storage.Completion) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.finished == nil {
		l.finished = map[string]storage.Completion{}
	}

	l.finished[jobID] = c

	return nil
}

func (l *memLedger) InterruptOrphans(context.Context) (int64, error) { return 0, nil }

type recordingAlerts struct {
	mu   sync.Mutex
	msgs []string
}

func (a *recordingAlerts) Notify(_ context.Context, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.msgs = append(a.msgs, content)

	return nil
}

type stageLog struct {
	mu     sync.Mutex
	stages []transfer.Stage
}

func (s *stageLog) Stage(_ context.Context, stage transfer.Stage, _ routing.Path, _ int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stages = append(s.stages, stage)
}

type harness struct {
	relay   *Relay
	courier *fakeCourier
	host    *fakeHost
	ledger  *memLedger
	alerts  *recordingAlerts
	workDir string
}

func newHarness(t *testing.T, client *http.Client, maxSource int64) *harness {
	t.Helper()

	h := &harness{
		courier: &fakeCourier{},
		host:    &fakeHost{name: "gofile", link: "https://gofile.io/d/abc"},
		ledger:  &memLedger{},
		alerts:  &recordingAlerts{},
		workDir: t.TempDir(),
	}

	chain := provider.NewChain([]provider.Provider{h.host}, testPolicy, nil)
	policy := routing.Policy{InlineThreshold: 45 * mb, MaxSourceBytes: maxSource}

	h.relay = New(downloader.New(client, testPolicy, downloader.WithMaxBytes(maxSource)), chain, h.courier, policy, h.workDir,
		WithLedger(h.ledger), WithAlerts(h.alerts))

	return h
}

func (h *harness) assertWorkspaceEmpty(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(h.workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "job workspace must be removed")
}

func TestExecute_SmallFileInline(t *testing.T) {
	src := sizedSource(t, 10*mb)
	h := newHarness(t, src.Client(), 0)

	req := transfer.NewRequest(src.URL+"/ep.mp4", "Test Episode 1.mp4", 42, 7, transfer.ChoiceAuto)
	stages := &stageLog{}

	res := h.relay.Execute(context.Background(), req, stages)
	require.NoError(t, res.Err)

	assert.Equal(t, transfer.DeliveredInline, res.Outcome)
	assert.Equal(t, int64(10*mb), res.SizeBytes)
	assert.Equal(t, []int64{10 * mb}, h.courier.sent)
	assert.Equal(t, []string{"Test Episode 1.mp4"}, h.courier.files)
	assert.Zero(t, h.host.calls)

	assert.Equal(t, []transfer.Stage{
		transfer.StageProbe, transfer.StageDownload, transfer.StageRoute, transfer.StageDeliver,
	}, stages.stages)

	assert.Equal(t, storage.StatusInline, h.ledger.finished[req.ID.String()].Status)
	h.assertWorkspaceEmpty(t)
}

func TestExecute_LargeFileViaProvider(t *testing.T) {
	src := sizedSource(t, 100*mb)
	h := newHarness(t, src.Client(), 0)

	req := transfer.NewRequest(src.URL, "big.mkv", 42, 7, transfer.ChoiceAuto)

	res := h.relay.Execute(context.Background(), req, nil)
	require.NoError(t, res.Err)

	assert.Equal(t, transfer.DeliveredViaProvider, res.Outcome)
	assert.Equal(t, "gofile", res.Provider)
	assert.Equal(t, "https://gofile.io/d/abc", res.Link)
	assert.Empty(t, h.courier.sent)

	done := h.ledger.finished[req.ID.String()]
	assert.Equal(t, storage.StatusProvider, done.Status)
	assert.Equal(t, "https://gofile.io/d/abc", done.Link)
	h.assertWorkspaceEmpty(t)
}

func TestExecute_DirectChoiceCorrectedByMeasuredSize(t *testing.T) {
	// No HEAD support, so the direct choice plans inline until the size is known.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)

			return
		}

		http.ServeContent(w, r, "v.mp4", time.Time{}, zeroReader(50*mb))
	}))
	defer srv.Close()

	h := newHarness(t, srv.Client(), 0)

	res := h.relay.Execute(context.Background(), transfer.NewRequest(srv.URL, "v.mp4", 1, 1, transfer.ChoiceDirect), nil)
	require.NoError(t, res.Err)

	assert.Equal(t, transfer.DeliveredViaProvider, res.Outcome)
	assert.Empty(t, h.courier.sent)
}

func TestExecute_ProviderChoiceForSmallFile(t *testing.T) {
	src := sizedSource(t, 1*mb)
	h := newHarness(t, src.Client(), 0)

	res := h.relay.Execute(context.Background(), transfer.NewRequest(src.URL, "v.mp4", 1, 1, transfer.ChoiceProvider), nil)

	assert.Equal(t, transfer.DeliveredViaProvider, res.Outcome)
	assert.Equal(t, 1, h.host.calls)
}

func TestExecute_InlineFailureFallsBackToProvider(t *testing.T) {
	src := sizedSource(t, 2*mb)
	h := newHarness(t, src.Client(), 0)
	h.courier.err = errors.New("Bad Request: file is too big")

	res := h.relay.Execute(context.Background(), transfer.NewRequest(src.URL, "v.mp4", 1, 1, transfer.ChoiceAuto), nil)
	require.NoError(t, res.Err)

	assert.Equal(t, transfer.DeliveredViaProvider, res.Outcome)
	assert.Equal(t, 1, h.host.calls)
}

func TestExecute_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := newHarness(t, srv.Client(), 0)
	req := transfer.NewRequest(srv.URL+"/x.mp4?token=secret", "x.mp4", 5, 5, transfer.ChoiceAuto)

	res := h.relay.Execute(context.Background(), req, nil)

	assert.Equal(t, transfer.Failed, res.Outcome)
	assert.Equal(t, transfer.StageDownload, res.Stage)

	var dlErr *transfer.DownloadError
	require.ErrorAs(t, res.Err, &dlErr)
	assert.Equal(t, uint(3), dlErr.Attempts)

	assert.Zero(t, h.host.calls)
	assert.Equal(t, storage.StatusFailed, h.ledger.finished[req.ID.String()].Status)

	require.Len(t, h.alerts.msgs, 1)
	assert.Contains(t, h.alerts.msgs[0], "download")
	assert.Contains(t, h.alerts.msgs[0], "/x.mp4")
	assert.NotContains(t, h.alerts.msgs[0], "secret")
	assert.NotContains(t, res.Err.Error(), "secret")
	assert.NotContains(t, h.ledger.finished[req.ID.String()].Error, "secret")
	h.assertWorkspaceEmpty(t)
}

func TestExecute_SourceTooLarge(t *testing.T) {
	src := sizedSource(t, 10*mb)
	h := newHarness(t, src.Client(), 5*mb)

	res := h.relay.Execute(context.Background(), transfer.NewRequest(src.URL, "x.mp4", 1, 1, transfer.ChoiceAuto), nil)

	assert.Equal(t, transfer.StageProbe, res.Stage)

	var sizeErr *transfer.SizeExceededError
	require.ErrorAs(t, res.Err, &sizeErr)
	assert.Equal(t, src.URL, sizeErr.SourceURL)
	assert.Empty(t, h.courier.sent)
}

func TestExecute_UndeclaredSourceStopsAtCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}

		chunk := make([]byte, 64*1024)
		for range 160 {
			if _, err := w.Write(chunk); err != nil {
				return
			}

			w.(http.Flusher).Flush()
		}
	}))
	defer srv.Close()

	h := newHarness(t, srv.Client(), 1*mb)
	req := transfer.NewRequest(srv.URL+"/big.mkv?token=secret", "big.mkv", 1, 1, transfer.ChoiceAuto)

	res := h.relay.Execute(context.Background(), req, nil)

	assert.Equal(t, transfer.Failed, res.Outcome)
	assert.Equal(t, transfer.StageDownload, res.Stage)

	var sizeErr *transfer.SizeExceededError
	require.ErrorAs(t, res.Err, &sizeErr)
	assert.Equal(t, int64(1*mb), sizeErr.LimitBytes)
	assert.NotContains(t, res.Err.Error(), "secret")

	assert.Empty(t, h.courier.sent)
	assert.Zero(t, h.host.calls)
	h.assertWorkspaceEmpty(t)
}

func TestExecute_AllProvidersFail(t *testing.T) {
	src := sizedSource(t, 60*mb)
	h := newHarness(t, src.Client(), 0)
	h.host.err = &transfer.ProviderError{Provider: "gofile", Kind: transfer.ProviderRejected, StatusCode: 403}

	res := h.relay.Execute(context.Background(), transfer.NewRequest(src.URL, "x.mp4", 1, 1, transfer.ChoiceAuto), nil)

	assert.Equal(t, transfer.Failed, res.Outcome)
	assert.Equal(t, transfer.StageUpload, res.Stage)
	assert.Equal(t, int64(60*mb), res.SizeBytes)

	var chain *transfer.ChainError
	assert.ErrorAs(t, res.Err, &chain)
	h.assertWorkspaceEmpty(t)
}

func TestExecute_CancelledJobIsInterrupted(t *testing.T) {
	src := sizedSource(t, 1*mb)
	h := newHarness(t, src.Client(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := transfer.NewRequest(src.URL, "x.mp4", 1, 1, transfer.ChoiceAuto)
	res := h.relay.Execute(ctx, req, nil)

	assert.Equal(t, transfer.Failed, res.Outcome)
	assert.Equal(t, storage.StatusInterrupted, h.ledger.finished[req.ID.String()].Status)
	assert.Empty(t, h.alerts.msgs)
}

func TestExecute_ConcurrentJobsDoNotCollide(t *testing.T) {
	src := sizedSource(t, 1*mb)
	h := newHarness(t, src.Client(), 0)

	var wg sync.WaitGroup

	results := make([]transfer.Result, 4)
	for i := range results {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			results[i] = h.relay.Execute(context.Background(), transfer.NewRequest(src.URL, "same.mp4", int64(i), 1, transfer.ChoiceAuto), nil)
		}(i)
	}

	wg.Wait()

	for _, res := range results {
		assert.Equal(t, transfer.DeliveredInline, res.Outcome)
	}

	h.assertWorkspaceEmpty(t)
}

func TestSourceHost(t *testing.T) {
	assert.Equal(t, "cdn.example.com", sourceHost("https://cdn.example.com/a.mp4?sig=abc"))
	assert.Equal(t, "unknown", sourceHost("::"))
	assert.False(t, strings.Contains(sourceHost("https://h/x?token=t"), "token"))
}
