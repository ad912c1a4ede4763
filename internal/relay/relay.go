// Package relay runs one transfer end to end: probe the source, download it
// into a private workspace, then deliver it inline or through the upload
// providers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/notifier"
	"github.com/rood-one/telegram-anime-downloader/internal/routing"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

const alertTimeout = 10 * time.Second

type Downloader interface {
	Probe(ctx context.Context, url string) int64
	Download(ctx context.Context, url, destPath string) (transfer.DownloadState, error)
}

// Uploader returns the provider that accepted the file and its link.
type Uploader interface {
	Upload(ctx context.Context, path, filename string) (string, string, error)
}

// Courier sends a local file straight into a chat.
type Courier interface {
	SendFile(ctx context.Context, chatID int64, path, filename string, sizeBytes int64) error
}

// Observer hears about each stage a job enters. size is the best known size
// at that point and may be transfer.UnknownSize.
type Observer interface {
	Stage(ctx context.Context, stage transfer.Stage, path routing.Path, size int64)
}

type Relay struct {
	downloader Downloader
	uploader   Uploader
	courier    Courier
	policy     routing.Policy
	workDir    string

	ledger    storage.TransferWriteRepository
	alerts    notifier.Notifier
	telemetry *telemetry.Telemetry
}

type Option func(*Relay)

func WithLedger(l storage.TransferWriteRepository) Option {
	return func(r *Relay) { r.ledger = l }
}

func WithAlerts(n notifier.Notifier) Option {
	return func(r *Relay) { r.alerts = n }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Relay) { r.telemetry = t }
}

func New(d Downloader, u Uploader, c Courier, policy routing.Policy, workDir string, opts ...Option) *Relay {
	r := &Relay{
		downloader: d,
		uploader:   u,
		courier:    c,
		policy:     policy,
		workDir:    workDir,
		alerts:     notifier.Nop{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Execute runs req to completion. It always returns a Result and never leaves
// the job workspace behind.
func (r *Relay) Execute(ctx context.Context, req transfer.Request, obs Observer) transfer.Result {
	ctx = logctx.WithJob(ctx, req.ChatID, req.ID.String())
	logger := logctx.LoggerFromContext(ctx).With("filename", req.Filename, "choice", req.Choice.String())
	ctx = logctx.WithLogger(ctx, logger)

	if obs == nil {
		obs = nopObserver{}
	}

	r.telemetry.IncrementActiveJobs()
	defer r.telemetry.DecrementActiveJobs()

	r.startLedger(ctx, req)

	result := r.run(ctx, req, obs)

	r.finishLedger(ctx, req, result)
	r.telemetry.RecordDelivery(result.Outcome.String(), string(result.Stage))

	if result.Succeeded() {
		logger.InfoContext(ctx, "transfer delivered",
			"outcome", result.Outcome.String(), "provider", result.Provider, "size", sizeLabel(result.SizeBytes))

		return result
	}

	logger.ErrorContext(ctx, "transfer failed", "stage", string(result.Stage), "size", sizeLabel(result.SizeBytes), "err", result.Err)
	r.alert(ctx, req, result)

	return result
}

func (r *Relay) run(ctx context.Context, req transfer.Request, obs Observer) transfer.Result {
	logger := logctx.LoggerFromContext(ctx)

	obs.Stage(ctx, transfer.StageProbe, routing.UseProvider, transfer.UnknownSize)

	declared := r.downloader.Probe(ctx, req.SourceURL)
	if err := r.policy.Admit(req.SourceURL, declared); err != nil {
		return transfer.Failure(transfer.StageProbe, declared, err)
	}

	plan := r.policy.Plan(declared, req.Choice)

	jobDir := filepath.Join(r.workDir, req.ID.String())
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			logger.WarnContext(ctx, "failed to remove job workspace", "path", jobDir, "err", err)
		}
	}()

	dest := filepath.Join(jobDir, req.Filename)

	obs.Stage(ctx, transfer.StageDownload, plan, declared)

	state, err := r.downloader.Download(ctx, req.SourceURL, dest)
	if err != nil {
		return transfer.Failure(transfer.StageDownload, declared, err)
	}

	size := state.BytesWritten

	if err := r.policy.Admit(req.SourceURL, size); err != nil {
		return transfer.Failure(transfer.StageRoute, size, err)
	}

	path := r.policy.Confirm(plan, size)
	if path != plan {
		logger.InfoContext(ctx, "measured size overrides inline plan", "size", sizeLabel(size))
	}

	obs.Stage(ctx, transfer.StageRoute, path, size)

	if path == routing.DeliverInline {
		obs.Stage(ctx, transfer.StageDeliver, path, size)

		err := r.courier.SendFile(ctx, req.ChatID, dest, req.Filename, size)
		if err == nil {
			return transfer.Inline(size)
		}

		if ctx.Err() != nil {
			return transfer.Failure(transfer.StageDeliver, size, err)
		}

		logger.WarnContext(ctx, "inline delivery failed, falling back to upload providers", "err", err)
	}

	obs.Stage(ctx, transfer.StageUpload, routing.UseProvider, size)

	name, link, err := r.uploader.Upload(ctx, dest, req.Filename)
	if err != nil {
		return transfer.Failure(transfer.StageUpload, size, err)
	}

	return transfer.ViaProvider(name, link, size)
}

func (r *Relay) startLedger(ctx context.Context, req transfer.Request) {
	if r.ledger == nil {
		return
	}

	err := r.ledger.Start(ctx, storage.TransferRecord{
		JobID:     req.ID.String(),
		ChatID:    req.ChatID,
		SourceURL: req.SourceURL,
		Filename:  req.Filename,
		Status:    storage.StatusRunning,
		Stage:     string(transfer.StageProbe),
		StartedAt: time.Now(),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record transfer start", "err", err)
	}
}

func (r *Relay) finishLedger(ctx context.Context, req transfer.Request, result transfer.Result) {
	if r.ledger == nil {
		return
	}

	c := storage.Completion{
		Stage:     string(result.Stage),
		Provider:  result.Provider,
		Link:      result.Link,
		SizeBytes: result.SizeBytes,
	}

	switch {
	case result.Outcome == transfer.DeliveredInline:
		c.Status = storage.StatusInline
	case result.Outcome == transfer.DeliveredViaProvider:
		c.Status = storage.StatusProvider
	case errors.Is(result.Err, context.Canceled):
		c.Status = storage.StatusInterrupted
		c.Error = result.Err.Error()
	default:
		c.Status = storage.StatusFailed
		c.Error = result.Err.Error()
	}

	// The job context may already be cancelled; the row must still close.
	if err := r.ledger.Finish(context.WithoutCancel(ctx), req.ID.String(), c); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record transfer result", "err", err)
	}
}

func (r *Relay) alert(ctx context.Context, req transfer.Request, result transfer.Result) {
	if errors.Is(result.Err, context.Canceled) {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	msg := fmt.Sprintf("transfer %s for chat %d failed at %s (%s, source host %s): %v",
		req.ID, req.ChatID, result.Stage, sizeLabel(result.SizeBytes), sourceHost(req.SourceURL), result.Err)

	if err := r.alerts.Notify(ctx, msg); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to send operator alert", "err", err)
	}
}

// sourceHost keeps query tokens out of alerts.
func sourceHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}

	return u.Host
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown size"
	}

	return humanize.IBytes(uint64(n))
}

type nopObserver struct{}

func (nopObserver) Stage(context.Context, transfer.Stage, routing.Path, int64) {}
