package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	jobKey    contextKey = "job"
)

// Job identifies the chat and transfer job a log record belongs to.
type Job struct {
	ChatID int64
	JobID  string
}

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithJob stores the job identity so TraceHandler can stamp it on every record
// logged with this context.
func WithJob(ctx context.Context, chatID int64, jobID string) context.Context {
	return context.WithValue(ctx, jobKey, Job{ChatID: chatID, JobID: jobID})
}

// JobFromContext returns the job identity stored by WithJob.
func JobFromContext(ctx context.Context) (Job, bool) {
	j, ok := ctx.Value(jobKey).(Job)
	return j, ok
}
