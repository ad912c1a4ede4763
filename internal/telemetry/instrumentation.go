package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes stay bounded: provider names, stages and status
// values only. Chat ids, job ids, URLs and filenames belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with component and status.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	ctx, span := t.Tracer().Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := statusOf(err)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("status", status))

	return err
}

// InstrumentDBOperation instruments ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload instruments a source download. fn reports the bytes it
// wrote so the byte counter can be fed.
func (t *Telemetry) InstrumentDownload(ctx context.Context, fn func(ctx context.Context) (int64, error)) error {
	start := time.Now()

	t.incrementActiveDownloads(1)
	defer t.incrementActiveDownloads(-1)

	var written int64

	err := t.InstrumentOperation(ctx, "download", "downloader", func(ctx context.Context) error {
		var err error

		written, err = fn(ctx)

		return err
	})

	t.RecordDownload(statusOf(err), time.Since(start), written)

	return err
}

// InstrumentUpload instruments one upload attempt against a provider.
func (t *Telemetry) InstrumentUpload(ctx context.Context, provider string, fn InstrumentedFunc) error {
	start := time.Now()

	err := t.InstrumentOperation(ctx, "upload_"+provider, "provider", func(ctx context.Context) error {
		return fn(ctx)
	})

	t.RecordUpload(provider, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
