package provider

import (
	"context"
	"errors"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

// Chain tries providers in priority order. Transient failures are retried
// against the same provider; rejections move on to the next one.
type Chain struct {
	providers []Provider
	policy    transfer.RetryPolicy
	telemetry *telemetry.Telemetry
}

func NewChain(providers []Provider, policy transfer.RetryPolicy, tel *telemetry.Telemetry) *Chain {
	return &Chain{providers: providers, policy: policy, telemetry: tel}
}

// Names returns the provider names in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}

	return names
}

// Upload returns the name of the provider that accepted the file and the link
// it produced. When every provider fails the error is a *transfer.ChainError.
func (c *Chain) Upload(ctx context.Context, path, filename string) (string, string, error) {
	logger := logctx.LoggerFromContext(ctx)

	var errs []error

	for _, p := range c.providers {
		name := p.Name()

		link, attempts, err := transfer.Retry(ctx, c.policy, "upload_"+name, func(ctx context.Context, _ uint) (string, error) {
			var link string

			err := c.telemetry.InstrumentUpload(ctx, name, func(ctx context.Context) error {
				var err error

				link, err = p.Upload(ctx, path, filename)

				return err
			})

			return link, asProviderError(name, err)
		})
		if err == nil {
			logger.InfoContext(ctx, "upload succeeded", "provider", name, "attempts", attempts)

			return name, link, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", errors.Join(ctxErr, &transfer.ChainError{Errs: append(errs, err)})
		}

		logger.WarnContext(ctx, "provider failed, trying next", "provider", name, "attempts", attempts, "err", err)

		errs = append(errs, err)
	}

	return "", "", &transfer.ChainError{Errs: errs}
}

// asProviderError tags untyped failures with the provider name so the chain
// error always says who failed.
func asProviderError(name string, err error) error {
	if err == nil {
		return nil
	}

	var pe *transfer.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	kind := transfer.ProviderRejected
	if transfer.Transient(err) {
		kind = transfer.ProviderTransient
	}

	return &transfer.ProviderError{Provider: name, Kind: kind, Err: err}
}
