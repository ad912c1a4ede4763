package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// InvalidInputError represents input that can never succeed no matter how
// often it is retried: a malformed URL, an empty filename, or a source that
// answered with a permanent 4xx status.
type InvalidInputError struct {
	Field  string // Which input was rejected (e.g., "url", "filename", "source")
	Reason string // Human-readable explanation of why the input is invalid
	Err    error  // Underlying error, if any
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// NetworkError represents network failures and transient HTTP answers including
// 5xx responses, 408, 429, connection resets and truncated bodies.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "download", "probe")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	APIMessage string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ProviderErrorKind tells the fallback chain whether retrying the same provider
// can help.
type ProviderErrorKind int

const (
	// ProviderTransient failures are retried against the same provider.
	ProviderTransient ProviderErrorKind = iota
	// ProviderRejected failures move on to the next provider immediately.
	ProviderRejected
)

func (k ProviderErrorKind) String() string {
	if k == ProviderRejected {
		return "rejected"
	}

	return "transient"
}

// ProviderError represents a failed upload to a file host.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "provider %s %s", e.Provider, e.Kind)

	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// SizeExceededError is returned when a source is larger than the configured
// ceiling.
type SizeExceededError struct {
	SizeBytes  int64
	LimitBytes int64
	SourceURL  string
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("source %s is %d bytes, limit is %d bytes", RedactURL(e.SourceURL), e.SizeBytes, e.LimitBytes)
}

// ResourceError represents local disk failures. It is fatal for the job that
// hit it and never retried.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("local resource error at %s: %v", e.Path, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// DownloadError is the terminal failure of a download after the retry budget
// was spent or a permanent error was hit.
type DownloadError struct {
	URL      string
	Attempts uint
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed after %d attempt(s): %v", RedactURL(e.URL), e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ChainError aggregates the failure of every provider in a fallback chain, in
// the order they were tried.
type ChainError struct {
	Errs []error
}

func (e *ChainError) Error() string {
	if len(e.Errs) == 0 {
		return "no upload provider configured"
	}

	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}

	return fmt.Sprintf("all %d provider(s) failed: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *ChainError) Unwrap() []error {
	return e.Errs
}

// RedactURL keeps the scheme, host and path of raw. User info, query and
// fragment are dropped because signed links carry their tokens there.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}

	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

// Transient reports whether err is worth another attempt.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var (
		invalid  *InvalidInputError
		size     *SizeExceededError
		resource *ResourceError
		network  *NetworkError
		prov     *ProviderError
	)

	switch {
	case errors.As(err, &invalid), errors.As(err, &size), errors.As(err, &resource):
		return false
	case errors.As(err, &prov):
		return prov.Kind == ProviderTransient
	case errors.As(err, &network):
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var (
		netErr net.Error
		urlErr *url.Error
	)

	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

// TransientStatus reports whether an HTTP status code is worth retrying.
func TransientStatus(code int) bool {
	return code >= 500 || code == 408 || code == 429
}
