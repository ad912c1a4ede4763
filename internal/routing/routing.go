// Package routing decides whether a file is sent inline in the chat or
// re-uploaded to a file host.
package routing

import (
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

type Path int

const (
	DeliverInline Path = iota
	UseProvider
)

func (p Path) String() string {
	if p == DeliverInline {
		return "inline"
	}

	return "provider"
}

// SelectPath routes a known size at or under threshold inline. Unknown
// (negative) and zero sizes go to a provider.
func SelectPath(size, threshold int64) Path {
	if size > 0 && size <= threshold {
		return DeliverInline
	}

	return UseProvider
}

type Policy struct {
	// InlineThreshold is the largest file sent directly in the chat.
	InlineThreshold int64
	// MaxSourceBytes rejects larger sources up front. Zero means unlimited.
	MaxSourceBytes int64
}

// Plan picks a path from the declared size and the user's choice. An
// explicit direct choice with an unknown size tries inline and lets Confirm
// correct it once the size is measured.
func (p Policy) Plan(declared int64, choice transfer.Choice) Path {
	switch choice {
	case transfer.ChoiceProvider:
		return UseProvider
	case transfer.ChoiceDirect:
		if declared < 0 {
			return DeliverInline
		}
	}

	return SelectPath(declared, p.InlineThreshold)
}

// Confirm re-checks an inline plan against the measured size. Provider plans
// are never turned back into inline sends.
func (p Policy) Confirm(plan Path, measured int64) Path {
	if plan == DeliverInline && SelectPath(measured, p.InlineThreshold) == UseProvider {
		return UseProvider
	}

	return plan
}

// Admit rejects a source whose declared size is over MaxSourceBytes.
func (p Policy) Admit(sourceURL string, declared int64) error {
	if p.MaxSourceBytes > 0 && declared > p.MaxSourceBytes {
		return &transfer.SizeExceededError{SizeBytes: declared, LimitBytes: p.MaxSourceBytes, SourceURL: sourceURL}
	}

	return nil
}
