package routing

import (
	"testing"

	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func mbytes(f float64) int64 { return int64(f * mb) }

func TestSelectPath(t *testing.T) {
	threshold := int64(45 * mb)

	tests := []struct {
		name string
		size int64
		want Path
	}{
		{name: "just under", size: mbytes(44.9), want: DeliverInline},
		{name: "exactly at", size: threshold, want: DeliverInline},
		{name: "just over", size: mbytes(45.1), want: UseProvider},
		{name: "unknown", size: transfer.UnknownSize, want: UseProvider},
		{name: "zero", size: 0, want: UseProvider},
		{name: "tiny", size: 1, want: DeliverInline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectPath(tt.size, threshold))
		})
	}
}

func TestPolicy_Plan(t *testing.T) {
	p := Policy{InlineThreshold: 45 * mb}

	tests := []struct {
		name     string
		declared int64
		choice   transfer.Choice
		want     Path
	}{
		{name: "auto small", declared: 10 * mb, choice: transfer.ChoiceAuto, want: DeliverInline},
		{name: "auto large", declared: 100 * mb, choice: transfer.ChoiceAuto, want: UseProvider},
		{name: "auto unknown", declared: transfer.UnknownSize, choice: transfer.ChoiceAuto, want: UseProvider},
		{name: "provider small", declared: 10 * mb, choice: transfer.ChoiceProvider, want: UseProvider},
		{name: "direct large", declared: 100 * mb, choice: transfer.ChoiceDirect, want: UseProvider},
		{name: "direct unknown", declared: transfer.UnknownSize, choice: transfer.ChoiceDirect, want: DeliverInline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Plan(tt.declared, tt.choice))
		})
	}
}

func TestPolicy_Confirm(t *testing.T) {
	p := Policy{InlineThreshold: 45 * mb}

	assert.Equal(t, UseProvider, p.Confirm(DeliverInline, 46*mb))
	assert.Equal(t, DeliverInline, p.Confirm(DeliverInline, 10*mb))
	assert.Equal(t, UseProvider, p.Confirm(UseProvider, 10*mb))
	assert.Equal(t, UseProvider, p.Confirm(DeliverInline, 0))
}

func TestPolicy_Admit(t *testing.T) {
	unlimited := Policy{InlineThreshold: 45 * mb}
	assert.NoError(t, unlimited.Admit("https://x/a.mp4", 10_000*mb))

	capped := Policy{InlineThreshold: 45 * mb, MaxSourceBytes: 2048 * mb}
	assert.NoError(t, capped.Admit("https://x/a.mp4", transfer.UnknownSize))
	assert.NoError(t, capped.Admit("https://x/a.mp4", 2048*mb))

	err := capped.Admit("https://x/a.mp4?token=1", 2049*mb)

	var sizeErr *transfer.SizeExceededError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, "https://x/a.mp4?token=1", sizeErr.SourceURL)
	assert.Equal(t, int64(2048*mb), sizeErr.LimitBytes)
}
