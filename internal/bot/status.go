package bot

import (
	"context"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/routing"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

// Courier delivers files straight into a chat, as a document or as a
// streamable video.
type Courier struct {
	gw      Gateway
	asVideo bool
}

func NewCourier(gw Gateway, asVideo bool) *Courier {
	return &Courier{gw: gw, asVideo: asVideo}
}

func (c *Courier) SendFile(ctx context.Context, chatID int64, path, filename string, sizeBytes int64) error {
	caption := Caption(filename, sizeBytes)

	if c.asVideo {
		return c.gw.SendVideo(ctx, chatID, path, caption)
	}

	return c.gw.SendDocument(ctx, chatID, path, caption)
}

// statusReporter keeps one status message per job up to date. It is used
// from the job goroutine only.
type statusReporter struct {
	gw            Gateway
	chatID        int64
	messageID     int
	providerLabel string
}

func newStatusReporter(gw Gateway, chatID int64, providerLabel string) *statusReporter {
	return &statusReporter{gw: gw, chatID: chatID, providerLabel: providerLabel}
}

func (s *statusReporter) Stage(ctx context.Context, stage transfer.Stage, path routing.Path, size int64) {
	text := stageText(stage, path, s.providerLabel)
	if text == "" {
		return
	}

	if size >= 0 {
		text += "\n📦 الحجم: " + megabytes(size) + " MB"
	}

	s.show(ctx, text)
}

// show edits the status message, or sends a fresh one when there is none yet
// or the edit was refused.
func (s *statusReporter) show(ctx context.Context, text string) {
	logger := logctx.LoggerFromContext(ctx)

	if s.messageID != 0 {
		err := s.gw.EditMessage(ctx, s.chatID, s.messageID, text)
		if err == nil {
			return
		}

		logger.WarnContext(ctx, "failed to edit status message", "message_id", s.messageID, "err", err)
	}

	id, err := s.gw.SendMessage(ctx, s.chatID, text)
	if err != nil {
		logger.ErrorContext(ctx, "failed to send status message", "err", err)

		return
	}

	s.messageID = id
}
