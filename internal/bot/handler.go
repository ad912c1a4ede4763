// Package bot is the chat surface: it turns Telegram updates into session
// steps and runs the transfers they claim.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/semaphore"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/relay"
	"github.com/rood-one/telegram-anime-downloader/internal/session"
	"github.com/rood-one/telegram-anime-downloader/internal/storage"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

const (
	defaultHistoryLimit = 5
	replyTimeout        = 30 * time.Second
)

// Runner executes one claimed transfer.
type Runner interface {
	Execute(ctx context.Context, req transfer.Request, obs relay.Observer) transfer.Result
}

type Settings struct {
	// MaxParallel bounds the number of transfers running at once.
	MaxParallel int64
	// MaxDirectSize is only used in help texts.
	MaxDirectSize int64
	ProviderLabel string
	HistoryLimit  int
}

type Handler struct {
	gw       Gateway
	flow     *session.Flow
	runner   Runner
	history  storage.TransferReadRepository
	settings Settings

	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	telemetry *telemetry.Telemetry
}

type HandlerOption func(*Handler)

func WithHistory(r storage.TransferReadRepository) HandlerOption {
	return func(h *Handler) { h.history = r }
}

func WithTelemetry(t *telemetry.Telemetry) HandlerOption {
	return func(h *Handler) { h.telemetry = t }
}

func NewHandler(gw Gateway, flow *session.Flow, runner Runner, settings Settings, opts ...HandlerOption) *Handler {
	if settings.MaxParallel <= 0 {
		settings.MaxParallel = 1
	}

	if settings.HistoryLimit <= 0 {
		settings.HistoryLimit = defaultHistoryLimit
	}

	if settings.ProviderLabel == "" {
		settings.ProviderLabel = "provider"
	}

	h := &Handler{
		gw:       gw,
		flow:     flow,
		runner:   runner,
		settings: settings,
		sem:      semaphore.NewWeighted(settings.MaxParallel),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run dispatches updates until ctx is done or the channel closes, then waits
// for every running job to settle.
func (h *Handler) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "update loop stopping, waiting for running jobs")
			h.Wait()

			return nil
		case u, ok := <-updates:
			if !ok {
				h.Wait()

				return nil
			}

			h.wg.Add(1)

			go func() {
				defer h.wg.Done()
				h.HandleUpdate(ctx, u)
			}()
		}
	}
}

// Wait blocks until all dispatched updates and jobs have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		h.telemetry.RecordUpdate("callback")
		h.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Chat != nil:
		if u.Message.IsCommand() {
			h.telemetry.RecordUpdate("command")
			h.handleCommand(ctx, u.Message)

			return
		}

		h.telemetry.RecordUpdate("text")
		h.handleText(ctx, u.Message)
	default:
		h.telemetry.RecordUpdate("other")
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		h.reply(ctx, chatID, msgWelcome)
	case "help":
		h.reply(ctx, chatID, fmt.Sprintf(msgHelp, megabytes(h.settings.MaxDirectSize)))
	case "cancel":
		switch h.flow.Cancel(chatID).Kind {
		case session.StepCancelled:
			h.reply(ctx, chatID, msgCancelled)
		case session.StepBusy:
			h.reply(ctx, chatID, msgBusy)
		default:
			h.reply(ctx, chatID, msgNothingToCancel)
		}
	case "history":
		h.reply(ctx, chatID, h.historyFor(ctx, chatID))
	default:
		h.reply(ctx, chatID, msgUnknownCommand)
	}
}

func (h *Handler) historyFor(ctx context.Context, chatID int64) string {
	if h.history == nil {
		return msgNoHistory
	}

	records, err := h.history.Recent(ctx, chatID, h.settings.HistoryLimit)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to read transfer history", "chat_id", chatID, "err", err)

		return msgHistoryFailed
	}

	return historyText(records)
}

func (h *Handler) handleText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	step := h.flow.HandleText(chatID, userID, msg.Text)

	switch step.Kind {
	case session.StepAskFilename:
		h.reply(ctx, chatID, msgAskFilename)
	case session.StepAskFilenameAgain:
		h.reply(ctx, chatID, msgAskFilenameAgain)
	case session.StepAskChoice:
		h.askChoice(ctx, chatID, step.Filename)
	case session.StepExecute:
		h.launch(ctx, step.Request)
	case session.StepBusy:
		h.reply(ctx, chatID, msgBusy)
	case session.StepExpired:
		h.reply(ctx, chatID, msgExpired)
	default:
		h.reply(ctx, chatID, msgSendURLFirst)
	}
}

func (h *Handler) askChoice(ctx context.Context, chatID int64, filename string) {
	text := fmt.Sprintf(msgChoicePrompt, html.EscapeString(filename))

	if _, err := h.gw.SendChoice(ctx, chatID, text, choiceButtons(h.settings.ProviderLabel)); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send delivery choice", "chat_id", chatID, "err", err)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	logger := logctx.LoggerFromContext(ctx)

	if err := h.gw.AnswerCallback(ctx, cb.ID, ""); err != nil {
		logger.WarnContext(ctx, "failed to answer callback", "err", err)
	}

	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}

	chatID, messageID := cb.Message.Chat.ID, cb.Message.MessageID

	var userID int64
	if cb.From != nil {
		userID = cb.From.ID
	}

	step := h.flow.HandleChoice(chatID, userID, transfer.ParseChoice(cb.Data))

	switch step.Kind {
	case session.StepExecute:
		if err := h.gw.ClearKeyboard(ctx, chatID, messageID); err != nil {
			logger.WarnContext(ctx, "failed to clear delivery keyboard", "chat_id", chatID, "err", err)
		}

		h.launch(ctx, step.Request)
	case session.StepBusy:
		h.reply(ctx, chatID, msgBusy)
	default:
		if err := h.gw.EditMessage(ctx, chatID, messageID, msgExpired); err != nil {
			logger.WarnContext(ctx, "failed to mark choice as expired", "chat_id", chatID, "err", err)
			h.reply(ctx, chatID, msgExpired)
		}
	}
}

// launch runs req on its own goroutine. The chat stays claimed until the job
// has reported its result.
func (h *Handler) launch(ctx context.Context, req transfer.Request) {
	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		defer h.flow.Finish(req.ChatID)

		status := newStatusReporter(h.gw, req.ChatID, h.settings.ProviderLabel)

		if !h.sem.TryAcquire(1) {
			status.show(ctx, msgQueued)

			if err := h.sem.Acquire(ctx, 1); err != nil {
				h.finalize(ctx, status, msgShuttingDown)

				return
			}
		}
		defer h.sem.Release(1)

		res := h.runner.Execute(ctx, req, status)

		text := resultText(req, res)
		if errors.Is(res.Err, context.Canceled) {
			text = msgShuttingDown
		}

		h.finalize(ctx, status, text)
	}()
}

// finalize reports a job's end even while the bot shuts down.
func (h *Handler) finalize(ctx context.Context, status *statusReporter, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()

	status.show(ctx, text)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.gw.SendMessage(ctx, chatID, text); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send reply", "chat_id", chatID, "err", err)
	}
}
