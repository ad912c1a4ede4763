package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Gateway is the outbound side of the chat. Text is HTML formatted; captions
// are plain text.
type Gateway interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) error
	SendVideo(ctx context.Context, chatID int64, path, caption string) error
	SendChoice(ctx context.Context, chatID int64, text string, buttons []Button) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	ClearKeyboard(ctx context.Context, chatID int64, messageID int) error
}

const updateTimeout = 60

// PollWindow is the shortest stall bound the gateway client may have without
// cutting off long polls.
const PollWindow = 2 * updateTimeout * time.Second

// TelegramGateway implements Gateway on the Bot API.
type TelegramGateway struct {
	api   *tgbotapi.BotAPI
	token string
}

// NewTelegramGateway connects with token. An empty endpoint uses the public
// Bot API; otherwise it is a tgbotapi endpoint format such as
// "http://host/bot%s/%s". A nil client uses a plain http.Client.
func NewTelegramGateway(token, endpoint string, debug bool, client *http.Client) (*TelegramGateway, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	if client == nil {
		client = &http.Client{}
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, redact(fmt.Errorf("failed to connect to telegram: %w", err), token)
	}

	api.Debug = debug

	return &TelegramGateway{api: api, token: token}, nil
}

// Username is the bot's account name.
func (g *TelegramGateway) Username() string {
	return g.api.Self.UserName
}

// Updates long-polls for updates until ctx is done.
func (g *TelegramGateway) Updates(ctx context.Context) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout

	updates := g.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		g.api.StopReceivingUpdates()
	}()

	return updates
}

func (g *TelegramGateway) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := g.api.Send(msg)
	if err != nil {
		return 0, redact(err, g.token)
	}

	return sent.MessageID, nil
}

func (g *TelegramGateway) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true

	_, err := g.api.Request(edit)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}

	return redact(err, g.token)
}

func (g *TelegramGateway) SendDocument(ctx context.Context, chatID int64, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption

	return g.sendFile(ctx, doc)
}

func (g *TelegramGateway) SendVideo(ctx context.Context, chatID int64, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	video.Caption = caption
	video.SupportsStreaming = true

	return g.sendFile(ctx, video)
}

// sendFile returns as soon as ctx is done. tgbotapi cannot cancel the
// request, so the upload itself is left to the client's stall bound.
func (g *TelegramGateway) sendFile(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)

	go func() {
		_, err := g.api.Send(c)
		done <- err
	}()

	select {
	case err := <-done:
		return redact(err, g.token)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *TelegramGateway) SendChoice(ctx context.Context, chatID int64, text string, buttons []Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data)))
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	sent, err := g.api.Send(msg)
	if err != nil {
		return 0, redact(err, g.token)
	}

	return sent.MessageID, nil
}

func (g *TelegramGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := g.api.Request(tgbotapi.NewCallback(callbackID, text))

	return redact(err, g.token)
}

func (g *TelegramGateway) ClearKeyboard(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	empty := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}

	_, err := g.api.Request(tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, empty))

	return redact(err, g.token)
}

// redactedError hides the bot token that Bot API transport errors carry in
// their request URL.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if err == nil || token == "" {
		return err
	}

	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}

	return &redactedError{msg: strings.ReplaceAll(msg, token, "<redacted>"), err: err}
}
