package telegram

import (
	"context"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewBot creates new telegram bot
func NewBot(c BotConfig) (*Bot, error) {
	if c.UpdatesTimeout <= 0 {
		c.UpdatesTimeout = 60
	}

	// Long polling holds the request for UpdatesTimeout seconds.
	client := &http.Client{Timeout: time.Duration(c.UpdatesTimeout+10) * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(c.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return NewBotWithAPI(bot, c), nil
}

// NewBotWithAPI creates a bot on top of an existing API client
func NewBotWithAPI(api API, c BotConfig) *Bot {
	return &Bot{
		api:      api,
		Config:   c,
		log:      log.WithField("component", "telegram"),
		commands: make(map[string]command),
		views:    make(map[string]View),
		buttons:  make(map[string]string),
	}
}

// GetUpdatesChannel gets new updates updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.api.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", m.ChatID)
	params.AddNonEmpty("text", m.Text)
	params.AddNonZero("message_thread_id", m.ThreadID)
	params.AddNonZero("reply_to_message_id", m.ReplyTo)
	params.AddNonEmpty("parse_mode", b.Config.ParseMode)
	params.AddBool("disable_web_page_preview", b.Config.DisableWebPagePreview)
	if m.Markup != nil {
		if err := params.AddInterface("reply_markup", m.Markup); err != nil {
			return &SendError{ChatID: m.ChatID, Err: errors.Wrap(err, "could not encode reply markup")}
		}
	}

	if _, err := b.api.MakeRequest("sendMessage", params); err != nil {
		return &SendError{ChatID: m.ChatID, Err: errors.Wrap(err, "could not send message")}
	}

	b.log.Debugf("message sent to %s: %.100s", m.ChatID, m.Text)
	return nil
}

// SendPhoto uploads a PNG with a caption to chatID.
func (b *Bot) SendPhoto(chatID int64, name string, data []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption
	photo.ParseMode = b.Config.ParseMode

	if _, err := b.api.Request(photo); err != nil {
		return &SendError{ChatID: strconv.FormatInt(chatID, 10), Err: errors.Wrap(err, "could not send photo")}
	}
	return nil
}

// Send delivers text to the configured chat and thread. The underlying HTTP
// call cannot be interrupted, so a cancelled ctx only stops the wait.
func (b *Bot) Send(ctx context.Context, text string) error {
	m := Message{
		ChatID:   b.Config.ChatID,
		ThreadID: b.Config.ThreadID,
		Text:     text,
	}
	if err := ctx.Err(); err != nil {
		return &SendError{ChatID: m.ChatID, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- b.SendMessage(m)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &SendError{ChatID: m.ChatID, Err: ctx.Err()}
	}
}

// LogSender writes messages to the log instead of Telegram. It is used when
// no bot token is available.
type LogSender struct {
	Log *log.Entry
}

func (s LogSender) Send(ctx context.Context, text string) error {
	entry := s.Log
	if entry == nil {
		entry = log.WithField("component", "telegram")
	}
	entry.Infof("TELEGRAM: %s", text)
	return nil
}
