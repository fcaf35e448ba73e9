package telegram

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"quant-telegram/internal/formatter"
	"quant-telegram/lib/translation"
)

// RegisterCommand adds a /name handler. Registering a name again replaces it.
func (b *Bot) RegisterCommand(name, description string, h CommandHandler) {
	name = strings.TrimPrefix(name, "/")

	b.mu.Lock()
	b.commands[name] = command{description: description, handler: h}
	b.mu.Unlock()

	b.log.Debugf("registered command: /%s - %s", name, description)
}

// RegisterView adds a view and the callbacks of its buttons.
func (b *Bot) RegisterView(v View) {
	b.mu.Lock()
	b.views[v.Name] = v
	for _, btn := range v.Buttons {
		b.buttons[btn.Data] = btn.View
	}
	b.mu.Unlock()

	b.log.Debugf("registered view %s with %d buttons", v.Name, len(v.Buttons))
}

// SendView renders a view and sends it with its buttons to the configured chat.
func (b *Bot) SendView(ctx context.Context, name string) error {
	text, markup, err := b.renderView(ctx, name)
	if err != nil {
		return err
	}

	return b.SendMessage(Message{
		ChatID:   b.Config.ChatID,
		ThreadID: b.Config.ThreadID,
		Text:     text,
		Markup:   markup,
	})
}

// Run consumes updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	updates, err := b.GetUpdatesChannel()
	if err != nil {
		return errors.Wrap(err, "could not get updates channel")
	}

	b.log.Infof("interactive mode started with %d commands", b.commandCount())
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes Telegram updates
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	if u.CallbackQuery != nil {
		b.HandleCallbackQuery(ctx, u.CallbackQuery)
		return
	}

	if u.Message == nil || !u.Message.IsCommand() {
		b.log.Debug("received non-message or non-command")
		return
	}

	b.handleCommand(ctx, u.Message)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			b.log.Errorf("recovered from panic in /%s: %v\nStack trace: %s", msg.Command(), r, stackTrace)
		}
	}()

	name := msg.Command()
	b.log.Debugf("received command: %s", name)

	var text string
	if name == "help" || name == "start" {
		text = b.helpText()
	} else {
		b.mu.RLock()
		cmd, ok := b.commands[name]
		b.mu.RUnlock()

		if !ok {
			text = formatter.Escape(b.Config.ParseMode, translation.Translate("Unknown command. Try /help"))
		} else {
			var err error
			text, err = cmd.handler(ctx, msg)
			if err != nil {
				b.log.Errorf("command /%s failed: %v", name, err)
				text = formatter.Escape(b.Config.ParseMode, "ERROR: "+err.Error())
			}
		}
	}

	if text == "" {
		return
	}

	err := b.SendMessage(Message{
		ChatID:  strconv.FormatInt(msg.Chat.ID, 10),
		ReplyTo: msg.MessageID,
		Text:    text,
	})
	if err != nil {
		b.log.Errorf("failed to reply to /%s: %v", name, err)
	}
}

// HandleCallbackQuery answers a button press by re-rendering the view the
// button points to and editing the message in place.
func (b *Bot) HandleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) {
	b.mu.RLock()
	viewName, ok := b.buttons[q.Data]
	b.mu.RUnlock()

	if !ok {
		b.answer(q.ID, translation.Translate("Unknown action. Please try again."))
		return
	}
	b.answer(q.ID, "")

	if q.Message == nil {
		return
	}

	text, markup, err := b.renderView(ctx, viewName)
	if err != nil {
		b.log.Errorf("callback %s failed: %v", q.Data, err)
		text = formatter.Escape(b.Config.ParseMode, "ERROR: "+err.Error())
		markup = nil
	}

	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(q.Message.Chat.ID, q.Message.MessageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	}
	edit.ParseMode = b.Config.ParseMode
	edit.DisableWebPagePreview = b.Config.DisableWebPagePreview

	if _, err := b.api.Request(edit); err != nil {
		b.log.Errorf("failed to edit message for callback %s: %v", q.Data, err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Errorf("failed to answer callback: %v", err)
	}
}

func (b *Bot) renderView(ctx context.Context, name string) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	b.mu.RLock()
	v, ok := b.views[name]
	b.mu.RUnlock()

	if !ok {
		return "", nil, errors.Errorf("unknown view %q", name)
	}

	text, err := v.Render(ctx)
	if err != nil {
		return "", nil, errors.Wrapf(err, "render view %s", name)
	}

	if len(v.Buttons) == 0 {
		return text, nil, nil
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, btn := range v.Buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return text, &markup, nil
}

func (b *Bot) helpText() string {
	b.mu.RLock()
	names := make([]string, 0, len(b.commands))
	for name := range b.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(formatter.Bold(b.Config.ParseMode, translation.Translate("Available commands")))
	for _, name := range names {
		line := fmt.Sprintf("/%s - %s", name, b.commands[name].description)
		sb.WriteString("\n" + formatter.Escape(b.Config.ParseMode, line))
	}
	b.mu.RUnlock()

	return sb.String()
}

func (b *Bot) commandCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.commands)
}
