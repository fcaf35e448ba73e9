package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// API is the part of *tgbotapi.BotAPI the bot relies on
type API interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotConfig configuration of the bot
type BotConfig struct {
	Token                 string
	ChatID                string
	ThreadID              int
	ParseMode             string
	DisableWebPagePreview bool
	Debug                 bool
	UpdatesTimeout        int
}

// Bot telegram interaction client
type Bot struct {
	api    API
	Config BotConfig
	log    *log.Entry

	mu       sync.RWMutex
	commands map[string]command
	views    map[string]View
	buttons  map[string]string // callback data -> view name
}

// Message a telegram message struct
type Message struct {
	ChatID   string
	ThreadID int
	ReplyTo  int
	Text     string
	Markup   *tgbotapi.InlineKeyboardMarkup
}

// CommandHandler answers a /command. The returned text is sent as a reply.
type CommandHandler func(ctx context.Context, msg *tgbotapi.Message) (string, error)

type command struct {
	description string
	handler     CommandHandler
}

// Button is an inline keyboard button that switches the message to View.
type Button struct {
	Text string
	Data string
	View string
}

// View is a message that can be sent on demand and refreshed in place by
// its buttons.
type View struct {
	Name    string
	Render  func(ctx context.Context) (string, error)
	Buttons []Button
}
