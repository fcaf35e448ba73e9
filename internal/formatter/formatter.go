package formatter

import (
	"fmt"
	"strings"
	"time"

	"quant-telegram/internal/types"
	"quant-telegram/lib/helpers"
	"quant-telegram/lib/translation"
)

// Parse modes understood by the Telegram Bot API
const (
	ParseModeHTML       = "HTML"
	ParseModeMarkdownV2 = "MarkdownV2"
)

var triggerEmojis = map[string]string{
	"spike":     "🚨",
	"drop":      "📉",
	"breakout":  "🚀",
	"breakdown": "⬇️",
	"target":    "🎯",
	"alert":     "🔔",
}

var actionEmojis = map[string]string{
	"opened":    "📈",
	"closed":    "📊",
	"increased": "⬆️",
	"decreased": "⬇️",
	"adjusted":  "🔧",
	"update":    "🔄",
}

type levelStyle struct {
	emoji string
	title string
}

var levelStyles = map[string]levelStyle{
	"info":     {"ℹ️", "Info"},
	"warn":     {"⚠️", "Warning"},
	"warning":  {"⚠️", "Warning"},
	"error":    {"❌", "Error"},
	"critical": {"🚨", "CRITICAL"},
}

// Formatter renders notifications for one Telegram parse mode. It holds no
// state besides the mode, so a single value may be shared freely.
type Formatter struct {
	ParseMode string
}

func New(parseMode string) *Formatter {
	return &Formatter{ParseMode: parseMode}
}

// Render maps a notification to message text.
func (f *Formatter) Render(n types.Notification) (string, error) {
	switch n.Category {
	case types.PriceAlert:
		return f.priceAlert(n)
	case types.PositionUpdate:
		return f.positionUpdate(n)
	case types.SystemAlert:
		return f.systemAlert(n)
	case types.EmergencyAlert:
		return f.emergencyAlert(n), nil
	case types.Custom:
		text, ok := stringField(n, types.FieldText)
		if !ok {
			return "", &FormatError{Category: n.Category, Field: types.FieldText}
		}
		return text, nil
	default:
		return "", &FormatError{Category: n.Category, Field: "category"}
	}
}

func (f *Formatter) priceAlert(n types.Notification) (string, error) {
	symbol, ok := stringField(n, types.FieldSymbol)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldSymbol}
	}
	price, ok := floatField(n, types.FieldPrice)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldPrice}
	}
	trigger, ok := stringField(n, types.FieldTriggerType)
	if !ok {
		trigger = "alert"
	}

	emoji, ok := triggerEmojis[strings.ToLower(trigger)]
	if !ok {
		emoji = "📊"
	}

	var b strings.Builder
	b.WriteString(emoji + " " + f.bold(symbol) + f.esc(" $"+helpers.FormatPrice(price)))
	if change, ok := floatField(n, types.FieldChangePct); ok {
		b.WriteString(" " + f.esc(direction(change)+" "+helpers.FormatPercentage(change, 1)))
	}
	b.WriteString(f.esc(fmt.Sprintf(" - %s %s %s", helpers.TitleCase(trigger), translation.Translate("at"), timestamp(n.CreatedAt))))

	if volume, ok := floatField(n, types.FieldVolume); ok {
		b.WriteString("\n📈 " + f.esc(translation.Translate("Volume")+": "+helpers.FormatVolume(volume)))
	}
	if note, ok := stringField(n, types.FieldContext); ok {
		b.WriteString("\n💬 " + f.esc(note))
	}

	return b.String(), nil
}

func (f *Formatter) positionUpdate(n types.Notification) (string, error) {
	exchange, ok := stringField(n, types.FieldExchange)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldExchange}
	}
	symbol, ok := stringField(n, types.FieldSymbol)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldSymbol}
	}
	size, ok := floatField(n, types.FieldSize)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldSize}
	}
	action, ok := stringField(n, types.FieldAction)
	if !ok {
		action = "update"
	}

	emoji, ok := actionEmojis[strings.ToLower(action)]
	if !ok {
		emoji = "📊"
	}

	var b strings.Builder
	b.WriteString(emoji + " " + f.bold(helpers.TitleCase(action)))
	b.WriteString(f.esc(fmt.Sprintf(" %s %s %s %s", helpers.FormatSize(size), symbol, translation.Translate("on"), helpers.TitleCase(exchange))))

	if pnl, ok := floatField(n, types.FieldPnL); ok {
		b.WriteString("\n💰 " + f.esc(translation.Translate("PnL")+": "+helpers.FormatPnL(pnl)))
	}
	b.WriteString("\n📍 " + f.esc(side(size)+" | "+timestamp(n.CreatedAt)))

	if entry, ok := floatField(n, types.FieldEntryPrice); ok {
		b.WriteString("\n💵 " + f.esc(translation.Translate("Entry")+": $"+helpers.FormatPrice(entry)))
	}
	if mark, ok := floatField(n, types.FieldMarkPrice); ok {
		b.WriteString("\n🏷 " + f.esc(translation.Translate("Mark")+": $"+helpers.FormatPrice(mark)))
	}
	if exit, ok := floatField(n, types.FieldExitPrice); ok {
		b.WriteString("\n💸 " + f.esc(translation.Translate("Exit")+": $"+helpers.FormatPrice(exit)))
	}
	if fees, ok := floatField(n, types.FieldFees); ok {
		b.WriteString("\n💸 " + f.esc(translation.Translate("Fees")+": "+helpers.FormatUSD(fees)))
	}

	return b.String(), nil
}

func (f *Formatter) systemAlert(n types.Notification) (string, error) {
	level, ok := stringField(n, types.FieldLevel)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldLevel}
	}
	msg, ok := stringField(n, types.FieldMessage)
	if !ok {
		return "", &FormatError{Category: n.Category, Field: types.FieldMessage}
	}

	style, ok := levelStyles[strings.ToLower(level)]
	if !ok {
		style = levelStyle{emoji: "📝", title: helpers.TitleCase(level)}
	}

	var b strings.Builder
	b.WriteString(style.emoji + " " + f.bold(translation.Translate(style.title)) + f.esc(" | "+timestamp(n.CreatedAt)))
	b.WriteString("\n" + f.esc(msg))

	if component, ok := stringField(n, types.FieldComponent); ok {
		b.WriteString("\n🔧 " + f.esc(translation.Translate("Component")+": "+component))
	}
	if exchange, ok := stringField(n, types.FieldExchange); ok {
		b.WriteString("\n🏦 " + f.esc(translation.Translate("Exchange")+": "+exchange))
	}

	return b.String(), nil
}

func (f *Formatter) emergencyAlert(n types.Notification) string {
	msg, _ := stringField(n, types.FieldMessage)

	var b strings.Builder
	b.WriteString("⚡ " + f.bold(translation.Translate("URGENT")) + f.esc(" | "+timestamp(n.CreatedAt)))
	b.WriteString("\n" + f.esc(msg))

	if action, ok := stringField(n, types.FieldActionRequired); ok {
		b.WriteString("\n🎯 " + f.esc(translation.Translate("Action")+": "+action))
	}
	return b.String()
}

func (f *Formatter) bold(text string) string {
	return Bold(f.ParseMode, text)
}

func (f *Formatter) esc(text string) string {
	return Escape(f.ParseMode, text)
}

// Bold escapes text and wraps it in the bold markup of parseMode.
func Bold(parseMode, text string) string {
	switch parseMode {
	case ParseModeHTML:
		return "<b>" + helpers.EscapeHTML(text) + "</b>"
	case ParseModeMarkdownV2:
		return "*" + helpers.EscapeMarkdownV2(text) + "*"
	default:
		return text
	}
}

// Escape makes text safe to embed in a message sent with parseMode.
func Escape(parseMode, text string) string {
	switch parseMode {
	case ParseModeHTML:
		return helpers.EscapeHTML(text)
	case ParseModeMarkdownV2:
		return helpers.EscapeMarkdownV2(text)
	default:
		return text
	}
}

func direction(change float64) string {
	switch {
	case change > 0:
		return "▲"
	case change < 0:
		return "▼"
	default:
		return "▬"
	}
}

func side(size float64) string {
	switch {
	case size > 0:
		return translation.Translate("Long")
	case size < 0:
		return translation.Translate("Short")
	default:
		return translation.Translate("Flat")
	}
}

func timestamp(t time.Time) string {
	return t.UTC().Format("15:04") + " UTC"
}

func stringField(n types.Notification, name string) (string, bool) {
	v, ok := n.Fields[name]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case fmt.Stringer:
		s = val.String()
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func floatField(n types.Notification, name string) (float64, bool) {
	if !n.Has(name) {
		return 0, false
	}
	return helpers.ToFloat(n.Fields[name])
}
