package formatter

import (
	"fmt"
	"strings"
	"time"

	"quant-telegram/internal/types"
	"quant-telegram/lib/helpers"
	"quant-telegram/lib/translation"
)

// RenderBatch merges the buffered notifications of one throttle key into a
// single message. Lines keep arrival order; the per-message header is
// replaced by one batch header.
func (f *Formatter) RenderBatch(category types.Category, discriminator string, batch []types.Notification, suppressed int, window time.Duration) string {
	var b strings.Builder

	header := countNoun(category, len(batch))
	if discriminator != "" {
		header += " " + translation.Translate("for") + " " + discriminator
	}
	b.WriteString("📊 " + f.bold(header))
	if window > 0 {
		b.WriteString(f.esc(" | " + translation.Translate("last %s", formatWindow(window))))
	}

	for _, n := range batch {
		b.WriteString("\n" + f.esc("• "+timestamp(n.CreatedAt)+" ") + f.batchLine(n))
	}

	if suppressed > 0 {
		b.WriteString("\n" + f.esc(translation.TranslateN("+%d more suppressed", "+%d more suppressed", suppressed, suppressed)))
	}

	return b.String()
}

func (f *Formatter) batchLine(n types.Notification) string {
	switch n.Category {
	case types.PriceAlert:
		price, _ := floatField(n, types.FieldPrice)
		line := "$" + helpers.FormatPrice(price)
		if change, ok := floatField(n, types.FieldChangePct); ok {
			line += " " + direction(change) + " " + helpers.FormatPercentage(change, 1)
		}
		if trigger, ok := stringField(n, types.FieldTriggerType); ok {
			line += " " + helpers.TitleCase(trigger)
		}
		return f.esc(line)
	case types.PositionUpdate:
		symbol, _ := stringField(n, types.FieldSymbol)
		size, _ := floatField(n, types.FieldSize)
		action, ok := stringField(n, types.FieldAction)
		if !ok {
			action = "update"
		}
		line := fmt.Sprintf("%s %s %s %s", helpers.TitleCase(action), helpers.FormatSize(size), symbol, side(size))
		if pnl, ok := floatField(n, types.FieldPnL); ok {
			line += " · " + translation.Translate("PnL") + " " + helpers.FormatPnL(pnl)
		}
		return f.esc(line)
	case types.SystemAlert, types.EmergencyAlert:
		msg, _ := stringField(n, types.FieldMessage)
		if component, ok := stringField(n, types.FieldComponent); ok {
			msg += " (" + component + ")"
		}
		return f.esc(msg)
	default:
		text, _ := stringField(n, types.FieldText)
		return text
	}
}

func countNoun(category types.Category, n int) string {
	switch category {
	case types.PriceAlert:
		return translation.TranslateN("%d price alert", "%d price alerts", n, n)
	case types.PositionUpdate:
		return translation.TranslateN("%d position update", "%d position updates", n, n)
	case types.SystemAlert:
		return translation.TranslateN("%d system alert", "%d system alerts", n, n)
	default:
		return translation.TranslateN("%d message", "%d messages", n, n)
	}
}

func formatWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int(d.Round(time.Second)/time.Second))
	}
}
