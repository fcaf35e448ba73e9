package notifier

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"quant-telegram/internal/formatter"
	"quant-telegram/lib/translation"
)

// Status renders the throttle state of every key for the /status command.
func (n *Notifier) Status() string {
	mode := n.cfg.ParseMode
	snapshot := n.Snapshot()

	var b strings.Builder
	b.WriteString(formatter.Bold(mode, translation.Translate("Notifier status")))
	if len(snapshot) == 0 {
		b.WriteString("\n" + formatter.Escape(mode, translation.Translate("No throttled keys")))
		return b.String()
	}

	now := n.now()
	for _, s := range snapshot {
		line := fmt.Sprintf("%s: %s", s.Key, translation.Translate("%d pending", s.Pending))
		if s.Suppressed > 0 {
			line += ", " + translation.Translate("%d suppressed", s.Suppressed)
		}
		if s.Failures > 0 {
			line += ", " + translation.TranslateN("%d failed flush", "%d failed flushes", s.Failures, s.Failures)
		}
		if s.InFlight {
			line += ", " + translation.Translate("sending")
		}
		if !s.LastSent.IsZero() {
			line += ", " + translation.Translate("last sent %s", humanize.RelTime(s.LastSent, now, "ago", "from now"))
		}
		b.WriteString("\n" + formatter.Escape(mode, "• "+line))
	}
	return b.String()
}
