package helpers

import (
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func EscapeMarkdownV2(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")

	charactersToEscape := []string{".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func EscapeHTML(text string) string {
	return html.EscapeString(text)
}

// FormatPrice prints prices of 1000 and above with thousands separators,
// prices above 1 with two decimals, sub-unit prices with up to six decimals
// and prices below 0.00001 with up to eight.
func FormatPrice(price float64) string {
	abs := math.Abs(price)

	if abs >= 1000 {
		p := message.NewPrinter(language.English)
		return p.Sprintf("%.2f", price)
	} else if abs >= 1 {
		return strconv.FormatFloat(price, 'f', 2, 64)
	}

	decimals := 6
	if abs < 0.00001 {
		decimals = 8
	}
	formatted := strconv.FormatFloat(price, 'f', decimals, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimSuffix(formatted, ".")
	if formatted == "" || formatted == "-" || formatted == "-0" {
		return "0"
	}
	return formatted
}

// FormatPercentage prints value with an explicit sign, e.g. +5.2%.
func FormatPercentage(value float64, decimals int) string {
	if value == 0 {
		value = 0 // drops the sign of -0
	}
	sign := ""
	if value >= 0 {
		sign = "+"
	}
	return sign + strconv.FormatFloat(value, 'f', decimals, 64) + "%"
}

// FormatUSD prints an absolute dollar amount with thousands separators.
func FormatUSD(value float64) string {
	p := message.NewPrinter(language.English)
	return "$" + p.Sprintf("%.2f", math.Abs(value))
}

// FormatPnL prints a signed dollar amount with a green or red marker.
func FormatPnL(pnl float64) string {
	if pnl >= 0 {
		return "🟢 +" + FormatUSD(pnl)
	}
	return "🔴 -" + FormatUSD(pnl)
}

// FormatSize prints the absolute position size with at most four decimals.
func FormatSize(size float64) string {
	formatted := strconv.FormatFloat(math.Abs(size), 'f', 4, 64)
	formatted = strings.TrimRight(formatted, "0")
	return strings.TrimSuffix(formatted, ".")
}

func FormatVolume(volume float64) string {
	return humanize.Comma(int64(math.Round(volume)))
}

// TitleCase builds a caser per call; cases.Caser is not safe for concurrent use.
func TitleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// ToFloat converts the numeric kinds found in field maps.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
