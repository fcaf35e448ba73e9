package formatter

import (
	"fmt"

	"quant-telegram/internal/types"
)

// FormatError is returned when a notification lacks a field its category requires.
type FormatError struct {
	Category types.Category
	Field    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("cannot format %s: missing or invalid field %q", e.Category, e.Field)
}
