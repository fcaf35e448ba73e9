package types

import "time"

// Category of a notification
type Category string

const (
	PriceAlert     Category = "price_alert"
	PositionUpdate Category = "position_update"
	SystemAlert    Category = "system_alert"
	EmergencyAlert Category = "emergency_alert"
	Custom         Category = "custom"
)

// Well-known field names
const (
	FieldSymbol          = "symbol"
	FieldPrice           = "price"
	FieldTriggerType     = "trigger_type"
	FieldChangePct       = "change_pct"
	FieldVolume          = "volume"
	FieldContext         = "context"
	FieldExchange        = "exchange"
	FieldSize            = "size"
	FieldPnL             = "pnl"
	FieldAction          = "action"
	FieldEntryPrice      = "entry_price"
	FieldMarkPrice       = "mark_price"
	FieldExitPrice       = "exit_price"
	FieldFees            = "fees"
	FieldLevel           = "level"
	FieldMessage         = "message"
	FieldComponent       = "component"
	FieldActionRequired  = "action_required"
	FieldText            = "text"
	FieldThrottleKey     = "throttle_key"
	FieldThrottleSeconds = "throttle_seconds"
)

// Fields holds the named values of a notification
type Fields map[string]interface{}

// Notification is a single alert waiting to be rendered and delivered.
// Build it with NewNotification; the field map is copied and must not be
// modified afterwards.
type Notification struct {
	Category  Category  `json:"category"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotification copies base and then extra, so extra overrides base.
func NewNotification(c Category, at time.Time, base Fields, extra Fields) Notification {
	fields := make(Fields, len(base)+len(extra))
	for k, v := range base {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return Notification{
		Category:  c,
		Fields:    fields,
		CreatedAt: at,
	}
}

// Has reports whether the field is present and not nil.
func (n Notification) Has(name string) bool {
	v, ok := n.Fields[name]
	return ok && v != nil
}
