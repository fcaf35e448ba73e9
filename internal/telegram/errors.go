package telegram

import "fmt"

// SendError wraps a failed delivery to Telegram.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to chat %s: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
