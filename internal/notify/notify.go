// Package notify delivers fire-and-forget messages about trading and
// risk events. Delivery runs asynchronously behind a buffered channel
// so a slow Telegram round trip never stalls a tick, and every attempt
// is journaled durably whether or not it reached its destination.
package notify

import (
	"context"
	"time"
)

// Level tags a message's urgency.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelAlert Level = "ALERT"
)

// Message is one notification to deliver.
type Message struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender delivers one message; implementations decide the medium.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Attempt is the journal record of one delivery try.
type Attempt struct {
	MessageID string    `json:"message_id"`
	Level     Level     `json:"level"`
	Title     string    `json:"title"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Journaler records delivery attempts.
type Journaler interface {
	Record(a Attempt) error
}
