package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendTimeout = 15 * time.Second

// Dispatcher fans messages out asynchronously: one goroutine delivers
// through the sender, a second journals every attempt. Publishing never
// blocks; when the buffer is full the message is dropped with a
// warning rather than stalling the caller.
type Dispatcher struct {
	sender  Sender
	journal Journaler
	log     *zap.SugaredLogger

	messages chan Message
	attempts chan Attempt
	done     chan struct{}
	once     sync.Once
}

// NewDispatcher wires the dispatcher; call Start before publishing.
func NewDispatcher(sender Sender, journal Journaler, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		sender:   sender,
		journal:  journal,
		log:      log,
		messages: make(chan Message, 256),
		attempts: make(chan Attempt, 256),
		done:     make(chan struct{}),
	}
}

// Start launches the dispatch and journal loops.
func (d *Dispatcher) Start() {
	go d.dispatchLoop()
	go d.journalLoop()
}

// Stop drains both queues and blocks until every buffered message has
// been attempted and journaled. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.messages) })
	<-d.done
}

// Publish enqueues a message for delivery.
func (d *Dispatcher) Publish(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	select {
	case d.messages <- msg:
	default:
		d.log.Warnw("notification queue full, dropping", "title", msg.Title)
	}
}

// Alert publishes an urgent message.
func (d *Dispatcher) Alert(title, body string) {
	d.Publish(Message{Level: LevelAlert, Title: title, Body: body})
}

// Info publishes a routine message.
func (d *Dispatcher) Info(title, body string) {
	d.Publish(Message{Level: LevelInfo, Title: title, Body: body})
}

func (d *Dispatcher) dispatchLoop() {
	defer close(d.attempts)
	for msg := range d.messages {
		attempt := Attempt{
			MessageID: msg.ID,
			Level:     msg.Level,
			Title:     msg.Title,
			At:        time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			attempt.Error = err.Error()
			d.log.Warnw("notification delivery failed", "title", msg.Title, "error", err)
		} else {
			attempt.Delivered = true
		}
		cancel()
		d.attempts <- attempt
	}
}

func (d *Dispatcher) journalLoop() {
	defer close(d.done)
	for attempt := range d.attempts {
		if d.journal == nil {
			continue
		}
		if err := d.journal.Record(attempt); err != nil {
			d.log.Errorw("journal write failed", "message_id", attempt.MessageID, "error", err)
		}
	}
}
