package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSender struct {
	mu       sync.Mutex
	sent     []Message
	err      error
	sentChan chan Message
}

func newMockSender() *mockSender {
	return &mockSender{sentChan: make(chan Message, 16)}
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	err := m.err
	m.mu.Unlock()
	m.sentChan <- msg
	return err
}

type mockJournal struct {
	mu       sync.Mutex
	attempts []Attempt
	doneChan chan Attempt
}

func newMockJournal() *mockJournal {
	return &mockJournal{doneChan: make(chan Attempt, 16)}
}

func (m *mockJournal) Record(a Attempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	m.mu.Unlock()
	m.doneChan <- a
	return nil
}

func (m *mockJournal) recorded() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

func TestDispatcherDeliversAndJournals(t *testing.T) {
	sender := newMockSender()
	journal := newMockJournal()
	d := NewDispatcher(sender, journal, zap.NewNop().Sugar())
	d.Start()
	defer d.Stop()

	d.Alert("pause", "drawdown limit reached")

	select {
	case msg := <-sender.sentChan:
		assert.Equal(t, LevelAlert, msg.Level)
		assert.Equal(t, "pause", msg.Title)
		assert.NotEmpty(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	select {
	case attempt := <-journal.doneChan:
		assert.True(t, attempt.Delivered)
		assert.Empty(t, attempt.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for journal write")
	}
}

func TestDispatcherJournalsFailures(t *testing.T) {
	sender := newMockSender()
	sender.err = errors.New("telegram unreachable")
	journal := newMockJournal()
	d := NewDispatcher(sender, journal, zap.NewNop().Sugar())
	d.Start()
	defer d.Stop()

	d.Info("status", "cycle opened")

	select {
	case attempt := <-journal.doneChan:
		assert.False(t, attempt.Delivered)
		assert.Contains(t, attempt.Error, "unreachable")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for journal write")
	}
}

func TestDispatcherStopDrains(t *testing.T) {
	sender := newMockSender()
	journal := newMockJournal()
	d := NewDispatcher(sender, journal, zap.NewNop().Sugar())
	d.Start()

	for i := 0; i < 5; i++ {
		d.Info("status", "tick")
	}
	d.Stop()

	// Every published message was attempted and journaled before Stop
	// returned.
	require.Len(t, journal.recorded(), 5)
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	d := NewDispatcher(newMockSender(), newMockJournal(), zap.NewNop().Sugar())
	d.Start()
	d.Stop()
	d.Stop()
}
