package telegraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zulandar/tramtram/internal/models"
)

// MockAdapter implements Adapter and CallbackAnswerer for testing. It
// records sends, edits and deletes, and allows simulating inbound messages
// via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundMessage
	nextID    int
	botUserID string

	sent     []OutboundMessage
	sentIDs  []models.MessageID
	edits    []MockEdit
	deleted  []models.MessageID
	answered []string

	editErr   map[models.MessageID]error
	deleteErr map[models.MessageID]error
	sendErr   error
}

// MockEdit is one recorded Edit call.
type MockEdit struct {
	ChatID string
	ID     models.MessageID
	Msg    OutboundMessage
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
// Message ids are assigned from 100 upwards.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound:   make(chan InboundMessage, 100),
		nextID:    100,
		editErr:   make(map[models.MessageID]error),
		deleteErr: make(map[models.MessageID]error),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound message channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and returns a fresh id.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (models.MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", fmt.Errorf("mock adapter: not connected")
	}
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.nextID++
	id := models.MessageID(strconv.Itoa(m.nextID))
	m.sent = append(m.sent, msg)
	m.sentIDs = append(m.sentIDs, id)
	return id, nil
}

// Edit records the edit, or returns the error set with SetEditError.
func (m *MockAdapter) Edit(ctx context.Context, chatID string, id models.MessageID, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if err := m.editErr[id]; err != nil {
		return err
	}
	m.edits = append(m.edits, MockEdit{ChatID: chatID, ID: id, Msg: msg})
	return nil
}

// Delete records the deletion, or returns the error set with SetDeleteError.
func (m *MockAdapter) Delete(ctx context.Context, chatID string, id models.MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.deleted = append(m.deleted, id)
	return m.deleteErr[id]
}

// AnswerCallback records the acknowledgement.
func (m *MockAdapter) AnswerCallback(ctx context.Context, callbackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, callbackID)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends a message into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

// SetEditError makes every Edit of id fail with err. A nil err clears it.
func (m *MockAdapter) SetEditError(id models.MessageID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.editErr, id)
		return
	}
	m.editErr[id] = err
}

// SetDeleteError makes Delete of id return err after recording it.
func (m *MockAdapter) SetDeleteError(id models.MessageID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr[id] = err
}

// SetSendError makes every Send fail with err.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// LastSent returns the most recently sent outbound message and its id.
// Returns zero values and false if no messages have been sent.
func (m *MockAdapter) LastSent() (OutboundMessage, models.MessageID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, "", false
	}
	return m.sent[len(m.sent)-1], m.sentIDs[len(m.sentIDs)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Edits returns a copy of all recorded edits.
func (m *MockAdapter) Edits() []MockEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockEdit, len(m.edits))
	copy(out, m.edits)
	return out
}

// Deleted returns the ids passed to Delete, in call order.
func (m *MockAdapter) Deleted() []models.MessageID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.MessageID, len(m.deleted))
	copy(out, m.deleted)
	return out
}

// Answered returns the acknowledged callback ids.
func (m *MockAdapter) Answered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.answered))
	copy(out, m.answered)
	return out
}
