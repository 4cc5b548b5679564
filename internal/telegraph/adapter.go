// Package telegraph keeps each chat's dashboard and live-stop messages in
// sync with the transit provider, and handles the chat commands that set
// them up. Chat platforms plug in through the Adapter interface.
package telegraph

import (
	"context"
	"errors"
	"time"

	"github.com/zulandar/tramtram/internal/models"
)

// Edit and delete failures adapters must report with these sentinels
// (wrapped is fine) so the engine can classify them.
var (
	// ErrMessageNotFound means the target message no longer exists.
	ErrMessageNotFound = errors.New("telegraph: message not found")
	// ErrMessageNotModified means the edit would not change the message.
	ErrMessageNotModified = errors.New("telegraph: message not modified")
)

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages and button presses.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts a new message and returns its id.
	Send(ctx context.Context, msg OutboundMessage) (models.MessageID, error)

	// Edit replaces the text and buttons of an existing message.
	Edit(ctx context.Context, chatID string, id models.MessageID, msg OutboundMessage) error

	// Delete removes a message. Deleting a message that is already gone
	// returns nil or ErrMessageNotFound.
	Delete(ctx context.Context, chatID string, id models.MessageID) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage is a chat message or a button press.
type InboundMessage struct {
	Platform  string           // e.g. "telegram", "slack"
	ChatID    string           // conversation the message belongs to
	MessageID models.MessageID // the user's message; empty for button presses
	UserID    string
	UserName  string
	Text      string
	Callback  *Callback // set for button presses
	Timestamp time.Time
}

// Callback is a press of a button the bot attached to one of its messages.
type Callback struct {
	ID        string           // platform handle used to acknowledge the press
	Data      string           // the button's Payload
	MessageID models.MessageID // message carrying the button
}

// OutboundMessage is a message to send or an edit to apply.
type OutboundMessage struct {
	ChatID  string
	Text    string     // platform-native markup
	Buttons [][]Button // rows of inline buttons
}

// Button is an inline action button.
type Button struct {
	Text    string
	Payload string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// CallbackAnswerer is implemented by platforms that expect every button
// press to be acknowledged.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID string) error
}
