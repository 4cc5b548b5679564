// Package slack implements the telegraph Adapter for Slack using Socket Mode.
//
// Commands arrive as a single slash command ("/tramtram add") or as plain
// messages with a "!" prefix ("!add"); both become "/add" for the router.
// Button presses arrive as block actions and are acknowledged on receipt.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/tramtram/internal/models"
	"github.com/zulandar/tramtram/internal/telegraph"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// userNameTTL is how long resolved display names are kept.
	userNameTTL = time.Hour

	// DefaultSlashCommand is the slash command that carries TramTram commands.
	DefaultSlashCommand = "/tramtram"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements telegraph.Adapter for Slack Socket Mode. Each Slack
// channel or DM is one chat; message ids are Slack timestamps.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	slashCommand string
	names        *gocache.Cache
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan telegraph.InboundMessage
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken     string // xapp-... Slack app-level token for Socket Mode
	BotToken     string // xoxb-... Slack bot token
	SlashCommand string // defaults to DefaultSlashCommand
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	if opts.SlashCommand == "" {
		opts.SlashCommand = DefaultSlashCommand
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		slashCommand: opts.SlashCommand,
		names:        gocache.New(userNameTTL, 2*userNameTTL),
		inbound:      make(chan telegraph.InboundMessage, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts a Block Kit message and returns its timestamp.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) (models.MessageID, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}
	if msg.ChatID == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessage(msg.ChatID, buildMessageOptions(msg)...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return models.MessageID(ts), nil
}

// Edit replaces a message's text and buttons.
func (a *Adapter) Edit(ctx context.Context, chatID string, id models.MessageID, msg telegraph.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updErr := a.client.UpdateMessage(chatID, string(id), buildMessageOptions(msg)...)
		return updErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", classify(err))
	}
	return nil
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, chatID string, id models.MessageID) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := a.client.DeleteMessage(chatID, string(id))
		return delErr
	})
	if err != nil {
		return fmt.Errorf("slack: delete message: %w", classify(err))
	}
	return nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// emit delivers an inbound message unless the adapter is closed.
func (a *Adapter) emit(msg telegraph.InboundMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Warn().Str("chat", msg.ChatID).Msg("slack: inbound queue full, dropping message")
	}
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error (e.g., reconnection failure).
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max", a.maxReconnect).Dur("wait", wait).
			Msg("slack: socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Error().Int("attempts", a.maxReconnect).Msg("slack: socket mode reconnection attempts exhausted, giving up")
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleSlashCommand(cmd)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleInteraction(cb)

	case socketmode.EventTypeConnecting:
		log.Info().Msg("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Info().Msg("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Warn().Interface("data", evt.Data).Msg("slack: connection error")

	case socketmode.EventTypeDisconnect:
		log.Info().Msg("slack: server requested disconnect, will reconnect")
	}
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ev)
	}
}

// handleMessage converts a Slack message event to an InboundMessage.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	// Filter bot self-messages.
	if ev.User == a.BotUserID() {
		return
	}
	// Filter bot messages and message subtypes (edits, deletes, etc.).
	if ev.BotID != "" || ev.SubType != "" {
		return
	}

	a.emit(telegraph.InboundMessage{
		Platform:  "slack",
		ChatID:    ev.Channel,
		MessageID: models.MessageID(ev.TimeStamp),
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Text:      bangToCommand(ev.Text),
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	})
}

// handleSlashCommand turns "/tramtram add" into "/add". Any other slash
// command routed to the app is passed through as typed.
func (a *Adapter) handleSlashCommand(cmd slackapi.SlashCommand) {
	text := strings.TrimSpace(cmd.Command + " " + cmd.Text)
	if strings.EqualFold(cmd.Command, a.slashCommand) {
		sub := strings.TrimSpace(cmd.Text)
		if sub == "" {
			sub = "start"
		}
		text = "/" + sub
	}
	a.emit(telegraph.InboundMessage{
		Platform:  "slack",
		ChatID:    cmd.ChannelID,
		UserID:    cmd.UserID,
		UserName:  cmd.UserName,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// handleInteraction converts block action button presses to callbacks.
func (a *Adapter) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	msgTS := cb.Container.MessageTs
	if msgTS == "" {
		msgTS = cb.Message.Timestamp
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		data := action.Value
		if data == "" {
			data = action.ActionID
		}
		a.emit(telegraph.InboundMessage{
			Platform: "slack",
			ChatID:   cb.Channel.ID,
			UserID:   cb.User.ID,
			UserName: cb.User.Name,
			Callback: &telegraph.Callback{
				ID:        cb.TriggerID,
				Data:      data,
				MessageID: models.MessageID(msgTS),
			},
			Timestamp: time.Now(),
		})
	}
}

// bangToCommand maps "!add" to "/add"; Slack clients keep "/" for
// slash commands.
func bangToCommand(text string) string {
	t := strings.TrimSpace(text)
	if len(t) > 1 && t[0] == '!' {
		return "/" + t[1:]
	}
	return text
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := a.names.Get(userID); ok {
		return name.(string)
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	a.names.SetDefault(userID, name)
	return name
}

// buildMessageOptions renders text as a mrkdwn section plus one actions
// block per button row. Blocks are always sent so an edit drops old buttons.
func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Text, false, false), nil, nil),
	}
	for i, row := range msg.Buttons {
		var elems []slackapi.BlockElement
		for _, b := range row {
			btn := slackapi.NewButtonBlockElement(b.Payload, b.Payload,
				slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Text, true, false))
			elems = append(elems, btn)
		}
		blocks = append(blocks, slackapi.NewActionBlock(fmt.Sprintf("row_%d", i), elems...))
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(msg.Text, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

// classify maps Slack's message_not_found onto telegraph.ErrMessageNotFound.
func classify(err error) error {
	var se slackapi.SlackErrorResponse
	if errors.As(err, &se) && (se.Err == "message_not_found" || se.Err == "channel_not_found") {
		return fmt.Errorf("%w: %v", telegraph.ErrMessageNotFound, err)
	}
	if err.Error() == "message_not_found" {
		return fmt.Errorf("%w: %v", telegraph.ErrMessageNotFound, err)
	}
	return err
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
