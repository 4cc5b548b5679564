// Package telegram implements the telegraph Adapter for the Telegram Bot API.
//
// Updates are read with getUpdates long polling. Outbound calls share a
// token-bucket limiter so bursts of dashboard edits stay under Telegram's
// flood limits.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
	"github.com/zulandar/tramtram/internal/telegraph"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultPollTimeout is the getUpdates long-poll window.
	DefaultPollTimeout = 30 * time.Second
	// DefaultRate is the outbound request rate per second.
	DefaultRate = 25

	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a failed poll.
	baseBackoff = time.Second
	// maxBackoff caps the wait between failed polls.
	maxBackoff = time.Minute
	// callTimeout bounds every call except getUpdates.
	callTimeout = 15 * time.Second
	// parseMode matches render.TelegramMarkdown.
	parseMode = "Markdown"
)

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// Adapter implements telegraph.Adapter for Telegram. Chat ids and message
// ids are the Bot API integers rendered as decimal strings.
type Adapter struct {
	http        *resty.Client
	limiter     *rate.Limiter
	pollTimeout time.Duration
	mu          sync.Mutex
	botUserID   string
	connected   bool
	closed      bool
	inbound     chan telegraph.InboundMessage
	cancelFunc  context.CancelFunc
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token       string
	BaseURL     string        // defaults to DefaultBaseURL
	PollTimeout time.Duration // defaults to DefaultPollTimeout
	Rate        float64       // requests per second, defaults to DefaultRate
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}

	return &Adapter{
		http: resty.New().
			SetBaseURL(base+"/bot"+opts.Token).
			SetHeader("Content-Type", "application/json"),
		limiter:     rate.NewLimiter(rate.Limit(opts.Rate), int(math.Max(1, opts.Rate))),
		pollTimeout: opts.PollTimeout,
		inbound:     make(chan telegraph.InboundMessage, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// --- Bot API payloads ---

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type user struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type chat struct {
	ID int64 `json:"id"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	From      *user  `json:"from"`
	Chat      chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	From    user     `json:"from"`
	Message *message `json:"message"`
	Data    string   `json:"data"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type textRequest struct {
	ChatID      string          `json:"chat_id"`
	MessageID   int64           `json:"message_id,omitempty"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

// Connect verifies the token with getMe.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	var me user
	if err := a.call(ctx, "getMe", struct{}{}, &me, callTimeout); err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}
	a.botUserID = strconv.FormatInt(me.ID, 10)
	a.connected = true
	log.Info().Str("bot", me.Username).Msg("telegram: connected")
	return nil
}

// Listen starts long polling and returns the inbound channel.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.poll(pollCtx)
	return a.inbound, nil
}

// Send posts a message and returns its id.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) (models.MessageID, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}
	if msg.ChatID == "" {
		return "", fmt.Errorf("telegram: no chat specified")
	}

	var sent message
	req := textRequest{
		ChatID:      msg.ChatID,
		Text:        msg.Text,
		ParseMode:   parseMode,
		ReplyMarkup: keyboard(msg.Buttons),
	}
	if err := a.callLimited(ctx, "sendMessage", req, &sent); err != nil {
		return "", fmt.Errorf("telegram: send message: %w", err)
	}
	return models.MessageID(strconv.FormatInt(sent.MessageID, 10)), nil
}

// Edit replaces a message's text. A message without buttons loses its
// inline keyboard.
func (a *Adapter) Edit(ctx context.Context, chatID string, id models.MessageID, msg telegraph.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	mid, err := parseMessageID(id)
	if err != nil {
		return fmt.Errorf("telegram: edit message: %w", err)
	}
	req := textRequest{
		ChatID:      chatID,
		MessageID:   mid,
		Text:        msg.Text,
		ParseMode:   parseMode,
		ReplyMarkup: keyboard(msg.Buttons),
	}
	if err := a.callLimited(ctx, "editMessageText", req, nil); err != nil {
		return fmt.Errorf("telegram: edit message: %w", classify(err))
	}
	return nil
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, chatID string, id models.MessageID) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	mid, err := parseMessageID(id)
	if err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}
	req := struct {
		ChatID    string `json:"chat_id"`
		MessageID int64  `json:"message_id"`
	}{chatID, mid}
	if err := a.callLimited(ctx, "deleteMessage", req, nil); err != nil {
		return fmt.Errorf("telegram: delete message: %w", classify(err))
	}
	return nil
}

// AnswerCallback acknowledges a button press so the client stops its
// loading indicator.
func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string) error {
	req := struct {
		CallbackQueryID string `json:"callback_query_id"`
	}{callbackID}
	if err := a.callLimited(ctx, "answerCallbackQuery", req, nil); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// Close stops polling and closes the inbound channel.
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

// BotUserID returns the bot's Telegram user id (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// poll runs getUpdates until ctx is done, backing off after failures.
func (a *Adapter) poll(ctx context.Context) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.baseBackoff
	exp.MaxInterval = a.maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	var offset int64
	for ctx.Err() == nil {
		updates, err := a.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := exp.NextBackOff()
			log.Warn().Err(err).Dur("wait", wait).Msg("telegram: getUpdates failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		exp.Reset()

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if msg, ok := convertUpdate(u); ok {
				a.emit(msg)
			}
		}
	}
}

func (a *Adapter) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	req := struct {
		Offset         int64    `json:"offset,omitempty"`
		Timeout        int      `json:"timeout"`
		AllowedUpdates []string `json:"allowed_updates"`
	}{offset, int(a.pollTimeout / time.Second), []string{"message", "callback_query"}}

	var updates []update
	if err := a.call(ctx, "getUpdates", req, &updates, a.pollTimeout+callTimeout); err != nil {
		return nil, err
	}
	return updates, nil
}

// convertUpdate maps a text message or callback query to an InboundMessage.
// Other update kinds and bot authors are skipped.
func convertUpdate(u update) (telegraph.InboundMessage, bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Text == "" || (m.From != nil && m.From.IsBot) {
			return telegraph.InboundMessage{}, false
		}
		msg := telegraph.InboundMessage{
			Platform:  "telegram",
			ChatID:    strconv.FormatInt(m.Chat.ID, 10),
			MessageID: models.MessageID(strconv.FormatInt(m.MessageID, 10)),
			Text:      m.Text,
			Timestamp: time.Unix(m.Date, 0),
		}
		if m.From != nil {
			msg.UserID = strconv.FormatInt(m.From.ID, 10)
			msg.UserName = displayName(*m.From)
		}
		return msg, true

	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.Message == nil {
			return telegraph.InboundMessage{}, false
		}
		return telegraph.InboundMessage{
			Platform: "telegram",
			ChatID:   strconv.FormatInt(q.Message.Chat.ID, 10),
			UserID:   strconv.FormatInt(q.From.ID, 10),
			UserName: displayName(q.From),
			Callback: &telegraph.Callback{
				ID:        q.ID,
				Data:      q.Data,
				MessageID: models.MessageID(strconv.FormatInt(q.Message.MessageID, 10)),
			},
			Timestamp: time.Now(),
		}, true
	}
	return telegraph.InboundMessage{}, false
}

func displayName(u user) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
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
		log.Warn().Str("chat", msg.ChatID).Msg("telegram: inbound queue full, dropping update")
	}
}

// callLimited waits for the outbound limiter, then calls method and
// retries when Telegram asks us to slow down.
func (a *Adapter) callLimited(ctx context.Context, method string, body, out any) error {
	return retryOnRateLimit(ctx, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		return a.call(ctx, method, body, out, callTimeout)
	})
}

// call posts body to method and decodes the result into out.
func (a *Adapter) call(ctx context.Context, method string, body, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := a.http.R().SetContext(ctx).SetBody(body).Post("/" + method)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	var ar apiResponse
	if err := json.Unmarshal(resp.Body(), &ar); err != nil {
		return fmt.Errorf("%s: status %d: decode: %w", method, resp.StatusCode(), err)
	}
	if !ar.OK {
		apiErr := &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
		if ar.Parameters != nil {
			apiErr.RetryAfter = time.Duration(ar.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out != nil && len(ar.Result) > 0 {
		if err := json.Unmarshal(ar.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func keyboard(rows [][]telegraph.Button) *inlineKeyboard {
	if len(rows) == 0 {
		return nil
	}
	kb := &inlineKeyboard{InlineKeyboard: make([][]inlineButton, 0, len(rows))}
	for _, row := range rows {
		r := make([]inlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineButton{Text: b.Text, CallbackData: b.Payload})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, r)
	}
	return kb
}

func parseMessageID(id models.MessageID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id %q", telegraph.ErrMessageNotFound, id)
	}
	return n, nil
}

// classify maps Bot API descriptions onto the telegraph sentinels.
func classify(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Description)
	switch {
	case strings.Contains(desc, "message is not modified"):
		return fmt.Errorf("%w: %v", telegraph.ErrMessageNotModified, err)
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message to delete not found"),
		strings.Contains(desc, "message can't be deleted"):
		return fmt.Errorf("%w: %v", telegraph.ErrMessageNotFound, err)
	}
	return err
}

// retryOnRateLimit calls fn and retries on HTTP 429, honouring retry_after.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := apiErr.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		log.Warn().Str("method", apiErr.Method).Dur("wait", wait).Msg("telegram: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
