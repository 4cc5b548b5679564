package telegraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/render"
)

// DefaultStopTTL is how long a live-stop view stays up.
const DefaultStopTTL = 15 * time.Minute

// Router classifies inbound chat messages and routes them to the
// appropriate handler: wizard step, command, live-stop query, STOP
// button, or ignore for bot/unknown messages.
type Router struct {
	registry   *Registry
	adapter    Adapter
	fetcher    Fetcher
	reconciler *Reconciler
	renderer   *render.Renderer
	metrics    *Metrics
	stopTTL    time.Duration
	interval   time.Duration
	botUserID  string // the bot's own user ID (to filter self-messages)
	now        func() time.Time

	// confirmDelay keeps a wizard's final message visible before the
	// dashboard is rebuilt.
	confirmDelay time.Duration
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Registry   *Registry
	Adapter    Adapter
	Fetcher    Fetcher
	Reconciler *Reconciler
	Renderer   *render.Renderer
	Metrics    *Metrics         // optional
	StopTTL    time.Duration    // defaults to DefaultStopTTL
	Interval   time.Duration    // shown in the welcome text; defaults to DefaultInterval
	BotUserID  string           // bot's user ID for self-message filtering
	Now        func() time.Time // defaults to time.Now
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: router: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("telegraph: router: fetcher is required")
	}
	if opts.Reconciler == nil {
		return nil, fmt.Errorf("telegraph: router: reconciler is required")
	}
	if opts.Renderer == nil {
		return nil, fmt.Errorf("telegraph: router: renderer is required")
	}
	r := &Router{
		registry:     opts.Registry,
		adapter:      opts.Adapter,
		fetcher:      opts.Fetcher,
		reconciler:   opts.Reconciler,
		renderer:     opts.Renderer,
		metrics:      opts.Metrics,
		stopTTL:      opts.StopTTL,
		interval:     opts.Interval,
		botUserID:    opts.BotUserID,
		now:          opts.Now,
		confirmDelay: time.Second,
	}
	if r.stopTTL <= 0 {
		r.stopTTL = DefaultStopTTL
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message or no chat → ignore
//  2. Button press → wizard step, else STOP button
//  3. Command → cancels a running wizard, else runs the command
//  4. Text during a wizard text step → wizard
//  5. Bare number → live-stop view
//  6. Everything else → ignore
//
// The chat's session is locked for the whole message.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) || msg.ChatID == "" {
		return
	}
	sess := r.registry.Get(msg.ChatID)
	sess.Lock()
	defer sess.Unlock()

	if msg.Callback != nil {
		r.handleCallback(ctx, sess, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	log.Debug().Str("chat", msg.ChatID).Str("user", msg.UserName).Str("text", truncate(text, 80)).
		Msg("telegraph: router: recv")

	if name, ok := parseCommand(text); ok {
		if sess.wizard != nil {
			log.Debug().Str("chat", msg.ChatID).Str("command", name).Msg("telegraph: router: → cancel wizard")
			r.cancelWizard(ctx, sess, msg)
			return
		}
		r.handleCommand(ctx, sess, msg, name)
		return
	}

	if sess.wizard != nil && r.wizardText(ctx, sess, msg, text) {
		return
	}

	if isStopNumber(text) {
		r.metrics.recordCommand("stop")
		r.stopQuery(ctx, sess, msg, text)
	}
}

func (r *Router) handleCallback(ctx context.Context, sess *Session, msg InboundMessage) {
	cb := msg.Callback
	if ans, ok := r.adapter.(CallbackAnswerer); ok && cb.ID != "" {
		if err := ans.AnswerCallback(ctx, cb.ID); err != nil {
			log.Debug().Err(err).Str("chat", msg.ChatID).Msg("telegraph: router: answer callback")
		}
	}
	if sess.wizard != nil && r.wizardCallback(ctx, sess, cb.Data) {
		return
	}
	if id, ok := ParseStopPayload(cb.Data); ok {
		r.metrics.recordCommand("stop_button")
		r.reconciler.teardownStop(ctx, sess, id)
		sess.Persist()
	}
}

func (r *Router) handleCommand(ctx context.Context, sess *Session, msg InboundMessage, name string) {
	switch name {
	case "start":
		r.cmdStart(ctx, sess)
	case "refresh":
		r.cmdRefresh(ctx, sess, msg)
	case "add":
		r.cmdAdd(ctx, sess, msg)
	case "remove":
		r.cmdRemove(ctx, sess, msg)
	default:
		return
	}
	r.metrics.recordCommand(name)
}

// isSelfMessage returns true if the message was sent by the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// parseCommand extracts the lowercased command name from "/name",
// "/name@bot" or "/name args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return "", false
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	if cmd == "" {
		return "", false
	}
	return strings.ToLower(cmd), true
}

// isStopNumber reports whether text is a non-empty run of ASCII digits.
func isStopNumber(text string) bool {
	if text == "" {
		return false
	}
	for _, c := range text {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// truncate shortens s to maxLen characters, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
