// Package typing keeps a chat's "composing" indicator alive while a run is
// making progress and drops it once progress stops for longer than a TTL.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/AckPipe/internal/clock"
	"github.com/BTreeMap/AckPipe/internal/feedback"
)

const (
	// DefaultTTL is how long the indicator survives without a refresh.
	DefaultTTL = 30 * time.Second
	// DefaultResendInterval is the minimum gap between composing presences.
	// WhatsApp drops a composing presence after roughly 25 seconds.
	DefaultResendInterval = 10 * time.Second
	sendTimeout           = 10 * time.Second
)

// PresenceSender toggles the typing indicator of a chat.
type PresenceSender interface {
	SendPresence(ctx context.Context, chatID string, composing bool) error
}

// Opts holds optional controller settings.
type Opts struct {
	ResendInterval time.Duration
	Dispatch       feedback.Dispatcher
}

// Option configures a Controller.
type Option func(*Opts)

// WithResendInterval sets the minimum gap between composing presences.
func WithResendInterval(d time.Duration) Option {
	return func(o *Opts) { o.ResendInterval = d }
}

// WithDispatcher sets how presence calls are run. Runs share their feedback
// session's queue; tests pass feedback.Sync.
func WithDispatcher(d feedback.Dispatcher) Option {
	return func(o *Opts) { o.Dispatch = d }
}

// Controller is the typing-liveness signal of one chat.
type Controller struct {
	chatID   string
	sender   PresenceSender
	ttl      time.Duration
	resend   time.Duration
	clock    clock.Clock
	dispatch feedback.Dispatcher

	mu       sync.Mutex
	active   bool
	stopped  bool
	lastSent time.Time
	expiry   clock.Timer
}

// New creates a controller. A nil clock uses the real clock and a
// non-positive ttl uses DefaultTTL.
func New(chatID string, sender PresenceSender, ttl time.Duration, clk clock.Clock, opts ...Option) *Controller {
	cfg := Opts{ResendInterval: DefaultResendInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = feedback.NewEffectQueue().Dispatch
	}
	return &Controller{
		chatID:   chatID,
		sender:   sender,
		ttl:      ttl,
		resend:   cfg.ResendInterval,
		clock:    clk,
		dispatch: cfg.Dispatch,
	}
}

// Start shows the indicator and arms the TTL.
func (c *Controller) Start() {
	c.RefreshTypingTTL()
}

// RefreshTypingTTL extends the indicator's life by one TTL, re-sending the
// composing presence when it is inactive or due for a resend.
func (c *Controller) RefreshTypingTTL() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	send := !c.active || now.Sub(c.lastSent) >= c.resend
	c.active = true
	if send {
		c.lastSent = now
	}
	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.expiry = c.clock.AfterFunc(c.ttl, c.expire)
	c.mu.Unlock()

	if send {
		c.send(true)
	}
}

// expire drops the indicator after the TTL lapsed without a refresh.
func (c *Controller) expire() {
	c.mu.Lock()
	if c.stopped || !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.expiry = nil
	c.mu.Unlock()

	slog.Debug("typing.Controller: TTL expired", "chat", c.chatID)
	c.send(false)
}

// Stop drops the indicator for good. Later refreshes are ignored.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	wasActive := c.active
	c.active = false
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	c.mu.Unlock()

	if wasActive {
		c.send(false)
	}
}

// Active reports whether the indicator is currently shown.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) send(composing bool) {
	if c.sender == nil {
		return
	}
	c.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := c.sender.SendPresence(ctx, c.chatID, composing); err != nil {
			slog.Debug("typing.Controller: presence failed", "chat", c.chatID, "composing", composing, "error", err)
		}
	})
}
