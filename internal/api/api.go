// Package api wires AckPipe together and serves its HTTP surface.
//
// Run builds the messaging transport, inbound log, model client and agent
// runner from module options, then serves health and live feedback session
// endpoints until its context is cancelled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AckPipe/internal/agent"
	"github.com/BTreeMap/AckPipe/internal/feedback"
	"github.com/BTreeMap/AckPipe/internal/genai"
	"github.com/BTreeMap/AckPipe/internal/lockfile"
	"github.com/BTreeMap/AckPipe/internal/messaging"
	"github.com/BTreeMap/AckPipe/internal/store"
	"github.com/BTreeMap/AckPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/AckPipe/internal/typing"
	"github.com/BTreeMap/AckPipe/internal/whatsapp"
)

// Transport names accepted by WithTransport.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

const (
	// DefaultAddr is the default HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration for the API server and the runner it hosts.
type Opts struct {
	Addr          string
	Transport     string
	StateDir      string
	Feedback      feedback.Config
	TypingTTL     time.Duration
	SystemPrompt  string
	MaxToolRounds int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport selects the chat transport ("whatsapp" or "twilio").
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithStateDir locks dir for the lifetime of the process.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithFeedbackConfig sets the reaction and status configuration.
func WithFeedbackConfig(cfg feedback.Config) Option {
	return func(o *Opts) { o.Feedback = cfg }
}

// WithTypingTTL sets the typing indicator TTL.
func WithTypingTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TypingTTL = ttl }
}

// WithSystemPrompt sets the model's system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithMaxToolRounds bounds model round trips per run.
func WithMaxToolRounds(n int) Option {
	return func(o *Opts) { o.MaxToolRounds = n }
}

func defaultOpts() Opts {
	return Opts{
		Addr:          DefaultAddr,
		Transport:     TransportWhatsApp,
		Feedback:      feedback.DefaultConfig(),
		TypingTTL:     typing.DefaultTTL,
		SystemPrompt:  agent.DefaultSystemPrompt,
		MaxToolRounds: agent.DefaultMaxToolRounds,
	}
}

// Server serves AckPipe's HTTP endpoints.
type Server struct {
	msgService messaging.Service
	sessions   *feedback.Registry
	dedup      store.DedupRepo
	transport  string
	started    time.Time
	mux        *http.ServeMux
}

// NewServer creates a Server. When msgService is a Twilio service its
// webhook is mounted at /webhook/twilio.
func NewServer(msgService messaging.Service, sessions *feedback.Registry, dedup store.DedupRepo) *Server {
	if sessions == nil {
		sessions = feedback.NewRegistry()
	}
	s := &Server{
		msgService: msgService,
		sessions:   sessions,
		dedup:      dedup,
		transport:  TransportWhatsApp,
		started:    time.Now(),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/sessions", s.sessionsHandler)
	s.mux.HandleFunc("GET /sessions/{chatID}/{messageID}", s.sessionHandler)
	s.mux.HandleFunc("GET /inbound/{chatID}/{messageID}", s.inboundHandler)
	s.mux.HandleFunc("/send", s.sendHandler)
	if tw, ok := msgService.(*messaging.TwilioService); ok {
		s.transport = TransportTwilio
		s.mux.HandleFunc("/webhook/twilio", tw.WebhookHandler)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// newMessagingService builds the transport selected in cfg. The returned
// cleanup disconnects the underlying client.
func newMessagingService(ctx context.Context, cfg Opts, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option) (messaging.Service, func(), error) {
	switch cfg.Transport {
	case "", TransportWhatsApp:
		waClient, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(waClient), waClient.Close, nil
	case TransportTwilio:
		twClient, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(twClient), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Run bootstraps every module and blocks until ctx is cancelled or the HTTP
// server fails.
func Run(ctx context.Context, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := defaultOpts()
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	if cfg.StateDir != "" {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	dedup, err := store.Open(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open inbound log: %w", err)
	}
	defer dedup.Close()

	ai, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	msgService, cleanup, err := newMessagingService(ctx, cfg, waOpts, twOpts)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions := feedback.NewRegistry()
	runner := agent.NewRunner(msgService, ai, dedup, sessions, agent.NewDefaultToolRegistry(nil),
		agent.WithFeedbackConfig(cfg.Feedback),
		agent.WithTypingTTL(cfg.TypingTTL),
		agent.WithSystemPrompt(cfg.SystemPrompt),
		agent.WithMaxToolRounds(cfg.MaxToolRounds),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(msgService, sessions, dedup),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("AckPipe API listening", "addr", cfg.Addr, "transport", cfg.Transport)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	<-ctx.Done()
	slog.Info("AckPipe shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	if err := <-runnerDone; err != nil {
		slog.Warn("Runner stopped with error", "error", err)
	}
	if err := msgService.Stop(); err != nil {
		slog.Warn("Messaging service stop failed", "error", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	default:
		return nil
	}
}
