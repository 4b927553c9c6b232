// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in AckPipe.
//
// Besides plain sends it exposes the message-level operations the feedback
// coordinator needs: reactions, quoted replies, edits, revokes and chat
// presence.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/AckPipe/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for WhatsApp/whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/ackpipe/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
	// DefaultMessageCacheSize bounds how many recent inbound messages are remembered for quoting and reactions
	DefaultMessageCacheSize = 1024
)

// WhatsAppSender is the message-level API used by the messaging service (for production and testing).
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error)
	EditMessage(ctx context.Context, chatID, messageID, body string) error
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	React(ctx context.Context, chatID, messageID, emoji string) error
	SendPresence(ctx context.Context, chatID string, composing bool) error
	RememberMessage(chatID, messageID, sender, text string)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	messages *lru.Cache[string, cachedMessage]
}

// NewClient creates a new WhatsApp client, logging in with a QR code or numeric code when no device is paired.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	dbDriver := SQLDriverFor(dbDSN)
	if dbDriver == "sqlite3" && !HasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient, messages: newMessageCache(DefaultMessageCacheSize)}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file", "error", err)
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// SQLDriverFor returns the database/sql driver name whatsmeow should use for dsn.
func SQLDriverFor(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys.
func HasForeignKeys(dsn string) bool {
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// ParseChatJID accepts a full JID or a bare phone number.
func ParseChatJID(chatID string) (types.JID, error) {
	chatID = strings.TrimPrefix(strings.TrimSpace(chatID), "+")
	if chatID == "" {
		return types.EmptyJID, fmt.Errorf("chat id cannot be empty")
	}
	if !strings.Contains(chatID, "@") {
		return types.NewJID(chatID, JIDSuffix), nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return jid, nil
}

func (c *Client) ready() error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.Store == nil {
		return fmt.Errorf("whatsapp client store not available")
	}
	return nil
}

// SendMessage sends a plain WhatsApp message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	_, err := c.PostMessage(ctx, to, body, "")
	return err
}

// PostMessage sends body to chatID and returns the new message ID. When
// replyTo is set the message quotes it; WhatsApp still delivers the message
// if the quoted one was deleted.
func (c *Client) PostMessage(ctx context.Context, chatID, body, replyTo string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if body == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}
	jid, err := ParseChatJID(chatID)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: proto.String(body)}
	if replyTo != "" {
		ctxInfo := &waE2E.ContextInfo{StanzaID: proto.String(replyTo)}
		if orig, ok := c.messages.Get(replyTo); ok {
			ctxInfo.Participant = proto.String(orig.sender.String())
			ctxInfo.QuotedMessage = &waE2E.Message{Conversation: proto.String(orig.text)}
		}
		msg = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(body),
			ContextInfo: ctxInfo,
		}}
	}

	slog.Debug("Sending WhatsApp message", "chat", jid.String(), "body_length", len(body), "reply_to", replyTo)
	resp, err := c.waClient.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "chat", jid.String())
		return "", fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	return string(resp.ID), nil
}

// EditMessage replaces the text of a message previously sent by this client.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID, body string) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseChatJID(chatID)
	if err != nil {
		return err
	}
	edit := c.waClient.BuildEdit(jid, types.MessageID(messageID), &waE2E.Message{Conversation: proto.String(body)})
	if _, err := c.waClient.SendMessage(ctx, jid, edit); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return nil
}

// DeleteMessage revokes a message previously sent by this client.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseChatJID(chatID)
	if err != nil {
		return err
	}
	revoke := c.waClient.BuildRevoke(jid, types.EmptyJID, types.MessageID(messageID))
	if _, err := c.waClient.SendMessage(ctx, jid, revoke); err != nil {
		return fmt.Errorf("failed to revoke message %s: %w", messageID, err)
	}
	return nil
}

// React sets this account's reaction on a message. An empty emoji removes it.
func (c *Client) React(ctx context.Context, chatID, messageID, emoji string) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseChatJID(chatID)
	if err != nil {
		return err
	}
	sender := jid
	if orig, ok := c.messages.Get(messageID); ok {
		sender = orig.sender
	}
	reaction := c.waClient.BuildReaction(jid, sender, types.MessageID(messageID), emoji)
	if _, err := c.waClient.SendMessage(ctx, jid, reaction); err != nil {
		return fmt.Errorf("failed to react to message %s: %w", messageID, err)
	}
	return nil
}

// SendPresence toggles the typing indicator in a chat.
func (c *Client) SendPresence(ctx context.Context, chatID string, composing bool) error {
	if err := c.ready(); err != nil {
		return err
	}
	jid, err := ParseChatJID(chatID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	return c.waClient.SendChatPresence(jid, state, types.ChatPresenceMediaText)
}

// RememberMessage records an inbound message so later reactions and quotes
// can address its sender.
func (c *Client) RememberMessage(chatID, messageID, sender, text string) {
	jid, err := ParseChatJID(sender)
	if err != nil {
		jid, _ = ParseChatJID(chatID)
	}
	c.messages.Add(messageID, cachedMessage{sender: jid, text: text})
}

// Close disconnects from WhatsApp.
func (c *Client) Close() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// GetClient returns the underlying whatsmeow client for event handling
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

type cachedMessage struct {
	sender types.JID
	text   string
}

// newMessageCache creates the LRU of inbound messages used for quoting and
// reaction addressing.
func newMessageCache(limit int) *lru.Cache[string, cachedMessage] {
	if limit <= 0 {
		limit = DefaultMessageCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, cachedMessage](limit)
	return cache
}
