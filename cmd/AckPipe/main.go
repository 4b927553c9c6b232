package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/AckPipe/internal/api"
	"github.com/BTreeMap/AckPipe/internal/feedback"
	"github.com/BTreeMap/AckPipe/internal/genai"
	"github.com/BTreeMap/AckPipe/internal/store"
	"github.com/BTreeMap/AckPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/AckPipe/internal/typing"
	"github.com/BTreeMap/AckPipe/internal/util"
	"github.com/BTreeMap/AckPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for AckPipe state data
	DefaultStateDir = "/var/lib/ackpipe"
	// DefaultWhatsAppDBFileName is the whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultAppDBFileName is the inbound log filename
	DefaultAppDBFileName = "ackpipe.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	waOpts := buildWhatsAppOptions(flags)
	twOpts := buildTwilioOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping AckPipe with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "transport", *flags.transport, "app_dsn_set", *flags.appDBDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(ctx, waOpts, twOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("AckPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("AckPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDBDSN    string
	ApplicationDBDSN string
	StateDir         string
	Transport        string
	OpenAIKey        string
	OpenAIModel      string
	APIAddr          string
	SystemPrompt     string
	TwilioFrom       string
	GenAIDebug       bool

	ReactionsEnabled       bool
	ProcessingEmoji        string
	ToolsEmoji             string
	DoneEmoji              string
	DoneRemoveAfterSeconds int
	StatusEnabled          bool
	StatusDelaySeconds     int
	StatusInitialText      string
	StatusToolTemplate     string
	StatusDeleteAfterReply bool
	TypingTTL              time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	transport     *string
	whatsappDSN   *string
	appDBDSN      *string
	openaiKey     *string
	openaiModel   *string
	genaiDebug    *bool
	apiAddr       *string
	systemPrompt  *string
	twilioFrom    *string
	maxToolRounds *int

	reactions       *bool
	emojiProcessing *string
	emojiTools      *string
	emojiDone       *string
	doneRemoveAfter *int
	status          *bool
	statusDelay     *int
	statusText      *string
	statusTemplate  *string
	statusDelete    *bool
	typingTTL       *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	defaults := feedback.DefaultConfig()
	config := Config{
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		ApplicationDBDSN: os.Getenv("DATABASE_DSN"),
		StateDir:         util.GetEnvDefault("ACKPIPE_STATE_DIR", DefaultStateDir),
		Transport:        util.GetEnvDefault("ACKPIPE_TRANSPORT", api.TransportWhatsApp),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      util.GetEnvDefault("OPENAI_MODEL", genai.DefaultModel),
		APIAddr:          util.GetEnvDefault("API_ADDR", api.DefaultAddr),
		SystemPrompt:     os.Getenv("ACKPIPE_SYSTEM_PROMPT"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),

		ReactionsEnabled:       util.ParseBoolEnv("ACK_REACTIONS_ENABLED", defaults.Reactions.Enabled),
		ProcessingEmoji:        util.GetEnvDefault("ACK_EMOJI_PROCESSING", defaults.Reactions.ProcessingEmoji),
		ToolsEmoji:             util.GetEnvDefault("ACK_EMOJI_TOOLS", defaults.Reactions.ToolsEmoji),
		DoneEmoji:              util.GetEnvDefault("ACK_EMOJI_DONE", defaults.Reactions.DoneEmoji),
		DoneRemoveAfterSeconds: util.ParseIntEnv("ACK_DONE_REMOVE_AFTER_SECONDS", defaults.Reactions.DoneRemoveAfterSeconds),
		StatusEnabled:          util.ParseBoolEnv("ACK_STATUS_ENABLED", defaults.Status.Enabled),
		StatusDelaySeconds:     util.ParseIntEnv("ACK_STATUS_DELAY_SECONDS", defaults.Status.DelaySeconds),
		StatusInitialText:      util.GetEnvDefault("ACK_STATUS_INITIAL_TEXT", defaults.Status.InitialText),
		StatusToolTemplate:     util.GetEnvDefault("ACK_STATUS_TOOL_TEMPLATE", defaults.Status.ToolTemplate),
		StatusDeleteAfterReply: util.ParseBoolEnv("ACK_STATUS_DELETE_AFTER_REPLY", defaults.Status.DeleteAfterReply),
		TypingTTL:              util.ParseSecondsEnv("ACK_TYPING_TTL_SECONDS", typing.DefaultTTL),
	}

	// DATABASE_URL is accepted for the inbound log when DATABASE_DSN is unset
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = os.Getenv("DATABASE_URL")
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN set, defaulting to SQLite", "dsn", config.WhatsAppDBDSN)
	}
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No DATABASE_DSN set, defaulting to SQLite", "dsn", config.ApplicationDBDSN)
	}

	slog.Debug("environment variables loaded",
		"ACKPIPE_STATE_DIR", config.StateDir,
		"ACKPIPE_TRANSPORT", config.Transport,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ACK_REACTIONS_ENABLED", config.ReactionsEnabled,
		"ACK_STATUS_ENABLED", config.StatusEnabled)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

// parseCommandLineFlags parses args with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write login QR code"),
		numeric:       fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for AckPipe data (overrides $ACKPIPE_STATE_DIR)"),
		transport:     fs.String("transport", config.Transport, "chat transport: whatsapp or twilio (overrides $ACKPIPE_TRANSPORT)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		appDBDSN:      fs.String("db-dsn", config.ApplicationDBDSN, "inbound log DSN, SQLite path or Postgres URL (overrides $DATABASE_DSN)"),
		openaiKey:     fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:   fs.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		genaiDebug:    fs.Bool("genai-debug", config.GenAIDebug, "write model requests under <state-dir>/debug (overrides $GENAI_DEBUG)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		systemPrompt:  fs.String("system-prompt", config.SystemPrompt, "model system prompt (overrides $ACKPIPE_SYSTEM_PROMPT)"),
		twilioFrom:    fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		maxToolRounds: fs.Int("max-tool-rounds", 0, "model round trips per run (0 uses the default)"),

		reactions:       fs.Bool("reactions", config.ReactionsEnabled, "show progress reactions (overrides $ACK_REACTIONS_ENABLED)"),
		emojiProcessing: fs.String("emoji-processing", config.ProcessingEmoji, "reaction while processing (overrides $ACK_EMOJI_PROCESSING)"),
		emojiTools:      fs.String("emoji-tools", config.ToolsEmoji, "reaction while tools run (overrides $ACK_EMOJI_TOOLS)"),
		emojiDone:       fs.String("emoji-done", config.DoneEmoji, "reaction after a reply (overrides $ACK_EMOJI_DONE)"),
		doneRemoveAfter: fs.Int("done-remove-after", config.DoneRemoveAfterSeconds, "seconds before the done reaction is removed, 0 keeps it (overrides $ACK_DONE_REMOVE_AFTER_SECONDS)"),
		status:          fs.Bool("status", config.StatusEnabled, "post a status message for slow runs (overrides $ACK_STATUS_ENABLED)"),
		statusDelay:     fs.Int("status-delay", config.StatusDelaySeconds, "seconds before the status message is posted (overrides $ACK_STATUS_DELAY_SECONDS)"),
		statusText:      fs.String("status-text", config.StatusInitialText, "initial status text (overrides $ACK_STATUS_INITIAL_TEXT)"),
		statusTemplate:  fs.String("status-tool-template", config.StatusToolTemplate, "status text while a tool runs, {tool} is replaced (overrides $ACK_STATUS_TOOL_TEMPLATE)"),
		statusDelete:    fs.Bool("status-delete", config.StatusDeleteAfterReply, "delete the status message after the run (overrides $ACK_STATUS_DELETE_AFTER_REPLY)"),
		typingTTL:       fs.Int("typing-ttl", int(config.TypingTTL/time.Second), "seconds the typing indicator survives without progress (overrides $ACK_TYPING_TTL_SECONDS)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	// Follow a state directory change when the DSNs were derived from the old one
	if *flags.stateDir != config.StateDir {
		if *flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
		if *flags.appDBDSN == defaultAppDSN(config.StateDir) {
			*flags.appDBDSN = defaultAppDSN(*flags.stateDir)
		}
		slog.Debug("Updated DSNs based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"transport", *flags.transport,
		"appDBDSN_set", *flags.appDBDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"reactions", *flags.reactions,
		"status", *flags.status)

	return flags, nil
}

// ensureDirectoriesExist creates the state directory and the parents of file-based DSNs
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.appDBDSN != "" && store.DetectDSNType(*flags.appDBDSN) == "sqlite3" {
		dirs = append(dirs, filepath.Dir(*flags.appDBDSN))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio options; credentials come from $TWILIO_*
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if *flags.twilioFrom != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
	}
	return twOpts
}

// buildStoreOptions constructs inbound log options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.appDBDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory inbound log")
		return storeOpts
	}
	if store.DetectDSNType(*flags.appDBDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.appDBDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.appDBDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.appDBDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildFeedbackConfig maps the reaction and status flags onto feedback.Config
func buildFeedbackConfig(flags Flags) feedback.Config {
	return feedback.Config{
		Reactions: feedback.ReactionConfig{
			Enabled:                *flags.reactions,
			ProcessingEmoji:        *flags.emojiProcessing,
			ToolsEmoji:             *flags.emojiTools,
			DoneEmoji:              *flags.emojiDone,
			DoneRemoveAfterSeconds: *flags.doneRemoveAfter,
		},
		Status: feedback.StatusConfig{
			Enabled:          *flags.status,
			DelaySeconds:     *flags.statusDelay,
			InitialText:      *flags.statusText,
			ToolTemplate:     *flags.statusTemplate,
			DeleteAfterReply: *flags.statusDelete,
		},
	}.WithDefaults()
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	apiOpts := []api.Option{
		api.WithTransport(*flags.transport),
		api.WithFeedbackConfig(buildFeedbackConfig(flags)),
		api.WithTypingTTL(time.Duration(*flags.typingTTL) * time.Second),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.stateDir != "" {
		apiOpts = append(apiOpts, api.WithStateDir(*flags.stateDir))
	}
	if *flags.systemPrompt != "" {
		apiOpts = append(apiOpts, api.WithSystemPrompt(*flags.systemPrompt))
	}
	if *flags.maxToolRounds > 0 {
		apiOpts = append(apiOpts, api.WithMaxToolRounds(*flags.maxToolRounds))
	}
	return apiOpts
}
