package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CivicPipe/internal/api"
	"github.com/BTreeMap/CivicPipe/internal/attachment"
	"github.com/BTreeMap/CivicPipe/internal/flow"
	"github.com/BTreeMap/CivicPipe/internal/genai"
	"github.com/BTreeMap/CivicPipe/internal/lockfile"
	"github.com/BTreeMap/CivicPipe/internal/messaging"
	"github.com/BTreeMap/CivicPipe/internal/notify"
	"github.com/BTreeMap/CivicPipe/internal/render"
	"github.com/BTreeMap/CivicPipe/internal/scheduler"
	"github.com/BTreeMap/CivicPipe/internal/storage"
	"github.com/BTreeMap/CivicPipe/internal/store"
	"github.com/BTreeMap/CivicPipe/internal/util"
	"github.com/BTreeMap/CivicPipe/internal/verify"
	"github.com/BTreeMap/CivicPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CivicPipe state data
	DefaultStateDir = "/var/lib/civicpipe"
	// DefaultAppDBFileName is the default SQLite database filename for records
	DefaultAppDBFileName = "civicpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultFilesDirName holds attachments and documents when Azure is not configured
	DefaultFilesDirName = "files"
)

func main() {
	initializeLogger(os.Getenv("CIVICPIPE_LOG_LEVEL"))

	config := loadEnvironmentConfig()
	config, err := parseCommandLineFlags(os.Args[1:], config)
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CivicPipe", "state_dir", config.StateDir, "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("CivicPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CivicPipe exited successfully")
}

// Config holds the resolved process configuration.
type Config struct {
	StateDir      string
	DatabaseDSN   string
	WhatsAppDBDSN string
	QRPath        string
	NumericCode   bool

	OpenAIKey   string
	OpenAIModel string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioServiceSID string

	AzureConnectionString string
	AzureContainer        string

	NATSURL   string
	NATSToken string

	APIAddr string

	CountryCode       string
	MaxAttempts       int
	ResetOnPhoneEntry bool
	ClassifyTimeout   time.Duration

	SessionTTL    time.Duration
	SweepSchedule string
}

// initializeLogger sets up structured logging; the level defaults to debug.
func initializeLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil || level == "" {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:              os.Getenv("CIVICPIPE_STATE_DIR"),
		DatabaseDSN:           os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:         os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:             os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:           os.Getenv("OPENAI_MODEL"),
		TwilioAccountSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioServiceSID:      os.Getenv("TWILIO_VERIFY_SERVICE_SID"),
		AzureConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		AzureContainer:        os.Getenv("AZURE_STORAGE_CONTAINER"),
		NATSURL:               os.Getenv("NATS_URL"),
		NATSToken:             os.Getenv("NATS_TOKEN"),
		APIAddr:               os.Getenv("API_ADDR"),
		CountryCode:           os.Getenv("DEFAULT_COUNTRY_CODE"),
		MaxAttempts:           util.ParseIntEnv("OTP_MAX_ATTEMPTS", flow.DefaultMaxAttempts),
		ResetOnPhoneEntry:     util.ParseBoolEnv("OTP_RESET_ON_PHONE_ENTRY", false),
		ClassifyTimeout:       util.ParseDurationEnv("CLASSIFY_TIMEOUT", flow.DefaultClassifyTimeout),
		SessionTTL:            util.ParseDurationEnv("SESSION_TTL", scheduler.DefaultSessionTTL),
		SweepSchedule:         os.Getenv("SESSION_SWEEP_SCHEDULE"),
	}
	applyDefaults(&config)

	slog.Debug("environment variables loaded",
		"CIVICPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"WHATSAPP_DB_DSN_SET", os.Getenv("WHATSAPP_DB_DSN") != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_VERIFY_SET", config.twilioConfigured(),
		"AZURE_STORAGE_SET", config.AzureConnectionString != "",
		"NATS_URL_SET", config.NATSURL != "",
		"API_ADDR", config.APIAddr)
	return config
}

// applyDefaults fills values derived from the state directory. Explicit DSNs win.
func applyDefaults(c *Config) {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.APIAddr == "" {
		c.APIAddr = api.DefaultAddr
	}
	if c.CountryCode == "" {
		c.CountryCode = util.DefaultCountryCode
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = scheduler.DefaultSweepSchedule
	}
}

// parseCommandLineFlags applies command line overrides on top of the environment.
func parseCommandLineFlags(args []string, env Config) (Config, error) {
	fs := flag.NewFlagSet("civicpipe", flag.ContinueOnError)
	config := env
	stateDir := fs.String("state-dir", env.StateDir, "state directory for CivicPipe data (overrides $CIVICPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", env.DatabaseDSN, "record database DSN (overrides $DATABASE_URL)")
	fs.StringVar(&config.WhatsAppDBDSN, "whatsapp-db-dsn", env.WhatsAppDBDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QRPath, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "use numeric login code instead of QR code")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", env.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.APIAddr, "api-addr", env.APIAddr, "API server address (overrides $API_ADDR)")
	fs.IntVar(&config.MaxAttempts, "otp-max-attempts", env.MaxAttempts, "incorrect codes allowed before a session ends (overrides $OTP_MAX_ATTEMPTS)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// DSNs that were derived from the old state directory follow the new one.
	if *stateDir != env.StateDir {
		derived := Config{StateDir: env.StateDir}
		applyDefaults(&derived)
		config.StateDir = *stateDir
		moved := Config{StateDir: *stateDir}
		applyDefaults(&moved)
		if config.DatabaseDSN == derived.DatabaseDSN {
			config.DatabaseDSN = moved.DatabaseDSN
		}
		if config.WhatsAppDBDSN == derived.WhatsAppDBDSN {
			config.WhatsAppDBDSN = moved.WhatsAppDBDSN
		}
	}
	if config.MaxAttempts <= 0 {
		return Config{}, fmt.Errorf("otp-max-attempts must be positive, got %d", config.MaxAttempts)
	}
	return config, nil
}

func (c Config) twilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioServiceSID != ""
}

func (c Config) engineOptions() []flow.Option {
	return []flow.Option{
		flow.WithMaxAttempts(c.MaxAttempts),
		flow.WithClassifyTimeout(c.ClassifyTimeout),
		flow.WithResetAttemptsOnPhoneEntry(c.ResetOnPhoneEntry),
		flow.WithCountryCode(c.CountryCode),
	}
}

func (c Config) whatsAppOptions() []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(c.WhatsAppDBDSN)}
	if c.QRPath != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(c.QRPath))
	}
	if c.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func (c Config) genaiOptions() []genai.Option {
	opts := []genai.Option{genai.WithAPIKey(c.OpenAIKey)}
	if c.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(c.OpenAIModel))
	}
	return opts
}

// ensureStateDirectories creates the directories file-based backends write into.
func ensureStateDirectories(c Config) error {
	dirs := []string{c.StateDir}
	if store.DetectDSNType(c.DatabaseDSN) == store.DSNTypeSQLite {
		dirs = append(dirs, filepath.Dir(c.DatabaseDSN))
	}
	if store.DetectDSNType(c.WhatsAppDBDSN) == store.DSNTypeSQLite {
		p := strings.TrimPrefix(c.WhatsAppDBDSN, "file:")
		if i := strings.IndexByte(p, '?'); i >= 0 {
			p = p[:i]
		}
		dirs = append(dirs, filepath.Dir(p))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// openStorage returns Azure Blob storage when configured, local files otherwise.
func openStorage(ctx context.Context, c Config) (storage.Storage, error) {
	if c.AzureConnectionString == "" {
		slog.Info("Using local file storage", "dir", filepath.Join(c.StateDir, DefaultFilesDirName))
		return storage.NewLocal(filepath.Join(c.StateDir, DefaultFilesDirName))
	}
	az, err := storage.NewAzure(storage.WithConnectionString(c.AzureConnectionString), storage.WithContainer(c.AzureContainer))
	if err != nil {
		return nil, err
	}
	if err := az.EnsureContainer(ctx); err != nil {
		return nil, err
	}
	slog.Info("Using Azure Blob storage")
	return az, nil
}

func openPublisher(c Config) (notify.Publisher, error) {
	if c.NATSURL == "" {
		slog.Info("NATS_URL not set, record publication disabled")
		return notify.NopPublisher{}, nil
	}
	return notify.NewNATSPublisher(c.NATSURL, c.NATSToken)
}

func openVerifier(c Config, sender verify.CodeSender) (verify.Provider, error) {
	if !c.twilioConfigured() {
		slog.Warn("Twilio Verify not configured, sending one-time codes over the chat transport")
		return verify.NewLocalProvider(sender), nil
	}
	return verify.NewTwilioProvider(
		verify.WithAccountSID(c.TwilioAccountSID),
		verify.WithAuthToken(c.TwilioAuthToken),
		verify.WithServiceSID(c.TwilioServiceSID),
	)
}

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, c Config) error {
	if err := ensureStateDirectories(c); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(c.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	records, err := store.Open(c.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	files, err := openStorage(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to open file storage: %w", err)
	}

	publisher, err := openPublisher(c)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer publisher.Close()

	waClient, err := whatsapp.NewClient(ctx, c.whatsAppOptions()...)
	if err != nil {
		return fmt.Errorf("failed to start WhatsApp client: %w", err)
	}
	defer waClient.Disconnect()
	transport := messaging.NewWhatsAppService(waClient)

	verifier, err := openVerifier(c, transport)
	if err != nil {
		return fmt.Errorf("failed to configure verification: %w", err)
	}

	var (
		classifier flow.Classifier
		assistant  flow.Assistant
		legal      flow.LegalAdvisor
	)
	if ai, err := genai.NewClient(c.genaiOptions()...); err != nil {
		slog.Warn("GenAI client not available, classification and answers disabled", "error", err)
	} else {
		classifier, assistant, legal = ai, ai, ai
	}

	sessions := flow.NewMemorySessionStore()
	finalizer := flow.NewFinalizer(legal, render.NewPDFRenderer(files), records, files, publisher)
	engine := flow.NewEngine(flow.Deps{
		Sessions:   sessions,
		Messenger:  transport,
		Verifier:   verifier,
		Capturer:   attachment.NewCapturer(files),
		Classifier: classifier,
		Assistant:  assistant,
		Finalizer:  finalizer,
	}, c.engineOptions()...)
	dispatcher := messaging.NewDispatcher(engine, transport)

	sched := scheduler.NewScheduler()
	if c.SessionTTL > 0 {
		if err := sched.AddJob(c.SweepSchedule, scheduler.SessionSweep(sessions, c.SessionTTL, nil)); err != nil {
			return err
		}
	}
	server := api.NewServer(records, sessions, files)

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx, transport.Events())
	})
	g.Go(func() error {
		return server.Run(gctx, c.APIAddr)
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return transport.Stop()
	})
	slog.Info("CivicPipe running", "api_addr", c.APIAddr)
	return g.Wait()
}
