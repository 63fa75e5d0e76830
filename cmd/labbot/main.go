package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/labbot/internal/api"
	"github.com/BTreeMap/labbot/internal/lab"
	"github.com/BTreeMap/labbot/internal/lockfile"
	"github.com/BTreeMap/labbot/internal/session"
	"github.com/BTreeMap/labbot/internal/store"
	"github.com/BTreeMap/labbot/internal/twiliowhatsapp"
	"github.com/BTreeMap/labbot/internal/util"
	"github.com/BTreeMap/labbot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for labbot state data
	DefaultStateDir = "/var/lib/labbot"
	// DefaultWhatsAppDBFileName is the default whatsmeow device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultDataDBFileName is the default SQLite file of the sql data backend
	DefaultDataDBFileName = "labbot.db"
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("labbot is already running", "error", lockErr)
		} else {
			slog.Error("Failed to lock state directory", "error", err)
		}
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	storeOpts, err := buildStoreOptions(flags, config)
	if err != nil {
		slog.Error("Invalid data backend configuration", "error", err)
		lock.Release()
		os.Exit(1)
	}
	labOpts := buildLabOptions(config)
	apiOpts := buildAPIOptions(flags, config)

	slog.Info("Bootstrapping labbot with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "twilio", len(twilioOpts), "store", len(storeOpts), "lab", len(labOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, twilioOpts, storeOpts, labOpts, apiOpts); err != nil {
		slog.Error("labbot failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("labbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	WhatsAppDSN      string
	Provider         string
	TwilioSID        string
	TwilioToken      string
	TwilioFrom       string
	TwilioWebhookURL string
	VerifyWebhook    bool
	DataBackend      string
	DataDSN          string
	RegistrySheetID  string
	OrdersSheetID    string
	GoogleCredsJSON  string
	GoogleCredsFile  string
	CountryCode      string
	TimeZone         string
	ProspectTimeZone string
	SessionTimeout   time.Duration
	TurnTimeout      time.Duration
	CatalogImagePath string
	CatalogImageURL  string
	CatalogLink      string
	LabName          string
	APIAddr          string
	DigestCron       string
	LogLevel         string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput    *string
	numeric     *bool
	stateDir    *string
	waDSN       *string
	provider    *string
	dataBackend *string
	dataDSN     *string
	apiAddr     *string
	digestCron  *string
}

// initializeLogger sets up structured logging; the level defaults to debug.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("LABBOT_STATE_DIR"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		Provider:         os.Getenv("MESSAGING_PROVIDER"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:      os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		VerifyWebhook:    util.ParseBoolEnv("TWILIO_VERIFY_SIGNATURE", true),
		DataBackend:      os.Getenv("DATA_BACKEND"),
		DataDSN:          os.Getenv("DATA_DSN"),
		RegistrySheetID:  os.Getenv("REGISTRY_SHEET_ID"),
		OrdersSheetID:    os.Getenv("ORDERS_SHEET_ID"),
		GoogleCredsJSON:  os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		GoogleCredsFile:  os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		CountryCode:      os.Getenv("COUNTRY_CODE"),
		TimeZone:         os.Getenv("TIMEZONE"),
		ProspectTimeZone: os.Getenv("PROSPECT_TIMEZONE"),
		SessionTimeout:   util.ParseDurationEnv("SESSION_TIMEOUT", session.DefaultTimeout),
		TurnTimeout:      util.ParseDurationEnv("TURN_TIMEOUT", 0),
		CatalogImagePath: os.Getenv("CATALOG_IMAGE_PATH"),
		CatalogImageURL:  os.Getenv("CATALOG_IMAGE_URL"),
		CatalogLink:      os.Getenv("CATALOG_LINK"),
		LabName:          os.Getenv("LAB_NAME"),
		APIAddr:          os.Getenv("API_ADDR"),
		DigestCron:       os.Getenv("DIGEST_CRON"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LABBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default to DATABASE_URL, then to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = os.Getenv("DATABASE_URL")
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WhatsApp database DSN provided, defaulting to SQLite", "dsn", config.WhatsAppDSN)
	}
	if config.DataDSN == "" {
		config.DataDSN = filepath.Join(config.StateDir, DefaultDataDBFileName)
	}
	if config.Provider == "" {
		config.Provider = api.ProviderWhatsApp
	}
	if config.DataBackend == "" {
		config.DataBackend = api.BackendSheets
	}

	slog.Debug("environment variables loaded",
		"LABBOT_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"MESSAGING_PROVIDER", config.Provider,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"DATA_BACKEND", config.DataBackend,
		"GOOGLE_CREDENTIALS_SET", config.GoogleCredsJSON != "" || config.GoogleCredsFile != "",
		"SESSION_TIMEOUT", config.SessionTimeout,
		"API_ADDR", config.APIAddr,
		"DIGEST_CRON", config.DigestCron)

	return config
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for labbot data (overrides $LABBOT_STATE_DIR)"),
		waDSN:       flag.String("whatsapp-dsn", config.WhatsAppDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		provider:    flag.String("provider", config.Provider, "messaging provider: whatsapp or twilio (overrides $MESSAGING_PROVIDER)"),
		dataBackend: flag.String("data-backend", config.DataBackend, "tabular data backend: sheets or sql (overrides $DATA_BACKEND)"),
		dataDSN:     flag.String("data-dsn", config.DataDSN, "SQLite path or Postgres DSN of the sql backend (overrides $DATA_DSN)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		digestCron:  flag.String("digest-cron", config.DigestCron, "cron schedule of the admin digest, or off (overrides $DIGEST_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"provider", *flags.provider,
		"dataBackend", *flags.dataBackend,
		"apiAddr", *flags.apiAddr,
		"digestCron", *flags.digestCron)

	// Follow a state directory override when the DSNs are still the defaults
	if *flags.stateDir != config.StateDir {
		if *flags.waDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.waDSN = defaultWhatsAppDSN(*flags.stateDir)
		}
		if *flags.dataDSN == filepath.Join(config.StateDir, DefaultDataDBFileName) {
			*flags.dataDSN = filepath.Join(*flags.stateDir, DefaultDataDBFileName)
		}
		slog.Debug("Updated DSNs based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
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
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioSID))
	}
	if config.TwilioToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioToken))
	}
	if config.TwilioFrom != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFrom))
	}
	return opts
}

// buildStoreOptions constructs the options of the selected data backend
func buildStoreOptions(flags Flags, config Config) ([]store.Option, error) {
	var storeOpts []store.Option
	switch *flags.dataBackend {
	case api.BackendSheets:
		switch {
		case config.GoogleCredsJSON != "":
			storeOpts = append(storeOpts, store.WithCredentialsJSON([]byte(config.GoogleCredsJSON)))
		case config.GoogleCredsFile != "":
			storeOpts = append(storeOpts, store.WithCredentialsFile(config.GoogleCredsFile))
		default:
			return nil, errors.New("sheets backend requires GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE")
		}
		if config.RegistrySheetID == "" || config.OrdersSheetID == "" {
			return nil, errors.New("sheets backend requires REGISTRY_SHEET_ID and ORDERS_SHEET_ID")
		}
	case api.BackendSQL:
		if store.DetectDSNType(*flags.dataDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dataDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dataDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dataDSN))
		}
	default:
		return nil, errors.New("unknown data backend " + *flags.dataBackend)
	}
	return storeOpts, nil
}

// buildLabOptions constructs domain configuration options
func buildLabOptions(config Config) []lab.Option {
	var opts []lab.Option
	if config.RegistrySheetID != "" {
		opts = append(opts, lab.WithRegistryID(config.RegistrySheetID))
	}
	if config.OrdersSheetID != "" {
		opts = append(opts, lab.WithOrdersID(config.OrdersSheetID))
	}
	if config.CountryCode != "" {
		opts = append(opts, lab.WithCountryCode(config.CountryCode))
	}
	if loc := loadLocation("TIMEZONE", config.TimeZone); loc != nil {
		opts = append(opts, lab.WithLocation(loc))
	}
	if loc := loadLocation("PROSPECT_TIMEZONE", config.ProspectTimeZone); loc != nil {
		opts = append(opts, lab.WithProspectLocation(loc))
	}
	return opts
}

func loadLocation(key, name string) *time.Location {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Ignoring invalid time zone", "key", key, "value", name, "error", err)
		return nil
	}
	return loc
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, config Config) []api.Option {
	apiOpts := []api.Option{
		api.WithProvider(*flags.provider),
		api.WithDataBackend(*flags.dataBackend),
		api.WithSessionTimeout(config.SessionTimeout),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.digestCron != "" {
		apiOpts = append(apiOpts, api.WithDigestCron(*flags.digestCron))
	}
	if config.TurnTimeout > 0 {
		apiOpts = append(apiOpts, api.WithTurnTimeout(config.TurnTimeout))
	}
	if config.CatalogImagePath != "" {
		apiOpts = append(apiOpts, api.WithCatalogImage(config.CatalogImagePath))
	}
	if config.CatalogImageURL != "" {
		apiOpts = append(apiOpts, api.WithCatalogImageURL(config.CatalogImageURL))
	}
	if config.CatalogLink != "" {
		apiOpts = append(apiOpts, api.WithCatalogLink(config.CatalogLink))
	}
	if config.LabName != "" {
		apiOpts = append(apiOpts, api.WithLabName(config.LabName))
	}
	if config.VerifyWebhook && config.TwilioToken != "" && config.TwilioWebhookURL != "" {
		apiOpts = append(apiOpts, api.WithWebhookValidation(config.TwilioToken, config.TwilioWebhookURL))
	} else if *flags.provider == api.ProviderTwilio {
		slog.Warn("Twilio webhook signatures are not verified; set TWILIO_AUTH_TOKEN and TWILIO_WEBHOOK_URL")
	}
	return apiOpts
}
