package config

// Config is the top-level configuration document.
//
// Secrets never appear inline: notifier sections carry the *names* of the
// environment variables to read, so a committed config file stays safe.
//
// JSON tags double as the YAML schema: YAML input is coerced to JSON before
// strict decoding (see coerceToJSONBytes).
type Config struct {
	// Checker selects the probe strategy ("http" or "agent").
	Checker string `json:"checker,omitempty"`

	Logging   LoggingConfig   `json:"logging,omitempty"`
	Settings  SettingsConfig  `json:"settings,omitempty"`
	Notifiers NotifiersConfig `json:"notifiers,omitempty"`

	// Dispatch controls the async notification pipeline.
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	Server ServerConfig `json:"server,omitempty"`

	Offices []OfficeConfig `json:"offices,omitempty"`

	// AdminTokenEnv names the env var holding the admin bearer token.
	AdminTokenEnv string `json:"admin_token_env,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type SettingsConfig struct {
	CheckIntervalSeconds int `json:"check_interval_seconds,omitempty"`

	// CheckSchedule optionally replaces the fixed interval with a cron
	// expression (standard 5-field syntax). When set, iterations fire on
	// the cron schedule instead of sleeping check_interval_seconds.
	CheckSchedule string `json:"check_schedule,omitempty"`

	MaxConcurrentChecks int `json:"max_concurrent_checks,omitempty"`

	// Headless is passed through to the probe strategy; the core does not
	// interpret it.
	Headless *bool  `json:"headless,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	StateFile     string `json:"state_file,omitempty"`
	StateTTLHours int    `json:"state_ttl_hours,omitempty"`

	SubscriptionsFile string `json:"subscriptions_file,omitempty"`

	// HistoryFile points at the sqlite results-history database.
	// Empty disables history.
	HistoryFile           string `json:"history_file,omitempty"`
	HistoryRetentionHours int    `json:"history_retention_hours,omitempty"`

	// DiscoveryURL is the booking site root used for office discovery.
	DiscoveryURL string `json:"discovery_url,omitempty"`
}

type NotifiersConfig struct {
	Discord  DiscordConfig  `json:"discord,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	SMS      SMSConfig      `json:"sms,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
}

// DiscordConfig configures the broadcast webhook channel.
// Enabled is a pointer so "omitted" defaults to true (the channel costs
// nothing when the webhook env is unset).
type DiscordConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	WebhookEnv string `json:"webhook_env,omitempty"`
}

func (c DiscordConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

type TelegramConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	ChatEnv  string `json:"chat_env,omitempty"`
}

type SMSConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	AccountSIDEnv string `json:"account_sid_env,omitempty"`
	AuthTokenEnv  string `json:"auth_token_env,omitempty"`
	FromNumberEnv string `json:"from_number_env,omitempty"`
	TestToEnv     string `json:"test_to_number_env,omitempty"`
}

type EmailConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	SMTPHost   string `json:"smtp_host_env,omitempty"`
	SMTPPort   string `json:"smtp_port_env,omitempty"`
	SMTPUser   string `json:"smtp_user_env,omitempty"`
	SMTPPass   string `json:"smtp_pass_env,omitempty"`
	FromEnv    string `json:"from_email_env,omitempty"`
	TestToEnv  string `json:"test_to_email_env,omitempty"`
	UseTLSEnv  string `json:"use_tls_env,omitempty"`
	UseSSLEnv  string `json:"use_ssl_env,omitempty"`
}

// DispatchConfig controls the notification worker pool.
// Durations are Go duration strings (e.g. "500ms", "10s").
type DispatchConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"`
}

type OfficeConfig struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Env override variable names. Each toggles one channel's enabled flag
// independent of the config document; unset leaves the document value.
const (
	EnvDiscordEnabled  = "DMVWATCH_DISCORD_ENABLED"
	EnvTelegramEnabled = "DMVWATCH_TELEGRAM_ENABLED"
	EnvSMSEnabled      = "DMVWATCH_SMS_ENABLED"
	EnvEmailEnabled    = "DMVWATCH_EMAIL_ENABLED"
)

func (c *Config) normalize() {
	if c.Checker == "" {
		c.Checker = "http"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Console == nil {
		t := true
		c.Logging.Console = &t
	}

	s := &c.Settings
	if s.CheckIntervalSeconds < 1 {
		s.CheckIntervalSeconds = 5
	}
	if s.MaxConcurrentChecks < 1 {
		s.MaxConcurrentChecks = 3
	}
	if s.Headless == nil {
		t := true
		s.Headless = &t
	}
	if s.Timezone == "" {
		s.Timezone = "America/New_York"
	}
	if s.StateFile == "" {
		s.StateFile = "state.json"
	}
	if s.StateTTLHours < 1 {
		s.StateTTLHours = 12
	}
	if s.SubscriptionsFile == "" {
		s.SubscriptionsFile = "subscriptions.json"
	}
	if s.HistoryRetentionHours < 1 {
		s.HistoryRetentionHours = 168
	}
	if s.DiscoveryURL == "" {
		s.DiscoveryURL = "https://skiptheline.ncdot.gov/"
	}

	n := &c.Notifiers
	if n.Discord.WebhookEnv == "" {
		n.Discord.WebhookEnv = "DISCORD_WEBHOOK_URL"
	}
	if n.Telegram.TokenEnv == "" {
		n.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if n.Telegram.ChatEnv == "" {
		n.Telegram.ChatEnv = "TELEGRAM_CHAT_ID"
	}
	if n.SMS.AccountSIDEnv == "" {
		n.SMS.AccountSIDEnv = "TWILIO_ACCOUNT_SID"
	}
	if n.SMS.AuthTokenEnv == "" {
		n.SMS.AuthTokenEnv = "TWILIO_AUTH_TOKEN"
	}
	if n.SMS.FromNumberEnv == "" {
		n.SMS.FromNumberEnv = "TWILIO_FROM_NUMBER"
	}
	if n.SMS.TestToEnv == "" {
		n.SMS.TestToEnv = "TWILIO_TEST_TO_NUMBER"
	}
	if n.Email.SMTPHost == "" {
		n.Email.SMTPHost = "SMTP_HOST"
	}
	if n.Email.SMTPPort == "" {
		n.Email.SMTPPort = "SMTP_PORT"
	}
	if n.Email.SMTPUser == "" {
		n.Email.SMTPUser = "SMTP_USERNAME"
	}
	if n.Email.SMTPPass == "" {
		n.Email.SMTPPass = "SMTP_PASSWORD"
	}
	if n.Email.FromEnv == "" {
		n.Email.FromEnv = "SMTP_FROM_EMAIL"
	}
	if n.Email.TestToEnv == "" {
		n.Email.TestToEnv = "SMTP_TEST_TO_EMAIL"
	}
	if n.Email.UseTLSEnv == "" {
		n.Email.UseTLSEnv = "SMTP_USE_TLS"
	}
	if n.Email.UseSSLEnv == "" {
		n.Email.UseSSLEnv = "SMTP_USE_SSL"
	}

	if c.AdminTokenEnv == "" {
		c.AdminTokenEnv = "DMVWATCH_ADMIN_TOKEN"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}
