// Package config loads the loan bot configuration: the shared core sections
// plus storage, PayHero, payment, loan policy, and callback server settings.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/kopakash/loanbot/core/config"
	coredatabase "github.com/kopakash/loanbot/core/database"
)

// StoreConfig selects the application state backend.
type StoreConfig struct {
	Driver string `yaml:"driver" envconfig:"STORE_DRIVER"`
	// StateTTLSeconds expires idle Redis records; 0 keeps them.
	StateTTLSeconds int    `yaml:"state_ttl_seconds" envconfig:"STORE_STATE_TTL_SECONDS"`
	KeyPrefix       string `yaml:"key_prefix" envconfig:"STORE_KEY_PREFIX"`
}

// PayHeroConfig holds gateway credentials and endpoints.
type PayHeroConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"PAYHERO_BASE_URL"`
	Username       string `yaml:"username" envconfig:"PAYHERO_USERNAME"`
	Password       string `yaml:"password" envconfig:"PAYHERO_PASSWORD"`
	ChannelID      int    `yaml:"channel_id" envconfig:"PAYHERO_CHANNEL_ID"`
	Provider       string `yaml:"provider" envconfig:"PAYHERO_PROVIDER"`
	CallbackURL    string `yaml:"callback_url" envconfig:"PAYHERO_CALLBACK_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"PAYHERO_TIMEOUT_SECONDS"`
	// StatusRetries applies to status queries only; charges are never retried.
	StatusRetries int `yaml:"status_retries" envconfig:"PAYHERO_STATUS_RETRIES"`
}

// PaymentConfig controls the processing fee and confirmation polling.
type PaymentConfig struct {
	Fee                 float64 `yaml:"fee" envconfig:"PAYMENT_FEE"`
	ReferencePrefix     string  `yaml:"reference_prefix" envconfig:"PAYMENT_REFERENCE_PREFIX"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds" envconfig:"PAYMENT_POLL_INTERVAL_SECONDS"`
	PollAttempts        int     `yaml:"poll_attempts" envconfig:"PAYMENT_POLL_ATTEMPTS"`
}

// PollInterval returns the configured interval as a duration.
func (p PaymentConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// LoanConfig is the amount and reason policy.
type LoanConfig struct {
	MinAmount       float64 `yaml:"min_amount" envconfig:"LOAN_MIN_AMOUNT"`
	MaxAmount       float64 `yaml:"max_amount" envconfig:"LOAN_MAX_AMOUNT"`
	MinReasonLength int     `yaml:"min_reason_length" envconfig:"LOAN_MIN_REASON_LENGTH"`
}

// CallbackServerConfig is the HTTP listener for PayHero callbacks, health and metrics.
type CallbackServerConfig struct {
	Listen string `yaml:"listen" envconfig:"CALLBACK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"CALLBACK_PORT"`
	Path   string `yaml:"path" envconfig:"CALLBACK_PATH"`
}

// Addr joins listen address and port.
func (c CallbackServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database       coredatabase.Config      `yaml:"database"`
	Redis          coredatabase.RedisConfig `yaml:"redis"`
	Store          StoreConfig              `yaml:"store"`
	PayHero        PayHeroConfig            `yaml:"payhero"`
	Payment        PaymentConfig            `yaml:"payment"`
	Loan           LoanConfig               `yaml:"loan"`
	CallbackServer CallbackServerConfig     `yaml:"callback_server"`
}

// CoreConfig exposes the embedded core section to the shared runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads YAML, applies .env and environment overrides, and normalizes.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates settings and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case "":
		cfg.Store.Driver = "memory"
	case "memory":
	case "postgres":
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when store.driver is 'postgres'")
		}
	case "redis":
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when store.driver is 'redis'")
		}
	default:
		return fmt.Errorf("invalid store.driver %q; allowed: memory, postgres, redis", cfg.Store.Driver)
	}
	if cfg.Store.StateTTLSeconds < 0 {
		return fmt.Errorf("store.state_ttl_seconds must be >= 0")
	}

	ph := &cfg.PayHero
	ph.BaseURL = strings.TrimRight(strings.TrimSpace(ph.BaseURL), "/")
	if ph.BaseURL == "" {
		ph.BaseURL = "https://backend.payhero.co.ke"
	}
	if ph.Provider == "" {
		ph.Provider = "m-pesa"
	}
	if ph.TimeoutSeconds <= 0 {
		ph.TimeoutSeconds = 30
	}
	if ph.StatusRetries == 0 {
		ph.StatusRetries = 2
	}
	if strings.TrimSpace(ph.Username) == "" || strings.TrimSpace(ph.Password) == "" {
		return fmt.Errorf("payhero.username and payhero.password are required")
	}
	if ph.ChannelID <= 0 {
		return fmt.Errorf("payhero.channel_id must be > 0")
	}
	if strings.TrimSpace(ph.CallbackURL) == "" {
		return fmt.Errorf("payhero.callback_url is required")
	}

	pay := &cfg.Payment
	if pay.Fee <= 0 {
		return fmt.Errorf("payment.fee must be > 0")
	}
	pay.ReferencePrefix = strings.TrimSpace(pay.ReferencePrefix)
	if pay.ReferencePrefix == "" {
		pay.ReferencePrefix = "KOP"
	}
	if strings.Contains(pay.ReferencePrefix, "-") {
		return fmt.Errorf("payment.reference_prefix must not contain '-'")
	}
	if pay.PollIntervalSeconds <= 0 {
		pay.PollIntervalSeconds = 5
	}
	if pay.PollAttempts <= 0 {
		pay.PollAttempts = 24
	}

	lp := &cfg.Loan
	if lp.MinAmount <= 0 {
		return fmt.Errorf("loan.min_amount must be > 0")
	}
	if lp.MaxAmount < lp.MinAmount {
		return fmt.Errorf("loan.max_amount must be >= loan.min_amount")
	}
	if lp.MinReasonLength <= 0 {
		lp.MinReasonLength = 3
	}

	cs := &cfg.CallbackServer
	if strings.TrimSpace(cs.Listen) == "" {
		cs.Listen = "0.0.0.0"
	}
	if cs.Port <= 0 {
		cs.Port = 3000
	}
	if cs.Path == "" {
		cs.Path = "/payhero-callback"
	}
	if !strings.HasPrefix(cs.Path, "/") {
		cs.Path = "/" + cs.Path
	}
	if cfg.Telegram.RunMode == coreconfig.RunModeWebhook && cfg.Webhook.Port == cs.Port {
		return fmt.Errorf("callback_server.port must differ from webhook.port")
	}
	return nil
}
