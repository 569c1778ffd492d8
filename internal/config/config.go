package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/web3guy0/roulettebot/feeds"
	"github.com/web3guy0/roulettebot/risk"
	"github.com/web3guy0/roulettebot/session"
	"github.com/web3guy0/roulettebot/strategy"
)

// Config holds all configuration for the bot
type Config struct {
	// Account
	AccountID     string
	IdentityToken string

	// Credential authority
	AuthURL        string
	AuthAPIKey     string
	AuthRatePerSec float64

	// Feed
	FeedURL           string
	TableID           string
	HeartbeatInterval time.Duration
	DegradedAfter     time.Duration
	DeadAfter         time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	// Credentials
	CredentialTTL      time.Duration
	RenewalLead        time.Duration
	MaxRenewalAttempts int

	// Wagering
	Stakes          []decimal.Decimal
	StakeMultiplier decimal.Decimal
	Mode            risk.Mode
	GateStage       int // 1-based, as shown to operators
	GateThreshold   int
	MaxRejections   int

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string

	Debug bool
}

// stakeFile is the optional YAML stake ladder
type stakeFile struct {
	Stakes     []string `yaml:"stakes"`
	Multiplier string   `yaml:"multiplier"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		AccountID:     getEnv("ACCOUNT_ID", "default"),
		IdentityToken: os.Getenv("IDENTITY_TOKEN"),

		AuthURL:        os.Getenv("AUTH_URL"),
		AuthAPIKey:     os.Getenv("AUTH_API_KEY"),
		AuthRatePerSec: getEnvFloat("AUTH_RATE_PER_SEC", 1),

		FeedURL:           getEnv("FEED_URL", feeds.DefaultFeedURL),
		TableID:           getEnv("TABLE_ID", feeds.DefaultTableID),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		DegradedAfter:     getEnvDuration("DEGRADED_AFTER", 60*time.Second),
		DeadAfter:         getEnvDuration("DEAD_AFTER", 120*time.Second),
		ReconnectBase:     getEnvDuration("RECONNECT_BASE", 5*time.Second),
		ReconnectMax:      getEnvDuration("RECONNECT_MAX", 30*time.Second),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 5),

		CredentialTTL:      getEnvDuration("CREDENTIAL_TTL", 20*time.Minute),
		RenewalLead:        getEnvDuration("RENEWAL_LEAD", 2*time.Minute),
		MaxRenewalAttempts: getEnvInt("MAX_RENEWAL_ATTEMPTS", 3),

		StakeMultiplier: getEnvDecimal("STAKE_MULTIPLIER", decimal.NewFromInt(1)),
		GateStage:       getEnvInt("GATE_STAGE", 3),
		GateThreshold:   getEnvInt("GATE_THRESHOLD", 2),
		MaxRejections:   getEnvInt("MAX_REJECTIONS", risk.DefaultMaxRejections),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/roulettebot.db"),
		Debug:        getEnvBool("DEBUG", false),
	}

	mode, err := risk.ParseMode(os.Getenv("MODE"))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	// Stake ladder: file wins over the inline list
	if path := os.Getenv("STAKE_TABLE_FILE"); path != "" {
		if err := cfg.loadStakeFile(path); err != nil {
			return nil, err
		}
	} else if list := os.Getenv("STAKE_TABLE"); list != "" {
		stakes, err := parseDecimals(strings.Split(list, ","))
		if err != nil {
			return nil, fmt.Errorf("invalid STAKE_TABLE: %w", err)
		}
		cfg.Stakes = stakes
	} else {
		def := strategy.DefaultStakeTable()
		cfg.Stakes = def[:]
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and ranges
func (c *Config) Validate() error {
	if c.IdentityToken == "" {
		return fmt.Errorf("IDENTITY_TOKEN is required")
	}
	if c.AuthURL == "" {
		return fmt.Errorf("AUTH_URL is required")
	}
	if _, err := c.StakeTable(); err != nil {
		return err
	}
	if c.GateStage < 1 || c.GateStage > strategy.MaxStages {
		return fmt.Errorf("GATE_STAGE must be between 1 and %d, got %d", strategy.MaxStages, c.GateStage)
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.RenewalLead >= c.CredentialTTL {
		return fmt.Errorf("RENEWAL_LEAD (%s) must be shorter than CREDENTIAL_TTL (%s)", c.RenewalLead, c.CredentialTTL)
	}
	if c.DeadAfter <= c.DegradedAfter {
		return fmt.Errorf("DEAD_AFTER must be longer than DEGRADED_AFTER")
	}
	return nil
}

// StakeTable scales the configured ladder by the multiplier
func (c *Config) StakeTable() (strategy.StakeTable, error) {
	return strategy.NewStakeTable(c.Stakes, c.StakeMultiplier)
}

// FeedConfig builds the table connection settings
func (c *Config) FeedConfig() feeds.Config {
	fc := feeds.DefaultConfig()
	fc.Endpoint = c.FeedURL
	fc.TableID = c.TableID
	fc.HeartbeatInterval = c.HeartbeatInterval
	fc.DegradedAfter = c.DegradedAfter
	fc.DeadAfter = c.DeadAfter
	fc.ReconnectBase = c.ReconnectBase
	fc.ReconnectMax = c.ReconnectMax
	fc.ReconnectAttempts = c.ReconnectAttempts
	return fc
}

// SessionConfig builds the credential renewal settings
func (c *Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.TTL = c.CredentialTTL
	sc.Lead = c.RenewalLead
	sc.MaxRenewalAttempts = c.MaxRenewalAttempts
	return sc
}

func (c *Config) loadStakeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read stake file %q: %w", path, err)
	}

	var f stakeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse stake file %q: %w", path, err)
	}

	stakes, err := parseDecimals(f.Stakes)
	if err != nil {
		return fmt.Errorf("stake file %q: %w", path, err)
	}
	c.Stakes = stakes

	// env multiplier takes precedence over the file
	if f.Multiplier != "" && os.Getenv("STAKE_MULTIPLIER") == "" {
		m, err := decimal.NewFromString(strings.TrimSpace(f.Multiplier))
		if err != nil {
			return fmt.Errorf("stake file %q: invalid multiplier: %w", path, err)
		}
		c.StakeMultiplier = m
	}
	return nil
}

func parseDecimals(values []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", v, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
