package config

import (
	"fmt"
	"strings"
	"time"

	"dealbot/internal/models"

	"github.com/spf13/viper"
)

// Config holds the application settings.
type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	CheckInterval    time.Duration
	DatabasePath     string
	ProductsPath     string
	LockPath         string
	APIListen        string
	DryRun           bool

	HTTPTimeout       time.Duration
	RetryMaxAttempts  int
	ReverbBaseURL     string
	ReverbToken       string
	CraigslistBaseURL string

	Settings models.Settings
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("check_interval_minutes", 30)
	v.SetDefault("database_path", "./dealbot.db")
	v.SetDefault("products_path", "./products.yaml")
	v.SetDefault("lock_path", "./dealbot.lock")
	v.SetDefault("api.listen", ":8080")
	v.SetDefault("include_shipping", true)
	v.SetDefault("request_delay", "2s")
	v.SetDefault("notify_batch_size", 10)
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.retry_max_attempts", 3)
	v.SetDefault("marketplaces.reverb.base_url", "https://api.reverb.com")
	v.SetDefault("marketplaces.craigslist.base_url", "https://sfbay.craigslist.org")

	// The bot's original environment variable names keep working.
	_ = v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("check_interval_minutes", "CHECK_INTERVAL_MINUTES")
	_ = v.BindEnv("database_path", "DATABASE_PATH")
	_ = v.BindEnv("marketplaces.reverb.token", "REVERB_TOKEN")
}

// Load reads the configuration from v. The Telegram token is required unless
// dry_run is set.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := LoadReadOnly(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.requireTelegram(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadReadOnly reads the configuration for commands that only read the
// database and never notify.
func LoadReadOnly(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		TelegramBotToken:  strings.TrimSpace(v.GetString("telegram.bot_token")),
		TelegramChatID:    v.GetInt64("telegram.chat_id"),
		DatabasePath:      v.GetString("database_path"),
		ProductsPath:      v.GetString("products_path"),
		LockPath:          v.GetString("lock_path"),
		APIListen:         v.GetString("api.listen"),
		DryRun:            v.GetBool("dry_run"),
		HTTPTimeout:       v.GetDuration("http.timeout"),
		RetryMaxAttempts:  v.GetInt("http.retry_max_attempts"),
		ReverbBaseURL:     v.GetString("marketplaces.reverb.base_url"),
		ReverbToken:       v.GetString("marketplaces.reverb.token"),
		CraigslistBaseURL: v.GetString("marketplaces.craigslist.base_url"),
		Settings: models.Settings{
			IncludeShipping: v.GetBool("include_shipping"),
			RequestDelay:    v.GetDuration("request_delay"),
			NotifyBatchSize: v.GetInt("notify_batch_size"),
			MaxResults:      map[string]int{},
		},
	}

	minutes := v.GetInt("check_interval_minutes")
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: check_interval_minutes must be positive", models.ErrInvalidConfig)
	}
	cfg.CheckInterval = time.Duration(minutes) * time.Minute

	for name, n := range v.GetStringMap("max_results") {
		var limit int
		switch val := n.(type) {
		case int:
			limit = val
		case int64:
			limit = int(val)
		case float64:
			limit = int(val)
		default:
			return nil, fmt.Errorf("%w: max_results.%s must be a number", models.ErrInvalidConfig, name)
		}
		cfg.Settings.MaxResults[name] = limit
	}

	if cfg.Settings.NotifyBatchSize <= 0 {
		return nil, fmt.Errorf("%w: notify_batch_size must be positive", models.ErrInvalidConfig)
	}

	return cfg, nil
}

func (c *Config) requireTelegram() error {
	if c.DryRun {
		return nil
	}
	if c.TelegramBotToken == "" {
		return fmt.Errorf("%w: TELEGRAM_BOT_TOKEN not set", models.ErrInvalidConfig)
	}
	if c.TelegramChatID == 0 {
		return fmt.Errorf("%w: TELEGRAM_CHAT_ID not set", models.ErrInvalidConfig)
	}
	return nil
}
