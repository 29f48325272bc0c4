package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"exodusd/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Keeper   KeeperConfig   `mapstructure:"keeper"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Identity IdentityConfig `mapstructure:"identity"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory ledger, which is only suitable for development.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// KeeperConfig governs the two settlement loops.
type KeeperConfig struct {
	ConversionInterval time.Duration `mapstructure:"conversion_interval"`
	NavInterval        time.Duration `mapstructure:"nav_interval"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	BatchSize          int           `mapstructure:"batch_size"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
}

// OracleConfig selects and tunes the JPY/USD rate feed.
type OracleConfig struct {
	// Provider is "http" or "chainlink".
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RPCURL         string        `mapstructure:"rpc_url"`
	Aggregator     string        `mapstructure:"aggregator"`
	InvertFeed     bool          `mapstructure:"invert_feed"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProtocolConfig seeds genesis parameters for the init command.
type ProtocolConfig struct {
	Authority         string `mapstructure:"authority"`
	ConversionFeeBps  uint16 `mapstructure:"conversion_fee_bps"`
	ManagementFeeBps  uint16 `mapstructure:"management_fee_bps"`
	PerformanceFeeBps uint16 `mapstructure:"performance_fee_bps"`
}

// IdentityConfig seeds the static KYC registry. A real deployment replaces
// this with a compliance provider integration.
type IdentityConfig struct {
	Records []IdentityRecord `mapstructure:"records"`
}

// IdentityRecord is one statically configured KYC entry.
type IdentityRecord struct {
	Owner        string `mapstructure:"owner"`
	Verified     bool   `mapstructure:"verified"`
	Level        uint8  `mapstructure:"level"`
	Jurisdiction uint16 `mapstructure:"jurisdiction"`
	ExpiresAt    string `mapstructure:"expires_at"`
}

// AlertingConfig defines ops notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXODUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "exodusd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("keeper.conversion_interval", "1m")
	v.SetDefault("keeper.nav_interval", "1h")
	v.SetDefault("keeper.startup_delay", "0s")
	v.SetDefault("keeper.max_backoff", "10m")
	v.SetDefault("keeper.staleness_threshold", "5m")
	v.SetDefault("keeper.lock_timeout", "10m")
	v.SetDefault("keeper.batch_size", 100)
	v.SetDefault("keeper.advisory_lock_key", int64(0x65786f64))

	v.SetDefault("oracle.provider", "http")
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.user_agent", "exodusd/1.0")
	v.SetDefault("oracle.invert_feed", true)

	v.SetDefault("protocol.conversion_fee_bps", 30)
	v.SetDefault("protocol.management_fee_bps", 0)
	v.SetDefault("protocol.performance_fee_bps", 1000)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Keeper.ConversionInterval <= 0 {
		return fmt.Errorf("keeper.conversion_interval must be greater than zero")
	}
	if c.Keeper.NavInterval <= 0 {
		return fmt.Errorf("keeper.nav_interval must be greater than zero")
	}
	if c.Keeper.StalenessThreshold <= 0 {
		return fmt.Errorf("keeper.staleness_threshold must be greater than zero")
	}
	if c.Keeper.LockTimeout <= 0 {
		return fmt.Errorf("keeper.lock_timeout must be greater than zero")
	}
	switch c.Oracle.Provider {
	case "http", "chainlink":
	default:
		return fmt.Errorf("oracle.provider must be http or chainlink, got %q", c.Oracle.Provider)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
