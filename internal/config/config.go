package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"levelwatch/internal/logging"
)

const envPrefix = "LEVELWATCH"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Levels    LevelsConfig    `mapstructure:"levels"`
	Price     PriceConfig     `mapstructure:"price"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	AlignToBucket  bool          `mapstructure:"align_to_bucket"`
	StartupDelay   time.Duration `mapstructure:"startup_delay"`
	RunImmediately bool          `mapstructure:"run_immediately"`
}

// LevelsConfig holds the quantization step of every tracked metric.
type LevelsConfig struct {
	BTCStep    float64 `mapstructure:"btc_step"`
	ETHStep    float64 `mapstructure:"eth_step"`
	RatioStep  float64 `mapstructure:"ratio_step"`
	TrackRatio bool    `mapstructure:"track_ratio"`
}

// PriceConfig selects and configures the price source.
type PriceConfig struct {
	Provider       string          `mapstructure:"provider"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	CoinGecko      CoinGeckoConfig `mapstructure:"coingecko"`
	Binance        BinanceConfig   `mapstructure:"binance"`
	Chainlink      ChainlinkConfig `mapstructure:"chainlink"`
}

// CoinGeckoConfig covers the public simple/price endpoint.
type CoinGeckoConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// BinanceConfig covers the spot ticker price endpoint.
type BinanceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	BTCSymbol string `mapstructure:"btc_symbol"`
	ETHSymbol string `mapstructure:"eth_symbol"`
}

// ChainlinkConfig covers on-chain USD aggregators.
type ChainlinkConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	BTCUSDFeed string `mapstructure:"btc_usd_feed"`
	ETHUSDFeed string `mapstructure:"eth_usd_feed"`
}

// BreakerConfig guards the price source.
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// StorageConfig selects where last-notified levels live.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Postgres DatabaseConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig encapsulates Redis connectivity.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AlertingConfig defines push channels.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Bark     BarkConfig     `mapstructure:"bark"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// BarkConfig 描述 Bark 推送参数。
type BarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	BaseURL   string `mapstructure:"base_url"`
	DeviceKey string `mapstructure:"device_key"`
	Group     string `mapstructure:"group"`
	Sound     string `mapstructure:"sound"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Error reports an invalid or unreadable configuration. It is always fatal.
type Error struct {
	Key string
	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Key != "" {
		b.WriteString(": ")
		b.WriteString(e.Key)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(key, format string, args ...any) error {
	return &Error{Key: key, Msg: fmt.Sprintf(format, args...)}
}

// legacyEnv maps keys onto the variable names of the earlier Bark notifier script.
var legacyEnv = map[string]string{
	"alerting.bark.device_key": "BARK_KEY",
	"alerting.bark.base_url":   "BARK_BASE",
	"levels.btc_step":          "BTC_STEP",
	"levels.eth_step":          "ETH_STEP",
	"scheduler.interval":       "INTERVAL",
}

// boundKeys have no default, so viper only sees them from the environment once bound.
var boundKeys = []string{
	"alerting.enabled",
	"alerting.bark.enabled",
	"alerting.bark.group",
	"alerting.bark.sound",
	"alerting.telegram.enabled",
	"alerting.telegram.bot_token",
	"alerting.telegram.chat_id",
	"logging.file",
	"price.coingecko.api_key",
	"price.binance.base_url",
	"price.chainlink.rpc_url",
	"storage.postgres.dsn",
	"storage.redis.password",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

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
		return nil, &Error{Msg: "unmarshal config", Err: err}
	}

	// A bare BARK_KEY used to be enough to receive pushes.
	if cfg.Alerting.Bark.DeviceKey != "" && !v.IsSet("alerting.bark.enabled") {
		cfg.Alerting.Bark.Enabled = true
		if !v.IsSet("alerting.enabled") {
			cfg.Alerting.Enabled = true
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return &Error{Msg: "read config", Err: err}
	}
	return nil
}

func bindEnv(v *viper.Viper) {
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, envName(key), legacy)
	}
	for _, key := range boundKeys {
		_ = v.BindEnv(key)
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "levelwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.compress", true)

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", true)

	v.SetDefault("levels.btc_step", 1000.0)
	v.SetDefault("levels.eth_step", 100.0)
	v.SetDefault("levels.ratio_step", 0.5)
	v.SetDefault("levels.track_ratio", true)

	v.SetDefault("price.provider", "coingecko")
	v.SetDefault("price.request_timeout", "8s")
	v.SetDefault("price.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price.coingecko.requests_per_minute", 30)
	v.SetDefault("price.binance.btc_symbol", "BTCUSDT")
	v.SetDefault("price.binance.eth_symbol", "ETHUSDT")
	v.SetDefault("price.chainlink.btc_usd_feed", "0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c")
	v.SetDefault("price.chainlink.eth_usd_feed", "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.open_timeout", "2m")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "data/levels.json")
	v.SetDefault("storage.postgres.max_open_conns", 4)
	v.SetDefault("storage.postgres.max_idle_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "levelwatch")

	v.SetDefault("alerting.timeout", "8s")
	v.SetDefault("alerting.bark.base_url", "https://api.day.app")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHookFunc accepts bare numbers as seconds, e.g. INTERVAL=30.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(n * float64(time.Second)), nil
		case int:
			return time.Duration(val) * time.Second, nil
		case int64:
			return time.Duration(val) * time.Second, nil
		case float64:
			return time.Duration(val * float64(time.Second)), nil
		}
		return data, nil
	}
}

// Validate performs sanity checks on the configuration values.
func (c *Config) Validate() error {
	if err := validStep("levels.btc_step", c.Levels.BTCStep); err != nil {
		return err
	}
	if err := validStep("levels.eth_step", c.Levels.ETHStep); err != nil {
		return err
	}
	if c.Levels.TrackRatio {
		if err := validStep("levels.ratio_step", c.Levels.RatioStep); err != nil {
			return err
		}
	}

	if c.Scheduler.Interval <= 0 {
		return invalid("scheduler.interval", "must be greater than zero")
	}
	if c.Scheduler.StartupDelay < 0 {
		return invalid("scheduler.startup_delay", "cannot be negative")
	}

	if err := c.validatePrice(); err != nil {
		return err
	}
	if c.Breaker.Enabled && c.Breaker.MaxFailures == 0 {
		return invalid("breaker.max_failures", "must be greater than zero")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateAlerting(); err != nil {
		return err
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr", "required when metrics are enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return invalid("export.max_data_points", "must be greater than zero")
	}
	return nil
}

func validStep(key string, step float64) error {
	if !(step > 0) || math.IsInf(step, 0) {
		return invalid(key, "must be a positive number, got %v", step)
	}
	return nil
}

func (c *Config) validatePrice() error {
	if c.Price.RequestTimeout <= 0 {
		return invalid("price.request_timeout", "must be greater than zero")
	}
	switch strings.ToLower(c.Price.Provider) {
	case ProviderCoinGecko:
		if c.Price.CoinGecko.BaseURL == "" {
			return invalid("price.coingecko.base_url", "required")
		}
		if c.Price.CoinGecko.RequestsPerMinute < 0 {
			return invalid("price.coingecko.requests_per_minute", "cannot be negative")
		}
	case ProviderBinance:
		if c.Price.Binance.BTCSymbol == "" || c.Price.Binance.ETHSymbol == "" {
			return invalid("price.binance", "btc_symbol and eth_symbol are required")
		}
	case ProviderChainlink:
		if c.Price.Chainlink.RPCURL == "" {
			return invalid("price.chainlink.rpc_url", "required for the chainlink provider")
		}
		if c.Price.Chainlink.BTCUSDFeed == "" || c.Price.Chainlink.ETHUSDFeed == "" {
			return invalid("price.chainlink", "btc_usd_feed and eth_usd_feed are required")
		}
	default:
		return invalid("price.provider", "unknown provider %q", c.Price.Provider)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch strings.ToLower(c.Storage.Driver) {
	case DriverFile:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return invalid("storage.path", "required for the file driver")
		}
	case DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return invalid("storage.postgres.dsn", "required for the postgres driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Addr == "" {
			return invalid("storage.redis.addr", "required for the redis driver")
		}
	case DriverMemory:
	default:
		return invalid("storage.driver", "unknown driver %q", c.Storage.Driver)
	}
	return nil
}

func (c *Config) validateAlerting() error {
	if !c.Alerting.Enabled {
		return nil
	}
	if c.Alerting.Timeout <= 0 {
		return invalid("alerting.timeout", "must be greater than zero")
	}
	if !c.Alerting.Bark.Enabled && !c.Alerting.Telegram.Enabled {
		return invalid("alerting", "enabled but no channel (bark, telegram) is enabled")
	}
	if c.Alerting.Bark.Enabled && c.Alerting.Bark.DeviceKey == "" {
		return invalid("alerting.bark.device_key", "必须配置")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return invalid("alerting.telegram.bot_token", "必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return invalid("alerting.telegram.chat_id", "必须配置")
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

// Price providers.
const (
	ProviderCoinGecko = "coingecko"
	ProviderBinance   = "binance"
	ProviderChainlink = "chainlink"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)
