// Package config loads wearlink settings from defaults, an optional YAML file,
// a .env file and WEARLINK_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "WEARLINK"

type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Relay RelayConfig `mapstructure:"relay"`
	Node  NodeConfig  `mapstructure:"node"`
	Phone PhoneConfig `mapstructure:"phone"`
	Watch WatchConfig `mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type RelayConfig struct {
	TCPAddr       string        `mapstructure:"tcp_addr"`
	WSAddr        string        `mapstructure:"ws_addr"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	MaxClients    int           `mapstructure:"max_clients"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	MDNS          bool          `mapstructure:"mdns"`
	MCP           bool          `mapstructure:"mcp"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty keeps records in memory
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NodeConfig is how a phone or watch reaches the relay.
type NodeConfig struct {
	Relay            string        `mapstructure:"relay"` // empty discovers over mDNS
	Transport        string        `mapstructure:"transport"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxRetries       int           `mapstructure:"max_retries"`
}

type PhoneConfig struct {
	Name           string         `mapstructure:"name"`
	Location       string         `mapstructure:"location"`
	DatabaseURL    string         `mapstructure:"database_url"` // empty uses the in-memory store
	ConnectTimeout time.Duration  `mapstructure:"connect_timeout"`
	QueueSize      int            `mapstructure:"queue_size"`
	Forecasts      []SeedForecast `mapstructure:"forecasts"`
}

// SeedForecast is a forecast row loaded at startup, dated relative to today.
type SeedForecast struct {
	Location  string  `mapstructure:"location"` // defaults to phone.location
	DayOffset int     `mapstructure:"day_offset"`
	WeatherID int     `mapstructure:"weather_id"`
	ShortDesc string  `mapstructure:"short_desc"`
	MaxTemp   float64 `mapstructure:"max_temp"`
	MinTemp   float64 `mapstructure:"min_temp"`
}

type WatchConfig struct {
	Name     string `mapstructure:"name"`
	Hour24   bool   `mapstructure:"hour24"`
	TimeZone string `mapstructure:"time_zone"` // IANA name, empty for local
	Ambient  bool   `mapstructure:"ambient"`
	LowBit   bool   `mapstructure:"low_bit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("relay.tcp_addr", "0.0.0.0:8888")
	v.SetDefault("relay.ws_addr", "0.0.0.0:8889")
	v.SetDefault("relay.http_addr", "0.0.0.0:8080")
	v.SetDefault("relay.max_clients", 16)
	v.SetDefault("relay.batch_interval", time.Second)
	v.SetDefault("relay.mdns", false)
	v.SetDefault("relay.mcp", false)
	v.SetDefault("relay.redis.addr", "")
	v.SetDefault("relay.redis.password", "")
	v.SetDefault("relay.redis.db", 0)

	v.SetDefault("node.relay", "")
	v.SetDefault("node.transport", "tcp")
	v.SetDefault("node.discovery_timeout", 3*time.Second)
	v.SetDefault("node.retry_delay", time.Second)
	v.SetDefault("node.max_retries", 3)

	v.SetDefault("phone.name", "phone")
	v.SetDefault("phone.location", "94043")
	v.SetDefault("phone.database_url", "")
	v.SetDefault("phone.connect_timeout", time.Duration(0))
	v.SetDefault("phone.queue_size", 32)

	v.SetDefault("watch.name", "watch")
	v.SetDefault("watch.hour24", false)
	v.SetDefault("watch.time_zone", "")
	v.SetDefault("watch.ambient", false)
	v.SetDefault("watch.low_bit", false)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present), then path (if set), and decodes the result.
func Load(path string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}

	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Node.Transport {
	case "tcp", "websocket":
	default:
		return fmt.Errorf("node.transport must be tcp or websocket, got %q", c.Node.Transport)
	}
	if c.Relay.BatchInterval <= 0 {
		return errors.New("relay.batch_interval must be positive")
	}
	if c.Phone.ConnectTimeout < 0 {
		return errors.New("phone.connect_timeout cannot be negative")
	}
	if strings.TrimSpace(c.Phone.Location) == "" {
		return errors.New("phone.location is required")
	}
	if _, err := c.Watch.Zone(); err != nil {
		return err
	}
	return nil
}

// Zone resolves watch.time_zone.
func (w WatchConfig) Zone() (*time.Location, error) {
	if w.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(w.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("watch.time_zone: %w", err)
	}
	return loc, nil
}

// Watch calls onChange with the re-decoded config every time the config file
// changes. Invalid edits are logged and skipped. It does nothing without a
// config file.
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		handleChange(v, e, onChange)
	})
	v.WatchConfig()
}

func handleChange(v *viper.Viper, e fsnotify.Event, onChange func(*Config)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := Decode(v)
	if err != nil {
		slog.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
		return
	}
	slog.Info("Config reloaded", "file", e.Name)
	onChange(cfg)
}
