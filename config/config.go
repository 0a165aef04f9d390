// Package config provides Viper-based configuration loading for the broker
// and endpoint binaries.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

//go:embed default.yaml
var defaultYAML []byte

// PresenceConfig selects the player presence store.
type PresenceConfig struct {
	// RedisURL enables the Redis store when non-empty.
	RedisURL  string `mapstructure:"redis_url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// BrokerConfig holds the broker (proxy side) settings.
type BrokerConfig struct {
	Name     string `mapstructure:"name"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Workers  int    `mapstructure:"workers"`
	NodeID   int64  `mapstructure:"node_id"`
	Debug    bool   `mapstructure:"debug"`

	Servers        []string `mapstructure:"servers"`
	PrivateServers []string `mapstructure:"private_servers"`

	KeepAliveInterval     time.Duration `mapstructure:"keepalive_interval"`
	PlayerUpdateInterval  time.Duration `mapstructure:"player_update_interval"`
	ResponseSweepInterval time.Duration `mapstructure:"response_sweep_interval"`
	ForwardTimeout        time.Duration `mapstructure:"forward_timeout"`
	RegisterTimeout       time.Duration `mapstructure:"register_timeout"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`

	MaxConn       int     `mapstructure:"max_conn"`
	MaxSubs       int     `mapstructure:"max_subs"`
	MaxMsgsPerSec float64 `mapstructure:"max_msgs_per_sec"`

	StatusAddr string            `mapstructure:"status_addr"`
	Presence   PresenceConfig    `mapstructure:"presence"`
	Formats    map[string]string `mapstructure:"formats"`
}

// EndpointConfig holds the endpoint (game server side) settings.
type EndpointConfig struct {
	Name       string `mapstructure:"name"`
	BrokerAddr string `mapstructure:"broker_addr"`
	Password   string `mapstructure:"password"`
	Token      string `mapstructure:"token"`
	Workers    int    `mapstructure:"workers"`
	Debug      bool   `mapstructure:"debug"`

	TickInterval         time.Duration `mapstructure:"tick_interval"`
	KeepAliveTimeout     time.Duration `mapstructure:"keepalive_timeout"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
}

// Config is the top-level configuration file.
type Config struct {
	Broker   BrokerConfig   `mapstructure:"broker"`
	Endpoint EndpointConfig `mapstructure:"endpoint"`
}

// Validate checks the broker settings.
//
// Postcondition: Returns nil if valid, or an error describing all violations.
func (b BrokerConfig) Validate() error {
	var errs []string
	if b.Addr == "" {
		errs = append(errs, "broker.addr must not be empty")
	}
	if b.Password == "" {
		errs = append(errs, "broker.password must not be empty")
	}
	if b.Workers < 1 {
		errs = append(errs, fmt.Sprintf("broker.workers must be >= 1, got %d", b.Workers))
	}
	if b.NodeID < 0 || b.NodeID > 1023 {
		errs = append(errs, fmt.Sprintf("broker.node_id must be 0-1023, got %d", b.NodeID))
	}
	for name, d := range map[string]time.Duration{
		"keepalive_interval":      b.KeepAliveInterval,
		"player_update_interval":  b.PlayerUpdateInterval,
		"response_sweep_interval": b.ResponseSweepInterval,
		"forward_timeout":         b.ForwardTimeout,
		"register_timeout":        b.RegisterTimeout,
		"read_timeout":            b.ReadTimeout,
		"write_timeout":           b.WriteTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("broker.%s must be positive, got %v", name, d))
		}
	}
	if b.ReadTimeout > 0 && b.ReadTimeout <= b.KeepAliveInterval {
		errs = append(errs, "broker.read_timeout must exceed broker.keepalive_interval")
	}
	if b.MaxConn < 0 {
		errs = append(errs, "broker.max_conn must not be negative")
	}
	if b.MaxSubs < 0 {
		errs = append(errs, "broker.max_subs must not be negative")
	}
	if b.MaxMsgsPerSec < 0 {
		errs = append(errs, "broker.max_msgs_per_sec must not be negative")
	}
	for _, s := range b.Servers {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "broker.servers must not contain empty names")
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the endpoint settings.
//
// Postcondition: Returns nil if valid, or an error describing all violations.
func (e EndpointConfig) Validate() error {
	var errs []string
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, "endpoint.name must not be empty")
	}
	if e.BrokerAddr == "" {
		errs = append(errs, "endpoint.broker_addr must not be empty")
	}
	if e.Password == "" && e.Token == "" {
		errs = append(errs, "endpoint.password or endpoint.token must be set")
	}
	if e.Workers < 1 {
		errs = append(errs, fmt.Sprintf("endpoint.workers must be >= 1, got %d", e.Workers))
	}
	for name, d := range map[string]time.Duration{
		"tick_interval":       e.TickInterval,
		"keepalive_timeout":   e.KeepAliveTimeout,
		"dial_timeout":        e.DialTimeout,
		"write_timeout":       e.WriteTimeout,
		"reconnect_delay":     e.ReconnectDelay,
		"reconnect_max_delay": e.ReconnectMaxDelay,
		"request_timeout":     e.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("endpoint.%s must be positive, got %v", name, d))
		}
	}
	if e.ReconnectMaxDelay < e.ReconnectDelay {
		errs = append(errs, "endpoint.reconnect_max_delay must not be below endpoint.reconnect_delay")
	}
	if e.MaxReconnectAttempts < 0 {
		errs = append(errs, "endpoint.max_reconnect_attempts must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path and applies environment
// variable overrides. Sections are validated by the binary that uses them.
//
// Precondition: path must be a valid file path to a YAML configuration file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SOCKEXCHANGE_ prefix
	v.SetEnvPrefix("SOCKEXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshalling config")
	}
	return cfg, nil
}

// Default returns the configuration with every default applied.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := LoadFromViper(v)
	return cfg
}

// WriteDefault writes the bundled configuration to path unless a file exists
// there and replace is false. It reports whether the file was written.
func WriteDefault(path string, replace bool) (bool, error) {
	if _, err := os.Stat(path); err == nil && !replace {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "stat %v", path)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, errors.Wrapf(err, "create %v", dir)
		}
	}
	if err := os.WriteFile(path, defaultYAML, 0o644); err != nil {
		return false, errors.Wrapf(err, "write %v", path)
	}
	return true, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("broker.name", "proxy")
	v.SetDefault("broker.addr", ":20000")
	v.SetDefault("broker.password", "FreshSocks")
	v.SetDefault("broker.workers", 2)
	v.SetDefault("broker.node_id", 1)
	v.SetDefault("broker.debug", false)
	v.SetDefault("broker.servers", []string{})
	v.SetDefault("broker.private_servers", []string{})
	v.SetDefault("broker.keepalive_interval", "2s")
	v.SetDefault("broker.player_update_interval", "5s")
	v.SetDefault("broker.response_sweep_interval", "5s")
	v.SetDefault("broker.forward_timeout", "30s")
	v.SetDefault("broker.register_timeout", "5s")
	v.SetDefault("broker.read_timeout", "30s")
	v.SetDefault("broker.write_timeout", "10s")
	v.SetDefault("broker.max_conn", 0)
	v.SetDefault("broker.max_subs", 0)
	v.SetDefault("broker.max_msgs_per_sec", 0)
	v.SetDefault("broker.status_addr", "")
	v.SetDefault("broker.presence.redis_url", "")
	v.SetDefault("broker.presence.key_prefix", "sockexchange")
	v.SetDefault("broker.formats", DefaultFormats())

	v.SetDefault("endpoint.name", "")
	v.SetDefault("endpoint.broker_addr", "127.0.0.1:20000")
	v.SetDefault("endpoint.password", "FreshSocks")
	v.SetDefault("endpoint.token", "")
	v.SetDefault("endpoint.workers", 2)
	v.SetDefault("endpoint.debug", false)
	v.SetDefault("endpoint.tick_interval", "1s")
	v.SetDefault("endpoint.keepalive_timeout", "10s")
	v.SetDefault("endpoint.dial_timeout", "5s")
	v.SetDefault("endpoint.write_timeout", "10s")
	v.SetDefault("endpoint.reconnect_delay", "1s")
	v.SetDefault("endpoint.reconnect_max_delay", "30s")
	v.SetDefault("endpoint.max_reconnect_attempts", 0)
	v.SetDefault("endpoint.request_timeout", "10s")
}

// DefaultFormats are the console feedback templates.
func DefaultFormats() map[string]string {
	return map[string]string{
		"NoPerm":          "You do not have permission ({0})",
		"Usage":           "Usage: {0}",
		"CommandSent":     "Command sent to {0}",
		"ServerNotFound":  "Server {0} was not found",
		"ServerNotOnline": "Server {0} is not online",
		"ServerList":      "{0} [online: {1}, private: {2}]",
	}
}
