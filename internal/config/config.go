package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Rooms  RoomsConfig  `mapstructure:"rooms"`
	Host   HostConfig   `mapstructure:"host"`
	Bridge BridgeConfig `mapstructure:"bridge"`
	Engine EngineConfig `mapstructure:"engine"`
}

// RoomsConfig locates the room provisioning service and, for the host
// server, the base the demo service builds room URLs from.
type RoomsConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Service  string        `mapstructure:"service_url"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type HostConfig struct {
	URL               string        `mapstructure:"url"`
	Mode              string        `mapstructure:"mode"`
	Label             string        `mapstructure:"label"`
	AllowCalls        bool          `mapstructure:"allow_calls"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	StartLimit        int           `mapstructure:"start_limit"`
	StartInterval     time.Duration `mapstructure:"start_interval"`
}

type BridgeConfig struct {
	UIPort     int           `mapstructure:"ui_port"`
	BusyPolicy string        `mapstructure:"busy_policy"`
	OpTimeout  time.Duration `mapstructure:"op_timeout"`
	RoomURL    string        `mapstructure:"room_url"`
}

type EngineConfig struct {
	ICEServers  []string      `mapstructure:"ice_servers"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`
}

const (
	HostModeRemote   = "remote"
	HostModeLoopback = "loopback"
)

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"host-mode": "host.mode",
	"host-url":  "host.url",
	"room-url":  "bridge.room_url",
	"ui-port":   "bridge.ui_port",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "callbridge-dev-secret")

	v.SetDefault("rooms.base_url", "https://rooms.local/")
	v.SetDefault("rooms.service_url", "http://127.0.0.1:8080")
	v.SetDefault("rooms.endpoint", "/api/rooms")
	v.SetDefault("rooms.timeout", "10s")

	v.SetDefault("host.url", "ws://127.0.0.1:8080/api/ws/callsystem")
	v.SetDefault("host.mode", HostModeRemote)
	v.SetDefault("host.label", "CallBridge User")
	v.SetDefault("host.allow_calls", true)
	v.SetDefault("host.send_buffer", 32)
	v.SetDefault("host.reconnect_interval", "2s")
	v.SetDefault("host.start_limit", 5)
	v.SetDefault("host.start_interval", "10s")

	v.SetDefault("bridge.ui_port", 8090)
	v.SetDefault("bridge.busy_policy", "reject")
	v.SetDefault("bridge.op_timeout", "15s")
	v.SetDefault("bridge.room_url", "")

	v.SetDefault("engine.ice_servers", []string{})
	v.SetDefault("engine.join_timeout", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml over the defaults, then applies
// CALLBRIDGE_* environment variables and any changed flags.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("CALLBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("host_mode", cfg.Host.Mode).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Host.Mode {
	case HostModeRemote, HostModeLoopback:
	default:
		return fmt.Errorf("invalid host.mode %q", c.Host.Mode)
	}
	switch c.Bridge.BusyPolicy {
	case "", "reject", "queue":
	default:
		return fmt.Errorf("invalid bridge.busy_policy %q", c.Bridge.BusyPolicy)
	}
	return nil
}
