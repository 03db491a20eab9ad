package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`
	LogLevel   string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	SendQueue  int           `mapstructure:"send_queue"`

	ChatRateLimit    int           `mapstructure:"chat_rate_limit"`
	ChatRateInterval time.Duration `mapstructure:"chat_rate_interval"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	MaxActiveSpeakers  int           `mapstructure:"max_active_speakers"`
	ObserverInterval   time.Duration `mapstructure:"observer_interval"`

	Media Media `mapstructure:"media"`
}

// Media configures the pion worker processes.
type Media struct {
	Workers          int           `mapstructure:"workers"`
	PortMin          uint16        `mapstructure:"port_min"`
	PortMax          uint16        `mapstructure:"port_max"`
	AnnouncedIPs     []string      `mapstructure:"announced_ips"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// Bitrates in bits per second.
	MaxIncomingBitrate     uint32 `mapstructure:"max_incoming_bitrate"`
	InitialOutgoingBitrate uint32 `mapstructure:"initial_outgoing_bitrate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 262144)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("send_queue", 64)
	v.SetDefault("chat_rate_limit", 5)
	v.SetDefault("chat_rate_interval", "10s")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("max_active_speakers", 5)
	v.SetDefault("observer_interval", "300ms")
	v.SetDefault("media.workers", 1)
	v.SetDefault("media.port_min", 40000)
	v.SetDefault("media.port_max", 41000)
	v.SetDefault("media.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.handshake_timeout", "15s")
	v.SetDefault("media.max_incoming_bitrate", 5000000)
	v.SetDefault("media.initial_outgoing_bitrate", 5000000)
}

// Load reads config/config.<CONFIG_ENV>.yaml, or the file named by the
// "config" flag, then applies CONF_ environment overrides. Flags in fs that
// share a key with the file win over both.
func Load(fs *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("CONF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileName := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			fileName = f.Value.String()
		}
		if err := v.BindPFlags(fs); err != nil {
			return nil, nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config")
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Media.PortMin > cfg.Media.PortMax {
		return nil, fmt.Errorf("media port range %d-%d is empty", cfg.Media.PortMin, cfg.Media.PortMax)
	}
	return &cfg, nil
}

// ApplyLogLevel sets the global zerolog level; unknown names fall back to info.
func ApplyLogLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// Watch reloads log_level whenever the config file changes. Other keys
// need a restart.
func Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		lvl := ApplyLogLevel(v.GetString("log_level"))
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Str("log_level", lvl.String()).Msg("config reloaded")
	})
	v.WatchConfig()
}
