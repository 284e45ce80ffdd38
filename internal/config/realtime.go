package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RealtimeConfig tunes the gateway and presence layer. It is hot-reloadable so
// operators can widen the presence window without bouncing live connections.
type RealtimeConfig struct {
	PresenceTTL     time.Duration `mapstructure:"presenceTTL"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
	SendBuffer      int           `mapstructure:"sendBuffer"`
}

func DefaultRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		PresenceTTL:     DefaultPresenceTTL,
		WriteTimeout:    10 * time.Second,
		MaxMessageBytes: 64 << 10,
		SendBuffer:      16,
	}
}

type RealtimeConfigHolder struct {
	current atomic.Value // holds RealtimeConfig
}

func NewRealtimeConfigHolder(cfg Config) (*RealtimeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("realtime")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/coda/config")
	v.AddConfigPath("/etc/coda")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CODA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRealtimeConfig()
	defaults.PresenceTTL = cfg.PresenceTTL
	v.SetDefault("realtime.presenceTTL", defaults.PresenceTTL)
	v.SetDefault("realtime.writeTimeout", defaults.WriteTimeout)
	v.SetDefault("realtime.maxMessageBytes", defaults.MaxMessageBytes)
	v.SetDefault("realtime.sendBuffer", defaults.SendBuffer)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var rt RealtimeConfig
	if err := v.UnmarshalKey("realtime", &rt); err != nil {
		return nil, err
	}
	rt = normalizeRealtimeConfig(rt)
	if err := validateRealtimeConfig(rt); err != nil {
		return nil, err
	}

	holder := &RealtimeConfigHolder{}
	holder.current.Store(rt)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RealtimeConfig
		if err := v.UnmarshalKey("realtime", &updated); err != nil {
			log.Printf("[realtime-config] reload failed: %v", err)
			return
		}
		updated = normalizeRealtimeConfig(updated)
		if err := validateRealtimeConfig(updated); err != nil {
			log.Printf("[realtime-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[realtime-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRealtimeConfigHolder wraps a fixed config, with no file watching.
func NewStaticRealtimeConfigHolder(cfg RealtimeConfig) *RealtimeConfigHolder {
	holder := &RealtimeConfigHolder{}
	holder.current.Store(normalizeRealtimeConfig(cfg))
	return holder
}

func (h *RealtimeConfigHolder) Get() RealtimeConfig {
	return h.current.Load().(RealtimeConfig)
}

func normalizeRealtimeConfig(cfg RealtimeConfig) RealtimeConfig {
	cfg.PresenceTTL = ClampPresenceTTL(cfg.PresenceTTL)
	defaults := DefaultRealtimeConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	return cfg
}

func validateRealtimeConfig(cfg RealtimeConfig) error {
	if cfg.PresenceTTL < MinPresenceTTL || cfg.PresenceTTL > MaxPresenceTTL {
		return errors.New("realtime.presenceTTL out of bounds")
	}
	return nil
}
