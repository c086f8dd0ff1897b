package config

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReadingsConfig holds the reading ingest and query policy. It is hot reloaded from readings.yml.
type ReadingsConfig struct {
	QueryWindow  time.Duration `mapstructure:"query_window"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	AtomicBatch  *bool         `mapstructure:"atomic_batch"`
}

func DefaultReadingsConfig() ReadingsConfig {
	return ReadingsConfig{
		QueryWindow:  24 * time.Hour,
		MaxBatchSize: 1000,
		AtomicBatch:  boolPtr(true),
	}
}

func boolPtr(v bool) *bool { return &v }

// Atomic reports whether batch writes share one transaction.
func (c ReadingsConfig) Atomic() bool {
	if c.AtomicBatch == nil {
		return true
	}
	return *c.AtomicBatch
}

func (c ReadingsConfig) withDefaults() ReadingsConfig {
	defaults := DefaultReadingsConfig()
	if c.QueryWindow == 0 {
		c.QueryWindow = defaults.QueryWindow
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = defaults.MaxBatchSize
	}
	if c.AtomicBatch == nil {
		c.AtomicBatch = defaults.AtomicBatch
	}
	return c
}

type ReadingsConfigHolder struct {
	current atomic.Value // holds ReadingsConfig
}

// NewStaticReadingsConfigHolder returns a holder that never reloads.
func NewStaticReadingsConfigHolder(cfg ReadingsConfig) *ReadingsConfigHolder {
	holder := &ReadingsConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewReadingsConfigHolder() (*ReadingsConfigHolder, error) {
	return newReadingsConfigHolder(
		"/var/lib/micoriza/config", // Volume-mounted config
		"/etc/micoriza",            // System config
		".",                        // Current directory (dev mode)
	)
}

func newReadingsConfigHolder(paths ...string) (*ReadingsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("readings")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ReadingsConfig
	if err := v.UnmarshalKey("readings", &cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if err := validateReadingsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ReadingsConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReadingsConfig
		if err := v.UnmarshalKey("readings", &updated); err != nil {
			log.Printf("[readings-config] reload failed: %v", err)
			return
		}
		updated = updated.withDefaults()
		if err := validateReadingsConfig(updated); err != nil {
			log.Printf("[readings-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[readings-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ReadingsConfigHolder) Get() ReadingsConfig {
	if h == nil {
		return DefaultReadingsConfig()
	}
	return h.current.Load().(ReadingsConfig)
}

func validateReadingsConfig(cfg ReadingsConfig) error {
	if cfg.QueryWindow < 0 {
		return errors.New("readings.query_window cannot be negative")
	}
	if cfg.MaxBatchSize < 0 {
		return errors.New("readings.max_batch_size cannot be negative")
	}
	return nil
}
