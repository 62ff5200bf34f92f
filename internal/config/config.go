package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full startgrid configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Bookmarks BookmarksConfig `mapstructure:"bookmarks"`
	Icons     IconsConfig     `mapstructure:"icons"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the durable icon cache.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BookmarksConfig locates the category/bookmark file.
type BookmarksConfig struct {
	Path string `mapstructure:"path"`
}

// IconsConfig tunes the icon resolution subsystem.
type IconsConfig struct {
	ProbeTimeout          time.Duration `mapstructure:"probe_timeout"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
	FetchAttempts         int           `mapstructure:"fetch_attempts"`
	FetchConcurrency      int           `mapstructure:"fetch_concurrency"`
	MemoryCacheSize       int           `mapstructure:"memory_cache_size"`
	MemoryCacheTTL        time.Duration `mapstructure:"memory_cache_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	NegativeSiteTTL       time.Duration `mapstructure:"negative_site_ttl"`
	NegativeFetchTTL      time.Duration `mapstructure:"negative_fetch_ttl"`
	PriorityCount         int           `mapstructure:"priority_count"`
	PreloadDelay          time.Duration `mapstructure:"preload_delay"`
	NativeFaviconTemplate string        `mapstructure:"native_favicon_template"`
	AllowedIconHosts      []string      `mapstructure:"allowed_icon_hosts"`
}

// Manager handles configuration loading, watching, and reloading.
type Manager struct {
	config    *Config
	viper     *viper.Viper
	mu        sync.RWMutex
	callbacks []func(*Config)
	watching  bool
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	v := viper.New()

	v.SetConfigName("config") // Name without extension
	v.SetConfigType("toml")   // TOML as default format

	configDir, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine config directory: %w", err)
	}
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Current directory for development

	v.SetEnvPrefix("STARTGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose name doesn't follow the
	// section_key pattern
	if err := v.BindEnv("logging.level", "STARTGRID_LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind STARTGRID_LOG_LEVEL: %w", err)
	}
	if err := v.BindEnv("logging.format", "STARTGRID_LOG_FORMAT"); err != nil {
		return nil, fmt.Errorf("failed to bind STARTGRID_LOG_FORMAT: %w", err)
	}

	return &Manager{
		viper:     v,
		callbacks: make([]func(*Config), 0),
	}, nil
}

// Load loads the configuration from file and environment variables.
// A missing config file is not an error; defaults apply.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setDefaults()

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	m.config = config
	return nil
}

// Get returns the current configuration. Load must have been called.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch starts watching the config file for changes and reloads on write.
func (m *Manager) Watch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching {
		return
	}
	m.watching = true

	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(_ fsnotify.Event) {
		config := &Config{}
		if err := m.viper.Unmarshal(config); err != nil {
			return
		}

		m.mu.Lock()
		m.config = config
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(config)
		}
	})
}

func (m *Manager) setDefaults() {
	m.viper.SetDefault("logging.level", "info")
	m.viper.SetDefault("logging.format", "console")

	if dbPath, err := DefaultDatabasePath(); err == nil {
		m.viper.SetDefault("database.path", dbPath)
	}
	if dataDir, err := GetDataDir(); err == nil {
		m.viper.SetDefault("bookmarks.path", dataDir+"/bookmarks.json")
	}

	m.viper.SetDefault("icons.probe_timeout", 4800*time.Millisecond)
	m.viper.SetDefault("icons.fetch_timeout", 10*time.Second)
	m.viper.SetDefault("icons.fetch_attempts", 3)
	m.viper.SetDefault("icons.fetch_concurrency", 6)
	m.viper.SetDefault("icons.memory_cache_size", 100)
	m.viper.SetDefault("icons.memory_cache_ttl", 30*time.Minute)
	m.viper.SetDefault("icons.sweep_interval", 24*time.Hour)
	m.viper.SetDefault("icons.negative_site_ttl", 10*time.Minute)
	m.viper.SetDefault("icons.negative_fetch_ttl", 6*time.Hour)
	m.viper.SetDefault("icons.priority_count", 24)
	m.viper.SetDefault("icons.preload_delay", 500*time.Millisecond)
	m.viper.SetDefault("icons.native_favicon_template", "")
	m.viper.SetDefault("icons.allowed_icon_hosts", []string{
		"google.com",
		"gstatic.com",
		"duckduckgo.com",
	})
}
