// Package config loads quill's layered configuration: built-in defaults,
// then the user config, the project config, an explicit file and finally
// QUILL_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adalundhe/quill/core/storage"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	current     atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	explicit    string
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
}

type StorageConfig struct {
	DirName  string `yaml:"dir_name"`
	FileMode string `yaml:"file_mode"`
}

type SessionConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
	LockRetry   time.Duration `yaml:"lock_retry"`
}

type WatchConfig struct {
	Debounce  time.Duration `yaml:"debounce"`
	Exclude   []string      `yaml:"exclude"`
	CacheSize int           `yaml:"cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewManager creates a manager holding the default configuration. Call Load
// to read the configuration layers for projectRoot.
func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	m := &Manager{dirs: dirs, projectRoot: projectRoot}
	m.current.Store(DefaultConfig())
	return m
}

// WithFile adds an explicit configuration file, applied after the user and
// project layers.
func (m *Manager) WithFile(path string) *Manager {
	m.explicit = path
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DirName:  "quill",
			FileMode: "0644",
		},
		Session: SessionConfig{
			LockTimeout: 5 * time.Second,
			LockRetry:   10 * time.Millisecond,
		},
		Watch: WatchConfig{
			Debounce:  100 * time.Millisecond,
			Exclude:   []string{".git", "node_modules", "*.swp", "*~"},
			CacheSize: 512,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.current.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if m.dirs != nil {
		if err := loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}

	if m.projectRoot != "" {
		if err := loadYAMLFile(storage.ResolveProjectDirs(m.projectRoot).Config, cfg); err != nil {
			return fmt.Errorf("project config: %w", err)
		}
	}

	if m.explicit != "" {
		if _, err := os.Stat(m.explicit); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		if err := loadYAMLFile(m.explicit, cfg); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.current.Store(cfg)
	return nil
}

// loadYAMLFile decodes path over a partially populated file config in
// memory, then overlays it onto cfg so absent keys keep earlier values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	Overlay(cfg, &layer)
	return nil
}

func applyEnvironment(cfg *Config) {
	if v := os.Getenv("QUILL_STORAGE_DIR"); v != "" {
		cfg.Storage.DirName = v
	}
	if v := os.Getenv("QUILL_FILE_MODE"); v != "" {
		cfg.Storage.FileMode = v
	}
	if v := os.Getenv("QUILL_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.LockTimeout = d
		}
	}
	if v := os.Getenv("QUILL_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Debounce = d
		}
	}
	if v := os.Getenv("QUILL_WATCH_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.CacheSize = n
		}
	}
	if v := os.Getenv("QUILL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("QUILL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Storage.DirName == "" || strings.ContainsAny(c.Storage.DirName, `/\`) {
		return fmt.Errorf("storage.dir_name must be a single directory name, got %q", c.Storage.DirName)
	}
	if _, err := c.Storage.Mode(); err != nil {
		return err
	}
	if c.Watch.CacheSize <= 0 {
		return fmt.Errorf("watch.cache_size must be positive, got %d", c.Watch.CacheSize)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Mode parses the octal file mode used for history files.
func (s StorageConfig) Mode() (os.FileMode, error) {
	n, err := strconv.ParseUint(s.FileMode, 8, 32)
	if err != nil || n == 0 || n > 0777 {
		return 0, fmt.Errorf("storage.file_mode must be an octal permission like 0644, got %q", s.FileMode)
	}
	return os.FileMode(n), nil
}
