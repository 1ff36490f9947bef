package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the workshop engine configuration as read from a yaml file.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Host    HostConfig    `yaml:"host"`
	Worker  WorkerConfig  `yaml:"worker"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	InstallDir    string        `yaml:"install_dir"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
	QueryCache    int           `yaml:"query_cache_size"`
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type HostConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	HookName     string        `yaml:"hook_name"`
	Mounts       []string      `yaml:"mounts"`
}

type WorkerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TickInterval time.Duration `yaml:"tick_interval"`
	QueueSize    int           `yaml:"queue_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Production bool   `yaml:"production"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:       DefaultSteamWebAPI,
			InstallDir:    filepath.Join("steam_cache", "content"),
			RetryAttempts: 3,
			RetryBackoff:  time.Second,
			QueryCache:    1024,
		},
		Cache: CacheConfig{
			Dir: filepath.Join("garrysmod", "cache", "workshop"),
		},
		Host: HostConfig{
			TickInterval: 33 * time.Millisecond,
			HookName:     DefaultPollHookName,
			Mounts:       []string{".", "garrysmod"},
		},
		Worker: WorkerConfig{
			TickInterval: 100 * time.Millisecond,
			QueueSize:    256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies WORKSHOP_* environment overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("WORKSHOP_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("WORKSHOP_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("WORKSHOP_INSTALL_DIR"); v != "" {
		cfg.Backend.InstallDir = v
	}
	if v := os.Getenv("WORKSHOP_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("WORKSHOP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WORKSHOP_THREADED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.Enabled = b
		}
	}
	if v := os.Getenv("WORKSHOP_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Host.TickInterval = d
		}
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.InstallDir == "" {
		errs = append(errs, errors.New("backend.install_dir is required"))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if c.Host.TickInterval <= 0 {
		errs = append(errs, errors.New("host.tick_interval must be positive"))
	}
	if c.Worker.Enabled && c.Worker.TickInterval <= 0 {
		errs = append(errs, errors.New("worker.tick_interval must be positive"))
	}
	if c.Backend.RetryAttempts < 0 {
		errs = append(errs, errors.New("backend.retry_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

// HostMounts converts the configured mount roots into Mounts: the working directory
// first, then the game content, then any extra roots.
func (c *Config) HostMounts() []Mount {
	mounts := make([]Mount, 0, len(c.Host.Mounts))
	for i, root := range c.Host.Mounts {
		var name string
		switch i {
		case 0:
			name = "MOD"
		case 1:
			name = "GAME"
		default:
			name = fmt.Sprintf("MOUNT%d", i)
		}
		mounts = append(mounts, Mount{Name: name, Root: root})
	}
	return mounts
}
