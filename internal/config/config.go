// Package config loads application settings from defaults, an optional YAML
// file and DST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the top-level configuration structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Study   StudyConfig   `mapstructure:"study"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BackendConfig holds the remote study backend settings.
type BackendConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StudyConfig describes the study being run.
type StudyConfig struct {
	Title          string `mapstructure:"title"`
	SurveyHostPath string `mapstructure:"survey_host_path"`
	SequenceFile   string `mapstructure:"sequence_file"`
}

// StoreConfig locates the local archive.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Validate reports settings that make the service unusable.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Backend.Enabled && c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required when backend.enabled is set"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	return errors.Join(errs...)
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("backend.enabled", false)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 15*time.Second)

	v.SetDefault("study.title", "Digital Stress Test")
	v.SetDefault("study.survey_host_path", "")
	v.SetDefault("study.sequence_file", "")

	v.SetDefault("store.path", "dst-flow.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.directory", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 7)
	v.SetDefault("logging.compress", true)
}

// Loader reads the configuration and keeps it current when the file changes.
type Loader struct {
	v   *viper.Viper
	log *zap.Logger

	mu        sync.RWMutex
	cfg       Config
	listeners []func(Config)
}

// Load reads configuration from path (optional), then the environment.
// A missing file is not an error; defaults and env vars are used instead.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		v.SetConfigName("dst-flow")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DST") // e.g. DST_BACKEND_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	l := &Loader{v: v, log: zap.NewNop()}
	if err := v.Unmarshal(&l.cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return l, nil
}

// Config returns the current configuration.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// OnChange registers fn to run with the new configuration after every reload.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Watch reloads the file on change. It is a no-op without a config file.
func (l *Loader) Watch(log *zap.Logger) {
	if log != nil {
		l.log = log.Named("config")
	}
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.log.Info("configuration file changed, reloading", zap.String("file", e.Name))
		l.reload()
	})
	l.v.WatchConfig()
}

func (l *Loader) reload() {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		l.log.Error("error reloading configuration", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.cfg = cfg
	listeners := append([]func(Config){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}
