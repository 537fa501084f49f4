// Package config loads the button-monitor configuration file with viper and
// watches it for changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/button-sensor/internal/button"
	"github.com/sweeney/button-sensor/internal/gpio"
	"github.com/sweeney/button-sensor/internal/mqtt"
)

const (
	DefaultPath = "button-monitor.yaml"

	configType = "yaml"
	envPrefix  = "BUTTON_MONITOR"

	configKeyChip        = "chip"
	configKeyBroker      = "broker"
	configKeyClientID    = "client_id"
	configKeyTopicPrefix = "topic_prefix"
	configKeyHTTP        = "http"
	configKeyLogLevel    = "log_level"

	defaultBroker   = "tcp://localhost:1883"
	defaultClientID = "button-monitor"
	defaultHTTP     = ":8080"
	defaultLogLevel = "info"
)

// ErrNoButtons is returned for a config without any button entries,
// including a file read while it was still empty.
var ErrNoButtons = errors.New("no buttons configured")

// Button is one button entry as written in the file.
type Button struct {
	Name       string `mapstructure:"name"`
	Pin        int    `mapstructure:"pin"`
	Pull       string `mapstructure:"pull"`
	ActiveLow  *bool  `mapstructure:"active_low"`
	DebounceMs int    `mapstructure:"debounce_ms"`
	Dispatch   string `mapstructure:"dispatch"`
}

// Config is the daemon configuration.
type Config struct {
	Chip        string   `mapstructure:"chip"`
	Broker      string   `mapstructure:"broker"`
	ClientID    string   `mapstructure:"client_id"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	HTTP        string   `mapstructure:"http"`
	LogLevel    string   `mapstructure:"log_level"`
	Buttons     []Button `mapstructure:"buttons"`
}

// Loader reads one config file and can watch it for changes.
type Loader struct {
	path   string
	logger *zap.SugaredLogger
	// quiet is how long the file must stay unchanged before a reload.
	quiet time.Duration
}

// DefaultReloadQuiet is the settle time between the last write to the file
// and the reload it triggers.
const DefaultReloadQuiet = 500 * time.Millisecond

// NewLoader creates a Loader for path. Environment variables prefixed with
// BUTTON_MONITOR_ override top-level keys.
func NewLoader(path string, logger *zap.SugaredLogger) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{path: path, logger: logger.Named("config"), quiet: DefaultReloadQuiet}
}

// newViper returns a fresh viper for the file. Each read gets its own
// instance so reloads never share state with the watcher goroutine.
func (l *Loader) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType(configType)

	v.SetDefault(configKeyChip, gpio.DefaultChip)
	v.SetDefault(configKeyBroker, defaultBroker)
	v.SetDefault(configKeyClientID, defaultClientID)
	v.SetDefault(configKeyTopicPrefix, mqtt.DefaultTopicPrefix)
	v.SetDefault(configKeyHTTP, defaultHTTP)
	v.SetDefault(configKeyLogLevel, defaultLogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Path returns the config file in use.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the file.
func (l *Loader) Load() (*Config, error) {
	l.logger.Debugw("loading config", "path", l.path)

	v := l.newViper()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", l.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", l.path, err)
	}

	l.logger.Infow("config loaded",
		"path", l.path,
		"chip", cfg.Chip,
		"broker", cfg.Broker,
		"buttons", len(cfg.Buttons))
	return &cfg, nil
}

// Load is a convenience for NewLoader(path, nil).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path, nil).Load()
}

// Watch re-reads the file once it has been quiet for the reload period after
// a write, and passes valid configs to onChange. A file caught mid-write
// fails validation and is skipped; the write that completes it restarts the
// quiet period. Watch returns when ctx is done.
func (l *Loader) Watch(ctx context.Context, onChange func(*Config)) {
	l.logger.Debugw("watching config", "path", l.path, "quiet", l.quiet)

	changed := make(chan struct{}, 1)

	w := l.newViper()
	w.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.WatchConfig()

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			l.logger.Debugw("stopping config watcher", "path", l.path)
			return
		case <-changed:
			settle = time.After(l.quiet)
		case <-settle:
			settle = nil
			cfg, err := l.Load()
			if err != nil {
				l.logger.Warnw("config reload skipped", "error", err)
				continue
			}
			l.logger.Infow("config changed", "path", l.path, "buttons", len(cfg.Buttons))
			onChange(cfg)
		}
	}
}

// Validate requires at least one button, checks every entry and rejects
// duplicate names and pins.
func (c *Config) Validate() error {
	if len(c.Buttons) == 0 {
		return ErrNoButtons
	}

	var errs []error
	names := make(map[string]bool)
	pins := make(map[int]string)

	for i, b := range c.Buttons {
		label := b.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("button %s: name is required", label))
		} else if names[b.Name] {
			errs = append(errs, fmt.Errorf("button %s: duplicate name", label))
		}
		names[b.Name] = true

		if other, ok := pins[b.Pin]; ok {
			errs = append(errs, fmt.Errorf("button %s: pin %d already used by %s", label, b.Pin, other))
		}
		pins[b.Pin] = label

		if _, err := b.ButtonConfig(); err != nil {
			errs = append(errs, fmt.Errorf("button %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// ButtonConfig converts the entry to a button.Config without callbacks.
// Missing fields take the button package defaults.
func (b Button) ButtonConfig() (button.Config, error) {
	cfg := button.DefaultConfig(b.Pin)

	if b.Pull != "" {
		pull, err := gpio.ParsePullMode(b.Pull)
		if err != nil {
			return cfg, err
		}
		cfg.Pull = pull
	}
	if b.ActiveLow != nil {
		cfg.ActiveLow = *b.ActiveLow
	}
	if b.DebounceMs != 0 {
		cfg.DebounceWindow = time.Duration(b.DebounceMs) * time.Millisecond
	}
	dispatch, err := button.ParseDispatchPolicy(b.Dispatch)
	if err != nil {
		return cfg, err
	}
	cfg.Dispatch = dispatch

	return cfg, cfg.Validate()
}
