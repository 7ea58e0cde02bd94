// Package config loads donodeck configuration from YAML, with
// environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// AppName is the scope used for config and cache directories.
const AppName = "donodeck"

// Config is the full runtime configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `mapstructure:"listen"`

	// DatabasePath is the SQLite ledger file.
	DatabasePath string `mapstructure:"database"`

	// WebhookURL receives processed-donation notifications. Empty
	// disables notifications.
	WebhookURL string `mapstructure:"webhook_url"`

	// DisplayFile is where the overlay counter is written. Empty
	// disables the display.
	DisplayFile string `mapstructure:"display_file"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	// LogFile redirects logs to a file. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	Speech SpeechConfig `mapstructure:"speech"`
}

// SpeechConfig configures the provider chain and voice policy.
type SpeechConfig struct {
	// Order lists providers by fallback priority.
	Order []string `mapstructure:"order"`

	Providers map[string]speech.ProviderConfig `mapstructure:"providers"`

	Policy speech.VoicePolicy `mapstructure:"policy"`
}

// envOverrides are the settings that can be flipped per-invocation
// without editing the config file.
type envOverrides struct {
	Listen       string `env:"DONODECK_LISTEN"`
	DatabasePath string `env:"DONODECK_DATABASE"`
	WebhookURL   string `env:"DONODECK_WEBHOOK_URL"`
	DisplayFile  string `env:"DONODECK_DISPLAY_FILE"`
	Debug        bool   `env:"DONODECK_DEBUG"`
}

// SetDefaults registers every default on the viper instance. Call
// before ReadInConfig so a partial file only overrides what it names.
func SetDefaults(v *viper.Viper) {
	dataDir := defaultDataDir()

	v.SetDefault("listen", "127.0.0.1:5000")
	v.SetDefault("database", filepath.Join(dataDir, "ledger.db"))
	v.SetDefault("webhook_url", "")
	v.SetDefault("display_file", "")
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")

	v.SetDefault("speech.order", []string{"gtts", "piper", "espeak"})
	for _, name := range []string{"gtts", "piper", "espeak"} {
		v.SetDefault("speech.providers."+name+".enabled", true)
		v.SetDefault("speech.providers."+name+".cache_dir",
			filepath.Join(defaultCacheDir(), name))
	}
	v.SetDefault("speech.providers.gtts.timeout_seconds", 15)
	v.SetDefault("speech.providers.gtts.requests_per_minute", 50)
	v.SetDefault("speech.providers.piper.timeout_seconds", 30)
	v.SetDefault("speech.providers.espeak.timeout_seconds", 10)

	policy := speech.DefaultVoicePolicy()
	for tier, settings := range policy.Tiers {
		v.SetDefault(fmt.Sprintf("speech.policy.tiers.%s.voice", tier), settings.Voice)
		v.SetDefault(fmt.Sprintf("speech.policy.tiers.%s.speed", tier), settings.Speed)
	}
}

// Load unmarshals the viper state and applies environment overrides.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if overrides.Listen != "" {
		cfg.Listen = overrides.Listen
	}
	if overrides.DatabasePath != "" {
		cfg.DatabasePath = overrides.DatabasePath
	}
	if overrides.WebhookURL != "" {
		cfg.WebhookURL = overrides.WebhookURL
	}
	if overrides.DisplayFile != "" {
		cfg.DisplayFile = overrides.DisplayFile
	}
	if overrides.Debug {
		cfg.Debug = true
	}

	if cfg.Speech.Providers == nil {
		cfg.Speech.Providers = map[string]speech.ProviderConfig{}
	}
	return &cfg, nil
}

// ConfigDirs returns the directories searched for the config file, in
// priority order.
func ConfigDirs() ([]string, error) {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("find configuration directory: %w", err)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("DONODECK_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

func defaultDataDir() string {
	scope := gap.NewScope(gap.User, AppName)
	dirs, err := scope.DataDirs()
	if err != nil || len(dirs) == 0 {
		return "."
	}
	return dirs[0]
}

func defaultCacheDir() string {
	scope := gap.NewScope(gap.User, AppName)
	dir, err := scope.CacheDir()
	if err != nil || dir == "" {
		dir = filepath.Join(os.TempDir(), AppName)
	}
	return dir
}

// Validate sanity-checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is empty")
	}
	if len(c.Speech.Order) == 0 {
		return fmt.Errorf("speech.order lists no providers")
	}
	for _, settings := range c.Speech.Policy.Tiers {
		if settings.Speed < 0 {
			return fmt.Errorf("negative speech speed %v", settings.Speed)
		}
	}
	return nil
}

// LogUnusedKeys warns about provider configs that are not in the
// fallback order, which usually means a typo.
func (c *Config) LogUnusedKeys(logger *log.Logger) {
	inOrder := make(map[string]bool, len(c.Speech.Order))
	for _, name := range c.Speech.Order {
		inOrder[name] = true
	}
	for name := range c.Speech.Providers {
		if !inOrder[name] {
			logger.Warn("provider configured but not in speech.order", "provider", name)
		}
	}
}
