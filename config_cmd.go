package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# HTTP bind address
listen: "127.0.0.1:5000"

# SQLite ledger location (defaults to the user data directory)
# database: "/var/lib/donodeck/ledger.db"

# Discord-compatible webhook for processed donations (empty disables)
webhook_url: ""

# Overlay counter file for OBS text sources (empty disables)
display_file: ""

# Log to a file instead of stderr
# log_file: "/var/log/donodeck.log"

debug: false

speech:
  # Providers are tried in this order until one produces audio
  order: [gtts, piper, espeak]

  providers:
    gtts:
      enabled: true
      voice: "en"
      timeout_seconds: 15
      # Throttle for the Google Translate endpoint
      requests_per_minute: 50
    piper:
      enabled: true
      # voice: "/path/to/voice.onnx"
      timeout_seconds: 30
    espeak:
      enabled: true
      voice: "en-us"
      timeout_seconds: 10

  # Voice selection by donation tier, with per-user overrides.
  # Tiers: default, premium ($25+), vip ($100+).
  # A tier or user may also pin a provider to try first.
  policy:
    tiers:
      vip:
        # provider: "piper"
        voice: "en-us-premium"
        speed: 0.95
      premium:
        voice: "en-us-warm"
        speed: 1.0
      default:
        voice: "en-us"
        speed: 1.0
    users: {}
    #  some_regular:
    #    voice: "en-gb"
    #    speed: 1.1
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the donodeck config file",
	Long:    "\nEdit the donodeck config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "donodeck config\ndonodeck config --config path/to/donodeck.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Donodeck", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
