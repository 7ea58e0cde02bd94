// Package main provides the entry point for the donodeck server, a
// donation-triggered text-to-speech queue for live streams.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/donodeck/pkg/audio"
	"github.com/dgnsrekt/donodeck/pkg/config"
	"github.com/dgnsrekt/donodeck/pkg/display"
	"github.com/dgnsrekt/donodeck/pkg/ledger"
	"github.com/dgnsrekt/donodeck/pkg/notify"
	"github.com/dgnsrekt/donodeck/pkg/queue"
	"github.com/dgnsrekt/donodeck/pkg/server"
	"github.com/dgnsrekt/donodeck/pkg/speech"
	"github.com/dgnsrekt/donodeck/pkg/speech/espeak"
	"github.com/dgnsrekt/donodeck/pkg/speech/gtts"
	"github.com/dgnsrekt/donodeck/pkg/speech/piper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	listenAddr string
	dbPath     string
	debug      bool

	rootCmd = &cobra.Command{
		Use:           "donodeck",
		Short:         "Donation TTS queue server for live streams",
		Long:          "\nDonodeck queues viewer donations, speaks them one at a time\nover your stream audio, and keeps durable running totals.",
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
)

func serve(ctx context.Context) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := log.Default()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	cfg.LogUnusedKeys(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store, err := ledger.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := speech.NewRegistry()
	registry.Register(gtts.ProviderName, func(pc speech.ProviderConfig) (speech.Provider, error) {
		return gtts.New(pc, logger)
	})
	registry.Register(piper.ProviderName, func(pc speech.ProviderConfig) (speech.Provider, error) {
		return piper.New(pc, logger)
	})
	registry.Register(espeak.ProviderName, func(pc speech.ProviderConfig) (speech.Provider, error) {
		return espeak.New(pc, logger)
	})

	providers, buildErrs := registry.BuildChain(cfg.Speech.Order, cfg.Speech.Providers)
	for _, err := range buildErrs {
		logger.Warn("provider skipped", "error", err)
	}
	if len(providers) == 0 {
		return speech.ErrNoProviders
	}
	go func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		for _, p := range providers {
			if err := speech.Probe(probeCtx, p); err != nil {
				logger.Warn("provider failed startup probe", "provider", p.Name(), "error", err)
				continue
			}
			logger.Info("provider ready", "provider", p.Name())
		}
	}()

	player := audio.NewOtoPlayer(logger)
	resolver := speech.NewResolver(providers, player, cfg.Speech.Policy, logger)

	webhook := notify.NewWebhook(cfg.WebhookURL, logger)
	overlay := display.NewTextFile(cfg.DisplayFile, logger)
	orch := queue.New(store, resolver, webhook, overlay, logger)

	srv := server.New(cfg.Listen, orch, store, resolver, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP bind address (overrides config)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite ledger path (overrides config)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	config.SetDefaults(viper.GetViper())

	dirs, err := config.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}
	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], config.AppName+".yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
