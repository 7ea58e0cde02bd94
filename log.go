package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// setupLog configures the default logger. When log_file is set the
// output goes there instead of stderr; the returned closer flushes and
// closes the file.
func setupLog() (func() error, error) {
	log.SetTimeFormat(time.Kitchen)
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	}

	logFile := viper.GetString("log_file")
	if logFile == "" {
		logFile = os.Getenv("DONODECK_LOGFILE")
	}
	if logFile == "" {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error setting up log file: %w", err)
	}
	log.SetOutput(f)
	log.SetTimeFormat(time.DateTime)
	return f.Close, nil
}
