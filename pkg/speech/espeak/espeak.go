// Package espeak implements a speech provider backed by the espeak-ng
// system synthesizer. It is the lowest-quality but most dependable
// backend, intended as the last link of the fallback chain.
package espeak

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// ProviderName identifies this backend in configuration and stats.
const ProviderName = "espeak"

const (
	defaultTimeout = 10 * time.Second

	// baseWordsPerMinute is espeak's rate at 1.0x speed.
	baseWordsPerMinute = 175
)

// Provider synthesizes via the espeak-ng command line tool.
type Provider struct {
	mu sync.RWMutex

	enabled bool
	voice   string
	timeout time.Duration

	binaryPath string

	cache   *speech.ArtifactCache
	tempDir string
	logger  *log.Logger
}

// New creates the provider and locates the espeak-ng binary.
func New(cfg speech.ProviderConfig, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Default()
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "donodeck-espeak-cache")
	}
	cache, err := speech.NewArtifactCache(cacheDir, "wav")
	if err != nil {
		return nil, fmt.Errorf("espeak cache: %w", err)
	}

	tempDir := filepath.Join(os.TempDir(), "donodeck-espeak")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	voice := cfg.Voice
	if voice == "" {
		voice = "en-us"
	}

	p := &Provider{
		enabled: cfg.Enabled,
		voice:   voice,
		timeout: timeout,
		cache:   cache,
		tempDir: tempDir,
		logger:  logger,
	}

	for _, candidate := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(candidate); err == nil {
			p.binaryPath = path
			logger.Debug("found espeak binary", "path", path)
			break
		}
	}
	if p.binaryPath == "" {
		logger.Warn("espeak-ng not found, install with your package manager")
	}
	return p, nil
}

// Name implements speech.Provider.
func (p *Provider) Name() string { return ProviderName }

// Enabled implements speech.Provider.
func (p *Provider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// CheckAvailability implements speech.Provider.
func (p *Provider) CheckAvailability() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.binaryPath == "" {
		return false
	}
	_, err := os.Stat(p.binaryPath)
	return err == nil
}

// Voices implements speech.Provider.
func (p *Provider) Voices() []speech.Voice {
	return []speech.Voice{
		{ID: "en-us", Language: "en-US"},
		{ID: "en-gb", Language: "en-GB"},
		{ID: "es", Language: "es"},
		{ID: "de", Language: "de"},
	}
}

// Generate implements speech.Provider.
func (p *Provider) Generate(ctx context.Context, req speech.Request) (*speech.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, speech.ErrEmptyText
	}

	voice := voiceFor(req.Voice)
	if voice == "" {
		p.mu.RLock()
		voice = p.voice
		p.mu.RUnlock()
	}

	key := speech.CacheKey(req.Text, ProviderName+":"+voice, req.Options.Speed)
	if !req.NoCache {
		if path, err := p.cache.Lookup(key); err == nil {
			return &speech.Result{Path: path, CacheHit: true}, nil
		}
	}

	wav, err := p.synthesize(ctx, req.Text, voice, req.Options.Speed)
	if err != nil {
		return nil, err
	}

	path, err := p.cache.Store(key, wav, req)
	if err != nil {
		return nil, err
	}
	return &speech.Result{Path: path, CacheHit: false}, nil
}

func (p *Provider) synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	p.mu.RLock()
	binaryPath := p.binaryPath
	timeout := p.timeout
	tempDir := p.tempDir
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outFile := filepath.Join(tempDir, fmt.Sprintf("espeak_%d.wav", time.Now().UnixNano()))
	defer os.Remove(outFile)

	rate := baseWordsPerMinute
	if speed > 0 {
		rate = int(baseWordsPerMinute * speed)
	}

	cmd := exec.CommandContext(ctx, binaryPath,
		"-v", voice,
		"-s", fmt.Sprintf("%d", rate),
		"-w", outFile,
		text,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("espeak timed out after %s", timeout)
		}
		return nil, fmt.Errorf("espeak failed: %w: %s", err, stderr.String())
	}

	wav, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("espeak produced no output: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("espeak produced empty audio")
	}
	return wav, nil
}

// voiceFor maps a policy voice like "en-us-premium" to an espeak voice.
func voiceFor(voice string) string {
	if voice == "" {
		return ""
	}
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return parts[0]
}
