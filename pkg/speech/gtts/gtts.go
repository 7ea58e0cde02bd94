// Package gtts implements a speech provider backed by Google
// Translate's TTS via the gtts-cli tool, with ffmpeg post-processing.
package gtts

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
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// ProviderName identifies this backend in configuration and stats.
const ProviderName = "gtts"

const (
	defaultTimeout = 15 * time.Second

	// defaultRequestsPerMinute keeps cache-cold bursts from hammering
	// the Google Translate endpoint.
	defaultRequestsPerMinute = 50
)

// Provider synthesizes via gtts-cli and converts the resulting MP3 to
// WAV with ffmpeg. Requires network access at synthesis time.
type Provider struct {
	mu sync.RWMutex

	enabled  bool
	language string
	timeout  time.Duration

	gttsBinary   string
	ffmpegBinary string

	limiter *rate.Limiter
	cache   *speech.ArtifactCache
	tempDir string
	logger  *log.Logger
}

// New creates the provider and detects its external dependencies.
// Missing binaries are not an error here; they surface through
// CheckAvailability so the resolver can fall through to the next
// provider.
func New(cfg speech.ProviderConfig, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Default()
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "donodeck-gtts-cache")
	}
	cache, err := speech.NewArtifactCache(cacheDir, "wav")
	if err != nil {
		return nil, fmt.Errorf("gtts cache: %w", err)
	}

	tempDir := filepath.Join(os.TempDir(), "donodeck-gtts")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	language := "en"
	if cfg.Voice != "" {
		language = languageFor(cfg.Voice)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}

	p := &Provider{
		enabled:  cfg.Enabled,
		language: language,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		cache:    cache,
		tempDir:  tempDir,
		logger:   logger,
	}
	p.detectDependencies()
	return p, nil
}

// detectDependencies locates gtts-cli and ffmpeg.
func (p *Provider) detectDependencies() {
	gttsPaths := []string{
		"gtts-cli",
		"/usr/local/bin/gtts-cli",
		"/usr/bin/gtts-cli",
		filepath.Join(os.Getenv("HOME"), ".local", "bin", "gtts-cli"),
	}
	for _, path := range gttsPaths {
		resolved, err := exec.LookPath(path)
		if err != nil {
			continue
		}
		p.gttsBinary = resolved
		p.logger.Debug("found gtts-cli", "path", resolved)
		break
	}

	ffmpegPaths := []string{
		"ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/usr/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
	}
	for _, path := range ffmpegPaths {
		resolved, err := exec.LookPath(path)
		if err != nil {
			continue
		}
		p.ffmpegBinary = resolved
		p.logger.Debug("found ffmpeg", "path", resolved)
		break
	}

	if p.gttsBinary == "" {
		p.logger.Warn("gtts-cli not found, install with: pip install gtts")
	}
	if p.ffmpegBinary == "" {
		p.logger.Warn("ffmpeg not found, install with your package manager")
	}
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
	if p.gttsBinary == "" || p.ffmpegBinary == "" {
		return false
	}
	if _, err := os.Stat(p.gttsBinary); err != nil {
		return false
	}
	if _, err := os.Stat(p.ffmpegBinary); err != nil {
		return false
	}
	return true
}

// Voices implements speech.Provider. gtts voices are language codes.
func (p *Provider) Voices() []speech.Voice {
	return []speech.Voice{
		{ID: "en", Language: "en"},
		{ID: "en-uk", Language: "en-GB"},
		{ID: "es", Language: "es"},
		{ID: "fr", Language: "fr"},
		{ID: "de", Language: "de"},
		{ID: "ja", Language: "ja"},
	}
}

// Generate implements speech.Provider.
func (p *Provider) Generate(ctx context.Context, req speech.Request) (*speech.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, speech.ErrEmptyText
	}

	voice := req.Voice
	if voice == "" {
		voice = p.language
	}
	key := speech.CacheKey(req.Text, ProviderName+":"+voice, req.Options.Speed)

	if !req.NoCache {
		if path, err := p.cache.Lookup(key); err == nil {
			return &speech.Result{Path: path, CacheHit: true}, nil
		}
	}

	audio, err := p.synthesize(ctx, req.Text, voice, req.Options.Speed)
	if err != nil {
		return nil, err
	}

	path, err := p.cache.Store(key, audio, req)
	if err != nil {
		return nil, err
	}
	return &speech.Result{Path: path, CacheHit: false}, nil
}

// synthesize runs the gtts-cli then ffmpeg pipeline and returns WAV
// bytes. Vendor calls are rate limited; cache hits never reach here.
func (p *Provider) synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gtts rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	mp3File := filepath.Join(p.tempDir, fmt.Sprintf("gtts_%d.mp3", time.Now().UnixNano()))
	defer os.Remove(mp3File)

	lang := languageFor(voice)
	cmd := exec.CommandContext(ctx, p.gttsBinary,
		text,
		"--output", mp3File,
		"--lang", lang,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("gtts-cli timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("gtts-cli failed: %w: %s", err, stderr.String())
	}
	if _, err := os.Stat(mp3File); err != nil {
		return nil, fmt.Errorf("gtts-cli produced no output: %w", err)
	}

	// Convert to 16-bit mono 22050Hz WAV, applying speed with atempo.
	args := []string{
		"-i", mp3File,
		"-ar", "22050",
		"-ac", "1",
		"-sample_fmt", "s16",
	}
	if speed > 0 && speed != 1.0 {
		tempo := speed
		if tempo < 0.5 {
			tempo = 0.5
		} else if tempo > 2.0 {
			tempo = 2.0
		}
		args = append(args, "-filter:a", fmt.Sprintf("atempo=%.2f", tempo))
	}
	args = append(args, "-f", "wav", "-")

	ffmpeg := exec.CommandContext(ctx, p.ffmpegBinary, args...)
	var wav bytes.Buffer
	var ffmpegStderr bytes.Buffer
	ffmpeg.Stdout = &wav
	ffmpeg.Stderr = &ffmpegStderr

	if err := ffmpeg.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("ffmpeg timed out after %s", p.timeout)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, ffmpegStderr.String())
	}
	if wav.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio")
	}
	return wav.Bytes(), nil
}

// languageFor maps a voice ID to a gtts language code.
func languageFor(voice string) string {
	if voice == "" {
		return "en"
	}
	// Policy voices like "en-us-premium" carry a language prefix.
	if idx := strings.Index(voice, "-"); idx > 0 {
		return voice[:idx]
	}
	return voice
}
