// Package piper implements a speech provider backed by the local
// Piper neural TTS engine.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
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
const ProviderName = "piper"

// Audio format constants for Piper output.
const (
	SampleRate    = 22050
	BitsPerSample = 16
	Channels      = 1
)

const defaultTimeout = 30 * time.Second

// Error is a Piper-specific error with a category.
type Error struct {
	Type    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("piper %s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("piper %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Provider runs the piper binary against a local ONNX voice model. It
// is fully offline, so it makes a good fallback behind network-backed
// providers.
type Provider struct {
	mu sync.RWMutex

	enabled bool
	timeout time.Duration

	binaryPath string
	modelPath  string
	configPath string
	voiceName  string

	cache  *speech.ArtifactCache
	logger *log.Logger
}

// New creates the provider, locating the piper binary and a voice
// model. Both searches are best-effort; CheckAvailability reports the
// result.
func New(cfg speech.ProviderConfig, logger *log.Logger) (*Provider, error) {
	if logger == nil {
		logger = log.Default()
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "donodeck-piper-cache")
	}
	cache, err := speech.NewArtifactCache(cacheDir, "wav")
	if err != nil {
		return nil, fmt.Errorf("piper cache: %w", err)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	p := &Provider{
		enabled: cfg.Enabled,
		timeout: timeout,
		cache:   cache,
		logger:  logger,
	}

	if err := p.findBinary(); err != nil {
		logger.Warn("piper binary not found", "error", err)
	}
	if cfg.Voice != "" && strings.HasSuffix(cfg.Voice, ".onnx") {
		if err := p.SetModel(cfg.Voice); err != nil {
			logger.Warn("configured piper model unusable", "model", cfg.Voice, "error", err)
		}
	}
	if p.modelPath == "" {
		if err := p.findDefaultModel(); err != nil {
			logger.Warn("no piper voice model found", "error", err)
		}
	}
	return p, nil
}

func (p *Provider) findBinary() error {
	if path, err := exec.LookPath("piper"); err == nil {
		p.binaryPath = path
		return nil
	}

	commonPaths := []string{
		"/usr/local/bin/piper",
		"/usr/bin/piper",
		"/opt/piper/piper",
		filepath.Join(os.Getenv("HOME"), ".local/bin/piper"),
		filepath.Join(os.Getenv("HOME"), "bin/piper"),
	}
	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			p.binaryPath = path
			return nil
		}
	}

	return &Error{
		Type:    "dependency",
		Message: "piper binary not found, install from https://github.com/rhasspy/piper",
	}
}

func (p *Provider) findDefaultModel() error {
	modelDirs := []string{
		filepath.Join(os.Getenv("HOME"), ".local/share/piper-voices"),
		"/usr/share/piper-voices",
		"/usr/local/share/piper-voices",
		"/opt/piper/voices",
	}

	for _, dir := range modelDirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if strings.HasSuffix(path, ".onnx") {
				p.setModelPaths(path)
				return io.EOF // stop walking
			}
			return nil
		})
		if err == io.EOF {
			return nil
		}
	}

	return &Error{
		Type:    "model",
		Message: "no ONNX voice models found in standard locations",
	}
}

// SetModel points the provider at a specific ONNX voice model.
func (p *Provider) SetModel(modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return &Error{
			Type:    "model",
			Message: fmt.Sprintf("model file not found: %s", modelPath),
			Cause:   err,
		}
	}
	if !strings.HasSuffix(modelPath, ".onnx") {
		return &Error{
			Type:    "model",
			Message: "model file must be an ONNX file",
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.setModelPaths(modelPath)
	return nil
}

// setModelPaths fills model, config, and voice name from a model path.
func (p *Provider) setModelPaths(modelPath string) {
	p.modelPath = modelPath
	p.configPath = ""
	configPath := modelPath + ".json"
	if _, err := os.Stat(configPath); err == nil {
		p.configPath = configPath
	}
	p.voiceName = filepath.Base(strings.TrimSuffix(modelPath, ".onnx"))
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
	if p.binaryPath == "" || p.modelPath == "" {
		return false
	}
	if _, err := os.Stat(p.binaryPath); err != nil {
		return false
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return false
	}
	return true
}

// Voices implements speech.Provider. Piper speaks with whatever model
// is loaded.
func (p *Provider) Voices() []speech.Voice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.voiceName == "" {
		return nil
	}
	return []speech.Voice{{ID: p.voiceName, Language: "en-US", Description: "local ONNX model"}}
}

// Generate implements speech.Provider.
func (p *Provider) Generate(ctx context.Context, req speech.Request) (*speech.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, speech.ErrEmptyText
	}

	p.mu.RLock()
	voiceName := p.voiceName
	p.mu.RUnlock()

	key := speech.CacheKey(req.Text, ProviderName+":"+voiceName, req.Options.Speed)
	if !req.NoCache {
		if path, err := p.cache.Lookup(key); err == nil {
			return &speech.Result{Path: path, CacheHit: true}, nil
		}
	}

	pcm, err := p.synthesize(ctx, req.Text, req.Options.Speed)
	if err != nil {
		return nil, err
	}

	path, err := p.cache.Store(key, wrapWAV(pcm), req)
	if err != nil {
		return nil, err
	}
	return &speech.Result{Path: path, CacheHit: false}, nil
}

// synthesize pipes text through the piper binary and returns raw
// 16-bit mono PCM.
func (p *Provider) synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	p.mu.RLock()
	binaryPath := p.binaryPath
	modelPath := p.modelPath
	configPath := p.configPath
	timeout := p.timeout
	p.mu.RUnlock()

	args := []string{
		"--model", modelPath,
		"--output-raw",
	}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	// Piper's length scale is the inverse of speed: 2.0x speed is a
	// 0.50 length scale.
	if speed > 0 && speed != 1.0 {
		args = append(args, "--length-scale", fmt.Sprintf("%.2f", 1.0/speed))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Stdin = strings.NewReader(text)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Type: "process", Message: "failed to create stdout pipe", Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Type: "process", Message: "failed to start piper", Cause: err}
	}

	var pcm bytes.Buffer
	if _, err := io.Copy(&pcm, stdout); err != nil {
		_ = cmd.Wait()
		return nil, &Error{Type: "synthesis", Message: "failed to read audio data", Cause: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Type:    "timeout",
				Message: fmt.Sprintf("synthesis timed out after %v", timeout),
				Cause:   err,
			}
		}
		return nil, &Error{
			Type:    "synthesis",
			Message: fmt.Sprintf("piper failed: %s", stderr.String()),
			Cause:   err,
		}
	}
	if pcm.Len() == 0 {
		return nil, &Error{Type: "synthesis", Message: "piper produced no audio"}
	}
	return pcm.Bytes(), nil
}

// wrapWAV prefixes raw Piper PCM with a canonical WAV header.
func wrapWAV(pcm []byte) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[32:34], Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
