package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

const contextReadyTimeout = 5 * time.Second

// OtoPlayer plays WAV files through an oto audio context. The context
// is created lazily on first playback with the file's format; oto
// allows one context per process, so every backend must produce the
// same sample rate and channel count.
type OtoPlayer struct {
	mu      sync.Mutex
	context *oto.Context
	format  Format
	current *oto.Player
	logger  *log.Logger
}

// NewOtoPlayer returns a player with no audio context yet.
func NewOtoPlayer(logger *log.Logger) *OtoPlayer {
	if logger == nil {
		logger = log.Default()
	}
	return &OtoPlayer{logger: logger}
}

// Play reads and plays the WAV file at path, blocking until playback
// finishes, Stop is called, or ctx is canceled.
func (p *OtoPlayer) Play(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	format, pcm, err := DecodeWAV(data)
	if err != nil {
		return err
	}
	if err := p.ensureContext(format); err != nil {
		return err
	}

	p.mu.Lock()
	player := p.context.NewPlayer(bytes.NewReader(pcm))
	p.current = player
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.current == player {
			p.current = nil
		}
		p.mu.Unlock()
		_ = player.Close()
	}()

	p.logger.Debug("playback started",
		"path", path,
		"seconds", fmt.Sprintf("%.1f", format.Duration(len(pcm))),
	)
	player.Play()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop interrupts the current playback, if any.
func (p *OtoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		// Closing flips IsPlaying false, which unblocks Play.
		_ = p.current.Close()
		p.current = nil
	}
}

// ensureContext creates the oto context on first use and verifies
// later files match its format.
func (p *OtoPlayer) ensureContext(format Format) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.context != nil {
		if format != p.format {
			return fmt.Errorf("audio: format changed from %+v to %+v mid-run", p.format, format)
		}
		return nil
	}

	options := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	case "windows":
		options.BufferSize = 80 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	context, ready, err := oto.NewContext(options)
	if err != nil {
		return fmt.Errorf("create audio context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(contextReadyTimeout):
		return fmt.Errorf("audio context initialization timeout after %s", contextReadyTimeout)
	}

	p.context = context
	p.format = format
	p.logger.Debug("audio context initialized",
		"sample_rate", format.SampleRate,
		"channels", format.Channels,
	)
	return nil
}
