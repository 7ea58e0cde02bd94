// Package mock provides a speech provider test double with failure
// injection and call counting.
package mock

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/dgnsrekt/donodeck/pkg/speech"
)

// Provider implements speech.Provider for tests. It writes short
// silent WAV artifacts through a real ArtifactCache, so cache behavior
// is exercised end to end.
type Provider struct {
	mu sync.Mutex

	name      string
	enabled   bool
	available bool
	delay     time.Duration

	shouldFail   bool
	failureError error

	callCount int
	cache     *speech.ArtifactCache
}

// New creates a mock provider caching artifacts under dir.
func New(name, dir string) (*Provider, error) {
	cache, err := speech.NewArtifactCache(dir, "wav")
	if err != nil {
		return nil, err
	}
	return &Provider{
		name:      name,
		enabled:   true,
		available: true,
		cache:     cache,
	}, nil
}

// Name implements speech.Provider.
func (p *Provider) Name() string { return p.name }

// Enabled implements speech.Provider.
func (p *Provider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// CheckAvailability implements speech.Provider.
func (p *Provider) CheckAvailability() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Voices implements speech.Provider.
func (p *Provider) Voices() []speech.Voice {
	return []speech.Voice{
		{ID: "mock-voice-1", Language: "en-US", Gender: "neutral"},
		{ID: "mock-voice-2", Language: "en-GB", Gender: "female"},
	}
}

// Generate implements speech.Provider, producing a short silent WAV.
func (p *Provider) Generate(ctx context.Context, req speech.Request) (*speech.Result, error) {
	p.mu.Lock()
	p.callCount++
	fail := p.shouldFail
	failErr := p.failureError
	delay := p.delay
	p.mu.Unlock()

	if fail {
		return nil, failErr
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := speech.CacheKey(req.Text, req.Voice, req.Options.Speed)
	if !req.NoCache {
		if path, err := p.cache.Lookup(key); err == nil {
			return &speech.Result{Path: path, CacheHit: true}, nil
		}
	}

	path, err := p.cache.Store(key, silentWAV(100*time.Millisecond), req)
	if err != nil {
		return nil, err
	}
	return &speech.Result{Path: path, CacheHit: false}, nil
}

// Test controls.

// SetFailure makes Generate fail with err until cleared.
func (p *Provider) SetFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = true
	p.failureError = err
}

// ClearFailure restores normal operation.
func (p *Provider) ClearFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldFail = false
	p.failureError = nil
}

// SetEnabled toggles the enabled flag.
func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// SetAvailable toggles the availability probe result.
func (p *Provider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// SetDelay adds simulated synthesis latency.
func (p *Provider) SetDelay(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = delay
}

// CallCount returns the number of Generate calls, cache hits included.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

// Cache exposes the artifact cache for assertions.
func (p *Provider) Cache() *speech.ArtifactCache {
	return p.cache
}

// silentWAV builds a canonical 16-bit mono 22050Hz WAV of silence.
func silentWAV(d time.Duration) []byte {
	const sampleRate = 22050
	samples := int(d.Seconds() * sampleRate)
	dataSize := samples * 2

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], sampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], sampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}
