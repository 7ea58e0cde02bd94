// Package speech defines the speech provider contract and the fallback
// resolver that turns donation announcements into played audio.
//
// A Provider wraps one synthesis backend (a cloud voice, a local model,
// a system synthesizer). Providers are interchangeable behind the
// Provider interface and each one owns a content-addressed artifact
// cache, so repeated announcements with the same text, voice, and speed
// never hit the backend twice.
package speech

import (
	"context"
	"fmt"
	"os"
)

// Provider is a single speech synthesis backend.
type Provider interface {
	// Name returns the provider's stable identifier, used in
	// configuration, logs, and usage stats.
	Name() string

	// Enabled reports whether the provider is switched on in
	// configuration. Disabled providers are skipped by the resolver
	// without an availability probe.
	Enabled() bool

	// CheckAvailability performs a runtime probe of the backend's
	// dependencies (binaries, models, network).
	CheckAvailability() bool

	// Generate synthesizes the request into an audio file and returns
	// its path. Implementations must consult their artifact cache
	// before synthesizing unless the request disables caching.
	Generate(ctx context.Context, req Request) (*Result, error)

	// Voices lists the voices this provider can speak with.
	Voices() []Voice
}

// Request describes one synthesis job.
type Request struct {
	// Text is the exact string to speak.
	Text string

	// Voice selects the provider voice. Empty means provider default.
	Voice string

	// Options carries prosody settings.
	Options Options

	// NoCache forces fresh synthesis, bypassing cache lookup. The
	// fresh artifact is still stored.
	NoCache bool
}

// Options carries prosody settings for a synthesis request.
type Options struct {
	// Speed is the speaking rate multiplier, 1.0 = normal.
	Speed float64
}

// Result is the outcome of a successful synthesis.
type Result struct {
	// Path is the synthesized audio file on disk.
	Path string

	// CacheHit reports whether the artifact came from the cache.
	CacheHit bool
}

// Probe verifies a provider can really produce audio, beyond what its
// own dependency checks promise, by running a trivial uncached
// synthesis and confirming a non-empty artifact resulted. The artifact
// is discarded.
func Probe(ctx context.Context, p Provider) error {
	if !p.Enabled() || !p.CheckAvailability() {
		return fmt.Errorf("%s: %w", p.Name(), ErrProviderUnavailable)
	}
	result, err := p.Generate(ctx, Request{Text: "ok", NoCache: true})
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.Name(), err)
	}
	info, err := os.Stat(result.Path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.Name(), err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("probe %s produced an empty artifact: %w", p.Name(), ErrProviderUnavailable)
	}
	// The probe text is never announced; keeping its artifact would
	// only leave junk in the provider's cache.
	os.Remove(result.Path)
	return nil
}

// Voice describes one selectable voice of a provider.
type Voice struct {
	ID          string `json:"id"`
	Language    string `json:"language"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`
}
