package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// maxSpokenRunes caps the spoken announcement length so one long
// message cannot hold the queue for minutes.
const maxSpokenRunes = 250

// Player plays a synthesized audio file. Play blocks until playback
// finishes, fails, or the context is canceled. Stop interrupts the
// current playback, if any.
type Player interface {
	Play(ctx context.Context, path string) error
	Stop()
}

// Announcement is one donation to speak.
type Announcement struct {
	Username string
	Message  string
	Amount   float64
}

// SpokenText renders the announcement as the string handed to a
// provider, truncated to a speakable length.
func (a Announcement) SpokenText() string {
	text := fmt.Sprintf("%s donated %.2f dollars. %s", a.Username, a.Amount, a.Message)
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > maxSpokenRunes {
		text = string(runes[:maxSpokenRunes]) + "…"
	}
	return text
}

// Resolver tries providers in configured order until one produces
// audio, applies the voice policy, plays the result, and records usage.
type Resolver struct {
	providers []Provider
	player    Player
	policy    VoicePolicy
	stats     *UsageStats
	logger    *log.Logger
}

// NewResolver builds a resolver over providers in priority order.
func NewResolver(providers []Provider, player Player, policy VoicePolicy, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		providers: providers,
		player:    player,
		policy:    policy,
		stats:     NewUsageStats(),
		logger:    logger,
	}
}

// Stats returns the resolver's usage stats.
func (r *Resolver) Stats() *UsageStats {
	return r.stats
}

// Announce synthesizes and plays one donation announcement. Providers
// are tried in order; a provider failure moves on to the next, a
// playback failure does not, since the audio itself was fine.
func (r *Resolver) Announce(ctx context.Context, a Announcement) error {
	result, provider, err := r.synthesize(ctx, a)
	if err != nil {
		return err
	}

	r.logger.Debug("playing announcement",
		"provider", provider,
		"path", result.Path,
		"cache_hit", result.CacheHit,
	)
	if err := r.player.Play(ctx, result.Path); err != nil {
		return fmt.Errorf("play announcement: %w", err)
	}
	return nil
}

// Stop interrupts the current playback, if any.
func (r *Resolver) Stop() {
	r.player.Stop()
}

// synthesize walks the provider chain and returns the first successful
// result along with the winning provider's name.
func (r *Resolver) synthesize(ctx context.Context, a Announcement) (*Result, string, error) {
	if len(r.providers) == 0 {
		return nil, "", ErrNoProviders
	}

	text := a.SpokenText()
	if text == "" {
		return nil, "", ErrEmptyText
	}

	settings := r.policy.Resolve(a.Username, a.Amount)
	req := Request{
		Text:    text,
		Voice:   settings.Voice,
		Options: Options{Speed: settings.Speed},
	}

	var errs []string
	for _, p := range r.candidates(settings.Provider) {
		if !p.Enabled() {
			continue
		}
		if !p.CheckAvailability() {
			r.logger.Warn("provider unavailable, trying next", "provider", p.Name())
			errs = append(errs, fmt.Sprintf("%s: unavailable", p.Name()))
			continue
		}

		start := time.Now()
		result, err := p.Generate(ctx, req)
		if err != nil {
			r.stats.RecordFailure(p.Name())
			r.logger.Warn("provider failed, trying next",
				"provider", p.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
			continue
		}

		r.stats.RecordSynthesis(p.Name(), result.CacheHit, time.Since(start))
		return result, p.Name(), nil
	}

	return nil, "", fmt.Errorf("%w: %s", ErrAllProvidersFailed, strings.Join(errs, "; "))
}

// candidates orders the provider chain for one request: the policy's
// preferred provider first, then the rest in configured order.
func (r *Resolver) candidates(preferred string) []Provider {
	if preferred == "" {
		return r.providers
	}
	ordered := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == preferred {
			ordered = append(ordered, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != preferred {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
