package speech

import "strings"

// Tier buckets a donation by amount for voice selection.
type Tier string

// Donation tiers, highest first.
const (
	TierVIP      Tier = "vip"
	TierPremium  Tier = "premium"
	TierDefault  Tier = "default"
)

// Tier thresholds in dollars, inclusive.
const (
	VIPThreshold     = 100.0
	PremiumThreshold = 25.0
)

// VoiceSettings selects a voice and speaking rate, and optionally a
// preferred provider to try first.
type VoiceSettings struct {
	Provider string  `mapstructure:"provider" yaml:"provider"`
	Voice    string  `mapstructure:"voice" yaml:"voice"`
	Speed    float64 `mapstructure:"speed" yaml:"speed"`
}

// VoicePolicy maps donors and donation tiers to voice settings.
// Per-user overrides win over tier settings.
type VoicePolicy struct {
	Tiers map[Tier]VoiceSettings   `mapstructure:"tiers" yaml:"tiers"`
	Users map[string]VoiceSettings `mapstructure:"users" yaml:"users"`
}

// DefaultVoicePolicy returns the built-in tier mapping with no user
// overrides.
func DefaultVoicePolicy() VoicePolicy {
	return VoicePolicy{
		Tiers: map[Tier]VoiceSettings{
			TierVIP:      {Voice: "en-us-premium", Speed: 0.95},
			TierPremium:  {Voice: "en-us-warm", Speed: 1.0},
			TierDefault: {Voice: "en-us", Speed: 1.0},
		},
		Users: map[string]VoiceSettings{},
	}
}

// TierFor buckets an amount. Thresholds are inclusive.
func TierFor(amount float64) Tier {
	switch {
	case amount >= VIPThreshold:
		return TierVIP
	case amount >= PremiumThreshold:
		return TierPremium
	default:
		return TierDefault
	}
}

// Resolve picks the voice settings for a donor and amount: a per-user
// override when one exists, otherwise the donor's tier settings,
// otherwise the default tier, otherwise zero settings (provider
// defaults).
func (p VoicePolicy) Resolve(username string, amount float64) VoiceSettings {
	name := strings.TrimSpace(username)
	if settings, ok := p.Users[name]; ok {
		return settings
	}
	// Override keys match case-insensitively.
	for user, settings := range p.Users {
		if strings.EqualFold(user, name) {
			return settings
		}
	}
	if settings, ok := p.Tiers[TierFor(amount)]; ok {
		return settings
	}
	if settings, ok := p.Tiers[TierDefault]; ok {
		return settings
	}
	return VoiceSettings{Speed: 1.0}
}
