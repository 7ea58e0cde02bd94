package speech

import "errors"

// Resolver and provider errors.
var (
	// ErrEmptyText is returned when a synthesis request carries no text.
	ErrEmptyText = errors.New("speech: empty text")

	// ErrNoProviders is returned when the resolver has no providers
	// configured at all.
	ErrNoProviders = errors.New("speech: no providers configured")

	// ErrAllProvidersFailed is returned when every enabled provider was
	// tried and none produced audio.
	ErrAllProvidersFailed = errors.New("speech: all providers failed")

	// ErrProviderUnavailable is returned by a provider whose runtime
	// dependencies are missing.
	ErrProviderUnavailable = errors.New("speech: provider unavailable")

	// ErrCacheMiss is returned by the artifact cache when no artifact
	// exists for a key.
	ErrCacheMiss = errors.New("speech: cache miss")
)
