package speech_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/donodeck/pkg/speech"
	"github.com/dgnsrekt/donodeck/pkg/speech/mock"
)

// recordingPlayer records played paths without touching real audio.
type recordingPlayer struct {
	mu     sync.Mutex
	played []string
	err    error
}

func (p *recordingPlayer) Play(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.played = append(p.played, path)
	return nil
}

func (p *recordingPlayer) Stop() {}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

func newMock(t *testing.T, name string) *mock.Provider {
	t.Helper()
	p, err := mock.New(name, t.TempDir())
	if err != nil {
		t.Fatalf("mock.New(%s) error = %v", name, err)
	}
	return p
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestResolverFallsThroughToNextProvider(t *testing.T) {
	a := newMock(t, "a")
	b := newMock(t, "b")
	c := newMock(t, "c")
	a.SetFailure(errors.New("backend down"))

	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{a, b, c},
		player, speech.DefaultVoicePolicy(), testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "alice", Message: "hi chat", Amount: 5.00,
	})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if a.CallCount() != 1 {
		t.Errorf("provider a calls = %d, want 1", a.CallCount())
	}
	if b.CallCount() != 1 {
		t.Errorf("provider b calls = %d, want 1", b.CallCount())
	}
	if c.CallCount() != 0 {
		t.Errorf("provider c calls = %d, want 0 (b already won)", c.CallCount())
	}
	if player.count() != 1 {
		t.Errorf("played %d files, want 1", player.count())
	}

	snap := resolver.Stats().Snapshot()
	if snap.PerProvider["b"] != 1 {
		t.Errorf("stats credit b with %d, want 1", snap.PerProvider["b"])
	}
	if snap.Failures != 1 {
		t.Errorf("stats failures = %d, want 1", snap.Failures)
	}
}

func TestResolverSkipsDisabledAndUnavailable(t *testing.T) {
	disabled := newMock(t, "disabled")
	disabled.SetEnabled(false)
	unavailable := newMock(t, "unavailable")
	unavailable.SetAvailable(false)
	healthy := newMock(t, "healthy")

	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{disabled, unavailable, healthy},
		player, speech.DefaultVoicePolicy(), testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "bob", Message: "hello", Amount: 10.00,
	})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if disabled.CallCount() != 0 {
		t.Errorf("disabled provider called %d times, want 0", disabled.CallCount())
	}
	if unavailable.CallCount() != 0 {
		t.Errorf("unavailable provider called %d times, want 0", unavailable.CallCount())
	}
	if healthy.CallCount() != 1 {
		t.Errorf("healthy provider calls = %d, want 1", healthy.CallCount())
	}
}

func TestResolverAllProvidersFailed(t *testing.T) {
	a := newMock(t, "a")
	b := newMock(t, "b")
	a.SetFailure(errors.New("down"))
	b.SetFailure(errors.New("also down"))

	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{a, b},
		player, speech.DefaultVoicePolicy(), testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "carol", Message: "msg", Amount: 1.00,
	})
	if !errors.Is(err, speech.ErrAllProvidersFailed) {
		t.Fatalf("Announce() error = %v, want ErrAllProvidersFailed", err)
	}
	if player.count() != 0 {
		t.Errorf("played %d files after total failure, want 0", player.count())
	}
}

func TestResolverNoProviders(t *testing.T) {
	resolver := speech.NewResolver(nil, &recordingPlayer{}, speech.DefaultVoicePolicy(), testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "dave", Message: "msg", Amount: 1.00,
	})
	if !errors.Is(err, speech.ErrNoProviders) {
		t.Errorf("Announce() error = %v, want ErrNoProviders", err)
	}
}

func TestResolverCacheHitOnRepeat(t *testing.T) {
	provider := newMock(t, "cached")
	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{provider},
		player, speech.DefaultVoicePolicy(), testLogger())

	announcement := speech.Announcement{Username: "erin", Message: "same", Amount: 5.00}
	for i := 0; i < 2; i++ {
		if err := resolver.Announce(context.Background(), announcement); err != nil {
			t.Fatalf("Announce() #%d error = %v", i+1, err)
		}
	}

	snap := resolver.Stats().Snapshot()
	if snap.TotalGenerated != 2 {
		t.Errorf("TotalGenerated = %d, want 2", snap.TotalGenerated)
	}
	if snap.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
	}
	if provider.Cache().Len() != 1 {
		t.Errorf("cache holds %d artifacts, want 1", provider.Cache().Len())
	}
}

func TestSpokenTextTruncation(t *testing.T) {
	long := strings.Repeat("a", 400)
	a := speech.Announcement{Username: "frank", Message: long, Amount: 3.00}

	text := a.SpokenText()
	runes := []rune(text)
	if len(runes) != 251 { // cap plus the ellipsis
		t.Errorf("SpokenText() rune length = %d, want 251", len(runes))
	}
	if !strings.HasSuffix(text, "…") {
		t.Errorf("SpokenText() = %q, want ellipsis suffix", text)
	}
	if !strings.HasPrefix(text, "frank donated 3.00 dollars.") {
		t.Errorf("SpokenText() prefix = %q", text[:40])
	}
}

func TestSpokenTextShortMessage(t *testing.T) {
	a := speech.Announcement{Username: "grace", Message: "gg", Amount: 12.50}
	want := "grace donated 12.50 dollars. gg"
	if got := a.SpokenText(); got != want {
		t.Errorf("SpokenText() = %q, want %q", got, want)
	}
}

func TestResolverPrefersPolicyProvider(t *testing.T) {
	a := newMock(t, "a")
	b := newMock(t, "b")

	policy := speech.VoicePolicy{
		Tiers: map[speech.Tier]speech.VoiceSettings{
			speech.TierDefault: {Provider: "b", Voice: "en-us", Speed: 1.0},
		},
	}

	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{a, b}, player, policy, testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "alice", Message: "hi", Amount: 5.00,
	})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	// b is preferred by policy, so a must never be consulted.
	if b.CallCount() != 1 {
		t.Errorf("preferred provider calls = %d, want 1", b.CallCount())
	}
	if a.CallCount() != 0 {
		t.Errorf("chain-first provider calls = %d, want 0", a.CallCount())
	}
}

func TestResolverPreferredProviderFallsBack(t *testing.T) {
	a := newMock(t, "a")
	b := newMock(t, "b")
	b.SetFailure(errors.New("backend down"))

	policy := speech.VoicePolicy{
		Tiers: map[speech.Tier]speech.VoiceSettings{
			speech.TierDefault: {Provider: "b", Voice: "en-us", Speed: 1.0},
		},
	}

	player := &recordingPlayer{}
	resolver := speech.NewResolver(
		[]speech.Provider{a, b}, player, policy, testLogger())

	err := resolver.Announce(context.Background(), speech.Announcement{
		Username: "alice", Message: "hi", Amount: 5.00,
	})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if b.CallCount() != 1 || a.CallCount() != 1 {
		t.Errorf("calls = a:%d b:%d, want preferred b tried first then a",
			a.CallCount(), b.CallCount())
	}
}

func TestProbe(t *testing.T) {
	p := newMock(t, "a")
	if err := speech.Probe(context.Background(), p); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("probe calls = %d, want 1", p.CallCount())
	}

	// The probe artifact is discarded, so a later request for the same
	// text cannot be served from a leftover probe file.
	result, err := p.Generate(context.Background(), speech.Request{Text: "ok"})
	if err != nil {
		t.Fatalf("Generate() after probe error = %v", err)
	}
	if result.CacheHit {
		t.Error("Generate() after probe = cache hit, want fresh synthesis")
	}

	p.SetFailure(errors.New("backend down"))
	if err := speech.Probe(context.Background(), p); err == nil {
		t.Error("Probe() on failing provider = nil, want error")
	}

	p.ClearFailure()
	p.SetAvailable(false)
	if err := speech.Probe(context.Background(), p); !errors.Is(err, speech.ErrProviderUnavailable) {
		t.Errorf("Probe() on unavailable provider error = %v, want ErrProviderUnavailable", err)
	}
}
