package audio

import (
	"context"
	"sync"
)

// MockPlayer is a test double that records played paths. An optional
// gate channel makes playback block until released, for exercising
// Stop and cancellation paths.
type MockPlayer struct {
	mu      sync.Mutex
	played  []string
	stopped int
	err     error
	gate    chan struct{}
}

// NewMockPlayer returns a player that finishes playback immediately.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Play records the path and returns the configured error, blocking on
// the gate first when one is set.
func (p *MockPlayer) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	gate := p.gate
	err := p.err
	p.played = append(p.played, path)
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Stop counts the call and releases a pending gated playback.
func (p *MockPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	if p.gate != nil {
		close(p.gate)
		p.gate = nil
	}
}

// SetError makes Play return err.
func (p *MockPlayer) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Block makes the next Play calls wait until Stop or context cancel.
func (p *MockPlayer) Block() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
}

// Played returns a copy of the played paths.
func (p *MockPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// StopCount returns how many times Stop was called.
func (p *MockPlayer) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
