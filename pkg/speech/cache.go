package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// CacheKeyVersion prefixes every cache key so a future key scheme can
// coexist with artifacts written by this one.
const CacheKeyVersion = "v1"

// CacheKey derives the deterministic content address for a synthesis
// request. Identical text, voice, and speed always map to the same key;
// speed is normalized to two decimals so 1.5 and 1.50 collide.
func CacheKey(text, voice string, speed float64) string {
	input := fmt.Sprintf("%s|%s|%.2f", text, voice, speed)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%s_%s", CacheKeyVersion, hex.EncodeToString(hash[:]))
}

// artifactMeta is one entry in the cache index.
type artifactMeta struct {
	Text      string    `json:"text"`
	Voice     string    `json:"voice"`
	Speed     float64   `json:"speed"`
	AudioFile string    `json:"audio_file"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Hits      int64     `json:"hits"`
}

// ArtifactCache is a content-addressed audio cache owned by a single
// provider. Artifacts live as files in the cache directory next to a
// JSON index; writes go through a temp file and rename so a crash never
// leaves a half-written artifact behind a valid key.
type ArtifactCache struct {
	mu        sync.RWMutex
	dir       string
	ext       string
	index     map[string]*artifactMeta
	indexFile string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewArtifactCache opens or creates the cache at dir. ext is the audio
// file extension the owning provider produces, e.g. "wav".
func NewArtifactCache(dir, ext string) (*ArtifactCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	c := &ArtifactCache{
		dir:       dir,
		ext:       ext,
		index:     make(map[string]*artifactMeta),
		indexFile: filepath.Join(dir, "cache_index.json"),
	}

	// A missing or corrupted index just means a cold cache.
	if data, err := os.ReadFile(c.indexFile); err == nil {
		if err := json.Unmarshal(data, &c.index); err != nil {
			c.index = make(map[string]*artifactMeta)
		}
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *ArtifactCache) Dir() string {
	return c.dir
}

// Lookup returns the artifact path for key, or ErrCacheMiss. The
// artifact file must still exist; a dangling index entry is dropped
// and counted as a miss.
func (c *ArtifactCache) Lookup(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.index[key]
	if !ok {
		c.misses.Add(1)
		return "", fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	path := filepath.Join(c.dir, meta.AudioFile)
	if _, err := os.Stat(path); err != nil {
		delete(c.index, key)
		c.misses.Add(1)
		return "", fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}

	meta.Hits++
	c.hits.Add(1)
	return path, nil
}

// Store writes audio under key and returns the artifact path. The
// request metadata is recorded in the index for inspection.
func (c *ArtifactCache) Store(key string, audio []byte, req Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	audioFile := fmt.Sprintf("%s.%s", key, c.ext)
	path := filepath.Join(c.dir, audioFile)

	tmp, err := os.CreateTemp(c.dir, "artifact-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	c.index[key] = &artifactMeta{
		Text:      req.Text,
		Voice:     req.Voice,
		Speed:     req.Options.Speed,
		AudioFile: audioFile,
		Size:      int64(len(audio)),
		CreatedAt: time.Now(),
	}
	if err := c.saveIndex(); err != nil {
		return "", err
	}
	return path, nil
}

// Clear removes all artifacts and resets the index.
func (c *ArtifactCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, meta := range c.index {
		_ = os.Remove(filepath.Join(c.dir, meta.AudioFile))
	}
	c.index = make(map[string]*artifactMeta)
	return c.saveIndex()
}

// Counters returns lifetime hit and miss counts.
func (c *ArtifactCache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// saveIndex persists the index. Caller holds the lock.
func (c *ArtifactCache) saveIndex() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache index: %w", err)
	}
	if err := os.WriteFile(c.indexFile, data, 0o600); err != nil {
		return fmt.Errorf("save cache index: %w", err)
	}
	return nil
}
