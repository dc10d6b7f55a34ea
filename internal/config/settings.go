package config

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// SettingsStore persists runtime settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
}

// SettingsCache serves runtime settings from memory, reloading from the
// store once the TTL has elapsed. Safe for concurrent use.
type SettingsCache struct {
	store SettingsStore
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	cached   *model.Settings
	loadedAt time.Time
}

// NewSettingsCache creates a cache over store. A non-positive ttl disables
// caching.
func NewSettingsCache(store SettingsStore, ttl time.Duration) *SettingsCache {
	return &SettingsCache{store: store, ttl: ttl, now: time.Now}
}

// Get returns the current settings.
func (c *SettingsCache) Get(ctx context.Context) (model.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.ttl > 0 && c.now().Sub(c.loadedAt) < c.ttl {
		return *c.cached, nil
	}

	s, err := c.store.GetSettings(ctx)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "config: load settings")
	}
	out := s.WithDefaults()
	c.cached = &out
	c.loadedAt = c.now()
	return out, nil
}

// Set saves settings and refreshes the cached copy.
func (c *SettingsCache) Set(ctx context.Context, s model.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.SaveSettings(ctx, s); err != nil {
		return eris.Wrap(err, "config: save settings")
	}
	out := s.WithDefaults()
	c.cached = &out
	c.loadedAt = c.now()
	return nil
}

// Invalidate forces the next Get to reload from the store.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}
