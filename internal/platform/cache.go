package platform

import (
	"context"
	"sync"
	"time"

	"github.com/mj1618/smartscript/internal/model"
)

// CachingChannel serves snapshots from a TTL cache. Any Perform invalidates
// the cached snapshot, since actions change the screen.
type CachingChannel struct {
	DeviceChannel

	mu        sync.Mutex
	snap      *model.Snapshot
	timestamp time.Time
	ttl       time.Duration
}

// NewCachingChannel wraps ch. A ttl of 0 disables caching.
func NewCachingChannel(ch DeviceChannel, ttl time.Duration) *CachingChannel {
	return &CachingChannel{DeviceChannel: ch, ttl: ttl}
}

// CaptureSnapshot returns the cached snapshot if within TTL, otherwise
// captures a fresh one.
func (c *CachingChannel) CaptureSnapshot(ctx context.Context) (*model.Snapshot, error) {
	if c.ttl == 0 {
		return c.DeviceChannel.CaptureSnapshot(ctx)
	}

	c.mu.Lock()
	if c.snap != nil && time.Since(c.timestamp) < c.ttl {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	snap, err := c.DeviceChannel.CaptureSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snap = snap
	c.timestamp = time.Now()
	c.mu.Unlock()
	return snap, nil
}

// Perform invalidates the cache and forwards the action.
func (c *CachingChannel) Perform(ctx context.Context, action Action) (ActionOutcome, error) {
	c.Invalidate()
	return c.DeviceChannel.Perform(ctx, action)
}

// CaptureScreenshot forwards to the wrapped channel when it can take screenshots.
func (c *CachingChannel) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if s, ok := c.DeviceChannel.(Screenshotter); ok {
		return s.CaptureScreenshot(ctx)
	}
	return nil, ErrCommandRejected
}

// Invalidate clears the cached snapshot.
func (c *CachingChannel) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = nil
}
