package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the soft limit for cached frame memory.
	// If 0, no limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxRenderWorkers is the maximum number of concurrent frame renders.
	// If 0, defaults to 1.
	MaxRenderWorkers int64
}

// Controller manages global resources (memory, render concurrency).
type Controller struct {
	cfg Config

	memUsed atomic.Int64

	workerSem *semaphore.Weighted
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxRenderWorkers <= 0 {
		cfg.MaxRenderWorkers = 1
	}
	return &Controller{
		cfg:       cfg,
		workerSem: semaphore.NewWeighted(cfg.MaxRenderWorkers),
	}
}

// ChargeMemory accounts bytes as used. It never fails: the limit is soft.
func (c *Controller) ChargeMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.memUsed.Add(bytes)
}

// ReleaseMemory returns charged bytes.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memUsed.Add(-bytes) < 0 {
		panic("released more memory than charged")
	}
}

// Fits reports whether bytes more can be charged without exceeding the limit.
func (c *Controller) Fits(bytes int64) bool {
	if c == nil || c.cfg.MemoryLimitBytes <= 0 {
		return true
	}
	return c.memUsed.Load()+bytes <= c.cfg.MemoryLimitBytes
}

// Full reports whether usage exceeds the limit.
func (c *Controller) Full() bool {
	return !c.Fits(0)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireWorker reserves a render worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workerSem.Acquire(ctx, 1)
}

// TryAcquireWorker attempts to reserve a render worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workerSem.TryAcquire(1)
}

// ReleaseWorker releases a render worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workerSem.Release(1)
}
