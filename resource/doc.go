// Package resource implements the process-wide resource controller of the frame cache.
//
// The Controller manages two resource types:
//
//   - Memory: bytes held by cached frame buffers across all scenes. Charging never
//     fails, since temp entries must be stored for render correctness; Full and Fits
//     tell callers when to recycle.
//   - Render workers: a weighted semaphore bounding concurrent frame renders.
//
// # Memory Management
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB of cached frames
//	})
//
//	for !rc.Fits(buf.Size()) && store.Recycle() {
//	}
//	rc.ChargeMemory(buf.Size())
//	defer rc.ReleaseMemory(buf.Size())
//
// # Render Workers
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err // context canceled
//	}
//	defer rc.ReleaseWorker()
//
// All methods are safe on a nil *Controller, which behaves as unlimited.
package resource
