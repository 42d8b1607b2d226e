// Package cache provides the sequencer image frame cache of one scene.
//
// A Store maps a Key (strip, render context, frame index, stage, temp task) to a
// reference counted frame Buffer. Store is not LRU: reading an entry never protects
// it from eviction. Recycle evicts the base entry that is cheapest to reproduce,
// oldest created first among equal costs.
//
// * Final stage entries own a chain of intermediate entries (raw, preprocessed,
// composite) that were used to produce them. Chain members are evicted only together
// with their final entry.
// * Temp entries belong to a render task. Recycle never touches them, FreeTempCache
// removes them when the task is done with a frame.
// * Every entry holds exactly one buffer reference. Get returns a buffer with a new
// reference owned by caller, so buffers outlive eviction while they are in use.
//
// Concurrent producers of the same key are not serialized: both render, last Put wins,
// the other buffer reference is released.
package cache
