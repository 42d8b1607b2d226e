// Package seqcache is the frame cache of video sequencer.
//
// Render workers look up frames with Manager.Get and cache everything they produced on miss:
// intermediate stages with PutIfPossible, final frame with Put, and then Link
// intermediates to final, so they are recycled together. Temp entries are scratch
// buffers of one render task, that must be freed with FreeTempCache when task is done.
// Memory pressure controller calls RecycleToFit while IsFull.
//
// Every scene has own cache.Store. Scenes never evict entries of each other,
// but share one memory budget.
package seqcache
