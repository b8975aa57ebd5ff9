package backbone

// Controller owns the key/value cache lifecycle across every block of a
// backbone. Blocks never toggle their own caching state during a run; the
// engine drives all of them in lockstep through this type so the
// "disabled after every run" invariant holds even on failure paths.
//
// The cache batch dimension must always equal the batch dimension of the
// next Forward input. Expand, Select and DuplicateForGuidance exist so beam
// forking, beam pruning and CFG re-doubling can keep the two in sync;
// getting this wrong is a programming error and panics inside the blocks.
type Controller struct {
	blocks []Block
}

// NewController wraps the given blocks.
func NewController(blocks []Block) *Controller {
	return &Controller{blocks: blocks}
}

// Enable switches every block into append-mode attention.
func (c *Controller) Enable() {
	for _, b := range c.blocks {
		b.KVCaching(true)
	}
}

// Disable reverts every block to stateless attention and clears its cache.
// It is safe to call repeatedly.
func (c *Controller) Disable() {
	for _, b := range c.blocks {
		b.KVCaching(false)
		b.ResetCache()
	}
}

// Expand repeats every cached sample factor times along the batch axis
// (beam forking).
func (c *Controller) Expand(factor int) {
	for _, b := range c.blocks {
		b.ExpandCache(factor)
	}
}

// Select gathers a subset of cached samples along the batch axis
// (beam pruning).
func (c *Controller) Select(idx []int) {
	for _, b := range c.blocks {
		b.SelectCache(idx)
	}
}

// DuplicateForGuidance tiles the whole cached batch by two, restoring the
// conditional/unconditional doubling after a prune.
func (c *Controller) DuplicateForGuidance() {
	for _, b := range c.blocks {
		b.DuplicateCacheBatch()
	}
}

// Enabled reports whether every block is currently caching.
func (c *Controller) Enabled() bool {
	for _, b := range c.blocks {
		if !b.CachingEnabled() {
			return false
		}
	}
	return len(c.blocks) > 0
}

// Len returns the cached position count of the first block. All blocks
// advance in lockstep, so one is representative.
func (c *Controller) Len() int {
	if len(c.blocks) == 0 {
		return 0
	}
	return c.blocks[0].CacheLen()
}
