package meter

// dedupIndex tracks which dedup keys have been counted, partitioned by the
// owning block's start (unix seconds) so a block eviction reclaims its keys
// in the same sweep. Touched only from the aggregation worker.
type dedupIndex struct {
	byBlock map[int64]map[string]struct{}
}

func newDedupIndex() *dedupIndex {
	return &dedupIndex{byBlock: make(map[int64]map[string]struct{})}
}

func (d *dedupIndex) Seen(blockStart int64, key string) bool {
	keys, ok := d.byBlock[blockStart]
	if !ok {
		return false
	}
	_, seen := keys[key]
	return seen
}

// Mark records the key. Marking twice is a no-op after the first.
func (d *dedupIndex) Mark(blockStart int64, key string) {
	keys, ok := d.byBlock[blockStart]
	if !ok {
		keys = make(map[string]struct{})
		d.byBlock[blockStart] = keys
	}
	keys[key] = struct{}{}
}

// EvictBlock drops every key belonging to the given block partition.
func (d *dedupIndex) EvictBlock(blockStart int64) {
	delete(d.byBlock, blockStart)
}

// Partitions returns the block starts that currently hold keys.
func (d *dedupIndex) Partitions() []int64 {
	starts := make([]int64, 0, len(d.byBlock))
	for start := range d.byBlock {
		starts = append(starts, start)
	}
	return starts
}

func (d *dedupIndex) Len() int {
	n := 0
	for _, keys := range d.byBlock {
		n += len(keys)
	}
	return n
}
