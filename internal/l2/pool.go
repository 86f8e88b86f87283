package l2

import "sync"

// batchPool recycles UpdatePooled structs (and their backing delta
// slices) across parse cycles so a steady-state ingestion loop does not
// allocate per message. Capacity is retained across Clear/Release so the
// slice grows geometrically exactly once per symbol's steady-state depth
// and then stays put.
var batchPool = sync.Pool{
	New: func() any {
		return &UpdatePooled{deltas: make([]Delta, 0, 32)}
	},
}

const defaultInitialCapacity = 32
