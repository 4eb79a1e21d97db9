package walker

import "sort"

// Function is a rooted sub-graph over blocks, materialized by a
// breadth-first walk from a function seed over fall-through and
// branch-taken edges only — never over call edges, per spec: "a call
// instruction does not contribute its call target to its own function's
// block set."
type Function struct {
	Entry      uint64
	Blocks     []uint64
	Edges      int
	Prologue   bool
	Contiguous bool
}

// formFunctions assigns each block to at most one function. Seeds are
// processed in ascending address order so that when two functions' reach
// overlaps — which recursive-descent discipline should prevent but sweep
// can introduce — the first (lowest-address) seed claims the block and
// later seeds stop there rather than re-claiming it.
func (w *Walker) formFunctions(blocks []Block) []Function {
	byStart := make(map[uint64]Block, len(blocks))
	for _, b := range blocks {
		byStart[b.Start] = b
	}
	owner := make(map[uint64]uint64, len(blocks))

	var functions []Function
	for _, seed := range w.functionSeeds.sorted() {
		if _, ok := byStart[seed]; !ok {
			continue // seed never reached a decoded block (dead call target, bad hint)
		}
		if _, claimed := owner[seed]; claimed {
			continue
		}

		var members []uint64
		queue := []uint64{seed}
		owner[seed] = seed
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			b, ok := byStart[cur]
			if !ok {
				continue
			}
			members = append(members, cur)

			next := make([]uint64, 0, 1+len(b.To))
			if b.HasNext {
				next = append(next, b.Next)
			}
			next = append(next, b.To...)
			for _, n := range next {
				if _, taken := owner[n]; taken {
					continue
				}
				owner[n] = seed
				queue = append(queue, n)
			}
		}

		functions = append(functions, Function{
			Entry:      seed,
			Blocks:     sortedUint64(members),
			Edges:      sumEdges(members, byStart),
			Prologue:   byStart[seed].Prologue,
			Contiguous: isContiguous(members, byStart),
		})
	}
	return functions
}

func sumEdges(starts []uint64, byStart map[uint64]Block) int {
	n := 0
	for _, s := range starts {
		n += byStart[s].Edges
	}
	return n
}

// isContiguous implements the SPEC_FULL decision for the "contiguous"
// function flag: true iff the union of block byte ranges forms one
// uninterrupted [minAddr,maxAddr) span with no gap between consecutive
// blocks sorted by address.
func isContiguous(starts []uint64, byStart map[uint64]Block) bool {
	sorted := sortedUint64(starts)
	for i := 1; i < len(sorted); i++ {
		prev := byStart[sorted[i-1]]
		if prev.Start+uint64(prev.Size) != sorted[i] {
			return false
		}
	}
	return true
}

func sortedUint64(in []uint64) []uint64 {
	out := append([]uint64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
