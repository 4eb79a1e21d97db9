package walker

import (
	"binlex/internal/disasm"
	"binlex/internal/graph"
)

// sweepOnce scans every executable byte not already covered by a published
// instruction and attempts to decode it. A successful decode is pushed onto
// wl exactly like a recursive-descent discovery (so its own edges get
// walked in the following drain); addresses already holding a published
// instruction are stepped over by that instruction's size, a decode whose
// bytes would run over the start of a published instruction is discarded
// (the sweep moves on one byte), and any decode whose address collides
// with an existing instruction is silently dropped by
// Graph.UpsertInstruction's no-op semantics, so walker-decoded
// instructions always win over a conflicting sweep decode. A block head
// that looks like a function prologue is promoted to a function seed, per
// "block heads with a prologue match ... are promoted to function seeds."
//
// It returns whether it discovered anything new, so Run can repeat the
// drain/sweep cycle until a fixed point.
func (w *Walker) sweepOnce(wl *worklist) bool {
	discovered := false
	overlapsPublished := func(va uint64, size int) bool {
		for k := 1; k < size; k++ {
			if w.Graph.IsInstructionAddress(va + uint64(k)) {
				return true
			}
		}
		return false
	}
	for _, rng := range w.Image.Executable {
		va := rng.Start
		for va < rng.End {
			if existing, ok := w.Graph.InstructionAt(va); ok {
				size := existing.Size()
				if size < 1 {
					size = 1
				}
				va += uint64(size)
				continue
			}
			inst, ok := disasm.Decode(w.Image, va)
			if !ok || overlapsPublished(va, inst.Size()) {
				va++
				continue
			}
			inst.IsPrologue = disasm.IsPrologue(w.Image, va)
			if w.Graph.UpsertInstruction(inst) == graph.Already {
				va += uint64(inst.Size())
				continue
			}

			discovered = true
			if inst.IsPrologue {
				if w.functionSeeds.add(va) {
					w.leaders.add(va)
				}
			}
			wl.push(va)
			va += uint64(inst.Size())
		}
	}
	return discovered
}
