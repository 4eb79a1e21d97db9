package walker

import "binlex/internal/disasm"

// Block is a maximal straight-line instruction run materialized from the
// Graph: it always starts at a leader address (an entrypoint, a branch or
// call target, or the fall-through address after a block-ending
// instruction) and always ends at a block-ending instruction or at the
// address immediately before the next leader.
type Block struct {
	Start        uint64
	Next         uint64
	HasNext      bool
	To           []uint64
	Calls        []uint64
	Edges        int
	Conditional  bool
	Prologue     bool
	Size         int
	Bytes        []byte
	Instructions []disasm.Instruction
}

// formBlocks performs the classic leaders/partition pass: scan every
// published instruction address in ascending order, start a new block
// whenever the address is a recorded leader or isn't contiguous with the
// previous instruction's end, and close the current block whenever its
// last instruction ends a block (see endsBlock).
func (w *Walker) formBlocks() []Block {
	addrs := w.Graph.InstructionAddresses()

	var blocks []Block
	var cur *Block
	var prevEnd uint64
	havePrev := false
	prevEndedBlock := false

	flush := func() {
		if cur == nil || len(cur.Instructions) == 0 {
			return
		}
		last := cur.Instructions[len(cur.Instructions)-1]
		cur.Size = len(cur.Bytes)
		if last.Edges.HasFallThrough {
			cur.Next = last.Edges.FallThrough
			cur.HasNext = true
		}
		if last.Edges.HasTaken {
			cur.To = []uint64{last.Edges.Taken}
		}
		if last.Edges.HasCallTarget {
			cur.Calls = []uint64{last.Edges.CallTarget}
		}
		edges := len(cur.To)
		if cur.HasNext {
			edges++
		}
		cur.Edges = edges
		cur.Conditional = last.Class == disasm.ClassConditionalBranch
		cur.Prologue = cur.Instructions[0].IsPrologue
		blocks = append(blocks, *cur)
		cur = nil
	}

	for _, a := range addrs {
		inst, ok := w.Graph.InstructionAt(a)
		if !ok {
			continue
		}
		contiguous := havePrev && prevEnd == a && !prevEndedBlock
		if cur == nil || w.leaders.has(a) || !contiguous {
			flush()
			cur = &Block{Start: a}
		}
		cur.Instructions = append(cur.Instructions, inst)
		cur.Bytes = append(cur.Bytes, inst.Bytes...)
		prevEnd = a + uint64(inst.Size())
		havePrev = true
		prevEndedBlock = endsBlock(inst)
	}
	flush()

	return blocks
}
