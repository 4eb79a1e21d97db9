// Package walker grows a graph.Graph from a set of seed addresses:
// recursive-descent expansion through fall-through, taken-branch, and
// call-target edges, followed by block and function formation passes, and
// an optional linear sweep of unreached executable bytes fed back into the
// same worklist until fixed point.
//
// The worklist/processed/valid bookkeeping is grounded on GraphQueue in
// _examples/original_source/src/models/cfg/graph.rs (queue + processed set
// + valid set), generalized here into a concurrent worker pool draining a
// shared worklist, per spec's work-stealing-queue-with-termination-barrier
// design note; the block/function leader-partition algorithm is the
// teacher's own three-pass approach (previously in internal/disasm/cfg.go,
// before that file was retired as ARM64/Dart-specific), rebuilt here against
// the architecture-neutral disasm.Instruction/Edges types.
package walker

import (
	"sync"

	"binlex/internal/binimage"
	"binlex/internal/disasm"
	"binlex/internal/graph"
)

// Walker grows a single Graph from a single Image.
type Walker struct {
	Image   *binimage.Image
	Graph   *graph.Graph
	Threads int
	Sweep   bool

	leaders       *addrSet
	functionSeeds *addrSet
}

func New(img *binimage.Image, g *graph.Graph, threads int, sweep bool) *Walker {
	if threads < 1 {
		threads = 1
	}
	return &Walker{
		Image:         img,
		Graph:         g,
		Threads:       threads,
		Sweep:         sweep,
		leaders:       newAddrSet(),
		functionSeeds: newAddrSet(),
	}
}

// Run drains the worklist seeded with seeds (the image's own entrypoints
// plus any externally supplied function hints), forms blocks and functions,
// and — when w.Sweep is set — repeats after a linear sweep pass until no
// further instructions are discovered. It marks every formed block and
// function valid in w.Graph before returning the materialized views.
func (w *Walker) Run(seeds []uint64) ([]Block, []Function) {
	wl := newWorklist()
	for _, s := range seeds {
		w.leaders.add(s)
		w.functionSeeds.add(s)
		wl.push(s)
	}
	w.drain(wl)

	blocks := w.formBlocks()
	functions := w.formFunctions(blocks)

	if w.Sweep {
		for w.sweepOnce(wl) {
			w.drain(wl)
		}
		blocks = w.formBlocks()
		functions = w.formFunctions(blocks)
	}

	for _, b := range blocks {
		w.Graph.MarkBlockValid(b.Start)
	}
	for _, f := range functions {
		w.Graph.MarkFunctionValid(f.Entry)
	}

	return blocks, functions
}

func (w *Walker) drain(wl *worklist) {
	var wg sync.WaitGroup
	wg.Add(w.Threads)
	for i := 0; i < w.Threads; i++ {
		go func() {
			defer wg.Done()
			for {
				va, ok := wl.popOrDone()
				if !ok {
					return
				}
				w.step(va, wl)
				wl.done()
			}
		}()
	}
	wg.Wait()
}

// endsBlock reports whether inst is a point past which no same-block
// instruction can follow: either disasm's own terminator classes (ret,
// indirect/unconditional/conditional branch, invalid), or a call — which
// the Data Model lists alongside branch/ret as ending a block, even though
// it isn't a dead end and the walker still decodes its own fall-through
// address as the start of the next block in the same function.
func endsBlock(inst disasm.Instruction) bool {
	return inst.IsTerminator() || inst.Class == disasm.ClassCall
}

// step decodes va (if not already published), publishes it, and enqueues
// whatever its edges reach. Call targets are tracked as function seeds —
// the walker never folds a call target into the current straight-line
// run — but they're still pushed onto the same worklist so their own bytes
// get decoded.
func (w *Walker) step(va uint64, wl *worklist) {
	if w.Graph.IsInstructionAddress(va) {
		return
	}
	if !w.Image.IsExecutable(va) {
		return
	}
	inst, ok := disasm.Decode(w.Image, va)
	if !ok {
		return
	}
	inst.IsPrologue = disasm.IsPrologue(w.Image, va)
	if w.Graph.UpsertInstruction(inst) != graph.Inserted {
		return
	}

	if inst.Edges.HasFallThrough {
		if endsBlock(inst) {
			w.leaders.add(inst.Edges.FallThrough)
		}
		wl.push(inst.Edges.FallThrough)
	}
	if inst.Edges.HasTaken {
		w.leaders.add(inst.Edges.Taken)
		wl.push(inst.Edges.Taken)
	}
	if inst.Edges.HasCallTarget {
		w.leaders.add(inst.Edges.CallTarget)
		w.functionSeeds.add(inst.Edges.CallTarget)
		wl.push(inst.Edges.CallTarget)
	}
}
