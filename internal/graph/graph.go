// Package graph is the concurrent, content-addressed control-flow store
// every decoded instruction is published into. It generalizes the flat
// BTreeMap<u64, Instruction> plus processed/valid/invalid HashSet trio in
// _examples/original_source/src/models/cfg/graph.rs's Graph/GraphQueue into
// a sharded, mutex-per-shard structure multiple walker workers can write to
// concurrently, following the sharded-fine-grained-locking design the
// worker/atomic idiom in flanglet-kanzi-go/v2/io/CompressedStream.go points
// at (a WaitGroup of workers publishing results behind per-slot guards
// rather than one global lock).
package graph

import (
	"sort"
	"sync"

	"binlex/internal/disasm"
)

// shardCount is fixed rather than derived from thread count: it only needs
// to be large enough that concurrent writers rarely collide on the same
// shard, not equal to the worker pool size.
const shardCount = 64

// UpsertResult reports whether an UpsertInstruction call actually inserted
// a new instruction or found one already published at that address.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Already
)

type instructionShard struct {
	mu   sync.RWMutex
	data map[uint64]disasm.Instruction
}

type validityShard struct {
	mu   sync.RWMutex
	data map[uint64]bool
}

// Graph is the control-flow store. Zero value is not usable; construct with
// New.
type Graph struct {
	instructions [shardCount]*instructionShard
	blocks       [shardCount]*validityShard
	functions    [shardCount]*validityShard
}

func New() *Graph {
	g := &Graph{}
	for i := 0; i < shardCount; i++ {
		g.instructions[i] = &instructionShard{data: make(map[uint64]disasm.Instruction)}
		g.blocks[i] = &validityShard{data: make(map[uint64]bool)}
		g.functions[i] = &validityShard{data: make(map[uint64]bool)}
	}
	return g
}

func shardIndex(va uint64) int { return int(va % shardCount) }

// UpsertInstruction publishes inst at its own address, idempotently: a
// second upsert at an address already present is a no-op and reports
// Already, regardless of whether the bytes would differ (the walker never
// decodes the same address twice under normal discipline; sweep relies on
// this no-op behavior to let walker-decoded instructions win over a
// conflicting sweep decode of the same address).
func (g *Graph) UpsertInstruction(inst disasm.Instruction) UpsertResult {
	s := g.instructions[shardIndex(inst.Address)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[inst.Address]; exists {
		return Already
	}
	s.data[inst.Address] = inst
	return Inserted
}

func (g *Graph) IsInstructionAddress(va uint64) bool {
	s := g.instructions[shardIndex(va)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[va]
	return ok
}

func (g *Graph) InstructionAt(va uint64) (disasm.Instruction, bool) {
	s := g.instructions[shardIndex(va)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.data[va]
	return inst, ok
}

// MarkBlockValid flips a block's validity bit. It is idempotent: marking an
// already-valid block again is a no-op, matching the "flips exactly once,
// monotonically" invariant.
func (g *Graph) MarkBlockValid(start uint64) {
	s := g.blocks[shardIndex(start)]
	s.mu.Lock()
	s.data[start] = true
	s.mu.Unlock()
}

func (g *Graph) IsBlockValid(start uint64) bool {
	s := g.blocks[shardIndex(start)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[start]
}

func (g *Graph) MarkFunctionValid(entry uint64) {
	s := g.functions[shardIndex(entry)]
	s.mu.Lock()
	s.data[entry] = true
	s.mu.Unlock()
}

func (g *Graph) IsFunctionValid(entry uint64) bool {
	s := g.functions[shardIndex(entry)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[entry]
}

// InstructionAddresses returns a snapshot of every published instruction
// address, ascending. Concurrent writers may add more after the snapshot is
// taken; callers that need a fixed point should only call this once the
// worklist has drained.
func (g *Graph) InstructionAddresses() []uint64 {
	return snapshotKeys(func(yield func(uint64)) {
		for _, s := range g.instructions {
			s.mu.RLock()
			for k := range s.data {
				yield(k)
			}
			s.mu.RUnlock()
		}
	})
}

func (g *Graph) ValidBlockAddresses() []uint64 {
	return snapshotValidKeys(g.blocks[:])
}

func (g *Graph) ValidFunctionAddresses() []uint64 {
	return snapshotValidKeys(g.functions[:])
}

func snapshotValidKeys(shards []*validityShard) []uint64 {
	return snapshotKeys(func(yield func(uint64)) {
		for _, s := range shards {
			s.mu.RLock()
			for k, valid := range s.data {
				if valid {
					yield(k)
				}
			}
			s.mu.RUnlock()
		}
	})
}

func snapshotKeys(iterate func(yield func(uint64))) []uint64 {
	var out []uint64
	iterate(func(k uint64) { out = append(out, k) })
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports how many instructions have been published so far.
func (g *Graph) Len() int {
	n := 0
	for _, s := range g.instructions {
		s.mu.RLock()
		n += len(s.data)
		s.mu.RUnlock()
	}
	return n
}
