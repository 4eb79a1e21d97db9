package graph

import (
	"sync"
	"testing"

	"binlex/internal/disasm"
)

func TestUpsertInstructionIsIdempotent(t *testing.T) {
	g := New()
	first := disasm.Instruction{Address: 0x1000, Bytes: []byte{0x90}}
	second := disasm.Instruction{Address: 0x1000, Bytes: []byte{0xc3}}

	if r := g.UpsertInstruction(first); r != Inserted {
		t.Fatalf("first upsert = %v, want Inserted", r)
	}
	if r := g.UpsertInstruction(second); r != Already {
		t.Fatalf("second upsert = %v, want Already", r)
	}

	got, ok := g.InstructionAt(0x1000)
	if !ok {
		t.Fatal("expected instruction at 0x1000")
	}
	if got.Bytes[0] != 0x90 {
		t.Fatalf("winning instruction bytes = %x, want the first upsert's bytes", got.Bytes)
	}
}

func TestConcurrentUpsertIsDisjoint(t *testing.T) {
	g := New()
	const n = 2000

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(addr uint64) {
			defer wg.Done()
			g.UpsertInstruction(disasm.Instruction{Address: addr, Bytes: []byte{0x90}})
		}(uint64(i))
	}
	wg.Wait()

	if g.Len() != n {
		t.Fatalf("Len() = %d, want %d", g.Len(), n)
	}
	addrs := g.InstructionAddresses()
	if len(addrs) != n {
		t.Fatalf("len(InstructionAddresses()) = %d, want %d", len(addrs), n)
	}
	for i, a := range addrs {
		if a != uint64(i) {
			t.Fatalf("InstructionAddresses()[%d] = %d, want ascending order", i, a)
		}
	}
}

func TestMarkValidIsMonotonicAndIdempotent(t *testing.T) {
	g := New()
	if g.IsBlockValid(0x2000) {
		t.Fatal("block should not be valid before marking")
	}
	g.MarkBlockValid(0x2000)
	g.MarkBlockValid(0x2000)
	if !g.IsBlockValid(0x2000) {
		t.Fatal("block should be valid after marking")
	}

	g.MarkFunctionValid(0x2000)
	if !g.IsFunctionValid(0x2000) {
		t.Fatal("function should be valid after marking")
	}

	blocks := g.ValidBlockAddresses()
	if len(blocks) != 1 || blocks[0] != 0x2000 {
		t.Fatalf("ValidBlockAddresses() = %v, want [0x2000]", blocks)
	}
}
