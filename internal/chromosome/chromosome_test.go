package chromosome

import (
	"reflect"
	"testing"

	"binlex/internal/disasm"
)

func TestChromosomeS1Example(t *testing.T) {
	// 7-byte AMD64 block, operand memory span at byte 3 (both nibbles):
	// 4c 8b 47 08 49 8b c0 -> pattern "4c8b47??498bc0".
	c := Chromosome{
		Pattern: "4c8b47??498bc0",
		Bytes:   []byte{0x4c, 0x8b, 0x47, 0x08, 0x49, 0x8b, 0xc0},
	}

	wantFeature := []Gene{4, 12, 8, 11, 4, 7, 4, 9, 8, 11, 12, 0}
	if got := c.Feature(); !reflect.DeepEqual(got, wantFeature) {
		t.Fatalf("Feature() = %v, want %v", got, wantFeature)
	}

	normalized := c.Normalize()
	if len(normalized) != 6 {
		t.Fatalf("len(Normalize()) = %d, want 6", len(normalized))
	}
	want := []byte{0x4c, 0x8b, 0x47, 0x49, 0x8b, 0xc0}
	if !reflect.DeepEqual(normalized, want) {
		t.Fatalf("Normalize() = %x, want %x", normalized, want)
	}
}

func TestBuildConcatenatesInOrder(t *testing.T) {
	instrs := []disasm.Instruction{
		{Address: 0x1000, Bytes: []byte{0x48, 0x83, 0xec, 0x20}, Signature: "4883ec??"},
		{Address: 0x1004, Bytes: []byte{0xc3}, Signature: "c3"},
	}
	c := Build(instrs)
	if c.Pattern != "4883ec??c3" {
		t.Fatalf("Pattern = %q, want %q", c.Pattern, "4883ec??c3")
	}
	if !reflect.DeepEqual(c.Bytes, []byte{0x48, 0x83, 0xec, 0x20, 0xc3}) {
		t.Fatalf("Bytes = %x, want 4883ec20c3", c.Bytes)
	}
}

func TestNormalizeFullyWildcardedByteIsEmpty(t *testing.T) {
	// A single fully-wildcarded byte normalizes to nothing.
	c := Chromosome{Pattern: "??", Bytes: []byte{0x90}}
	if got := c.Normalize(); len(got) != 0 {
		t.Fatalf("Normalize() = %x, want empty", got)
	}
	if got := c.Feature(); len(got) != 0 {
		t.Fatalf("Feature() = %v, want empty", got)
	}
}
