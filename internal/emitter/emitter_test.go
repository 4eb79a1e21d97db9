package emitter

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"binlex/internal/binimage"
	"binlex/internal/chromosome"
	"binlex/internal/walker"
)

func TestWriterEmitsOneLinePerGenome(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	b := walker.Block{Start: 0x1000, Size: 2, Bytes: []byte{0x90, 0xc3}, Edges: 0}
	g := BlockGenome(binimage.ArchAMD64, b, nil, chromosome.Chromosome{Pattern: "90c3", Bytes: b.Bytes}, true, true, HashSet{}, HashSet{}, nil)

	if err := w.Write(g); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(g); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	for _, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		if decoded["type"] != "block" {
			t.Fatalf("type = %v, want block", decoded["type"])
		}
	}
}

func TestNormalizedFieldOmittedUnlessEnabled(t *testing.T) {
	b := walker.Block{Start: 0x1000, Size: 2, Bytes: []byte{0x90, 0xc3}}
	chrom := chromosome.Chromosome{Pattern: "90c3", Bytes: b.Bytes}

	disabled := BlockGenome(binimage.ArchAMD64, b, nil, chrom, true, false, HashSet{}, HashSet{}, nil)
	if disabled.Chromosome.Normalized != nil {
		t.Fatalf("Normalized = %v, want nil when disabled", *disabled.Chromosome.Normalized)
	}

	enabled := BlockGenome(binimage.ArchAMD64, b, nil, chrom, true, true, HashSet{}, HashSet{}, nil)
	if enabled.Chromosome.Normalized == nil {
		t.Fatal("Normalized = nil, want set when enabled")
	}
	want := hex.EncodeToString(chrom.Normalize())
	if *enabled.Chromosome.Normalized != want {
		t.Fatalf("Normalized = %q, want %q", *enabled.Chromosome.Normalized, want)
	}
}

func TestMinimalModeReducesFieldSet(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	b := walker.Block{Start: 0x2000, Size: 1, Bytes: []byte{0xc3}}
	g := BlockGenome(binimage.ArchAMD64, b, nil, chromosome.Chromosome{Pattern: "c3", Bytes: b.Bytes}, true, true, HashSet{}, HashSet{}, nil)

	if err := w.Write(g); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	want := map[string]bool{"type": true, "architecture": true, "address": true, "bytes": true, "size": true}
	if len(decoded) != len(want) {
		t.Fatalf("minimal genome has %d fields, want %d: %v", len(decoded), len(want), decoded)
	}
	for k := range decoded {
		if !want[k] {
			t.Fatalf("unexpected field %q in minimal genome", k)
		}
	}
}

func TestFunctionGenomeUsesBlocksNotNextTo(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	f := walker.Function{Entry: 0x1000, Blocks: []uint64{0x1000, 0x1010}, Contiguous: false}
	g := FunctionGenome(binimage.ArchAMD64, f, 20, []byte{0x90, 0xc3}, 2, chromosome.Chromosome{Pattern: "90c3", Bytes: []byte{0x90, 0xc3}}, true, true, HashSet{}, HashSet{}, nil)

	if err := w.Write(g); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("not valid JSON: %v", err)
	}
	if _, ok := decoded["next"]; ok {
		t.Fatal("function genome should not carry a next field")
	}
	if _, ok := decoded["to"]; ok {
		t.Fatal("function genome should not carry a to field")
	}
	blocks, ok := decoded["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("blocks = %v, want 2 entries", decoded["blocks"])
	}
}

func TestOwningFunctionsMapsBlockToEntry(t *testing.T) {
	functions := []walker.Function{
		{Entry: 0x1000, Blocks: []uint64{0x1000, 0x1010}},
		{Entry: 0x2000, Blocks: []uint64{0x2000}},
	}
	got := OwningFunctions(0x1010, functions)
	if got["0x1000"] != 1 {
		t.Fatalf("OwningFunctions = %v, want {0x1000: 1}", got)
	}
	if len(got) != 1 {
		t.Fatalf("len(OwningFunctions) = %d, want 1", len(got))
	}
}
