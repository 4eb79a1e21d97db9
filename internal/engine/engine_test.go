package engine

import (
	"strings"
	"testing"

	"binlex/internal/config"
	"binlex/internal/emitter"
)

func TestCancellationNilIsNeverCancelled(t *testing.T) {
	var c *Cancellation
	if c.Cancelled() {
		t.Fatal("nil Cancellation reported cancelled")
	}
}

func TestCancellationCancelThenCancelled(t *testing.T) {
	c := &Cancellation{}
	if c.Cancelled() {
		t.Fatal("fresh Cancellation reported cancelled")
	}
	c.Cancel()
	if !c.Cancelled() {
		t.Fatal("Cancelled() false after Cancel()")
	}
}

func TestReadFunctionHintsParsesAddressAndName(t *testing.T) {
	in := strings.NewReader(`{"type":"function","address":4096,"name":"main"}
{"type":"function","address":8192}
not json
{"type":"other","address":1}
`)
	hints := ReadFunctionHints(in)

	if len(hints.Addresses) != 2 {
		t.Fatalf("Addresses = %v, want 2 entries", hints.Addresses)
	}
	if hints.Addresses[0] != 4096 || hints.Addresses[1] != 8192 {
		t.Fatalf("Addresses = %v, want [4096 8192]", hints.Addresses)
	}
	if hints.Names[4096] != "main" {
		t.Fatalf("Names[4096] = %q, want main", hints.Names[4096])
	}
	if _, ok := hints.Names[8192]; ok {
		t.Fatal("unnamed hint should not appear in Names")
	}
}

func TestAttrsForAppendsSymbolOnlyOnMatch(t *testing.T) {
	e := &Engine{}
	base := []emitter.Attribute{emitter.TagAttribute("family:test")}
	symbols := map[uint64]string{4096: "main"}

	withSymbol := e.attrsFor(4096, base, symbols)
	if len(withSymbol) != 2 {
		t.Fatalf("len(withSymbol) = %d, want 2", len(withSymbol))
	}
	if withSymbol[1].Kind != "symbol" || withSymbol[1].Value != "main" {
		t.Fatalf("withSymbol[1] = %+v, want symbol/main", withSymbol[1])
	}

	withoutSymbol := e.attrsFor(8192, base, symbols)
	if len(withoutSymbol) != 1 {
		t.Fatalf("len(withoutSymbol) = %d, want 1", len(withoutSymbol))
	}

	if len(base) != 1 {
		t.Fatalf("base mutated: %+v", base)
	}
}

func TestBuildHashSetRespectsDisabledToggles(t *testing.T) {
	cfg := config.Default()
	cfg.Heuristics.Entropy.Enabled = false
	cfg.Hashing.SHA256.Enabled = false
	cfg.Hashing.TLSH.Enabled = false
	cfg.Hashing.MinHash.Enabled = false

	e := &Engine{Config: cfg}
	hs := e.buildHashSet([]byte{0x90, 0xc3, 0x90, 0xc3})

	if hs.Entropy != nil || hs.SHA256 != nil || hs.TLSH != nil || hs.MinHash != nil {
		t.Fatalf("HashSet = %+v, want all nil", hs)
	}
}

func TestBuildHashSetPopulatesEnabledFields(t *testing.T) {
	cfg := config.Default()
	cfg.Hashing.TLSH.Enabled = false
	cfg.Hashing.MinHash.Enabled = false

	e := &Engine{Config: cfg}
	hs := e.buildHashSet([]byte("the quick brown fox jumps over the lazy dog"))

	if hs.Entropy == nil {
		t.Fatal("Entropy = nil, want set")
	}
	if hs.SHA256 == nil || *hs.SHA256 == "" {
		t.Fatalf("SHA256 = %v, want a hex digest", hs.SHA256)
	}
	if hs.TLSH != nil {
		t.Fatalf("TLSH = %v, want nil (disabled)", hs.TLSH)
	}
}
