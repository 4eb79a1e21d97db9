package hashing

import (
	"strings"
	"testing"
)

func TestSHA256HexKnownAnswer(t *testing.T) {
	// sha256("") = e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
	got := SHA256Hex(nil)
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("SHA256Hex(nil) = %s, want %s", got, want)
	}
}

func TestTLSHBelowMinimumByteSizeReturnsFalse(t *testing.T) {
	if _, ok := TLSHHex([]byte{0x01, 0x02, 0x03}, 256); ok {
		t.Fatal("expected TLSHHex to decline below minimumByteSize")
	}
}

func TestEntropyOfUniformBytesIsZero(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = 0x41
	}
	if got := Entropy(data); got != 0 {
		t.Fatalf("Entropy(uniform) = %v, want 0", got)
	}
}

func TestEntropyOfEmptyIsZero(t *testing.T) {
	if got := Entropy(nil); got != 0 {
		t.Fatalf("Entropy(nil) = %v, want 0", got)
	}
}

func TestEntropyOfByteRampIsMaximal(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	got := Entropy(data)
	if got < 7.999 || got > 8.0 {
		t.Fatalf("Entropy(0..255) = %v, want ~8.0", got)
	}
}

func TestMinHashIsReproducibleForSameSeed(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated for shingles")
	cfg := MinHashConfig{NumberOfHashes: 8, ShingleSize: 4, MaximumByteSize: 4096, Seed: 42}

	got1, ok1 := minHashHex(data, cfg)
	got2, ok2 := minHashHex(data, cfg)
	if !ok1 || !ok2 {
		t.Fatalf("minHashHex ok = (%v, %v), want (true, true)", ok1, ok2)
	}
	if got1 != got2 {
		t.Fatalf("minHashHex not reproducible: %s != %s", got1, got2)
	}
	if len(got1) != 8*4*2 {
		t.Fatalf("len(digest) = %d, want %d", len(got1), 8*4*2)
	}
}

func TestMinHashDiffersForDifferentSeed(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated for shingles")
	cfgA := MinHashConfig{NumberOfHashes: 8, ShingleSize: 4, MaximumByteSize: 4096, Seed: 1}
	cfgB := MinHashConfig{NumberOfHashes: 8, ShingleSize: 4, MaximumByteSize: 4096, Seed: 2}

	gotA, _ := minHashHex(data, cfgA)
	gotB, _ := minHashHex(data, cfgB)
	if gotA == gotB {
		t.Fatal("expected different seeds to produce different digests")
	}
}

func TestMinHashRejectsShorterThanShingle(t *testing.T) {
	cfg := MinHashConfig{NumberOfHashes: 4, ShingleSize: 16, MaximumByteSize: 4096, Seed: 7}
	if _, ok := minHashHex([]byte("short"), cfg); ok {
		t.Fatal("expected minHashHex to decline input shorter than ShingleSize")
	}
}

func TestMinHashRejectsOverMaximumByteSize(t *testing.T) {
	cfg := MinHashConfig{NumberOfHashes: 4, ShingleSize: 4, MaximumByteSize: 4, Seed: 7}
	if _, ok := minHashHex([]byte("longer than four bytes"), cfg); ok {
		t.Fatal("expected minHashHex to decline input over MaximumByteSize")
	}
}

func TestMinHashHexLowercase(t *testing.T) {
	cfg := MinHashConfig{NumberOfHashes: 2, ShingleSize: 4, MaximumByteSize: 256, Seed: 99}
	got, ok := minHashHex([]byte("abcdefgh"), cfg)
	if !ok {
		t.Fatal("expected minHashHex to succeed")
	}
	if got != strings.ToLower(got) {
		t.Fatalf("minHashHex digest %q is not lowercase", got)
	}
}
