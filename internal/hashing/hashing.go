// Package hashing computes the similarity-hash and feature pipeline of
// spec.md §4.6 — sha256, tlsh, minhash, and Shannon entropy — over a
// chromosome's normalized bytes. Every pipeline degrades to a nil result
// rather than an error when its input falls outside a configured size
// bound, per spec.md §7's "hashing errors ... never fatal" rule.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/glaslos/tlsh"

	"binlex/internal/config"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TLSHHex returns the TLSH fuzzy-hash digest of data, or ("", false) when
// data is shorter than minimumByteSize — mirroring
// original_source/src/models/hashing/tlsh.rs's TLSH::hexdigest, which
// returns None below its own configured floor rather than calling into the
// underlying library (which has a fixed internal minimum of its own and
// would otherwise just return its own error).
func TLSHHex(data []byte, minimumByteSize int) (string, bool) {
	if len(data) < minimumByteSize {
		return "", false
	}
	h, err := tlsh.HashBytes(data)
	if err != nil {
		return "", false
	}
	return h.String(), true
}

// Entropy computes the Shannon entropy, in bits, of data's byte
// distribution, ported from _examples/1xayd-xAVy/analyzer/binary_analyzer.go's
// calculateBytesEntropy.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	ent := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		ent -= p * math.Log2(p)
	}
	return ent
}

// MinHashConfig is the subset of config.Hashing.MinHash needed to compute a
// MinHash digest, passed explicitly so callers outside internal/config
// don't need the whole tree.
type MinHashConfig struct {
	NumberOfHashes  int
	ShingleSize     int
	MaximumByteSize int
	Seed            uint64
}

func minHashConfigFrom(cfg config.MinHash) MinHashConfig {
	return MinHashConfig{
		NumberOfHashes:  cfg.NumberOfHashes,
		ShingleSize:     cfg.ShingleSize,
		MaximumByteSize: cfg.MaximumByteSize,
		Seed:            cfg.Seed,
	}
}

// MinHashHex computes cfg.NumberOfHashes 32-bit MinHash values over
// cfg.ShingleSize-byte shingles of data, returning ("", false) when data is
// longer than cfg.MaximumByteSize (small inputs are the interesting case
// for chromosome similarity; spec.md's maximum_byte_size bound exists to
// keep MinHash meaningful rather than diluted over large runs) or shorter
// than a single shingle.
func MinHashHex(data []byte, cfg config.MinHash) (string, bool) {
	return minHashHex(data, minHashConfigFrom(cfg))
}
