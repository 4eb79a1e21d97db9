// Package chromosome composes the wildcarded trait pattern for a run of
// instructions — a block's own instructions, or a function's blocks
// concatenated in address order — and derives the normalized byte form the
// hashing pipeline operates over.
//
// Grounded on _examples/original_source/src/models/cfg/signature.rs's
// Signature: pattern() concatenates each instruction's own signature
// string, normalize() collapses out wildcard nibbles and repacks the
// survivors two at a time, and feature() splits the normalized bytes back
// into a flat nibble vector. Gene (one nibble) and AllelePair (two
// consecutive nibbles, i.e. one byte) are named per the glossary as thin
// aliases; the package doesn't need richer types for them since nothing
// else in the pipeline operates on a lone gene in isolation.
package chromosome

import (
	"strings"

	"binlex/internal/disasm"
)

// Gene is one nibble of a chromosome pattern, 0-15.
type Gene = int

// Chromosome is the wildcarded pattern plus raw bytes for one run of
// instructions (a block, or a function's blocks concatenated in address
// order).
type Chromosome struct {
	Pattern string
	Bytes   []byte
}

// Build concatenates each instruction's own hex signature and raw bytes, in
// the order given. Callers are responsible for ordering instrs by address
// (ascending) before calling Build, since pattern/bytes alignment depends
// on it.
func Build(instrs []disasm.Instruction) Chromosome {
	var pattern strings.Builder
	var buf []byte
	for _, in := range instrs {
		pattern.WriteString(in.Signature)
		buf = append(buf, in.Bytes...)
	}
	return Chromosome{Pattern: pattern.String(), Bytes: buf}
}

// Normalize collapses c.Pattern's wildcard ('?') nibbles out of c.Bytes and
// repacks the surviving nibbles two at a time into a dense byte buffer —
// an alignment-insensitive view used as the basis for every hash and for
// Feature. A trailing odd nibble (an odd total survivor count) is dropped,
// matching signature.rs's nibble_count-reaches-2 accumulator, which never
// flushes a half-built byte.
func (c Chromosome) Normalize() []byte {
	pattern := []byte(c.Pattern)
	var out []byte
	var acc byte
	nibbles := 0

	for i, b := range c.Bytes {
		for j, nib := range [2]byte{b >> 4, b & 0x0f} {
			if p := i*2 + j; p < len(pattern) && pattern[p] == '?' {
				continue
			}
			acc = (acc << 4) | nib
			nibbles++
			if nibbles == 2 {
				out = append(out, acc)
				acc, nibbles = 0, 0
			}
		}
	}
	return out
}

// Feature splits Normalize()'s bytes back into a flat nibble sequence,
// matching the S1 example in spec.md: the wildcarded pattern
// "4c8b47??498bc0" yields feature [4,12,8,11,4,7,4,9,8,11,12,0] — exactly
// the pattern's own surviving nibbles read in order, which is what
// Normalize-then-split reproduces.
func (c Chromosome) Feature() []Gene {
	normalized := c.Normalize()
	out := make([]Gene, 0, len(normalized)*2)
	for _, b := range normalized {
		out = append(out, Gene(b>>4), Gene(b&0x0f))
	}
	return out
}
