// Package emitter serializes Genome records as NDJSON (one JSON object per
// line) to an output sink, per spec.md §4.7. Grounded on
// _examples/zboralski-unflutter/internal/output/output.go's writeJSON
// (encoding/json, no third-party serializer anywhere in the pack) and
// cmd/unflutter/scan.go's json.NewEncoder(os.Stdout) streaming pattern —
// the teacher already writes one JSON value per Encode call, this package
// just keeps the encoder open across many genomes instead of one.
package emitter

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"binlex/internal/binimage"
	"binlex/internal/chromosome"
	"binlex/internal/walker"
)

// HashSet is the similarity-hash and feature quartet computed by
// internal/hashing, embedded both in a Genome's own Chromosome and at the
// Genome's top level (the chromosome's normalized bytes and the genome's
// raw byte stream are hashed separately, per spec.md §4.6's "per
// chromosome and per raw-bytes stream").
type HashSet struct {
	Entropy *float64 `json:"entropy"`
	SHA256  *string  `json:"sha256"`
	MinHash *string  `json:"minhash"`
	TLSH    *string  `json:"tlsh"`
}

// ChromosomeView is the chromosome sub-object of a Genome. Normalized is
// SPEC_FULL.md's supplemented field: the hex form of Normalize()'s
// nibble-survival/repack collapse, emitted only when
// config.Heuristics.Normalized.Enabled is set — the same bytes every hash
// in HashSet is actually computed over, exposed directly rather than
// left implicit.
type ChromosomeView struct {
	Pattern    string  `json:"pattern"`
	Feature    []int   `json:"feature"`
	Normalized *string `json:"normalized,omitempty"`
	HashSet
}

// Attribute is one entry of a Genome's heterogeneous attributes list.
// Kind is "tag", "file", or "symbol" per spec.md §4.7.
type Attribute struct {
	Kind   string `json:"kind"`
	Value  string `json:"value,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	TLSH   string `json:"tlsh,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// TagAttribute builds a user-supplied tag attribute.
func TagAttribute(value string) Attribute {
	return Attribute{Kind: "tag", Value: value}
}

// FileAttribute builds the input file's own summary attribute, ported
// from Image.file_summary() (spec.md §4.1).
func FileAttribute(sha256 string, tlsh string, size int64) Attribute {
	return Attribute{Kind: "file", SHA256: sha256, TLSH: tlsh, Size: size}
}

// SymbolAttribute builds an optional external symbol annotation.
func SymbolAttribute(name string) Attribute {
	return Attribute{Kind: "symbol", Value: name}
}

// Genome is the full-field emitted record for a block or function, per
// spec.md §6's field schema. Next/To apply to blocks; Blocks applies to
// functions — whichever doesn't apply to a given Type is left at its zero
// value and omitted by omitempty.
type Genome struct {
	Type                 string          `json:"type"`
	Architecture         string          `json:"architecture"`
	Address              uint64          `json:"address"`
	Next                 *uint64         `json:"next,omitempty"`
	To                   []uint64        `json:"to,omitempty"`
	Blocks               []uint64        `json:"blocks,omitempty"`
	Edges                int             `json:"edges"`
	Prologue             bool            `json:"prologue"`
	Conditional          bool            `json:"conditional"`
	Chromosome           *ChromosomeView `json:"chromosome,omitempty"`
	Size                 int             `json:"size"`
	Bytes                string          `json:"bytes"`
	Functions            map[string]int  `json:"functions,omitempty"`
	NumberOfInstructions int             `json:"number_of_instructions"`
	HashSet
	Contiguous bool        `json:"contiguous"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// MinimalGenome is the reduced field set written when --minimal is set:
// architecture, type, address, bytes, size, and nothing else (spec.md
// §4.7).
type MinimalGenome struct {
	Type         string `json:"type"`
	Architecture string `json:"architecture"`
	Address      uint64 `json:"address"`
	Bytes        string `json:"bytes"`
	Size         int    `json:"size"`
}

// Writer is the single-writer-guarded NDJSON sink: a full record is never
// interleaved with another, per spec.md §4.7 and the concurrency model's
// "append to the output writer (brief mutual exclusion)".
type Writer struct {
	mu      sync.Mutex
	enc     *json.Encoder
	minimal bool
}

// NewWriter wraps w. When minimal is true, every Write call downgrades its
// Genome to a MinimalGenome before encoding.
func NewWriter(w io.Writer, minimal bool) *Writer {
	return &Writer{enc: json.NewEncoder(w), minimal: minimal}
}

// Write emits one NDJSON line for g, or its minimal projection.
func (w *Writer) Write(g Genome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.minimal {
		return w.enc.Encode(MinimalGenome{
			Type:         g.Type,
			Architecture: g.Architecture,
			Address:      g.Address,
			Bytes:        g.Bytes,
			Size:         g.Size,
		})
	}
	return w.enc.Encode(g)
}

// BlockGenome builds the full Genome for a walker.Block, with hash sets
// computed by the caller (internal/engine owns the hashing.Config
// wiring) over the block's chromosome and raw bytes respectively.
// featuresEnabled mirrors config.Heuristics.Features.Enabled: when false
// the chromosome's feature vector is left nil (emitted as JSON null),
// matching spec.md §6's "feature (list<int 0..15>|null)".
func BlockGenome(arch binimage.Architecture, b walker.Block, owningFunctions map[string]int, chrom chromosome.Chromosome, featuresEnabled bool, normalizedEnabled bool, chromHashes HashSet, rawHashes HashSet, attrs []Attribute) Genome {
	var feature []int
	if featuresEnabled {
		feature = chrom.Feature()
	}
	var normalized *string
	if normalizedEnabled {
		v := hex.EncodeToString(chrom.Normalize())
		normalized = &v
	}
	g := Genome{
		Type:         "block",
		Architecture: arch.String(),
		Address:      b.Start,
		To:           b.To,
		Edges:        b.Edges,
		Prologue:     b.Prologue,
		Conditional:  b.Conditional,
		Chromosome: &ChromosomeView{
			Pattern:    chrom.Pattern,
			Feature:    feature,
			Normalized: normalized,
			HashSet:    chromHashes,
		},
		Size:                 b.Size,
		Bytes:                hex.EncodeToString(b.Bytes),
		Functions:            owningFunctions,
		NumberOfInstructions: len(b.Instructions),
		HashSet:              rawHashes,
		Contiguous:           true,
		Attributes:           attrs,
	}
	if b.HasNext {
		next := b.Next
		g.Next = &next
	}
	return g
}

// FunctionGenome builds the full Genome for a walker.Function.
func FunctionGenome(arch binimage.Architecture, f walker.Function, size int, bytes []byte, numInstructions int, chrom chromosome.Chromosome, featuresEnabled bool, normalizedEnabled bool, chromHashes HashSet, rawHashes HashSet, attrs []Attribute) Genome {
	var feature []int
	if featuresEnabled {
		feature = chrom.Feature()
	}
	var normalized *string
	if normalizedEnabled {
		v := hex.EncodeToString(chrom.Normalize())
		normalized = &v
	}
	return Genome{
		Type:         "function",
		Architecture: arch.String(),
		Address:      f.Entry,
		Blocks:       f.Blocks,
		Edges:        f.Edges,
		Prologue:     f.Prologue,
		Chromosome: &ChromosomeView{
			Pattern:    chrom.Pattern,
			Feature:    feature,
			Normalized: normalized,
			HashSet:    chromHashes,
		},
		Size:                 size,
		Bytes:                hex.EncodeToString(bytes),
		NumberOfInstructions: numInstructions,
		HashSet:              rawHashes,
		Contiguous:           f.Contiguous,
		Attributes:           attrs,
	}
}

// hexAddr renders va the same way callgraph.nodeName does, so a genome's
// functions map and an --emit-callgraph artifact agree on function
// identity.
func hexAddr(va uint64) string {
	return fmt.Sprintf("0x%x", va)
}

// OwningFunctions builds a block's "functions" map: every function that
// claims this block, each counted once (the walker's ownership rule means
// this is normally a single entry, but the schema is a map to allow for a
// block legitimately belonging to more than one function's reachable set
// under future relaxation of that rule).
func OwningFunctions(blockStart uint64, functions []walker.Function) map[string]int {
	out := map[string]int{}
	for _, f := range functions {
		for _, b := range f.Blocks {
			if b == blockStart {
				out[hexAddr(f.Entry)]++
			}
		}
	}
	return out
}
