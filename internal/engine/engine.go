// Package engine orchestrates a single run: load the image, grow the
// control-flow graph, and fan out chromosome/hash computation and NDJSON
// emission over a worker pool, per spec.md §5's scheduling model. Grounded
// on _examples/zboralski-unflutter/cmd/unflutter/scan.go's top-level
// load-then-process driver shape, generalized from a single-shot CLI
// subcommand into a reusable package the cmd/binlex front-end calls into.
package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"binlex/internal/binimage"
	"binlex/internal/callgraph"
	"binlex/internal/chromosome"
	"binlex/internal/config"
	"binlex/internal/disasm"
	"binlex/internal/emitter"
	"binlex/internal/graph"
	"binlex/internal/hashing"
	"binlex/internal/logging"
	"binlex/internal/walker"

	"github.com/zboralski/lattice"
)

// Cancellation is the cooperative shared flag the concurrency model's
// design notes call for in place of thread interruption: the emit workers
// check Cancelled() before each work unit and skip the remaining units
// rather than being killed mid-task.
type Cancellation struct {
	flag atomic.Bool
}

// Cancel requests that the engine stop at the next opportunity.
func (c *Cancellation) Cancel() { c.flag.Store(true) }

// Cancelled reports whether Cancel has been called. A nil receiver is
// never cancelled, so callers that don't care about cancellation can pass
// a nil *Cancellation.
func (c *Cancellation) Cancelled() bool {
	return c != nil && c.flag.Load()
}

// functionHint is one line of the optional NDJSON stdin stream (spec.md
// §6): additional fields are ignored by json.Unmarshal's default
// unknown-field tolerance.
type functionHint struct {
	Type    string `json:"type"`
	Address uint64 `json:"address"`
	Name    string `json:"name"`
}

// Hints is the parsed form of the optional stdin NDJSON stream: seed
// addresses to walk from, plus any name each hint carried, keyed by
// address for the per-genome symbol attribute lookup in attrsFor.
type Hints struct {
	Addresses []uint64
	Names     map[uint64]string
}

// Engine runs the extraction pipeline for one input file against one
// Config.
type Engine struct {
	Config config.Config
	Logger *logging.Logger
}

// New builds an Engine.
func New(cfg config.Config, logger *logging.Logger) *Engine {
	return &Engine{Config: cfg, Logger: logger}
}

// Result is what Run hands back once the walk and emission pass
// (partial or complete) finish.
type Result struct {
	Blocks      []walker.Block
	Functions   []walker.Function
	CallGraph   *lattice.Graph
	GenomeCount int
}

// Run loads the configured input, grows its control-flow graph, and
// streams one genome per valid block/function to out. hints supplies
// additional function seed addresses read from stdin by the caller
// (cmd/binlex owns deciding whether stdin is piped). emitCallGraph, when
// true, also materializes the supplemental call graph for the caller to
// serialize separately.
func (e *Engine) Run(out io.Writer, hints Hints, emitCallGraph bool, cancel *Cancellation) (*Result, error) {
	img, err := binimage.Load(e.Config.General.Input, e.Config, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: load image: %w", err)
	}
	defer img.Close()

	fileAttr := e.fileAttribute(img)

	g := graph.New()
	sweep := e.Config.Disassembler.Sweep.Enabled
	w := walker.New(img, g, e.Config.General.Threads, sweep)

	seeds := append([]uint64(nil), img.Entrypoints...)
	seeds = append(seeds, hints.Addresses...)

	blocks, functions := w.Run(seeds)

	if cancel.Cancelled() {
		e.Logger.Warnf("cancelled before emission; skipping %d blocks, %d functions already materialized", len(blocks), len(functions))
	}

	writer := emitter.NewWriter(out, e.Config.General.Minimal)
	count, err := e.emitAll(writer, img.Architecture, blocks, functions, fileAttr, hints.Names, cancel)
	if err != nil {
		return nil, err
	}

	result := &Result{Blocks: blocks, Functions: functions, GenomeCount: count}
	if emitCallGraph {
		result.CallGraph = callgraph.Build(blocks, functions)
	}
	return result, nil
}

// fileAttribute builds the input file's own summary attribute (spec.md
// §4.1's file_summary, emitted as a genome attribute per §4.7), reading
// the whole flattened image once.
func (e *Engine) fileAttribute(img *binimage.Image) emitter.Attribute {
	data, _ := img.ReadVA(img.Base, int(img.Len()))
	tlshHex, _ := hashing.TLSHHex(data, e.Config.Hashing.TLSH.MinimumByteSize)
	return emitter.FileAttribute(img.SHA256, tlshHex, img.FileSize)
}

// emitAll fans the post-pass work (chromosome + hash computation, then
// NDJSON encode) out over Config.General.Threads workers. Work units are
// independent blocks/functions, matching spec.md §5's "post-pass tasks
// that build block/function chromosomes and hashes" work-unit
// description; the worklist here is a plain channel rather than the
// walker's own worklist/termination-barrier, since post-pass work is a
// fixed, already-known set with no further discovery to coordinate.
func (e *Engine) emitAll(w *emitter.Writer, arch binimage.Architecture, blocks []walker.Block, functions []walker.Function, fileAttr emitter.Attribute, symbols map[uint64]string, cancel *Cancellation) (int, error) {
	tags := make([]emitter.Attribute, 0, len(e.Config.General.Tags)+1)
	for _, tag := range e.Config.General.Tags {
		tags = append(tags, emitter.TagAttribute(tag))
	}
	tags = append(tags, fileAttr)

	threads := e.Config.General.Threads
	if threads < 1 {
		threads = 1
	}

	type unit func() error
	units := make(chan unit, threads*2)
	var count int64
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex

	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			for u := range units {
				if cancel.Cancelled() {
					continue
				}
				if err := u(); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}

	for _, b := range blocks {
		b := b
		units <- func() error {
			return e.emitBlock(w, arch, b, functions, e.attrsFor(b.Start, tags, symbols))
		}
	}
	for _, f := range functions {
		f := f
		units <- func() error {
			return e.emitFunction(w, arch, f, blocks, e.attrsFor(f.Entry, tags, symbols))
		}
	}
	close(units)
	wg.Wait()

	if firstErr != nil {
		return int(count), fmt.Errorf("engine: emit: %w", firstErr)
	}
	return int(count), nil
}

// attrsFor appends a symbol attribute to base when a stdin hint named the
// genome at va, per SPEC_FULL.md's per-genome symbol attribute supplement.
func (e *Engine) attrsFor(va uint64, base []emitter.Attribute, symbols map[uint64]string) []emitter.Attribute {
	name, ok := symbols[va]
	if !ok {
		return base
	}
	return append(append([]emitter.Attribute(nil), base...), emitter.SymbolAttribute(name))
}

func (e *Engine) emitBlock(w *emitter.Writer, arch binimage.Architecture, b walker.Block, functions []walker.Function, attrs []emitter.Attribute) error {
	chrom := chromosome.Build(b.Instructions)
	chromHashes := e.buildHashSet(chrom.Normalize())
	rawHashes := e.buildHashSet(b.Bytes)
	owning := emitter.OwningFunctions(b.Start, functions)
	genome := emitter.BlockGenome(arch, b, owning, chrom, e.Config.Heuristics.Features.Enabled, e.Config.Heuristics.Normalized.Enabled, chromHashes, rawHashes, attrs)
	return w.Write(genome)
}

func (e *Engine) emitFunction(w *emitter.Writer, arch binimage.Architecture, f walker.Function, blocks []walker.Block, attrs []emitter.Attribute) error {
	byStart := make(map[uint64]walker.Block, len(blocks))
	for _, b := range blocks {
		byStart[b.Start] = b
	}

	var instrs []disasm.Instruction
	var raw []byte
	for _, start := range f.Blocks {
		b, ok := byStart[start]
		if !ok {
			continue
		}
		instrs = append(instrs, b.Instructions...)
		raw = append(raw, b.Bytes...)
	}

	chrom := chromosome.Build(instrs)
	chromHashes := e.buildHashSet(chrom.Normalize())
	rawHashes := e.buildHashSet(raw)
	genome := emitter.FunctionGenome(arch, f, len(raw), raw, len(instrs), chrom, e.Config.Heuristics.Features.Enabled, e.Config.Heuristics.Normalized.Enabled, chromHashes, rawHashes, attrs)
	return w.Write(genome)
}

// buildHashSet applies the Hashing/Heuristics enable flags and size
// bounds from e.Config to data, per spec.md §4.6. A disabled or
// out-of-bound pipeline leaves its field nil, which the emitter encodes
// as JSON null.
func (e *Engine) buildHashSet(data []byte) emitter.HashSet {
	var hs emitter.HashSet
	if e.Config.Heuristics.Entropy.Enabled {
		v := hashing.Entropy(data)
		hs.Entropy = &v
	}
	if e.Config.Hashing.SHA256.Enabled {
		v := hashing.SHA256Hex(data)
		hs.SHA256 = &v
	}
	if e.Config.Hashing.TLSH.Enabled {
		if v, ok := hashing.TLSHHex(data, e.Config.Hashing.TLSH.MinimumByteSize); ok {
			hs.TLSH = &v
		}
	}
	if e.Config.Hashing.MinHash.Enabled {
		if v, ok := hashing.MinHashHex(data, e.Config.Hashing.MinHash); ok {
			hs.MinHash = &v
		}
	}
	return hs
}

// ReadFunctionHints parses stdin (or any reader of the same NDJSON shape)
// into function seed addresses and any names they carried, ignoring
// malformed lines rather than aborting the run — an unparsable hint is no
// worse than no hint.
func ReadFunctionHints(r io.Reader) Hints {
	hints := Hints{Names: map[uint64]string{}}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var hint functionHint
		if err := json.Unmarshal(scanner.Bytes(), &hint); err != nil {
			continue
		}
		if hint.Type != "function" {
			continue
		}
		hints.Addresses = append(hints.Addresses, hint.Address)
		if hint.Name != "" {
			hints.Names[hint.Address] = hint.Name
		}
	}
	return hints
}

// StdinHasFunctionHints reports whether stdin looks piped rather than an
// interactive terminal, mirroring
// _examples/other_examples/Dhruvchaudhary255-reverse__root.go's
// os.Stdin.Stat()-based pipe detection.
func StdinHasFunctionHints() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}
