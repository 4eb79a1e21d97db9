// Command binlex extracts, hashes, and emits trait signatures from a
// native executable binary, streaming one NDJSON genome record per valid
// block/function, per spec.md §6. Grounded on
// _examples/zboralski-unflutter/cmd/unflutter/main.go and
// cmd/unflutter/scan.go's flag.NewFlagSet-based single-command shape —
// the teacher's own dispatch table collapses here to one pipeline
// instead of many Dart-specific subcommands.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"binlex/internal/config"
	"binlex/internal/engine"
	"binlex/internal/logging"

	"github.com/zboralski/lattice"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("binlex", flag.ContinueOnError)
	fs.Usage = func() { usage(fs) }

	input := fs.String("input", "", "path to the binary to analyze (required)")
	output := fs.String("output", "", "output path for NDJSON genomes (default stdout)")
	configPath := fs.String("config", "", "path to a binlex.toml config file")
	threads := fs.Int("threads", 0, "worker thread count (0 = use config default)")
	tags := fs.String("tags", "", "comma-separated k:v tag list attached to every genome")
	minimal := fs.Bool("minimal", false, "emit the reduced minimal field set")
	debug := fs.Bool("debug", false, "enable debug logging to stderr")
	disableHashing := fs.Bool("disable-hashing", false, "disable sha256/tlsh/minhash computation")
	disableSweep := fs.Bool("disable-disassembler-sweep", false, "disable the linear sweep pass")
	disableHeuristics := fs.Bool("disable-heuristics", false, "disable feature/entropy computation")
	enableMmapCache := fs.Bool("enable-mmap-cache", false, "cache the flattened image under mmap-directory")
	mmapDirectory := fs.String("mmap-directory", "", "override the image cache directory")
	emitCallGraph := fs.Bool("emit-callgraph", false, "also write a supplemental call graph")
	callGraphOutput := fs.String("callgraph-output", "", "output path for the call graph (default <output>.callgraph.json)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *input == "" {
		fmt.Fprintln(os.Stderr, "binlex: --input is required")
		usage(fs)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "binlex: %v\n", err)
		return 1
	}

	applyFlags(&cfg, flagOverrides{
		input:             *input,
		output:            *output,
		threads:           *threads,
		tags:              *tags,
		minimal:           *minimal,
		debug:             *debug,
		disableHashing:    *disableHashing,
		disableSweep:      *disableSweep,
		disableHeuristics: *disableHeuristics,
		enableMmapCache:   *enableMmapCache,
		mmapDirectory:     *mmapDirectory,
	})

	logger := logging.New(cfg.General.Debug)

	out, closeOut, err := openOutput(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "binlex: %v\n", err)
		return 1
	}
	defer closeOut()

	var hints engine.Hints
	if engine.StdinHasFunctionHints() {
		hints = engine.ReadFunctionHints(os.Stdin)
	}

	eng := engine.New(cfg, logger)
	cancel := &engine.Cancellation{}
	result, err := eng.Run(out, hints, *emitCallGraph, cancel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "binlex: %v\n", err)
		return 1
	}

	if *emitCallGraph && result.CallGraph != nil {
		if err := writeCallGraph(result.CallGraph, *callGraphOutput, *output); err != nil {
			fmt.Fprintf(os.Stderr, "binlex: %v\n", err)
			return 1
		}
	}

	logger.Debugf("emitted %d genomes (%d blocks, %d functions)", result.GenomeCount, len(result.Blocks), len(result.Functions))
	return 0
}

// loadConfig reads path if given, else the platform default config path,
// writing the documented default file on first run, per spec.md §6.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath, err := config.DefaultPath()
	if err != nil {
		return config.Default(), nil
	}
	if _, statErr := os.Stat(defaultPath); statErr != nil {
		if err := config.WriteDefault(defaultPath); err != nil {
			return config.Config{}, fmt.Errorf("write default config: %w", err)
		}
		return config.Default(), nil
	}
	return config.Load(defaultPath)
}

type flagOverrides struct {
	input             string
	output            string
	threads           int
	tags              string
	minimal           bool
	debug             bool
	disableHashing    bool
	disableSweep      bool
	disableHeuristics bool
	enableMmapCache   bool
	mmapDirectory     string
}

func applyFlags(cfg *config.Config, o flagOverrides) {
	cfg.General.Input = o.input
	cfg.General.Output = o.output
	if o.threads > 0 {
		cfg.General.Threads = o.threads
	}
	if o.tags != "" {
		cfg.General.Tags = strings.Split(o.tags, ",")
	}
	if o.minimal {
		cfg.General.Minimal = true
	}
	if o.debug {
		cfg.General.Debug = true
	}
	if o.disableHashing {
		cfg.Hashing.SHA256.Enabled = false
		cfg.Hashing.TLSH.Enabled = false
		cfg.Hashing.MinHash.Enabled = false
	}
	if o.disableSweep {
		cfg.Disassembler.Sweep.Enabled = false
	}
	if o.disableHeuristics {
		cfg.Heuristics.Features.Enabled = false
		cfg.Heuristics.Normalized.Enabled = false
		cfg.Heuristics.Entropy.Enabled = false
	}
	if o.enableMmapCache {
		cfg.Mmap.Cache.Enabled = true
	}
	if o.mmapDirectory != "" {
		cfg.Mmap.Directory = o.mmapDirectory
	}
}

// openOutput returns stdout when path is empty, else a truncated file
// opened for writing; the returned closer is always safe to call.
func openOutput(path string) (*os.File, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// writeCallGraph serializes g as indented JSON to explicitPath, or
// <outputPath>.callgraph.json when explicitPath is empty and outputPath
// is a real file (stdout output has no natural sibling path, so an
// unspecified callgraph path there falls back to "callgraph.json" in the
// current directory).
func writeCallGraph(g *lattice.Graph, explicitPath, outputPath string) error {
	path := explicitPath
	if path == "" {
		switch outputPath {
		case "":
			path = "callgraph.json"
		default:
			path = outputPath + ".callgraph.json"
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create callgraph output %s: %w", path, err)
	}
	defer f.Close()
	return writeJSON(f, g)
}

// writeJSON mirrors
// _examples/zboralski-unflutter/internal/output/output.go's writeJSON:
// an indented json.Encoder, no third-party serializer.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "binlex — binary trait extraction engine")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  binlex --input <path> [--output <path>] [flags]")
	fmt.Fprintln(os.Stderr)
	fs.PrintDefaults()
}
