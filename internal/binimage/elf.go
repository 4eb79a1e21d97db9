package binimage

import (
	"debug/elf"
	"fmt"
	"io"
)

// buildELF flattens an ELF file's PT_LOAD segments into a single
// virtual-address buffer anchored at the lowest segment Vaddr, reusing the
// offset math internal/elfx already uses for libapp.so files (VAToFileOffset
// generalized here into a straight segment copy instead of a single lookup).
// EM_X86_64/EM_386 are the only machines in scope; anything else is
// rejected rather than silently misdecoded downstream.
func buildELF(r io.ReaderAt) (buildResult, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return buildResult{}, fmt.Errorf("binimage: parse elf: %w", err)
	}
	defer f.Close()

	var arch Architecture
	switch f.Machine {
	case elf.EM_X86_64:
		arch = ArchAMD64
	case elf.EM_386:
		arch = ArchI386
	default:
		return buildResult{}, fmt.Errorf("%w: elf machine %s", ErrUnsupportedArch, f.Machine)
	}

	var loads []*elf.Prog
	base := ^uint64(0)
	var top uint64
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		loads = append(loads, p)
		if p.Vaddr < base {
			base = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; end > top {
			top = end
		}
	}
	if len(loads) == 0 {
		return buildResult{}, fmt.Errorf("binimage: elf: no PT_LOAD segments")
	}

	buf := make([]byte, top-base)
	var executable []Range
	for _, p := range loads {
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil && err != io.EOF {
			return buildResult{}, fmt.Errorf("binimage: elf: read segment at 0x%x: %w", p.Vaddr, err)
		}
		copy(buf[p.Vaddr-base:], data)
		if p.Flags&elf.PF_X != 0 {
			executable = append(executable, Range{Start: p.Vaddr, End: p.Vaddr + p.Memsz})
		}
	}

	entrypoints := []uint64{f.Entry}
	entrypoints = append(entrypoints, functionSymbolEntrypoints(f)...)

	return buildResult{
		architecture: arch,
		base:         base,
		bytes:        buf,
		entrypoints:  dedupUint64(entrypoints),
		executable:   executable,
	}, nil
}

// functionSymbolEntrypoints collects STT_FUNC symbols from both the static
// and dynamic symbol tables, tolerating the common case of a stripped
// binary where either table (or both) is absent.
func functionSymbolEntrypoints(f *elf.File) []uint64 {
	var out []uint64
	collect := func(syms []elf.Symbol) {
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			out = append(out, s.Value)
		}
	}
	if syms, err := f.Symbols(); err == nil {
		collect(syms)
	}
	if syms, err := f.DynamicSymbols(); err == nil {
		collect(syms)
	}
	return out
}
