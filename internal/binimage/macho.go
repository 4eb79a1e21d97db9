package binimage

import (
	"debug/macho"
	"fmt"
	"io"
)

// vmProtExecute is VM_PROT_EXECUTE from <mach/vm_prot.h>; debug/macho
// surfaces Segment.Prot as a raw uint32 with no named constant for it.
const vmProtExecute = 0x4

// lcMain and lcUnixThread are the raw load command values for
// LC_MAIN/LC_UNIXTHREAD. debug/macho's parser only special-cases the load
// commands it has typed structs for (segments, dylib, symtab, rpath); both
// of these fall through to its default case and are kept as raw
// macho.LoadBytes, so the entry_point_command / thread_command payloads are
// decoded by hand below.
const (
	lcMain       = 0x80000028
	lcUnixThread = 0x5
)

// buildMachO flattens a Mach-O file's LC_SEGMENT/LC_SEGMENT_64 commands
// into a single virtual-address buffer, anchored at the lowest segment
// address, mirroring the ELF loader's approach since debug/macho exposes
// the same Segment/SegmentHeader shape for both 32- and 64-bit images.
func buildMachO(r io.ReaderAt, size int64) (buildResult, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return buildResult{}, fmt.Errorf("binimage: parse macho: %w", err)
	}
	defer f.Close()

	var arch Architecture
	switch f.Cpu {
	case macho.CpuAmd64:
		arch = ArchAMD64
	case macho.Cpu386:
		arch = ArchI386
	default:
		return buildResult{}, fmt.Errorf("%w: macho cpu %s", ErrUnsupportedArch, f.Cpu)
	}

	var segs []*macho.Segment
	base := ^uint64(0)
	var top uint64
	for _, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		segs = append(segs, seg)
		if seg.Addr < base {
			base = seg.Addr
		}
		if end := seg.Addr + seg.Memsz; end > top {
			top = end
		}
	}
	if len(segs) == 0 {
		return buildResult{}, fmt.Errorf("binimage: macho: no segment commands")
	}

	buf := make([]byte, top-base)
	var executable []Range
	for _, seg := range segs {
		data, err := seg.Data()
		if err != nil {
			return buildResult{}, fmt.Errorf("binimage: macho: read segment %q: %w", seg.Name, err)
		}
		copy(buf[seg.Addr-base:], data)
		if seg.Prot&vmProtExecute != 0 {
			executable = append(executable, Range{Start: seg.Addr, End: seg.Addr + seg.Memsz})
		}
	}

	entry, ok := machoEntrypoint(f, segs)
	entrypoints := []uint64{}
	if ok {
		entrypoints = append(entrypoints, entry)
	} else if len(executable) > 0 {
		entrypoints = append(entrypoints, executable[0].Start)
	}

	return buildResult{
		architecture: arch,
		base:         base,
		bytes:        buf,
		entrypoints:  dedupUint64(entrypoints),
		executable:   executable,
	}, nil
}

// machoEntrypoint looks for LC_MAIN first (entryoff is a file offset,
// resolved to a VA via the segment whose file range contains it), falling
// back to LC_UNIXTHREAD's saved instruction pointer register for images
// built before LC_MAIN existed.
func machoEntrypoint(f *macho.File, segs []*macho.Segment) (uint64, bool) {
	for _, l := range f.Loads {
		raw, ok := l.(macho.LoadBytes)
		if !ok || len(raw) < 16 {
			continue
		}
		cmd := f.ByteOrder.Uint32(raw[0:4])
		switch cmd {
		case lcMain:
			entryoff := f.ByteOrder.Uint64(raw[8:16])
			for _, seg := range segs {
				if entryoff >= seg.Offset && entryoff < seg.Offset+seg.Filesz {
					return seg.Addr + (entryoff - seg.Offset), true
				}
			}
		case lcUnixThread:
			if ip, ok := unixThreadIP(f, raw); ok {
				return ip, true
			}
		}
	}
	return 0, false
}

// unixThreadIP decodes the flavor-tagged register dump of an
// LC_UNIXTHREAD command for the two flavors relevant in scope:
// x86_THREAD_STATE (i386, flavor 1) and x86_THREAD_STATE64 (amd64,
// flavor 4). The dump is cmd(4) cmdsize(4) flavor(4) count(4) followed by
// the flavor's register struct; IP/RIP is the 11th 32-bit word for the
// 32-bit state and the 17th 64-bit word for the 64-bit state.
func unixThreadIP(f *macho.File, raw []byte) (uint64, bool) {
	const header = 16
	if len(raw) < header+4 {
		return 0, false
	}
	flavor := f.ByteOrder.Uint32(raw[8:12])
	body := raw[header:]
	switch flavor {
	case 1: // x86_THREAD_STATE
		const ipWord = 10
		off := ipWord * 4
		if len(body) < off+4 {
			return 0, false
		}
		return uint64(f.ByteOrder.Uint32(body[off:])), true
	case 4: // x86_THREAD_STATE64
		const ipWord = 16
		off := ipWord * 8
		if len(body) < off+8 {
			return 0, false
		}
		return f.ByteOrder.Uint64(body[off:]), true
	default:
		return 0, false
	}
}
