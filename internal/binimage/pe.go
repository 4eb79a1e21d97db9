package binimage

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
)

// buildPE flattens a PE file into a virtual-address image the same way the
// Windows loader would map it: the flattened buffer is sized to
// SizeOfImage, and each section's raw bytes are copied to their
// VirtualAddress offset, leaving the gaps (alignment padding, .bss) zero.
// Architecture follows the COFF machine field; only AMD64 and I386 are in
// scope, and CIL is detected separately from the CLR header below.
func buildPE(r io.ReaderAt, size int64) (buildResult, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return buildResult{}, fmt.Errorf("binimage: parse pe: %w", err)
	}
	defer f.Close()

	var arch Architecture
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		arch = ArchAMD64
	case pe.IMAGE_FILE_MACHINE_I386:
		arch = ArchI386
	default:
		return buildResult{}, fmt.Errorf("%w: pe machine 0x%x", ErrUnsupportedArch, f.Machine)
	}

	var imageBase uint64
	var entry uint64
	var sizeOfImage uint32
	var dataDirs [16]pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase = uint64(oh.ImageBase)
		entry = uint64(oh.AddressOfEntryPoint)
		sizeOfImage = oh.SizeOfImage
		dataDirs = oh.DataDirectory
	case *pe.OptionalHeader64:
		imageBase = oh.ImageBase
		entry = uint64(oh.AddressOfEntryPoint)
		sizeOfImage = oh.SizeOfImage
		dataDirs = oh.DataDirectory
	default:
		return buildResult{}, fmt.Errorf("binimage: pe: no optional header")
	}
	if isDotNet(dataDirs) {
		arch = ArchCIL
	}

	if sizeOfImage == 0 {
		sizeOfImage = uint32(size)
	}
	buf := make([]byte, sizeOfImage)

	var executable []Range
	for _, sect := range f.Sections {
		data, err := sect.Data()
		if err != nil || len(data) == 0 {
			continue
		}
		va := sect.VirtualAddress
		if uint64(va)+uint64(len(data)) > uint64(len(buf)) {
			if uint64(va) >= uint64(len(buf)) {
				continue
			}
			data = data[:uint64(len(buf))-uint64(va)]
		}
		copy(buf[va:], data)
		if sect.Characteristics&(pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_CNT_CODE) != 0 {
			executable = append(executable, Range{
				Start: imageBase + uint64(va),
				End:   imageBase + uint64(va) + uint64(sect.VirtualSize),
			})
		}
	}

	entrypoints := []uint64{imageBase + entry}
	entrypoints = append(entrypoints, exportedEntrypoints(buf, imageBase, dataDirs)...)

	return buildResult{
		architecture: arch,
		base:         imageBase,
		bytes:        buf,
		entrypoints:  dedupUint64(entrypoints),
		executable:   executable,
	}, nil
}

// isDotNet reports whether the COM descriptor data directory (index 14,
// IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR) is populated, which marks the
// image as holding a CLR header and therefore CIL bytecode rather than
// native AMD64/I386 machine code.
func isDotNet(dirs [16]pe.DataDirectory) bool {
	const comDescriptor = 14
	return dirs[comDescriptor].VirtualAddress != 0 && dirs[comDescriptor].Size != 0
}

// exportedEntrypoints hand-parses the IMAGE_EXPORT_DIRECTORY, since stdlib
// debug/pe exposes imported symbols but no export-table API. The export
// directory's AddressOfFunctions array holds function RVAs directly; RVA
// equals an offset into buf because buf[0] corresponds to imageBase.
func exportedEntrypoints(buf []byte, imageBase uint64, dirs [16]pe.DataDirectory) []uint64 {
	const exportDirectoryIndex = 0
	dir := dirs[exportDirectoryIndex]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	if uint64(dir.VirtualAddress)+40 > uint64(len(buf)) {
		return nil
	}

	d := buf[dir.VirtualAddress:]
	numFunctions := binary.LittleEndian.Uint32(d[20:24])
	addressOfFunctions := binary.LittleEndian.Uint32(d[28:32])

	const maxExports = 1 << 20
	if numFunctions > maxExports {
		return nil
	}

	tableOff := uint64(addressOfFunctions)
	tableEnd := tableOff + uint64(numFunctions)*4
	if tableEnd > uint64(len(buf)) {
		return nil
	}

	var out []uint64
	for i := uint32(0); i < numFunctions; i++ {
		rva := binary.LittleEndian.Uint32(buf[tableOff+uint64(i)*4:])
		if rva == 0 {
			continue
		}
		out = append(out, imageBase+uint64(rva))
	}
	return out
}

func dedupUint64(in []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
