package binimage

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"binlex/internal/config"
	"binlex/internal/logging"
)

// buildSyntheticELF64 writes a minimal, but fully parseable, ELF64 x86-64
// executable: an ELF header, one PT_LOAD program header, and the code
// bytes that segment maps, matching the little-endian field layout
// debug/elf.NewFile expects.
func buildSyntheticELF64(t *testing.T, vaddr uint64, code []byte) string {
	t.Helper()

	const (
		ehdrSize = 64
		phdrSize = 56
	)
	codeOff := uint64(ehdrSize + phdrSize)

	buf := make([]byte, codeOff+uint64(len(code)))

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	binary.LittleEndian.PutUint16(buf[16:18], 2)                 // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 62)                // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)                 // e_version
	binary.LittleEndian.PutUint64(buf[24:32], vaddr)              // e_entry
	binary.LittleEndian.PutUint64(buf[32:40], ehdrSize)           // e_phoff
	binary.LittleEndian.PutUint64(buf[40:48], 0)                  // e_shoff
	binary.LittleEndian.PutUint32(buf[48:52], 0)                  // e_flags
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)           // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)           // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)                  // e_phnum
	binary.LittleEndian.PutUint16(buf[58:60], 0)                  // e_shentsize
	binary.LittleEndian.PutUint16(buf[60:62], 0)                  // e_shnum
	binary.LittleEndian.PutUint16(buf[62:64], 0)                  // e_shstrndx

	phdr := buf[ehdrSize : ehdrSize+phdrSize]
	binary.LittleEndian.PutUint32(phdr[0:4], 1)                  // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(phdr[4:8], 5)                  // p_flags = PF_X|PF_R
	binary.LittleEndian.PutUint64(phdr[8:16], codeOff)           // p_offset
	binary.LittleEndian.PutUint64(phdr[16:24], vaddr)            // p_vaddr
	binary.LittleEndian.PutUint64(phdr[24:32], vaddr)            // p_paddr
	binary.LittleEndian.PutUint64(phdr[32:40], uint64(len(code))) // p_filesz
	binary.LittleEndian.PutUint64(phdr[40:48], uint64(len(code))) // p_memsz
	binary.LittleEndian.PutUint64(phdr[48:56], 0x1000)           // p_align

	copy(buf[codeOff:], code)

	path := filepath.Join(t.TempDir(), "sample.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write synthetic elf: %v", err)
	}
	return path
}

func TestLoadSyntheticELF(t *testing.T) {
	const vaddr = 0x400000
	code := []byte{0x55, 0x48, 0x89, 0xe5, 0xc3} // push rbp; mov rbp,rsp; ret
	path := buildSyntheticELF64(t, vaddr, code)

	img, err := Load(path, config.Default(), logging.New(false))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer img.Close()

	if img.Format != FormatELF {
		t.Fatalf("Format = %v, want FormatELF", img.Format)
	}
	if img.Architecture != ArchAMD64 {
		t.Fatalf("Architecture = %v, want ArchAMD64", img.Architecture)
	}
	if img.Base != vaddr {
		t.Fatalf("Base = 0x%x, want 0x%x", img.Base, vaddr)
	}
	if len(img.Entrypoints) == 0 || img.Entrypoints[0] != vaddr {
		t.Fatalf("Entrypoints = %v, want first entry 0x%x", img.Entrypoints, vaddr)
	}
	if !img.IsExecutable(vaddr) {
		t.Fatal("expected entrypoint VA to be executable")
	}

	got, ok := img.ReadVA(vaddr, len(code))
	if !ok {
		t.Fatal("ReadVA failed at entrypoint")
	}
	if string(got) != string(code) {
		t.Fatalf("ReadVA = % x, want % x", got, code)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notabinary")
	if err := os.WriteFile(path, []byte("definitely not a PE, ELF, or Mach-O file"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path, config.Default(), logging.New(false))
	if err == nil {
		t.Fatal("expected error for unrecognized format")
	}
}

func TestImageReadVAOutOfRange(t *testing.T) {
	img := &Image{Base: 0x1000, backing: heapBacking([]byte{1, 2, 3, 4})}
	if _, ok := img.ReadVA(0x500, 1); ok {
		t.Fatal("expected ReadVA below Base to fail")
	}
	if _, ok := img.ReadVA(0x2000, 1); ok {
		t.Fatal("expected ReadVA past end of buffer to fail")
	}
	got, ok := img.ReadVA(0x1002, 4)
	if !ok {
		t.Fatal("expected ReadVA within range to succeed")
	}
	if len(got) != 2 {
		t.Fatalf("expected clamp to 2 remaining bytes, got %d", len(got))
	}
}

func TestRangeContains(t *testing.T) {
	r := Range{Start: 0x1000, End: 0x2000}
	if !r.Contains(0x1000) || !r.Contains(0x1fff) {
		t.Fatal("expected bounds to be inclusive/exclusive as documented")
	}
	if r.Contains(0x2000) {
		t.Fatal("End should be exclusive")
	}
	if r.Size() != 0x1000 {
		t.Fatalf("Size = 0x%x, want 0x1000", r.Size())
	}
}
