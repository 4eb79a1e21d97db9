// Package disasm decodes machine code into the architecture-neutral
// Instruction shape the walker, graph, and chromosome builder all operate
// on. AMD64/I386 decoding uses golang.org/x/arch/x86/x86asm, the pure-Go
// decoder grounded in the teacher's former use of the sibling
// golang.org/x/arch/arm64/arm64asm package in its ARM64 decoder; CIL uses
// a small hand-rolled ECMA-335 opcode table, since neither the retrieved
// pack nor a realistic ecosystem package covers it.
package disasm

import "binlex/internal/binimage"

// Classification is the control-flow role of a decoded instruction, used
// by the walker to decide how to continue exploring and by the chromosome
// builder to decide how to wildcard it.
type Classification int

const (
	ClassLinear Classification = iota
	ClassConditionalBranch
	ClassUnconditionalBranch
	ClassIndirectBranch
	ClassCall
	ClassReturn
	ClassInvalid
)

// Edges records the addresses a walker should follow from an instruction
// that ends a block. Indirect is set when a branch target could not be
// resolved to a concrete address (e.g. jmp [rax]); the walker cannot
// follow it and the block simply terminates there.
type Edges struct {
	FallThrough    uint64
	HasFallThrough bool
	Taken          uint64
	HasTaken       bool
	CallTarget     uint64
	HasCallTarget  bool
	Indirect       bool
}

// Instruction is one decoded instruction, address-anchored, carrying its
// chromosome signature: the hex byte pattern with operand bytes already
// wildcarded per the rules in amd64.go.
type Instruction struct {
	Address      uint64
	Bytes        []byte
	Architecture binimage.Architecture
	Class        Classification
	Edges        Edges
	IsPrologue   bool
	Signature    string
	Mnemonic     string
}

func (i Instruction) Size() int { return len(i.Bytes) }

// IsTerminator reports whether an instruction stops linear flow: any
// branch, return, or invalid decode. Calls are not terminators here; the
// walker's endsBlock adds them when it splits blocks.
func (i Instruction) IsTerminator() bool {
	switch i.Class {
	case ClassConditionalBranch, ClassUnconditionalBranch, ClassIndirectBranch,
		ClassReturn, ClassInvalid:
		return true
	default:
		return false
	}
}

// Decode decodes a single instruction at virtual address va from img,
// dispatching on architecture. It reports false if no instruction could
// be decoded (end of mapped memory, or an undecodable byte sequence).
func Decode(img *binimage.Image, va uint64) (Instruction, bool) {
	switch img.Architecture {
	case binimage.ArchAMD64:
		return decodeAMD64(img, va, 64)
	case binimage.ArchI386:
		return decodeAMD64(img, va, 32)
	case binimage.ArchCIL:
		return decodeCIL(img, va)
	default:
		return Instruction{}, false
	}
}
