package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"binlex/internal/binimage"
)

const hexDigits = "0123456789abcdef"

const maxInstructionBytes = 15

// decodeAMD64 decodes one AMD64 or I386 instruction at va, then computes
// its chromosome signature and control-flow classification. mode is the
// x86asm processor mode in bits (64 for AMD64, 32 for I386).
func decodeAMD64(img *binimage.Image, va uint64, mode int) (Instruction, bool) {
	window, ok := img.ReadVA(va, maxInstructionBytes)
	if !ok || len(window) == 0 {
		return Instruction{}, false
	}

	inst, err := x86asm.Decode(window, mode)
	if err != nil || inst.Len == 0 || inst.Len > len(window) {
		return Instruction{}, false
	}

	raw := window[:inst.Len]
	class, edges := classifyAMD64(inst, va, raw)

	arch := binimage.ArchAMD64
	if mode == 32 {
		arch = binimage.ArchI386
	}

	return Instruction{
		Address:      va,
		Bytes:        append([]byte(nil), raw...),
		Architecture: arch,
		Class:        class,
		Edges:        edges,
		Signature:    signatureAMD64(inst, raw, class),
		Mnemonic:     inst.Op.String(),
	}, true
}

func classifyAMD64(inst x86asm.Inst, va uint64, raw []byte) (Classification, Edges) {
	fallThrough := va + uint64(inst.Len)

	switch inst.Op {
	case x86asm.RET:
		return ClassReturn, Edges{}
	case x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return ClassReturn, Edges{}
	case x86asm.UD2, x86asm.HLT, x86asm.INT, x86asm.INTO:
		return ClassInvalid, Edges{}
	case x86asm.JMP, x86asm.LJMP:
		if target, ok := branchTarget(inst, va); ok {
			return ClassUnconditionalBranch, Edges{Taken: target, HasTaken: true}
		}
		return ClassIndirectBranch, Edges{Indirect: true}
	case x86asm.CALL, x86asm.LCALL:
		edges := Edges{FallThrough: fallThrough, HasFallThrough: true}
		if target, ok := branchTarget(inst, va); ok {
			edges.CallTarget = target
			edges.HasCallTarget = true
		} else {
			edges.Indirect = true
			edges.HasFallThrough = false
		}
		return ClassCall, edges
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG, x86asm.JGE,
		x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO,
		x86asm.JP, x86asm.JS, x86asm.JCXZ, x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		edges := Edges{FallThrough: fallThrough, HasFallThrough: true}
		if target, ok := branchTarget(inst, va); ok {
			edges.Taken = target
			edges.HasTaken = true
		} else {
			edges.Indirect = true
		}
		return ClassConditionalBranch, edges
	default:
		return ClassLinear, Edges{FallThrough: fallThrough, HasFallThrough: true}
	}
}

// branchTarget resolves a direct branch/call's target address from the
// decoder's Rel operand when present, falling back to a literal Imm operand
// for far call/jmp forms. PCRel alone is not used here: x86asm also sets it
// for RIP-relative memory operands (call qword ptr [rip+disp]), which are
// indirect and have no concrete target.
func branchTarget(inst x86asm.Inst, va uint64) (uint64, bool) {
	if rel, ok := relValue(inst); ok {
		return uint64(int64(va) + int64(inst.Len) + rel), true
	}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if imm, ok := arg.(x86asm.Imm); ok {
			return uint64(imm), true
		}
	}
	return 0, false
}

func relValue(inst x86asm.Inst) (int64, bool) {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(x86asm.Rel); ok {
			return int64(rel), true
		}
	}
	return 0, false
}

// unsupportedSignatureOps are emitted as raw, unwildcarded hex: their SSE
// operand encoding doesn't fit the nibble-wildcarding rules below, the
// same carve-out models/disassembler.rs makes for MOVUPS/MOVAPS/XORPS.
var unsupportedSignatureOps = map[x86asm.Op]bool{
	x86asm.MOVUPS: true,
	x86asm.MOVAPS: true,
	x86asm.XORPS:  true,
}

// wildcardOps are the stack-frame instructions whose immediate operand is
// wildcarded when it touches rsp/rbp/esp/ebp, matching
// is_immutable_instruction_to_signature's STACK_INSTRUCTIONS list.
var wildcardOps = map[x86asm.Op]bool{
	x86asm.MOV: true,
	x86asm.SUB: true,
	x86asm.ADD: true,
	x86asm.INC: true,
	x86asm.DEC: true,
}

var stackRegs = map[x86asm.Reg]bool{
	x86asm.RSP: true,
	x86asm.RBP: true,
	x86asm.ESP: true,
	x86asm.EBP: true,
}

// signatureAMD64 computes the chromosome byte pattern for one instruction:
// a hex string with operand bytes replaced by "??" pairs. Unlike the
// hex-string-nibble walk in models/cfg/signature.rs, every wildcard span
// here is a whole number of bytes (displacement/immediate/relative-offset
// widths are always byte multiples), so the mask is tracked per byte
// rather than per nibble.
func signatureAMD64(inst x86asm.Inst, raw []byte, class Classification) string {
	if unsupportedSignatureOps[inst.Op] {
		return hexBytes(raw, nil)
	}
	if isWildcardInstruction(inst.Op) {
		return hexBytes(raw, allWildcard(len(raw)))
	}

	mask := make([]bool, len(raw))
	wildcarded := false

	switch class {
	case ClassCall, ClassUnconditionalBranch, ClassConditionalBranch:
		if inst.PCRel > 0 && inst.PCRelOff >= 0 && inst.PCRelOff+inst.PCRel <= len(raw) {
			for i := inst.PCRelOff; i < inst.PCRelOff+inst.PCRel; i++ {
				mask[i] = true
			}
			wildcarded = true
		}
	}

	if wildcardOps[inst.Op] && touchesStackRegister(inst) {
		if width := immediateWidth(inst, len(raw)); width > 0 {
			start := len(raw) - width
			for i := start; i < len(raw); i++ {
				mask[i] = true
			}
			wildcarded = true
		}
	}

	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		mem, ok := arg.(x86asm.Mem)
		if !ok || mem.Index != 0 {
			continue
		}
		width := displacementWidth(mem.Disp)
		if width <= 0 || width > len(raw) {
			continue
		}
		start := len(raw) - width
		for i := start; i < len(raw); i++ {
			mask[i] = true
		}
		wildcarded = true
	}

	if !wildcarded {
		return hexBytes(raw, nil)
	}
	return hexBytes(raw, mask)
}

func isWildcardInstruction(op x86asm.Op) bool {
	switch op {
	case x86asm.NOP, x86asm.FNOP, x86asm.UD2, x86asm.HLT, x86asm.INT, x86asm.INTO:
		return true
	default:
		return false
	}
}

func touchesStackRegister(inst x86asm.Inst) bool {
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if reg, ok := arg.(x86asm.Reg); ok && stackRegs[reg] {
			return true
		}
	}
	return false
}

// immediateWidth approximates the encoded byte width of an instruction's
// immediate operand. x86asm, unlike Capstone, doesn't expose the
// immediate's literal encoded size (DataSize reflects the operand's
// register width, not how many bytes the immediate itself occupies, so an
// imm8 form on a 64-bit destination would otherwise look 8 bytes wide), so
// this buckets by the immediate's own value magnitude the same way
// displacementWidth does for memory operands, then clamps to the
// instruction's actual length.
func immediateWidth(inst x86asm.Inst, instLen int) int {
	var imm x86asm.Imm
	hasImm := false
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if v, ok := arg.(x86asm.Imm); ok {
			imm = v
			hasImm = true
			break
		}
	}
	if !hasImm {
		return 0
	}
	width := displacementWidth(int64(imm))
	if width > instLen {
		width = instLen
	}
	return width
}

// displacementWidth buckets a memory displacement's magnitude the same
// way get_displacement_size does: 1/2/4/8 bytes by range.
func displacementWidth(disp int64) int {
	u := uint64(disp)
	if disp < 0 {
		u = uint64(-disp)
	}
	switch {
	case u <= 0xFF:
		return 1
	case u <= 0xFFFF:
		return 2
	case u <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func allWildcard(n int) []bool {
	m := make([]bool, n)
	for i := range m {
		m[i] = true
	}
	return m
}

func hexBytes(raw []byte, mask []bool) string {
	buf := make([]byte, len(raw)*2)
	for i, b := range raw {
		if mask != nil && mask[i] {
			buf[i*2] = '?'
			buf[i*2+1] = '?'
			continue
		}
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0xf]
	}
	return string(buf)
}
