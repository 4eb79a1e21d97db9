package disasm

import "binlex/internal/binimage"

// cilOpcode describes one single-byte ECMA-335 CIL opcode. Two-byte
// opcodes (the 0xFE prefix family: ldarg, ldloc, initobj, constrained...)
// are looked up in cilExtendedOpcodes after consuming the prefix byte.
// Operand sizes are fixed per opcode in the CIL instruction set, so no
// variable-length encoding (ModRM, SIB, prefixes) needs to be decoded the
// way x86 requires.
type cilOpcode struct {
	mnemonic    string
	operandSize int
	class       Classification
}

// cilOpcodes covers the control-flow-relevant single-byte opcodes plus the
// most common data-movement ones; this is not a complete ECMA-335 table,
// but every opcode the walker needs to classify correctly is present.
var cilOpcodes = map[byte]cilOpcode{
	0x00: {"nop", 0, ClassLinear},
	0x01: {"break", 0, ClassInvalid},
	0x02: {"ldarg.0", 0, ClassLinear},
	0x03: {"ldarg.1", 0, ClassLinear},
	0x04: {"ldarg.2", 0, ClassLinear},
	0x05: {"ldarg.3", 0, ClassLinear},
	0x14: {"ldnull", 0, ClassLinear},
	0x16: {"ldc.i4.0", 0, ClassLinear},
	0x17: {"ldc.i4.1", 0, ClassLinear},
	0x20: {"ldc.i4", 4, ClassLinear},
	0x25: {"dup", 0, ClassLinear},
	0x26: {"pop", 0, ClassLinear},
	0x28: {"call", 4, ClassCall},
	0x2a: {"ret", 0, ClassReturn},
	0x2b: {"br.s", 1, ClassUnconditionalBranch},
	0x2c: {"brfalse.s", 1, ClassConditionalBranch},
	0x2d: {"brtrue.s", 1, ClassConditionalBranch},
	0x2e: {"beq.s", 1, ClassConditionalBranch},
	0x2f: {"bge.s", 1, ClassConditionalBranch},
	0x30: {"bgt.s", 1, ClassConditionalBranch},
	0x31: {"ble.s", 1, ClassConditionalBranch},
	0x32: {"blt.s", 1, ClassConditionalBranch},
	0x38: {"br", 4, ClassUnconditionalBranch},
	0x39: {"brfalse", 4, ClassConditionalBranch},
	0x3a: {"brtrue", 4, ClassConditionalBranch},
	0x3b: {"beq", 4, ClassConditionalBranch},
	0x3c: {"bge", 4, ClassConditionalBranch},
	0x3d: {"bgt", 4, ClassConditionalBranch},
	0x3e: {"ble", 4, ClassConditionalBranch},
	0x3f: {"blt", 4, ClassConditionalBranch},
	0x58: {"add", 0, ClassLinear},
	0x59: {"sub", 0, ClassLinear},
	0x5a: {"mul", 0, ClassLinear},
	0x6f: {"callvirt", 4, ClassCall},
	0x72: {"ldstr", 4, ClassLinear},
	0x73: {"newobj", 4, ClassCall},
	0x7a: {"throw", 0, ClassInvalid},
	0x7b: {"ldfld", 4, ClassLinear},
	0x7d: {"stfld", 4, ClassLinear},
	0x8d: {"newarr", 4, ClassLinear},
	0x74: {"castclass", 4, ClassLinear},
	0xdc: {"endfinally", 0, ClassReturn},
	0xde: {"leave.s", 1, ClassUnconditionalBranch},
	0xdd: {"leave", 4, ClassUnconditionalBranch},
}

// cilExtendedOpcodes is the 0xFE-prefixed two-byte opcode space.
var cilExtendedOpcodes = map[byte]cilOpcode{
	0x01: {"ceq", 0, ClassLinear},
	0x02: {"cgt", 0, ClassLinear},
	0x04: {"clt", 0, ClassLinear},
	0x06: {"ldftn", 4, ClassLinear},
	0x09: {"ldarg", 2, ClassLinear},
	0x0f: {"localloc", 0, ClassLinear},
	0x11: {"endfilter", 0, ClassInvalid},
}

// decodeCIL decodes one CIL instruction. Branch targets are resolved
// relative to the byte immediately after the instruction, matching
// ECMA-335 III.1.7's "target = address-of-next-instruction + offset" rule
// for both short (sbyte) and long (int32) branch forms.
func decodeCIL(img *binimage.Image, va uint64) (Instruction, bool) {
	window, ok := img.ReadVA(va, 6)
	if !ok || len(window) == 0 {
		return Instruction{}, false
	}

	op := window[0]
	if op == 0xfe {
		if len(window) < 2 {
			return Instruction{}, false
		}
		ext, known := cilExtendedOpcodes[window[1]]
		if !known {
			return Instruction{}, false
		}
		size := 2 + ext.operandSize
		if size > len(window) {
			return Instruction{}, false
		}
		raw := window[:size]
		return buildCILInstruction(va, raw, ext), true
	}

	def, known := cilOpcodes[op]
	if !known {
		return Instruction{}, false
	}
	size := 1 + def.operandSize
	if size > len(window) {
		return Instruction{}, false
	}
	raw := window[:size]
	return buildCILInstruction(va, raw, def), true
}

func buildCILInstruction(va uint64, raw []byte, def cilOpcode) Instruction {
	fallThrough := va + uint64(len(raw))
	edges := Edges{}
	signature := hexBytes(raw, nil)

	switch def.class {
	case ClassLinear:
		edges = Edges{FallThrough: fallThrough, HasFallThrough: true}
	case ClassCall:
		edges = Edges{FallThrough: fallThrough, HasFallThrough: true}
		if def.operandSize == 4 {
			mask := make([]bool, len(raw))
			// call/callvirt/newobj tokens are metadata-table indices, not
			// addresses the walker can follow; wildcard them like an
			// immutable-to-signature operand since they vary across
			// otherwise-identical call sites.
			for i := len(raw) - 4; i < len(raw); i++ {
				mask[i] = true
			}
			signature = hexBytes(raw, mask)
		}
	case ClassConditionalBranch, ClassUnconditionalBranch:
		edges = cilBranchEdges(va, raw, def)
	}

	return Instruction{
		Address:      va,
		Bytes:        append([]byte(nil), raw...),
		Architecture: binimage.ArchCIL,
		Class:        def.class,
		Edges:        edges,
		Signature:    signature,
		Mnemonic:     def.mnemonic,
	}
}

func cilBranchEdges(va uint64, raw []byte, def cilOpcode) Edges {
	next := va + uint64(len(raw))
	var offset int64
	switch def.operandSize {
	case 1:
		offset = int64(int8(raw[len(raw)-1]))
	case 4:
		offset = int64(int32(uint32(raw[len(raw)-4]) | uint32(raw[len(raw)-3])<<8 |
			uint32(raw[len(raw)-2])<<16 | uint32(raw[len(raw)-1])<<24))
	}
	target := uint64(int64(next) + offset)

	if def.class == ClassUnconditionalBranch {
		return Edges{Taken: target, HasTaken: true}
	}
	return Edges{Taken: target, HasTaken: true, FallThrough: next, HasFallThrough: true}
}
