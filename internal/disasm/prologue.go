package disasm

import "binlex/internal/binimage"

// prologueMatchWindow mirrors PATTERN_MAX_MATCH_SIZE in
// original_source/src/models/cfg/pattern.rs: prologue detection only ever
// looks at the first 32 bytes at a candidate block address.
const prologueMatchWindow = 32

// IsPrologue reports whether the bytes at va look like a function
// prologue, using the same fixed byte-class patterns
// original_source/src/models/cfg/pattern.rs matches with regexes, ported
// here to direct range checks since no byte-oriented regex library is
// part of the retrieved pack.
func IsPrologue(img *binimage.Image, va uint64) bool {
	window, ok := img.ReadVA(va, prologueMatchWindow)
	if !ok {
		return false
	}
	switch img.Architecture {
	case binimage.ArchAMD64:
		return isAMD64Prologue(window)
	case binimage.ArchI386:
		return isI386Prologue(window)
	default:
		return false
	}
}

// isAMD64Prologue ports original_source/src/models/disassembler.rs's
// is_function_prologue: a leading push (of any register, the frame
// pointer included) followed by a stack-pointer adjustment. push rbp;
// mov rbp, rsp — spec.md's own worked example — is checked directly
// since it adjusts rsp via a register-to-register mov rather than an
// immediate sub; every other push-then-adjust shape is handled by
// skipping the leading push and applying the REX-first checks below to
// what follows it.
func isAMD64Prologue(b []byte) bool {
	if pushRbpThenMovRbpRsp(b) {
		return true
	}
	rest := b[leadingPushLen(b):]
	return movRegRspSubRsp(rest) ||
		movRegRspMovLocal(rest) ||
		subRspImm(rest) ||
		movRbpRspSubRspImm32(rest)
}

func in(b byte, lo, hi byte) bool { return b >= lo && b <= hi }

// leadingPushLen returns the byte length of a leading push-register
// instruction (50-57, optionally REX.B-prefixed for r8-r15), or 0 if b
// doesn't start with one.
func leadingPushLen(b []byte) int {
	i := 0
	if len(b) > 0 && in(b[0], 0x40, 0x4F) {
		i++
	}
	if i < len(b) && in(b[i], 0x50, 0x57) {
		return i + 1
	}
	return 0
}

// push rbp (55) followed by REX.W mov rbp, rsp, in either ModRM
// direction a compiler might emit (48 89 e5 or 48 8b ec).
func pushRbpThenMovRbpRsp(b []byte) bool {
	if len(b) < 4 || b[0] != 0x55 || b[1] != 0x48 {
		return false
	}
	return (b[2] == 0x89 && b[3] == 0xE5) || (b[2] == 0x8B && b[3] == 0xEC)
}

// mov reg, rsp (REX.W 8B /r) followed by sub rsp, imm8 (REX.W 83 /5 ib).
func movRegRspSubRsp(b []byte) bool {
	return len(b) >= 8 &&
		in(b[0], 0x40, 0x4F) && b[1] == 0x8B &&
		in(b[3], 0x40, 0x4F) && b[4] == 0x83 && b[5] == 0xEC
}

// mov reg, rsp followed by mov qword [reg+local], param.
func movRegRspMovLocal(b []byte) bool {
	return len(b) >= 6 &&
		in(b[0], 0x40, 0x4F) && b[1] == 0x8B &&
		in(b[3], 0x40, 0x4F) && b[4] == 0x89
}

// sub rsp, imm8 on its own (REX.W 83 EC ib).
func subRspImm(b []byte) bool {
	return len(b) >= 4 && in(b[0], 0x40, 0x4F) && b[1] == 0x83 && b[2] == 0xEC
}

// mov rbp, rsp; sub rsp, imm32.
func movRbpRspSubRspImm32(b []byte) bool {
	return len(b) >= 9 &&
		in(b[0], 0x40, 0x4F) && b[1] == 0x8B && b[2] == 0xEC &&
		in(b[3], 0x40, 0x4F) && b[4] == 0x81 && b[5] == 0xEC
}

// I386: mov [esp+N], eax ; push a register (any but esp) twice ; sub esp, imm8.
func isI386Prologue(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	if b[0] != 0x89 || b[1] != 0x44 || b[2] != 0x24 {
		return false
	}
	isPushReg := func(x byte) bool {
		switch x {
		case 0x50, 0x51, 0x52, 0x53, 0x55, 0x56, 0x57:
			return true
		default:
			return false
		}
	}
	if !isPushReg(b[4]) || !isPushReg(b[5]) {
		return false
	}
	return b[6] == 0x83 && b[7] == 0xEC
}
