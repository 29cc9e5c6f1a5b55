package vm

import "encoding/binary"

// The dispatch loop. Execute fetches the opcode byte at the instruction
// pointer, decodes operands per opcode family, applies the effect and
// advances. The loop's sole precondition is StatusOK: any fault latched by a
// step stops further stepping on the next iteration, and the host decides
// whether to clear a StatusPause and resume.

// Execute dispatches at most icount opcodes (icount == -1 means unbounded)
// while the status byte is StatusOK, then returns the current status.
// icount == 0 performs zero dispatches.
func (m *VM) Execute(icount int) Status {
	for m.Status() == StatusOK && (icount > 0 || icount == -1) {
		ip := m.Register(RegInstruction)

		// The opcode byte itself must be readable. A fetch past the end of
		// the code buffer is not a dispatched instruction and does not count.
		if uint64(ip) >= uint64(len(m.code)) {
			m.SetStatus(StatusInvalidInstruction)
			break
		}

		op := m.code[ip]
		m.step(op, ip)

		// A dispatched opcode always counts, including one that faulted
		// mid-step or failed operand validation.
		m.instructionCount++
		if icount != -1 {
			icount--
		}

		if m.Statistics != nil {
			m.Statistics.recordInstruction(op)
		}
		if m.Trace != nil {
			m.Trace.record(m.instructionCount, ip, op, m.Status())
		}
	}
	return m.Status()
}

// step executes a single opcode whose byte has already been fetched.
func (m *VM) step(op byte, ip uint32) {
	switch op {
	case OpHalt:
		m.SetStatus(StatusHalt)
		m.IncRegister(RegInstruction, 1)
	case OpPause:
		m.SetStatus(StatusPause)
		m.IncRegister(RegInstruction, 1)
	case OpNop:
		m.IncRegister(RegInstruction, 1)

	case OpAdd, OpSub, OpMul, OpDiv, OpDivS, OpLsh, OpRsh, OpRshS, OpAnd, OpOr, OpXor, OpNot:
		m.execArith(op, ip)

	case OpIR, OpMR, OpRR, OpRM:
		m.execMove(op, ip)

	case OpPush, OpPop:
		m.execStack(op, ip)

	case OpCall, OpRet, OpJump, OpCondJump, OpSyscall:
		m.execBranch(op, ip)

	case OpLt, OpLtS, OpLte, OpLteS, OpEq, OpNeq:
		m.execConditional(op, ip)

	default:
		m.SetStatus(StatusInvalidInstruction)
	}
}

// validOperands checks that the operand byte at offset n past the opcode is
// still inside the code buffer. On failure it latches
// StatusInvalidInstruction; the caller abandons the step.
func (m *VM) validOperands(ip, n uint32) bool {
	if uint64(ip)+uint64(n) >= uint64(len(m.code)) {
		m.SetStatus(StatusInvalidInstruction)
		return false
	}
	return true
}

// decodeRegPair splits the packed register byte into (rA, rB).
func decodeRegPair(b byte) (int, int) {
	return int(b >> 4), int(b & 0x0F)
}

// immediate reads the 4-byte little-endian immediate starting at pos.
// Callers have already validated the range; the copy through Uint32 handles
// the arbitrary unaligned offsets instructions sit at.
func (m *VM) immediate(pos uint32) uint32 {
	return binary.LittleEndian.Uint32(m.code[pos : pos+4])
}

// execArith implements the arithmetic family:
// [op][rA<<4|rB][imm:4], length 6. Source A is the immediate when rA is the
// NULL register, otherwise the contents of rA. Destination rB is read,
// combined and written back. Add/sub/mul wrap mod 2^32; shift amounts use
// only the low five bits of A.
func (m *VM) execArith(op byte, ip uint32) {
	if !m.validOperands(ip, 5) {
		return
	}
	rA, rB := decodeRegPair(m.code[ip+1])
	d := m.immediate(ip + 2)

	valA := d
	if rA != RegNull {
		valA = m.Register(rA)
	}
	valB := m.Register(rB)

	switch op {
	case OpAdd:
		m.SetRegister(rB, valB+valA)
	case OpSub:
		m.SetRegister(rB, valB-valA)
	case OpMul:
		m.SetRegister(rB, valB*valA)
	case OpDiv:
		if valA == 0 {
			m.SetStatus(StatusDivByZero)
		} else {
			m.SetRegister(rB, valB/valA)
		}
	case OpDivS:
		if valA == 0 {
			m.SetStatus(StatusDivByZero)
		} else {
			m.SetRegister(rB, uint32(int32(valB)/int32(valA)))
		}
	case OpLsh:
		m.SetRegister(rB, valB<<(valA&0x1F))
	case OpRsh:
		m.SetRegister(rB, valB>>(valA&0x1F))
	case OpRshS:
		m.SetRegister(rB, uint32(int32(valB)>>(valA&0x1F)))
	case OpAnd:
		m.SetRegister(rB, valB&valA)
	case OpOr:
		m.SetRegister(rB, valB|valA)
	case OpXor:
		m.SetRegister(rB, valB^valA)
	case OpNot:
		m.SetRegister(rB, ^valA)
	}

	m.IncRegister(RegInstruction, 6)
}

// execMove implements the move family: [op][rA<<4|rB][imm:4], length 6.
// Source A is 0 when rA is the NULL register. A faulting memory access
// latches the status but the instruction pointer still advances.
func (m *VM) execMove(op byte, ip uint32) {
	if !m.validOperands(ip, 5) {
		return
	}
	rA, rB := decodeRegPair(m.code[ip+1])
	d := m.immediate(ip + 2)

	var valA uint32
	if rA != RegNull {
		valA = m.Register(rA)
	}

	switch op {
	case OpIR:
		m.SetRegister(rB, valA+d)
	case OpMR:
		valM := m.ReadWord(d + valA)
		if m.Status() == StatusOK {
			m.SetRegister(rB, valM)
		}
	case OpRR:
		m.SetRegister(rB, valA)
	case OpRM:
		m.WriteWord(m.Register(rB)+d, valA)
	}

	m.IncRegister(RegInstruction, 6)
}

// execStack implements PUSH and POP: [op][rA<<4|_], length 2.
func (m *VM) execStack(op byte, ip uint32) {
	if !m.validOperands(ip, 1) {
		return
	}
	rA := int(m.code[ip+1] >> 4)

	switch op {
	case OpPush:
		m.Push(m.Register(rA))
	case OpPop:
		m.SetRegister(rA, m.Pop())
	}

	m.IncRegister(RegInstruction, 2)
}

// execBranch implements the branch family: [op][imm:4], length 5.
func (m *VM) execBranch(op byte, ip uint32) {
	if !m.validOperands(ip, 4) {
		return
	}
	d := m.immediate(ip + 1)

	switch op {
	case OpCall:
		m.Push(ip + 5)
		m.SetRegister(RegInstruction, d)
	case OpRet:
		// d counts the words the callee left above the return address; they
		// are discarded before the return address is popped. Stop discarding
		// once a pop has run the stack out of bounds.
		for i := uint32(0); i < d && m.Status() == StatusOK; i++ {
			m.Pop()
		}
		m.SetRegister(RegInstruction, m.Pop())
	case OpJump:
		m.SetRegister(RegInstruction, d)
	case OpCondJump:
		taken := m.Flag(FlagConditional)
		if taken {
			m.SetRegister(RegInstruction, d)
		} else {
			m.IncRegister(RegInstruction, 5)
		}
		if m.Statistics != nil {
			m.Statistics.recordBranch(taken)
		}
	case OpSyscall:
		fn, ok := m.LookupSyscall(d)
		if !ok {
			m.SetStatus(StatusInvalidInstruction)
		} else {
			fn(m)
		}
		if m.Statistics != nil {
			m.Statistics.recordSyscall(ok)
		}
		m.IncRegister(RegInstruction, 5)
	}
}

// execConditional implements the compare family: [op][rA<<4|rB], length 2.
// Every compare unconditionally clears the conditional flag first, then sets
// it iff the comparison holds. The NULL register is not substituted here:
// compares read whatever the slot holds.
func (m *VM) execConditional(op byte, ip uint32) {
	if !m.validOperands(ip, 1) {
		return
	}
	rA, rB := decodeRegPair(m.code[ip+1])
	valA := m.Register(rA)
	valB := m.Register(rB)
	m.ClearFlag(FlagConditional)

	var hold bool
	switch op {
	case OpLt:
		hold = valA < valB
	case OpLtS:
		hold = int32(valA) < int32(valB)
	case OpLte:
		hold = valA <= valB
	case OpLteS:
		hold = int32(valA) <= int32(valB)
	case OpEq:
		hold = valA == valB
	case OpNeq:
		hold = valA != valB
	}
	if hold {
		m.SetFlag(FlagConditional)
	}

	m.IncRegister(RegInstruction, 2)
}
