package vm_test

import (
	"encoding/binary"
	"testing"

	"github.com/twinevm/twine/vm"
)

// testMemorySize is large enough for a useful stack plus the reserved block.
const testMemorySize = 1024

// initialStackTop is where the stack pointer starts for testMemorySize.
const initialStackTop = testMemorySize - vm.ReservedTopBytes

// newVM creates a machine with the standard test memory size.
func newVM(t *testing.T) *vm.VM {
	t.Helper()
	machine, err := vm.New(testMemorySize)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return machine
}

// program builds encoded instruction streams for tests.
type program struct {
	code []byte
}

func (p *program) control(op byte) *program {
	p.code = append(p.code, op)
	return p
}

// arith appends an arithmetic or move instruction: [op][rA<<4|rB][imm:4].
func (p *program) arith(op byte, rA, rB int, imm uint32) *program {
	p.code = append(p.code, op, byte(rA<<4|rB))
	p.code = binary.LittleEndian.AppendUint32(p.code, imm)
	return p
}

// stack appends a PUSH or POP: [op][rA<<4].
func (p *program) stack(op byte, rA int) *program {
	p.code = append(p.code, op, byte(rA<<4))
	return p
}

// branch appends a branch instruction: [op][imm:4].
func (p *program) branch(op byte, imm uint32) *program {
	p.code = append(p.code, op)
	p.code = binary.LittleEndian.AppendUint32(p.code, imm)
	return p
}

// cond appends a compare instruction: [op][rA<<4|rB].
func (p *program) cond(op byte, rA, rB int) *program {
	p.code = append(p.code, op, byte(rA<<4|rB))
	return p
}

func (p *program) bytes() []byte {
	return p.code
}

// run loads the program and executes it unbounded.
func run(t *testing.T, machine *vm.VM, p *program) vm.Status {
	t.Helper()
	if err := machine.LoadCode(p.bytes()); err != nil {
		t.Fatalf("LoadCode failed: %v", err)
	}
	return machine.Execute(-1)
}
