package vm_test

import (
	"errors"
	"testing"

	"github.com/twinevm/twine/vm"
)

func TestNewInitialState(t *testing.T) {
	machine := newVM(t)

	if machine.MemorySize() != testMemorySize {
		t.Errorf("expected memory size %d, got %d", testMemorySize, machine.MemorySize())
	}
	if machine.InstructionCount() != 0 {
		t.Errorf("expected zero instruction count, got %d", machine.InstructionCount())
	}
	if machine.Status() != vm.StatusOK {
		t.Errorf("expected status ok, got %v", machine.Status())
	}
	if got := machine.Register(vm.RegInstruction); got != 0 {
		t.Errorf("expected zero instruction pointer, got %d", got)
	}
	if got := machine.Register(vm.RegStack); got != initialStackTop {
		t.Errorf("expected stack pointer %d, got %d", initialStackTop, got)
	}
	if got := machine.Register(vm.RegBase); got != initialStackTop {
		t.Errorf("expected base pointer %d, got %d", initialStackTop, got)
	}
}

func TestNewZeroesProgramMemory(t *testing.T) {
	machine := newVM(t)

	// Everything below the reserved block must be zero; the reserved block
	// holds the initialized stack/base registers.
	mem := machine.MemoryBytes()
	for i := 0; i < int(initialStackTop); i++ {
		if mem[i] != 0 {
			t.Fatalf("memory byte %d not zeroed: 0x%02X", i, mem[i])
		}
	}
}

func TestNewRejectsTinyMemory(t *testing.T) {
	if _, err := vm.New(vm.MinMemorySize - 1); !errors.Is(err, vm.ErrMemoryTooSmall) {
		t.Errorf("expected ErrMemoryTooSmall, got %v", err)
	}
	if _, err := vm.New(vm.MinMemorySize); err != nil {
		t.Errorf("minimum memory size should be accepted, got %v", err)
	}
}

func TestNewWithTableSizeValidation(t *testing.T) {
	if _, err := vm.NewWithTableSize(testMemorySize, 100); !errors.Is(err, vm.ErrBadTableSize) {
		t.Errorf("expected ErrBadTableSize for 100, got %v", err)
	}
	if _, err := vm.NewWithTableSize(testMemorySize, 4); !errors.Is(err, vm.ErrBadTableSize) {
		t.Errorf("expected ErrBadTableSize for 4, got %v", err)
	}
	if _, err := vm.NewWithTableSize(testMemorySize, 64); err != nil {
		t.Errorf("64 slots should be accepted, got %v", err)
	}
}

func TestLoadCodeReplacesWithoutReset(t *testing.T) {
	machine := newVM(t)

	first := (&program{}).
		arith(vm.OpIR, vm.RegNull, vm.RegC1, 42).
		control(vm.OpHalt)
	if status := run(t, machine, first); status != vm.StatusHalt {
		t.Fatalf("expected halt, got %v", status)
	}
	countAfterFirst := machine.InstructionCount()

	// Reloading code must not touch memory, registers or the counter.
	second := (&program{}).control(vm.OpHalt)
	if err := machine.LoadCode(second.bytes()); err != nil {
		t.Fatalf("LoadCode failed: %v", err)
	}
	if got := machine.Register(vm.RegC1); got != 42 {
		t.Errorf("reload clobbered register C1: %d", got)
	}
	if machine.InstructionCount() != countAfterFirst {
		t.Errorf("reload reset instruction count: %d", machine.InstructionCount())
	}
	if machine.CodeSize() != 1 {
		t.Errorf("expected new code buffer of 1 byte, got %d", machine.CodeSize())
	}

	// The old buffer is gone: the halt at offset 6 no longer exists, so
	// clearing the status and stepping faults on the stale ip.
	machine.SetStatus(vm.StatusOK)
	if status := machine.Execute(-1); status != vm.StatusInvalidInstruction {
		t.Errorf("expected invalid instruction on stale ip, got %v", status)
	}
}

func TestLoadCodeCopiesBuffer(t *testing.T) {
	machine := newVM(t)

	code := (&program{}).control(vm.OpHalt).bytes()
	if err := machine.LoadCode(code); err != nil {
		t.Fatalf("LoadCode failed: %v", err)
	}

	// Mutating the caller's slice must not reach the loaded buffer.
	code[0] = vm.OpPause
	if status := machine.Execute(-1); status != vm.StatusHalt {
		t.Errorf("expected halt from the copied buffer, got %v", status)
	}
}

func TestMemoryBytesIsLive(t *testing.T) {
	machine := newVM(t)

	machine.WriteMemory(0, []byte{0xAB})
	if machine.MemoryBytes()[0] != 0xAB {
		t.Error("MemoryBytes should expose the live backing slice")
	}
}
