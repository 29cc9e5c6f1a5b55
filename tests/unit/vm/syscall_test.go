package vm_test

import (
	"errors"
	"testing"
	"time"

	"github.com/twinevm/twine/vm"
)

func TestSyscallRegisterAndLookup(t *testing.T) {
	machine := newVM(t)

	called := false
	if err := machine.RegisterSyscall(0x100, func(m *vm.VM) { called = true }); err != nil {
		t.Fatalf("RegisterSyscall failed: %v", err)
	}

	fn, ok := machine.LookupSyscall(0x100)
	if !ok {
		t.Fatal("expected lookup hit")
	}
	fn(machine)
	if !called {
		t.Error("looked-up callback was not the registered one")
	}
}

func TestSyscallLookupMiss(t *testing.T) {
	machine := newVM(t)

	if _, ok := machine.LookupSyscall(0xDEAD); ok {
		t.Error("expected lookup miss for unregistered key")
	}
}

func TestSyscallReregisterOverwrites(t *testing.T) {
	machine := newVM(t)

	var got int
	if err := machine.RegisterSyscall(0x42, func(m *vm.VM) { got = 1 }); err != nil {
		t.Fatal(err)
	}
	if err := machine.RegisterSyscall(0x42, func(m *vm.VM) { got = 2 }); err != nil {
		t.Fatal(err)
	}

	fn, ok := machine.LookupSyscall(0x42)
	if !ok {
		t.Fatal("expected lookup hit")
	}
	fn(machine)
	if got != 2 {
		t.Errorf("expected the second registration to win, got %d", got)
	}
}

func TestSyscallCollisionProbing(t *testing.T) {
	table, err := vm.NewSyscallTable(8)
	if err != nil {
		t.Fatal(err)
	}

	// With 8 slots every key whose hash masks to the same index collides.
	// Find three distinct colliding keys by brute force.
	const target = 3
	baseIdx := uint32(1) * 2654435761 & 7
	keys := []uint32{1}
	for k := uint32(2); len(keys) < target; k++ {
		if k*2654435761&7 == baseIdx {
			keys = append(keys, k)
		}
	}

	seen := make(map[uint32]uint32)
	for _, k := range keys {
		key := k
		if err := table.Register(key, func(m *vm.VM) { seen[key]++ }); err != nil {
			t.Fatalf("Register(%d) failed: %v", key, err)
		}
	}
	if table.Len() != target {
		t.Fatalf("expected %d entries, got %d", target, table.Len())
	}

	// Each key must still resolve to its own callback through the probe
	// chain.
	for _, k := range keys {
		fn, ok := table.Lookup(k)
		if !ok {
			t.Fatalf("Lookup(%d) missed", k)
		}
		fn(nil)
		if seen[k] != 1 {
			t.Errorf("Lookup(%d) resolved to the wrong callback", k)
		}
	}

	// A fourth key hashing to the same index but never registered must miss
	// rather than hit a collided neighbor.
	var probe uint32
	for k := keys[len(keys)-1] + 1; ; k++ {
		if k*2654435761&7 == baseIdx {
			probe = k
			break
		}
	}
	if _, ok := table.Lookup(probe); ok {
		t.Errorf("Lookup(%d) should miss", probe)
	}
}

func TestSyscallTableFull(t *testing.T) {
	table, err := vm.NewSyscallTable(8)
	if err != nil {
		t.Fatal(err)
	}

	for k := uint32(0); k < 8; k++ {
		if err := table.Register(k, func(m *vm.VM) {}); err != nil {
			t.Fatalf("Register(%d) failed: %v", k, err)
		}
	}
	if err := table.Register(999, func(m *vm.VM) {}); !errors.Is(err, vm.ErrSyscallTableFull) {
		t.Errorf("expected ErrSyscallTableFull, got %v", err)
	}

	// Overwriting an existing key still works on a full table.
	if err := table.Register(3, func(m *vm.VM) {}); err != nil {
		t.Errorf("overwrite on full table failed: %v", err)
	}
	if table.Len() != 8 {
		t.Errorf("expected 8 entries, got %d", table.Len())
	}
}

func TestBuiltinMemorySize(t *testing.T) {
	machine := newVM(t)

	fn, ok := machine.LookupSyscall(vm.SysMemorySize)
	if !ok {
		t.Fatal("builtin memory size syscall not registered")
	}
	fn(machine)
	if got := machine.Register(vm.RegReturn); got != testMemorySize {
		t.Errorf("expected RETURN=%d, got %d", testMemorySize, got)
	}
}

func TestBuiltinInstructionCount(t *testing.T) {
	machine := newVM(t)

	p := (&program{}).
		control(vm.OpNop).
		control(vm.OpNop).
		control(vm.OpNop).
		branch(vm.OpSyscall, vm.SysInstructionCount).
		control(vm.OpHalt)
	if status := run(t, machine, p); status != vm.StatusHalt {
		t.Fatalf("expected halt, got %v", status)
	}
	// The counter is incremented after the syscall's step completes, so the
	// callback observes the three NOPs only.
	if got := machine.Register(vm.RegReturn); got != 3 {
		t.Errorf("expected RETURN=3, got %d", got)
	}
}

func TestBuiltinTime(t *testing.T) {
	machine := newVM(t)

	fn, ok := machine.LookupSyscall(vm.SysTime)
	if !ok {
		t.Fatal("builtin time syscall not registered")
	}
	before := uint32(time.Now().Unix())
	fn(machine)
	after := uint32(time.Now().Unix())

	got := machine.Register(vm.RegReturn)
	if got < before || got > after {
		t.Errorf("expected RETURN in [%d, %d], got %d", before, after, got)
	}
}
