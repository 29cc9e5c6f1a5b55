package vm

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// Statistics tracks execution statistics for a VM instance. Attach one with
// EnableStatistics before executing; the dispatch loop feeds it. All
// counters are per-attachment, not per-instance lifetime.
type Statistics struct {
	Enabled bool

	// Execution metrics
	TotalInstructions  uint64
	ExecutionTime      time.Duration
	InstructionsPerSec float64

	// Instruction breakdown, mnemonic -> count. Unknown opcode bytes are
	// tallied under "???".
	InstructionCounts map[string]uint64

	// Conditional branch statistics
	BranchCount       uint64
	BranchTakenCount  uint64
	BranchMissedCount uint64

	// Syscall dispatch statistics
	SyscallCount     uint64
	SyscallMissCount uint64

	// Lowest stack pointer value observed across pushes
	StackLowWater uint32

	startTime time.Time
}

// NewStatistics creates a statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		Enabled:           true,
		InstructionCounts: make(map[string]uint64),
		StackLowWater:     ^uint32(0),
	}
}

// EnableStatistics attaches a fresh statistics tracker to the VM and starts
// its clock.
func (m *VM) EnableStatistics() *Statistics {
	s := NewStatistics()
	s.Start()
	m.Statistics = s
	return s
}

// Start resets all counters and starts the wall clock.
func (s *Statistics) Start() {
	s.startTime = time.Now()
	s.TotalInstructions = 0
	s.InstructionCounts = make(map[string]uint64)
	s.BranchCount = 0
	s.BranchTakenCount = 0
	s.BranchMissedCount = 0
	s.SyscallCount = 0
	s.SyscallMissCount = 0
	s.StackLowWater = ^uint32(0)
}

// Stop freezes the wall clock and derives the throughput figure.
func (s *Statistics) Stop() {
	s.ExecutionTime = time.Since(s.startTime)
	if secs := s.ExecutionTime.Seconds(); secs > 0 {
		s.InstructionsPerSec = float64(s.TotalInstructions) / secs
	}
}

func (s *Statistics) recordInstruction(op byte) {
	if !s.Enabled {
		return
	}
	s.TotalInstructions++
	s.InstructionCounts[Mnemonic(op)]++
}

func (s *Statistics) recordBranch(taken bool) {
	if !s.Enabled {
		return
	}
	s.BranchCount++
	if taken {
		s.BranchTakenCount++
	} else {
		s.BranchMissedCount++
	}
}

func (s *Statistics) recordSyscall(hit bool) {
	if !s.Enabled {
		return
	}
	s.SyscallCount++
	if !hit {
		s.SyscallMissCount++
	}
}

func (s *Statistics) recordStackDepth(stk uint32) {
	if !s.Enabled {
		return
	}
	if stk < s.StackLowWater {
		s.StackLowWater = stk
	}
}

// sortedMnemonics returns the mnemonics seen, most frequent first, ties
// alphabetical.
func (s *Statistics) sortedMnemonics() []string {
	names := make([]string, 0, len(s.InstructionCounts))
	for name := range s.InstructionCounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := s.InstructionCounts[names[i]], s.InstructionCounts[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	return names
}

// WriteText writes a human-readable report.
func (s *Statistics) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Instructions executed: %d\n", s.TotalInstructions); err != nil {
		return err
	}
	fmt.Fprintf(w, "Execution time:        %v\n", s.ExecutionTime)
	if s.InstructionsPerSec > 0 {
		fmt.Fprintf(w, "Instructions/sec:      %.0f\n", s.InstructionsPerSec)
	}
	if s.BranchCount > 0 {
		fmt.Fprintf(w, "Conditional branches:  %d (%d taken, %d not taken)\n",
			s.BranchCount, s.BranchTakenCount, s.BranchMissedCount)
	}
	if s.SyscallCount > 0 {
		fmt.Fprintf(w, "Syscalls:              %d (%d missed)\n", s.SyscallCount, s.SyscallMissCount)
	}
	if s.StackLowWater != ^uint32(0) {
		fmt.Fprintf(w, "Stack low water mark:  0x%08X\n", s.StackLowWater)
	}
	fmt.Fprintln(w, "\nInstruction breakdown:")
	for _, name := range s.sortedMnemonics() {
		fmt.Fprintf(w, "  %-10s %d\n", name, s.InstructionCounts[name])
	}
	return nil
}

// WriteJSON writes the statistics as an indented JSON document.
func (s *Statistics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteCSV writes the per-mnemonic breakdown as CSV rows.
func (s *Statistics) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"mnemonic", "count"}); err != nil {
		return err
	}
	for _, name := range s.sortedMnemonics() {
		if err := cw.Write([]string{name, fmt.Sprintf("%d", s.InstructionCounts[name])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write writes the statistics in the named format: "text", "json" or "csv".
func (s *Statistics) Write(w io.Writer, format string) error {
	switch format {
	case "json":
		return s.WriteJSON(w)
	case "csv":
		return s.WriteCSV(w)
	case "text", "":
		return s.WriteText(w)
	default:
		return fmt.Errorf("unknown statistics format: %q", format)
	}
}
