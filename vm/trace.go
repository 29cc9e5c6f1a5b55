package vm

import (
	"encoding/json"
	"fmt"
	"io"
)

// TraceEntry records one dispatched opcode.
type TraceEntry struct {
	Sequence uint64 `json:"sequence"` // lifetime instruction number
	Address  uint32 `json:"address"`  // instruction pointer before the step
	Opcode   byte   `json:"opcode"`
	Mnemonic string `json:"mnemonic"`
	Status   Status `json:"status"` // status after the step
}

// Trace captures an execution trace. Attach one with EnableTrace; the
// dispatch loop appends an entry per dispatched opcode, dropping the oldest
// entries once MaxEntries is reached.
type Trace struct {
	Enabled    bool
	MaxEntries int

	entries []TraceEntry
	dropped uint64
}

// DefaultTraceCapacity bounds a trace unless the caller chooses otherwise.
const DefaultTraceCapacity = 100000

// NewTrace creates a trace bounded to maxEntries (<= 0 selects
// DefaultTraceCapacity).
func NewTrace(maxEntries int) *Trace {
	if maxEntries <= 0 {
		maxEntries = DefaultTraceCapacity
	}
	return &Trace{
		Enabled:    true,
		MaxEntries: maxEntries,
	}
}

// EnableTrace attaches a fresh bounded trace to the VM.
func (m *VM) EnableTrace(maxEntries int) *Trace {
	t := NewTrace(maxEntries)
	m.Trace = t
	return t
}

func (t *Trace) record(seq uint64, ip uint32, op byte, status Status) {
	if !t.Enabled {
		return
	}
	if len(t.entries) >= t.MaxEntries {
		// Drop from the front; the tail of a runaway program is the part
		// worth keeping.
		t.entries = t.entries[1:]
		t.dropped++
	}
	t.entries = append(t.entries, TraceEntry{
		Sequence: seq,
		Address:  ip,
		Opcode:   op,
		Mnemonic: Mnemonic(op),
		Status:   status,
	})
}

// Entries returns the captured entries, oldest first.
func (t *Trace) Entries() []TraceEntry {
	return t.entries
}

// Dropped returns how many entries were discarded to stay within MaxEntries.
func (t *Trace) Dropped() uint64 {
	return t.dropped
}

// WriteText writes one line per entry: sequence, address, mnemonic, status.
func (t *Trace) WriteText(w io.Writer) error {
	if t.dropped > 0 {
		if _, err := fmt.Fprintf(w, "... %d earlier entries dropped ...\n", t.dropped); err != nil {
			return err
		}
	}
	for _, e := range t.entries {
		if _, err := fmt.Fprintf(w, "%8d  0x%08X  %-10s %s\n",
			e.Sequence, e.Address, e.Mnemonic, e.Status); err != nil {
			return err
		}
	}
	return nil
}

// WriteJSON writes the entries as a JSON array.
func (t *Trace) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t.entries)
}

// Write writes the trace in the named format: "text" or "json".
func (t *Trace) Write(w io.Writer, format string) error {
	switch format {
	case "json":
		return t.WriteJSON(w)
	case "text", "":
		return t.WriteText(w)
	default:
		return fmt.Errorf("unknown trace format: %q", format)
	}
}
