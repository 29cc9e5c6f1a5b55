// Package monitor provides the interactive TUI the driver starts with -tui.
// It shows the register file, a memory window, the stack and program status,
// and accepts step/run/resume commands. It observes the machine purely
// through the vm package's public interface.
package monitor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/twinevm/twine/config"
	"github.com/twinevm/twine/vm"
)

// runChunk bounds a single "run" command so an infinite guest loop cannot
// wedge the event loop.
const runChunk = 1 << 20

// Monitor is the TUI monitor for a single VM instance.
type Monitor struct {
	Machine *vm.VM
	Config  *config.Config

	App   *tview.Application
	Pages *tview.Pages

	// Layout containers
	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	// View panels
	RegisterView *tview.TextView
	MemoryView   *tview.TextView
	StackView    *tview.TextView
	StatusView   *tview.TextView
	OutputView   *tview.TextView
	CommandInput *tview.InputField

	// MemoryAddress is the base of the memory pane window.
	MemoryAddress uint32
}

// New creates a monitor for the given machine.
func New(machine *vm.VM, cfg *config.Config) *Monitor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	m := &Monitor{
		Machine: machine,
		Config:  cfg,
		App:     tview.NewApplication(),
	}

	m.initializeViews()
	m.buildLayout()
	m.setupKeyBindings()
	m.RefreshAll()

	return m
}

// initializeViews creates all the view panels
func (m *Monitor) initializeViews() {
	m.RegisterView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	m.RegisterView.SetBorder(true).SetTitle(" Registers ")

	m.MemoryView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	m.MemoryView.SetBorder(true).SetTitle(" Memory ")

	m.StackView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	m.StackView.SetBorder(true).SetTitle(" Stack ")

	m.StatusView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	m.StatusView.SetBorder(true).SetTitle(" Status ")

	m.OutputView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	m.OutputView.SetBorder(true).SetTitle(" Output ")

	m.CommandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	m.CommandInput.SetBorder(true).SetTitle(" Command ")
	m.CommandInput.SetDoneFunc(m.handleCommand)
}

// buildLayout constructs the monitor layout
func (m *Monitor) buildLayout() {
	// Left panel: memory window over stack
	m.LeftPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.MemoryView, 0, 2, false).
		AddItem(m.StackView, 0, 1, false)

	// Right panel: registers over status
	m.RightPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(m.RegisterView, 20, 0, false).
		AddItem(m.StatusView, 6, 0, false)

	mainContent := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(m.LeftPanel, 0, 2, false).
		AddItem(m.RightPanel, 34, 0, false)

	m.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainContent, 0, 4, false).
		AddItem(m.OutputView, 8, 0, false).
		AddItem(m.CommandInput, 3, 0, true)

	m.Pages = tview.NewPages().
		AddPage("main", m.MainLayout, true, true)
}

// setupKeyBindings sets up keyboard shortcuts
func (m *Monitor) setupKeyBindings() {
	m.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			m.ExecuteCommand("help")
			return nil
		case tcell.KeyF5:
			m.ExecuteCommand("run")
			return nil
		case tcell.KeyF10:
			m.ExecuteCommand("step")
			return nil
		case tcell.KeyCtrlC:
			m.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			m.RefreshAll()
			return nil
		}
		return event
	})
}

// Run starts the monitor event loop and blocks until the user quits.
func (m *Monitor) Run() error {
	return m.App.SetRoot(m.Pages, true).SetFocus(m.CommandInput).Run()
}

// handleCommand processes command input
func (m *Monitor) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := m.CommandInput.GetText()
	if cmd != "" {
		m.ExecuteCommand(cmd)
		m.CommandInput.SetText("")
	}
}

// ExecuteCommand runs a monitor command and refreshes the panes.
func (m *Monitor) ExecuteCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "h":
		m.writeOutput(helpText)

	case "step", "s":
		n := 1
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				m.writeOutput(fmt.Sprintf("[red]bad step count: %s[white]\n", args[0]))
				return
			}
			n = parsed
		}
		status := m.Machine.Execute(n)
		m.writeOutput(fmt.Sprintf("stepped, status: %s\n", status))

	case "run", "r":
		limit := runChunk
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				m.writeOutput(fmt.Sprintf("[red]bad run limit: %s[white]\n", args[0]))
				return
			}
			limit = parsed
		}
		status := m.Machine.Execute(limit)
		if status == vm.StatusOK {
			m.writeOutput(fmt.Sprintf("still running after %d instructions\n", limit))
		} else {
			m.writeOutput(fmt.Sprintf("stopped, status: %s\n", status))
		}

	case "resume":
		if m.Machine.Status() != vm.StatusPause {
			m.writeOutput("[red]machine is not paused[white]\n")
			return
		}
		m.Machine.SetStatus(vm.StatusOK)
		m.writeOutput("status cleared to ok\n")

	case "reset-status":
		// Unlike resume, this reverts any latched status, fault states
		// included.
		prev := m.Machine.Status()
		m.Machine.SetStatus(vm.StatusOK)
		m.writeOutput(fmt.Sprintf("status reset to ok (was: %s)\n", prev))

	case "regs":
		var b strings.Builder
		for r := 0; r < vm.RegisterCount; r++ {
			val := m.Machine.Register(r)
			fmt.Fprintf(&b, "%-5s 0x%08X %11d\n", vm.RegisterToString(r), val, val)
		}
		m.writeOutput(b.String())

	case "mem", "m":
		if len(args) == 0 {
			m.writeOutput("[red]usage: mem <addr>[white]\n")
			return
		}
		addr, err := parseAddress(args[0])
		if err != nil {
			m.writeOutput(fmt.Sprintf("[red]bad address: %s[white]\n", args[0]))
			return
		}
		m.MemoryAddress = addr
		m.writeOutput(fmt.Sprintf("memory window at 0x%08X\n", addr))

	case "dump":
		if len(args) == 0 {
			m.writeOutput("[red]usage: dump <file>[white]\n")
			return
		}
		if err := os.WriteFile(args[0], m.Machine.MemoryBytes(), 0o644); err != nil {
			m.writeOutput(fmt.Sprintf("[red]dump failed: %v[white]\n", err))
			return
		}
		m.writeOutput(fmt.Sprintf("wrote memory dump: %s\n", args[0]))

	case "quit", "q":
		m.App.Stop()

	default:
		m.writeOutput(fmt.Sprintf("[red]unknown command: %s[white] (try help)\n", cmd))
	}

	m.RefreshAll()
}

const helpText = `commands:
  step [n]      execute n instructions (default 1)      F10
  run [n]       execute until the status leaves ok      F5
                or n instructions have run (default 1048576)
  resume        clear a paused status back to ok
  reset-status  force any latched status back to ok
  regs          print the register file to the output pane
  mem <addr>    move the memory window (hex or decimal)
  dump <file>   write the raw memory image to a file
  quit          exit the monitor                        Ctrl-C
`

// parseAddress accepts 0x-prefixed hex or decimal.
func parseAddress(s string) (uint32, error) {
	ls := strings.ToLower(s)
	if rest, ok := strings.CutPrefix(ls, "0x"); ok {
		v, err := strconv.ParseUint(rest, 16, 32)
		return uint32(v), err
	}
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}

// writeOutput appends text to the output pane, trimming history.
func (m *Monitor) writeOutput(text string) {
	fmt.Fprint(m.OutputView, text)
	limit := m.Config.Monitor.OutputHistory
	if limit <= 0 {
		return
	}
	lines := strings.Split(m.OutputView.GetText(false), "\n")
	if len(lines) > limit {
		m.OutputView.SetText(strings.Join(lines[len(lines)-limit:], "\n"))
	}
	m.OutputView.ScrollToEnd()
}

// RefreshAll redraws every pane from the machine state.
func (m *Monitor) RefreshAll() {
	m.RegisterView.SetText(m.FormatRegisters())
	m.MemoryView.SetText(m.FormatMemory())
	m.StackView.SetText(m.FormatStack())
	m.StatusView.SetText(m.FormatStatus())
}

// FormatRegisters renders the register pane.
func (m *Monitor) FormatRegisters() string {
	var b strings.Builder
	for r := 0; r < vm.RegisterCount; r++ {
		val := m.Machine.Register(r)
		fmt.Fprintf(&b, "[yellow]%-5s[white] 0x%08X %11d\n", vm.RegisterToString(r), val, val)
	}
	return b.String()
}

// FormatMemory renders the memory pane as a hex dump around MemoryAddress.
func (m *Monitor) FormatMemory() string {
	perLine := m.Config.Display.BytesPerLine
	if perLine <= 0 {
		perLine = 16
	}
	window := m.Config.Monitor.MemoryWindow
	if window == 0 {
		window = 256
	}

	size := m.Machine.MemorySize()
	base := m.MemoryAddress
	if base >= size {
		base = 0
	}
	end := base + window
	if end > size || end < base {
		end = size
	}
	mem := m.Machine.MemoryBytes()

	var b strings.Builder
	for line := base; line < end; line += uint32(perLine) {
		fmt.Fprintf(&b, "[yellow]%08X[white] ", line)
		for i := 0; i < perLine; i++ {
			pos := line + uint32(i)
			if pos >= end {
				break
			}
			fmt.Fprintf(&b, " %02X", mem[pos])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatStack renders the stack pane: one word per line from the current top
// of stack up to the initial top below the register block.
func (m *Monitor) FormatStack() string {
	stk := m.Machine.Register(vm.RegStack)
	top := m.Machine.MemorySize() - vm.ReservedTopBytes

	var b strings.Builder
	if stk > top {
		fmt.Fprintf(&b, "[red]stack pointer above initial top: 0x%08X[white]\n", stk)
		return b.String()
	}
	for pos := stk; pos < top; pos += vm.WordSize {
		val := m.Machine.ReadWord(pos)
		marker := "  "
		if pos == stk {
			marker = "=>"
		}
		fmt.Fprintf(&b, "[yellow]%s %08X[white]  0x%08X %11d\n", marker, pos, val, val)
	}
	if stk == top {
		b.WriteString("(empty)\n")
	}
	return b.String()
}

// FormatStatus renders the status pane.
func (m *Monitor) FormatStatus() string {
	var b strings.Builder
	status := m.Machine.Status()
	color := "green"
	if status != vm.StatusOK {
		color = "red"
	}
	fmt.Fprintf(&b, "Status:  [%s]%s[white]\n", color, status)
	fmt.Fprintf(&b, "Flag:    %v\n", m.Machine.Flag(vm.FlagConditional))
	fmt.Fprintf(&b, "Count:   %d\n", m.Machine.InstructionCount())
	fmt.Fprintf(&b, "Memory:  %d bytes\n", m.Machine.MemorySize())
	return b.String()
}
