package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/twinevm/twine/config"
	"github.com/twinevm/twine/monitor"
	"github.com/twinevm/twine/vm"
)

// Version information - can be overridden at build time with:
// go build -ldflags "-X main.Version=v1.2.3"
var (
	Version = "dev"     // Version number (set by git tag at build time)
	Commit  = "unknown" // Git commit hash
	Date    = "unknown" // Build date
)

func main() {
	// Command-line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configFile  = flag.String("config", "", "Config file (default: platform config path)")
		memSize     = flag.Uint("memsize", 0, "Linear memory size in bytes (overrides config)")
		icount      = flag.Int("c", 0, "Max instructions per execute call, -1 = unbounded (overrides config)")
		memoryFile  = flag.String("m", "", "Write the raw memory image to this file on exit")
		tableSize   = flag.Int("table-size", 0, "Syscall table capacity, power of two (overrides config)")
		tuiMode     = flag.Bool("tui", false, "Start the interactive TUI monitor")
		verboseMode = flag.Bool("verbose", false, "Verbose output")

		// Tracing and statistics flags
		enableTrace = flag.Bool("trace", false, "Enable execution trace")
		traceFile   = flag.String("trace-file", "", "Trace output file (default from config)")
		traceFormat = flag.String("trace-format", "", "Trace format (text, json)")
		enableStats = flag.Bool("stats", false, "Enable execution statistics")
		statsFile   = flag.String("stats-file", "", "Statistics output file (default from config)")
		statsFormat = flag.String("stats-format", "", "Statistics format (text, json, csv)")
	)

	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("Twine VM %s\n", Version)
		if Commit != "unknown" {
			fmt.Printf("Commit: %s\n", Commit)
		}
		if Date != "unknown" {
			fmt.Printf("Built: %s\n", Date)
		}
		os.Exit(0)
	}

	// Show help
	if *showHelp || flag.NArg() == 0 {
		printHelp()
		os.Exit(0)
	}

	// Load configuration, then let explicit flags win
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFrom(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *memSize != 0 {
		cfg.Execution.MemorySize = uint32(*memSize)
	}
	if *tableSize != 0 {
		cfg.Execution.SyscallTableSize = *tableSize
	}
	if *icount != 0 {
		cfg.Execution.MaxInstructions = *icount
	}
	if *enableTrace {
		cfg.Execution.EnableTrace = true
	}
	if *traceFile != "" {
		cfg.Trace.OutputFile = *traceFile
	}
	if *traceFormat != "" {
		cfg.Trace.Format = *traceFormat
	}
	if *enableStats {
		cfg.Execution.EnableStats = true
	}
	if *statsFile != "" {
		cfg.Statistics.OutputFile = *statsFile
	}
	if *statsFormat != "" {
		cfg.Statistics.Format = *statsFormat
	}

	// Load the object file
	objFile := flag.Arg(0)
	code, err := os.ReadFile(objFile) // #nosec G304 -- user-supplied object file
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load object file: %v\n", err)
		os.Exit(1)
	}

	if *verboseMode {
		fmt.Printf("Loaded %d bytes of object code from %s\n", len(code), objFile)
	}

	// Create the machine
	machine, err := vm.NewWithTableSize(cfg.Execution.MemorySize, cfg.Execution.SyscallTableSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to create machine: %v\n", err)
		os.Exit(1)
	}
	if err := machine.LoadCode(code); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load object code: %v\n", err)
		os.Exit(1)
	}

	var stats *vm.Statistics
	if cfg.Execution.EnableStats {
		stats = machine.EnableStatistics()
	}
	var trace *vm.Trace
	if cfg.Execution.EnableTrace {
		trace = machine.EnableTrace(cfg.Trace.MaxEntries)
	}

	if *verboseMode {
		fmt.Printf("Memory: %d bytes, syscall table: %d slots\n",
			machine.MemorySize(), cfg.Execution.SyscallTableSize)
	}

	// Interactive monitor mode
	if *tuiMode {
		if err := monitor.New(machine, cfg).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
			os.Exit(1)
		}
	} else {
		runBatch(machine, cfg.Execution.MaxInstructions)
	}

	if stats != nil {
		stats.Stop()
		if err := writeReport(cfg.Statistics.OutputFile, cfg.Statistics.Format, stats.Write); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write statistics: %v\n", err)
		} else if *verboseMode {
			fmt.Printf("Wrote statistics: %s\n", cfg.Statistics.OutputFile)
		}
	}
	if trace != nil {
		if err := writeReport(cfg.Trace.OutputFile, cfg.Trace.Format, trace.Write); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write trace: %v\n", err)
		} else if *verboseMode {
			fmt.Printf("Wrote trace: %s\n", cfg.Trace.OutputFile)
		}
	}

	if *memoryFile != "" {
		if err := os.WriteFile(*memoryFile, machine.MemoryBytes(), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Unable to write memory dump: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote memory dump: %s\n", *memoryFile)
	}
}

// runBatch executes the loaded program, printing a register dump after every
// execute call and resuming across pauses on user input.
func runBatch(machine *vm.VM, icount int) {
	stdin := bufio.NewReader(os.Stdin)
	status := vm.StatusOK
	for status == vm.StatusOK {
		status = machine.Execute(icount)
		printProgramStatus(machine)
		if status == vm.StatusPause {
			fmt.Print("Program paused, hit enter to continue.")
			if _, err := stdin.ReadString('\n'); err != nil {
				fmt.Println()
				break
			}
			machine.SetStatus(vm.StatusOK)
			status = vm.StatusOK
		}
	}
}

// printProgramStatus prints the register dump, status and instruction count.
func printProgramStatus(machine *vm.VM) {
	fmt.Println("Register contents:")
	for r := 0; r < vm.RegisterCount; r++ {
		val := machine.Register(r)
		fmt.Printf("\tReg: %-5s = 0x%08X   %d\n", vm.RegisterToString(r), val, val)
	}
	fmt.Printf("Status: %s\n", machine.Status())
	fmt.Printf("Instructions executed: %d\n", machine.InstructionCount())
}

// writeReport creates the named file and hands it to a formatter.
func writeReport(path, format string, write func(w io.Writer, format string) error) error {
	f, err := os.Create(path) // #nosec G304 -- user-supplied output path
	if err != nil {
		return err
	}
	defer f.Close()
	return write(f, format)
}

func printHelp() {
	fmt.Printf(`Twine VM %s - an embeddable 32-bit bytecode virtual machine

Usage: twine [options] <object-file>

The object file is a flat sequence of assembled instructions; it is loaded
verbatim and executed from offset 0. After each execute call the driver
prints a register dump. A paused program resumes on enter.

Options:
`, Version)
	flag.PrintDefaults()
	fmt.Println(`
Examples:
  twine program.obj                 run to completion
  twine -c 20 program.obj           register dump every 20 instructions
  twine -m memory.dump program.obj  write the raw memory image on exit
  twine -tui program.obj            interactive monitor
  twine -stats -trace program.obj   write stats.json and trace.log`)
}
