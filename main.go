// main.go - CLI entry point: getopt flag parsing, slog as the
// structured logger, and a signal handler that cancels a context to
// unwind the running goroutines cleanly instead of os.Exit from
// inside the machine. The colored banner is gated on an actual
// terminal so escape codes never land in a redirected log.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"
	"golang.org/x/term"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "machine configuration file")
	optRAMKiB := getopt.Uint32Long("ram", 0, 0, "RAM size in KiB, overrides config (rounded up to a 16 KiB multiple)")
	optBoot := getopt.StringLong("boot", 'b', "", "boot image path, overrides config")
	optTrapInt := getopt.BoolLong("trapint", 0, "log each software interrupt")
	optIOPeek := getopt.BoolLong("iopeek", 0, "log each IN/OUT")
	optDiskLog := getopt.BoolLong("disklog", 0, "log disk accesses")
	optTrace := getopt.BoolLong("trace", 0, "per-instruction trace")
	optDebug := getopt.BoolLong("debug", 0, "start halted in the debugger")
	optHelp := getopt.BoolLong("help", 'h', "show usage")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel}))
	slog.SetDefault(logger)

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("\033[38;2;80;200;255mpcxt\033[0m - IBM-PC-compatible x86 core")
	}

	cfg := DefaultMachineConfig()
	if *optConfig != "" {
		loaded, err := LoadConfigFile(*optConfig, cfg)
		if err != nil {
			logger.Error("failed to load config", "file", *optConfig, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *optRAMKiB != 0 {
		cfg.RAMKiB = *optRAMKiB
	}
	if *optBoot != "" {
		cfg.BootPath = *optBoot
	}
	if args := getopt.Args(); cfg.BootPath == "" && len(args) > 0 {
		cfg.BootPath = args[0]
	}

	// --disklog has no effect yet: the disk image I/O layer is an
	// external collaborator, not part of this core.
	if *optDiskLog {
		logger.Warn("--disklog set but no disk device is wired into this core")
	}

	logf := func(format string, args ...any) {
		logger.Info(fmt.Sprintf(format, args...))
	}

	m := NewMachine(cfg.RAMKiB*1024, logf)
	m.CPU.TrapInt = *optTrapInt
	m.CPU.Trace = *optTrace
	m.IO.SetPeek(*optIOPeek)

	if cfg.BootPath != "" {
		if err := loadBootImage(m, cfg.BootPath); err != nil {
			logger.Error("failed to load boot image", "file", cfg.BootPath, "error", err)
			os.Exit(1)
		}
	}

	if *optDebug {
		m.PostCommand(CmdEnterDebugger)
	}

	kbdHost := NewKeyboardHost(m.Kbd)
	if err := kbdHost.Start(); err != nil {
		logger.Warn("keyboard host adapter disabled", "error", err)
	}
	defer kbdHost.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := m.Run(ctx, 16*time.Millisecond); err != nil {
		logger.Error("machine exited with error", "error", err)
		os.Exit(1)
	}
}

// loadBootImage reads a flat binary at physical 0x7C00 and points
// CS:IP at it, matching the real-mode boot-sector convention; it is a
// minimal stand-in for a BIOS loader.
func loadBootImage(m *Machine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	const loadAddr = 0x7C00
	for i, b := range data {
		m.Mem.Write8(uint32(loadAddr+i), b)
	}
	m.CPU.Regs.EIP = 0
	_ = m.CPU.LoadSegment(segCS, loadAddr>>4)
	_ = m.CPU.LoadSegment(segSS, loadAddr>>4)
	m.CPU.Regs.SetReg32(regESP, 0xFFFE)
	return nil
}
