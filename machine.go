// machine.go - machine wiring and the CPU worker / screen refresher.
//
// The machine owns exactly one CPU and its devices. Two goroutines run
// under one errgroup: the CPU worker (batches of instructions with a
// short sleep between them) and the screen refresher (periodic palette
// and dirty-flag sampling). Host commands reach the worker through a
// queue drained at batch boundaries.

package main

import (
	"context"
	"image"
	"time"

	"golang.org/x/sync/errgroup"
)

// MachineCommand is posted to the CPU worker from another goroutine
// and drained between batches.
type MachineCommand int

const (
	CmdEnterDebugger MachineCommand = iota
	CmdExitDebugger
	CmdHardReboot
)

// BDA well-known field offsets.
const (
	bdaBase          = 0x400
	bdaVideoMode     = 0x449
	bdaColumns       = 0x44A
	bdaCursorPos     = 0x450 // one word per text page; page 0 only
	bdaCursorShape   = 0x460
	bdaRows          = 0x484
	bdaVideoCombo    = 0x48A
	videoBIOSBase    = 0xC0000
	videoBIOSSize    = 0x10000
	conventionalSize = vgaGraphicsBase // 0xA0000, end of RAM below the video window
)

// Frame is the snapshot the screen refresher hands to whatever UI
// layer is wired in; this core never renders it.
type Frame struct {
	Palette      [256][3]byte
	PaletteDirty bool
	TextDirty    bool
	Image        *image.RGBA
}

// Machine owns exactly one CPU and its devices. The memory-provider
// and I/O registries hold non-owning references with the machine's
// lifetime.
type Machine struct {
	CPU  *CPU
	VGA  *VGA
	Mem  *PhysicalMemory
	IO   *IODispatcher
	Intr *InterruptController
	Kbd  *Keyboard

	cmds chan MachineCommand

	// onFrame is the refresher's only output; nil means "nobody is
	// watching" and the refresher still runs (so paletteDirty/textDirty
	// keep getting cleared), just without a consumer.
	onFrame func(Frame)

	batchSize int
	logf      func(format string, args ...any)
}

// NewMachine constructs the CPU and registers the default memory
// providers (RAM, VGA graphics, VGA text) and I/O devices.
func NewMachine(ramSize uint32, logf func(string, ...any)) *Machine {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	mem := NewPhysicalMemory(ramSize, logf)
	io := NewIODispatcher(logf)
	intr := NewInterruptController()
	cpu := NewCPU(mem, io, intr, logf)

	m := &Machine{
		CPU:       cpu,
		Mem:       mem,
		IO:        io,
		Intr:      intr,
		cmds:      make(chan MachineCommand, 16),
		batchSize: 2000,
		logf:      logf,
	}

	m.VGA = NewVGA(m.notifyScreen, logf)

	mem.RegisterProvider(NewRAMProvider(mem, 0, conventionalSize))
	mem.RegisterProvider(m.VGA.GraphicsProvider())
	mem.RegisterProvider(m.VGA.TextProvider())
	if mem.Size() > videoBIOSBase+videoBIOSSize {
		mem.RegisterProvider(NewRAMProvider(mem, videoBIOSBase+videoBIOSSize, mem.Size()-(videoBIOSBase+videoBIOSSize)))
	}

	for _, p := range m.VGA.Ports() {
		io.Listen(p.Port, m.VGA, p.CanRead, p.CanWrite)
	}

	m.Kbd = NewKeyboard(intr)
	io.Listen(kbdPortData, m.Kbd, true, true)
	io.Listen(kbdPortStatus, m.Kbd, true, true)

	m.initBDA()
	cpu.Reset()
	return m
}

// initBDA seeds the well-known BIOS data area fields: 80x25 color text
// mode, cursor at home, a conventional start/end scanline pair, and
// the VGA-with-color video combination byte. The emulated BIOS owns
// these afterward.
func (m *Machine) initBDA() {
	m.Mem.Write8(bdaVideoMode, 0x03)
	m.Mem.Write16(bdaColumns, 80)
	m.Mem.Write16(bdaCursorPos, 0x0000)
	m.Mem.Write16(bdaCursorShape, 0x0607)
	m.Mem.Write8(bdaRows, 24)
	m.Mem.Write8(bdaVideoCombo, 0x08)
}

// notifyScreen is the capability passed to VGA instead of a full
// machine pointer, keeping the device free of a back-reference cycle.
func (m *Machine) notifyScreen() {}

// SetFrameHandler installs the refresher's sink. Must be called
// before Run for the first tick to observe it.
func (m *Machine) SetFrameHandler(f func(Frame)) {
	m.onFrame = f
}

// PostCommand enqueues a command for the CPU worker to drain at the
// next batch boundary. Never blocks once the queue has room; a full
// queue means the worker has stalled and is a programming error in
// the host, not a guest condition.
func (m *Machine) PostCommand(cmd MachineCommand) {
	m.cmds <- cmd
}

// Run starts the CPU worker and the screen refresher and blocks until
// ctx is cancelled or either goroutine returns an error.
func (m *Machine) Run(ctx context.Context, refreshInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.cpuWorker(ctx) })
	g.Go(func() error { return m.screenRefresher(ctx, refreshInterval) })
	return g.Wait()
}

// cpuWorker drains the command queue, runs a bounded batch of
// instructions (or until halted), then yields briefly. It never
// suspends mid-instruction.
func (m *Machine) cpuWorker(ctx context.Context) error {
	debugging := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-m.cmds:
			switch cmd {
			case CmdEnterDebugger:
				debugging = true
			case CmdExitDebugger:
				debugging = false
			case CmdHardReboot:
				m.CPU.Reset()
			}
		default:
		}

		if !debugging {
			for i := 0; i < m.batchSize && !m.CPU.Halted; i++ {
				m.CPU.Step()
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// screenRefresher samples palette and dirty state on a timer without
// holding any lock over RAM or VGA planes; only the palette read goes
// through VGA's mutex.
func (m *Machine) screenRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			palette, paletteDirty := m.VGA.PaletteSnapshot()
			textDirty := m.VGA.TakeTextDirty()
			if m.onFrame != nil {
				m.onFrame(Frame{
					Palette:      palette,
					PaletteDirty: paletteDirty,
					TextDirty:    textDirty,
					Image:        m.VGA.SnapshotRGBA(),
				})
			}
		}
	}
}
