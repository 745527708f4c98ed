// machine_test.go - default wiring tests.

package main

import "testing"

func TestMachineWiring(t *testing.T) {
	m := NewMachine(1024*1024, nil)

	// text window is provider-backed through physical memory
	m.Mem.Write8(0xB8000, 'X')
	if got := m.VGA.TextByte(0); got != 'X' {
		t.Fatalf("text byte = %#x, want 'X'", got)
	}
	if !m.VGA.TakeTextDirty() {
		t.Fatal("text write through memory should mark the screen dirty")
	}

	// graphics window routes through the planar machinery
	m.Mem.Write8(0xA0000, 0x77)
	if got := m.Mem.Read8(0xA0000); got != 0x77 {
		t.Fatalf("graphics byte = %#x, want 0x77", got)
	}

	// VGA ports are listened on
	m.IO.Out8(0x3C8, 0)
	m.IO.Out8(0x3C9, 0x3F)
	if _, dirty := m.VGA.PaletteSnapshot(); !dirty {
		t.Fatal("DAC write through the dispatcher should dirty the palette")
	}
}

func TestMachineBDADefaults(t *testing.T) {
	m := NewMachine(1024*1024, nil)

	if got := m.Mem.Read8(bdaVideoMode); got != 0x03 {
		t.Fatalf("video mode = %#x, want 0x03", got)
	}
	if got := m.Mem.Read16(bdaColumns); got != 80 {
		t.Fatalf("columns = %d, want 80", got)
	}
	if got := m.Mem.Read8(bdaRows); got != 24 {
		t.Fatalf("rows = %d, want 24", got)
	}
}

func TestKeyboardFIFO(t *testing.T) {
	intr := NewInterruptController()
	k := NewKeyboard(intr)

	if got := k.Read8(kbdPortStatus); got&kbdStatusOBF != 0 {
		t.Fatal("output buffer should start empty")
	}

	k.PushScancode(0x1E)
	if got := k.Read8(kbdPortStatus); got&kbdStatusOBF == 0 {
		t.Fatal("output buffer should be full after a push")
	}
	if v, ok := intr.PollIRQ(true); !ok || v != 0x09 {
		t.Fatalf("IRQ1 should be pending, got vector %#x ok=%v", v, ok)
	}
	if got := k.Read8(kbdPortData); got != 0x1E {
		t.Fatalf("scancode = %#x, want 0x1E", got)
	}
	if got := k.Read8(kbdPortStatus); got&kbdStatusOBF != 0 {
		t.Fatal("output buffer should drain after the read")
	}
}
