// tss_test.go - task-switch and interrupt stack-switch tests.

package main

import "testing"

func TestLtrStrRoundTrip(t *testing.T) {
	c := newTestCPU()
	// LTR AX; STR BX
	loadCode(c, 0x0F, 0x00, 0xD8, 0x0F, 0x00, 0xCB)
	enterProtected(c)
	writeGDTDescriptor(c, 3, 0x4000, 0x67, 0x89) // 32-bit available TSS
	c.Regs.SetReg16(regEAX, 0x18)

	c.Step()
	if got := c.Regs.TR.Selector; got != 0x18 {
		t.Fatalf("TR selector = %#x, want 0x18", got)
	}
	if got := c.Regs.TR.Desc.Base; got != 0x4000 {
		t.Fatalf("TR base = %#x, want 0x4000", got)
	}

	c.Step()
	if got := c.Regs.GetReg16(regEBX); got != 0x18 {
		t.Fatalf("STR read back %#x, want 0x18", got)
	}
}

// A far JMP to a TSS selector saves the outgoing state into the old
// TSS, loads the incoming register file, and marks CR0.TS.
func TestTaskSwitchJmpFar(t *testing.T) {
	c := newTestCPU()
	// JMP FAR 0018:0200
	loadCode(c, 0xEA, 0x00, 0x02, 0x18, 0x00)
	enterProtected(c)
	writeGDTDescriptor(c, 1, 0, 0xFFFF, 0x9A)   // code
	writeGDTDescriptor(c, 2, 0, 0xFFFF, 0x92)   // data
	writeGDTDescriptor(c, 3, 0x4000, 0x67, 0x89) // incoming TSS
	writeGDTDescriptor(c, 4, 0x3000, 0x67, 0x8B) // outgoing TSS, busy

	c.Regs.TR = SysSeg{
		Selector: 0x20,
		Desc:     SegDescriptor{Base: 0x3000, Limit: 0x67, Type: tssType32Busy, System: true, Present: true},
	}
	c.Regs.SetReg32(regEAX, 0x1111)

	// incoming task image at 0x4000
	c.Mem.Write32(0x4000+tss32EIP, 0x0200)
	c.Mem.Write32(0x4000+tss32EFL, 0x0202)
	c.Mem.Write32(0x4000+tss32EAX, 0x1234)
	c.Mem.Write32(0x4000+tss32ESP, 0x8000)
	c.Mem.Write16(0x4000+tss32CS, 0x08)
	c.Mem.Write16(0x4000+tss32SS, 0x10)
	c.Mem.Write16(0x4000+tss32DS, 0x10)
	c.Mem.Write16(0x4000+tss32ES, 0x10)
	c.Mem.Write16(0x4000+tss32FS, 0x10)
	c.Mem.Write16(0x4000+tss32GS, 0x10)

	c.Step()

	if got := c.Regs.TR.Selector; got != 0x18 {
		t.Fatalf("TR selector = %#x, want incoming 0x18", got)
	}
	if c.Regs.CR0&cr0TS == 0 {
		t.Fatal("CR0.TS should be set after a task switch")
	}
	if got := c.Regs.EIP; got != 0x0200 {
		t.Fatalf("EIP = %#x, want 0x0200", got)
	}
	if got := c.Regs.GetReg32(regEAX); got != 0x1234 {
		t.Fatalf("EAX = %#x, want incoming 0x1234", got)
	}
	if got := c.Regs.GetReg32(regESP); got != 0x8000 {
		t.Fatalf("ESP = %#x, want incoming 0x8000", got)
	}
	if got := c.Regs.GetSeg(segCS); got != 0x08 {
		t.Fatalf("CS = %#x, want 0x08", got)
	}

	// outgoing state landed in the old TSS: EIP past the 5-byte JMP
	if got := c.Mem.Read32(0x3000 + tss32EIP); got != 0x105 {
		t.Fatalf("saved EIP = %#x, want 0x105", got)
	}
	if got := c.Mem.Read32(0x3000 + tss32EAX); got != 0x1111 {
		t.Fatalf("saved EAX = %#x, want 0x1111", got)
	}

	// a JMP transition does not chain a backlink
	if got := c.Mem.Read16(0x4000 + tss32Link); got != 0 {
		t.Fatalf("backlink = %#x, want none on JMP", got)
	}
}

// An interrupt gate targeting ring 0 from ring 3 switches to the
// SS0:ESP0 pair in the current TSS, pushes the old stack, and IRET
// restores it.
func TestInterruptStackSwitch(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xCD, 0x40) // INT 0x40
	enterProtected(c)
	writeGDTDescriptor(c, 1, 0, 0xFFFF, 0x9A) // ring-0 code
	writeGDTDescriptor(c, 2, 0, 0xFFFF, 0x92) // ring-0 data
	writeGDTDescriptor(c, 3, 0, 0xFFFF, 0xFA) // ring-3 code
	writeGDTDescriptor(c, 4, 0, 0xFFFF, 0xF2) // ring-3 data

	// run in ring 3
	c.Regs.Seg[segCS] = SegReg{
		Selector: 0x1B,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0xA, DPL: 3, Present: true},
	}
	c.Regs.Seg[segSS] = SegReg{
		Selector: 0x23,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0x2, DPL: 3, Present: true},
	}
	c.Regs.SetReg32(regESP, 0x7000)

	// ring-0 stack comes from the current TSS
	c.Regs.TR = SysSeg{
		Selector: 0x28,
		Desc:     SegDescriptor{Base: 0x3000, Limit: 0x67, Type: tssType32Busy, System: true, Present: true},
	}
	c.Mem.Write32(0x3000+tss32ESP0, 0x9000)
	c.Mem.Write16(0x3000+tss32SS0, 0x10)

	// IDT gate 0x40: 32-bit interrupt gate, DPL 3, target 0008:0300
	c.Regs.IDTR = DTR{Base: 0x6000, Limit: 0x3FF}
	c.Mem.Write32(0x6000+0x40*8, 0x0300|0x08<<16)
	c.Mem.Write32(0x6000+0x40*8+4, 0xEE<<8)
	c.Mem.Write8(0x300, 0xCF) // IRET

	c.Step()

	if got := c.Regs.GetSeg(segCS); got != 0x08 {
		t.Fatalf("CS = %#x, want ring-0 0x08", got)
	}
	if got := c.Regs.GetSeg(segSS); got != 0x10 {
		t.Fatalf("SS = %#x, want TSS-supplied 0x10", got)
	}
	// oldSS, oldESP, EFLAGS, CS, EIP pushed on the new stack
	if got := c.Regs.GetReg32(regESP); got != 0x9000-20 {
		t.Fatalf("ESP = %#x, want 0x9000 minus five pushes", got)
	}
	if got := c.Mem.Read32(0x9000 - 4); got != 0x23 {
		t.Fatalf("pushed SS = %#x, want 0x23", got)
	}
	if got := c.Mem.Read32(0x9000 - 8); got != 0x7000 {
		t.Fatalf("pushed ESP = %#x, want 0x7000", got)
	}
	if got := c.Regs.EIP; got != 0x300 {
		t.Fatalf("EIP = %#x, want handler 0x300", got)
	}

	c.Step() // IRET back to ring 3

	if got := c.Regs.GetSeg(segCS); got != 0x1B {
		t.Fatalf("CS after IRET = %#x, want 0x1B", got)
	}
	if got := c.Regs.GetSeg(segSS); got != 0x23 {
		t.Fatalf("SS after IRET = %#x, want 0x23", got)
	}
	if got := c.Regs.GetReg32(regESP); got != 0x7000 {
		t.Fatalf("ESP after IRET = %#x, want restored 0x7000", got)
	}
	if got := c.Regs.EIP; got != 0x102 {
		t.Fatalf("EIP after IRET = %#x, want 0x102", got)
	}
}

// A software INT whose gate DPL is below CPL must not vector.
func TestSoftwareIntGateDPLCheck(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xCD, 0x40)
	enterProtected(c)
	writeGDTDescriptor(c, 1, 0, 0xFFFF, 0x9A)
	writeGDTDescriptor(c, 3, 0, 0xFFFF, 0xFA)

	c.Regs.Seg[segCS] = SegReg{
		Selector: 0x1B,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0xA, DPL: 3, Present: true},
	}

	// gate 0x40 is DPL 0 and must reject a ring-3 INT; #GP vectors
	// through gate 13 (DPL 0 is fine for a CPU-raised exception)
	c.Regs.IDTR = DTR{Base: 0x6000, Limit: 0x3FF}
	c.Mem.Write32(0x6000+0x40*8, 0x0300|0x08<<16)
	c.Mem.Write32(0x6000+0x40*8+4, 0x8E<<8)
	c.Mem.Write32(0x6000+13*8, 0x0400|0x08<<16)
	c.Mem.Write32(0x6000+13*8+4, 0x8E<<8)

	c.Step()

	if got := c.Regs.EIP; got != 0x400 {
		t.Fatalf("EIP = %#x, want the #GP handler at 0x400", got)
	}
}
