// cpu_test.go - flag-law and string-instruction tests.

package main

import "testing"

func newTestCPU() *CPU {
	mem := NewPhysicalMemory(64*1024, nil)
	io := NewIODispatcher(nil)
	intr := NewInterruptController()
	c := NewCPU(mem, io, intr, nil)
	c.Reset()
	return c
}

// loadCode writes a code fragment at physical 0x100 and points
// CS:IP at it with a flat real-mode CS/SS and a usable stack.
func loadCode(c *CPU, code ...byte) {
	const codeBase = 0x100
	for i, b := range code {
		c.Mem.Write8(codeBase+uint32(i), b)
	}
	_ = c.LoadSegment(segCS, 0)
	_ = c.LoadSegment(segSS, 0)
	c.Regs.SetReg32(regESP, 0xFFFE)
	c.Regs.EIP = codeBase
}

// SUB AX,BX via opcode 0x29 /r (SUB Ev,Gv): modrm 0xD8 selects rm=AX,
// reg=BX.
func TestSubFlagsExample(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x29, 0xD8)
	c.Regs.SetReg16(regEAX, 0x0005)
	c.Regs.SetReg16(regEBX, 0x0003)

	c.Step()

	if got := c.Regs.GetReg16(regEAX); got != 0x0002 {
		t.Fatalf("AX = %#x, want 0x0002", got)
	}
	if c.Regs.CF() || c.Regs.ZF() || c.Regs.SF() || c.Regs.OF() || c.Regs.PF() {
		t.Fatalf("flags = %#x, want all of CF/ZF/SF/OF/PF clear", c.Regs.EFlags)
	}
}

func TestSubFlagsWraparound(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x29, 0xD8)
	c.Regs.SetReg16(regEAX, 0x0001)
	c.Regs.SetReg16(regEBX, 0x0002)

	c.Step()

	if got := c.Regs.GetReg16(regEAX); got != 0xFFFF {
		t.Fatalf("AX = %#x, want 0xFFFF", got)
	}
	if !c.Regs.CF() {
		t.Fatal("CF should be set on unsigned borrow")
	}
	if !c.Regs.SF() {
		t.Fatal("SF should be set (result MSB)")
	}
	if c.Regs.ZF() {
		t.Fatal("ZF should be clear")
	}
}

// REP MOVSB with CX=4: CS:IP points at F3 A4; DS:SI -> source bytes,
// ES:DI -> destination.
func TestRepMovsb(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xF3, 0xA4)

	const srcOff, dstOff = 0x1000, 0x2000
	src := []byte{0x11, 0x22, 0x33, 0x44}
	for i, b := range src {
		c.Mem.Write8(srcOff+uint32(i), b)
	}

	c.Regs.SetReg16(regESI, srcOff)
	c.Regs.SetReg16(regEDI, dstOff)
	c.Regs.SetReg16(regECX, 4)
	c.Regs.SetFlag(flagDF, false)

	c.Step()

	for i, want := range src {
		if got := c.Mem.Read8(dstOff + uint32(i)); got != want {
			t.Fatalf("dest[%d] = %#x, want %#x", i, got, want)
		}
	}
	if got := c.Regs.GetReg16(regECX); got != 0 {
		t.Fatalf("CX = %#x, want 0", got)
	}
	if got := c.Regs.GetReg16(regESI); got != srcOff+4 {
		t.Fatalf("SI = %#x, want %#x", got, srcOff+4)
	}
	if got := c.Regs.GetReg16(regEDI); got != dstOff+4 {
		t.Fatalf("DI = %#x, want %#x", got, dstOff+4)
	}
}

// A single MOVSB with DF=1 decrements SI and DI by 1.
func TestMovsbDirectionFlag(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xA4)
	c.Regs.SetReg16(regESI, 0x100)
	c.Regs.SetReg16(regEDI, 0x200)
	c.Regs.SetFlag(flagDF, true)

	c.Step()

	if got := c.Regs.GetReg16(regESI); got != 0x0FF {
		t.Fatalf("SI = %#x, want 0xFF", got)
	}
	if got := c.Regs.GetReg16(regEDI); got != 0x1FF {
		t.Fatalf("DI = %#x, want 0x1FF", got)
	}
}

// SHL AL,1 via 0xD0 /4 (modrm 0xE0): AL=0x80 shifted left by one bit.
func TestShlAlOverflow(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xD0, 0xE0)
	c.Regs.SetReg8(0, 0x80)

	c.Step()

	if got := c.Regs.GetReg8(0); got != 0x00 {
		t.Fatalf("AL = %#x, want 0x00", got)
	}
	if !c.Regs.CF() {
		t.Fatal("CF should be set (bit shifted out was 1)")
	}
	if !c.Regs.ZF() {
		t.Fatal("ZF should be set (result is 0)")
	}
	if !c.Regs.OF() {
		t.Fatal("OF should be set (sign changed on a 1-bit shift)")
	}
}

// Shifts by a masked-zero count are a no-op on value and flags.
// SHL AL,CL with CL=0 via 0xD2 /4.
func TestShiftByZeroIsNoop(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xD2, 0xE0)
	c.Regs.SetReg8(0, 0x55)
	c.Regs.SetReg8(1, 0) // CL
	c.Regs.EFlags = 0

	c.Step()

	if got := c.Regs.GetReg8(0); got != 0x55 {
		t.Fatalf("AL = %#x, want unchanged 0x55", got)
	}
	if c.Regs.EFlags != 0 {
		t.Fatalf("flags changed on a zero-count shift: %#x", c.Regs.EFlags)
	}
}

// REP STOSW fills memory with AX and ends with CX=0.
func TestRepStosw(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0xF3, 0xAB)
	c.Regs.SetAX(0xBEEF)
	c.Regs.SetReg16(regEDI, 0x3000)
	c.Regs.SetReg16(regECX, 3)
	c.Regs.SetFlag(flagDF, false)

	c.Step()

	for i := uint32(0); i < 3; i++ {
		if got := c.Mem.Read16(0x3000 + i*2); got != 0xBEEF {
			t.Fatalf("word %d = %#x, want 0xBEEF", i, got)
		}
	}
	if got := c.Regs.GetReg16(regECX); got != 0 {
		t.Fatalf("CX = %#x, want 0", got)
	}
	if got := c.Regs.GetReg16(regEDI); got != 0x3006 {
		t.Fatalf("DI = %#x, want 0x3006", got)
	}
}

// An operand-size prefix widens MOVSW to a 32-bit move.
func TestMovsdOperandSizePrefix(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x66, 0xA5)
	c.Mem.Write32(0x1000, 0xCAFEBABE)
	c.Regs.SetReg16(regESI, 0x1000)
	c.Regs.SetReg16(regEDI, 0x2000)
	c.Regs.SetFlag(flagDF, false)

	c.Step()

	if got := c.Mem.Read32(0x2000); got != 0xCAFEBABE {
		t.Fatalf("dest = %#x, want 0xCAFEBABE", got)
	}
	if got := c.Regs.GetReg16(regESI); got != 0x1004 {
		t.Fatalf("SI = %#x, want advance by 4", got)
	}
}

// ADD AX,BX: 0x7FFF + 1 overflows signed, sets SF, clears CF.
func TestAddSignedOverflow(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x01, 0xD8) // ADD AX,BX
	c.Regs.SetReg16(regEAX, 0x7FFF)
	c.Regs.SetReg16(regEBX, 0x0001)

	c.Step()

	if got := c.Regs.GetReg16(regEAX); got != 0x8000 {
		t.Fatalf("AX = %#x, want 0x8000", got)
	}
	if !c.Regs.OF() || !c.Regs.SF() || c.Regs.CF() || c.Regs.ZF() {
		t.Fatalf("flags = %#x, want OF and SF set, CF and ZF clear", c.Regs.EFlags)
	}
}

// INT n in real mode pushes FLAGS, CS, IP, clears IF and vectors
// through the IVT; IRET restores them.
func TestRealModeInterruptAndIret(t *testing.T) {
	c := newTestCPU()
	// IVT entry 0x21 -> 0000:0500
	c.Mem.Write16(0x21*4, 0x0500)
	c.Mem.Write16(0x21*4+2, 0x0000)
	c.Mem.Write8(0x500, 0xCF) // IRET
	loadCode(c, 0xCD, 0x21)
	c.Regs.SetFlag(flagIF, true)

	c.Step()

	if got := c.Regs.EIP; got != 0x500 {
		t.Fatalf("EIP = %#x, want handler at 0x500", got)
	}
	if c.Regs.IF() {
		t.Fatal("IF should be cleared on interrupt entry")
	}
	retIP := c.Mem.Read16(0xFFFE - 6)
	if retIP != 0x102 {
		t.Fatalf("pushed IP = %#x, want 0x102", retIP)
	}

	c.Step() // IRET

	if got := c.Regs.EIP; got != 0x102 {
		t.Fatalf("EIP after IRET = %#x, want 0x102", got)
	}
	if !c.Regs.IF() {
		t.Fatal("IF should be restored by IRET")
	}
}

// An unknown opcode vectors through IVT entry 6 (#UD) instead of
// being skipped.
func TestUndefinedOpcodeRaisesUD(t *testing.T) {
	c := newTestCPU()
	c.Mem.Write16(6*4, 0x0700)
	c.Mem.Write16(6*4+2, 0x0000)
	loadCode(c, 0x0F, 0xFF)

	c.Step()

	if got := c.Regs.EIP; got != 0x700 {
		t.Fatalf("EIP = %#x, want #UD handler at 0x700", got)
	}
	// the faulting instruction's address was pushed, making the fault
	// restartable
	if got := c.Mem.Read16(0xFFFE - 6); got != 0x100 {
		t.Fatalf("pushed IP = %#x, want faulting 0x100", got)
	}
}

// DIV by zero raises #DE through IVT entry 0.
func TestDivideByZeroRaisesDE(t *testing.T) {
	c := newTestCPU()
	c.Mem.Write16(0, 0x0800)
	c.Mem.Write16(2, 0x0000)
	loadCode(c, 0xF6, 0xF3) // DIV BL
	c.Regs.SetAX(0x10)
	c.Regs.SetReg8(3, 0) // BL = 0

	c.Step()

	if got := c.Regs.EIP; got != 0x800 {
		t.Fatalf("EIP = %#x, want #DE handler at 0x800", got)
	}
}

// A pending IRQ is accepted at the instruction boundary when IF=1 and
// wakes a halted CPU.
func TestIRQWakesHalt(t *testing.T) {
	c := newTestCPU()
	c.Mem.Write16(0x09*4, 0x0900) // IRQ1 -> vector 9
	c.Mem.Write16(0x09*4+2, 0x0000)
	loadCode(c, 0xF4) // HLT
	c.Regs.SetFlag(flagIF, true)

	c.Step()
	if !c.Halted {
		t.Fatal("CPU should halt on HLT")
	}

	c.Intr.RaiseIRQ(1)
	c.Step()

	if c.Halted {
		t.Fatal("IRQ should wake the halted CPU")
	}
	if got := c.Regs.EIP; got != 0x900 {
		t.Fatalf("EIP = %#x, want IRQ handler at 0x900", got)
	}
}

// BSF finds the lowest set bit; a zero source sets ZF and forces the
// destination to 0.
func TestBsf(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x0F, 0xBC, 0xC3) // BSF AX,BX
	c.Regs.SetReg16(regEBX, 0x0040)

	c.Step()

	if got := c.Regs.GetReg16(regEAX); got != 6 {
		t.Fatalf("AX = %d, want 6", got)
	}
	if c.Regs.ZF() {
		t.Fatal("ZF should be clear for a non-zero source")
	}

	c = newTestCPU()
	loadCode(c, 0x0F, 0xBC, 0xC3)
	c.Regs.SetReg16(regEAX, 0x1234)
	c.Regs.SetReg16(regEBX, 0)
	c.Step()
	if !c.Regs.ZF() {
		t.Fatal("ZF should be set for a zero source")
	}
	if got := c.Regs.GetReg16(regEAX); got != 0 {
		t.Fatalf("AX = %#x, want forced 0", got)
	}
}

// PUSH/POP round-trip through the stack.
func TestPushPop(t *testing.T) {
	c := newTestCPU()
	loadCode(c, 0x50, 0x5B) // PUSH AX; POP BX
	c.Regs.SetReg16(regEAX, 0x4321)

	c.Step()
	c.Step()

	if got := c.Regs.GetReg16(regEBX); got != 0x4321 {
		t.Fatalf("BX = %#x, want 0x4321", got)
	}
	if got := c.Regs.SP(); got != 0xFFFE {
		t.Fatalf("SP = %#x, want balanced 0xFFFE", got)
	}
}

// OUT DX,AL reaches a registered device through the dispatcher.
func TestOutReachesDevice(t *testing.T) {
	c := newTestCPU()
	p := newRecordingPort(0)
	c.IO.Listen(0x3C9, p, true, true)
	loadCode(c, 0xEE) // OUT DX,AL
	c.Regs.SetReg16(regEDX, 0x3C9)
	c.Regs.SetAL(0x2A)

	c.Step()

	if got := p.writes[0x3C9]; got != 0x2A {
		t.Fatalf("device saw %#x, want 0x2A", got)
	}
}
