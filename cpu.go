// cpu.go - the x86 decode/execute core.
//
// Fetch-as-you-decode: fetch8/16/32 advance EIP, ModR/M+SIB decode
// computes the effective address inline, and Step() loops over
// prefixes then dispatches through a 256-entry opcode table (with a
// second table for the 0F prefix).

package main

import "fmt"

// opHandler executes one instruction once the opcode byte has been
// consumed. It fetches whatever modrm/immediate bytes it needs itself.
type opHandler func(c *CPU) *Exception

var baseOps [256]opHandler
var extOps [256]opHandler // second-byte table for the 0F prefix

func registerOp(opcode byte, fn opHandler) {
	if baseOps[opcode] != nil {
		panic(fmt.Sprintf("cpu: opcode %#x registered twice", opcode))
	}
	baseOps[opcode] = fn
}

func registerExtOp(opcode byte, fn opHandler) {
	if extOps[opcode] != nil {
		panic(fmt.Sprintf("cpu: extended opcode 0F %#x registered twice", opcode))
	}
	extOps[opcode] = fn
}

// CPU ties the register file, physical memory, port-I/O dispatcher and
// interrupt controller together and drives the fetch/decode/execute
// loop.
type CPU struct {
	Regs *Registers
	Mem  *PhysicalMemory
	IO   *IODispatcher
	Intr *InterruptController

	Halted bool

	// debugRegs backs MOV DRx/MOV r,DRx as plain storage; no
	// breakpoint/trap semantics are implemented.
	debugRegs [8]uint32

	// Decode-time prefix state, reset at the start of every Step().
	segOverride int // -1 = none, else segES..segGS
	opSize32    bool
	addrSize32  bool
	repPrefix   byte // 0, 0xF2 (REPNE/REPNZ) or 0xF3 (REP/REPE/REPZ)
	lockPrefix  bool

	logf func(format string, args ...any)

	// TrapInt enables the --trapint diagnostic: log every software
	// interrupt (INT n) before it vectors.
	TrapInt bool

	// Trace enables the --trace diagnostic: log the address of every
	// instruction before it executes.
	Trace bool
}

func NewCPU(mem *PhysicalMemory, io *IODispatcher, intr *InterruptController, logf func(string, ...any)) *CPU {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &CPU{
		Regs: NewRegisters(),
		Mem:  mem,
		IO:   io,
		Intr: intr,
		logf: logf,
	}
}

func (c *CPU) Reset() {
	c.Regs.Reset()
	c.Halted = false
}

// defaultOpSize32 reflects the CS descriptor's D/B bit in protected
// mode, or always-16 in real mode, before 0x66/0x67 prefixes are
// applied.
func (c *CPU) defaultOpSize32() bool {
	if !c.Regs.ProtectedMode() || c.Regs.VM() {
		return false
	}
	return c.Regs.SegDesc(segCS).DefaultSize
}

// ---- fetch primitives: CS:EIP is the instruction stream ----

func (c *CPU) fetch8() (byte, *Exception) {
	v, ex := c.ReadMem8(segCS, c.Regs.EIP)
	if ex != nil {
		return 0, ex
	}
	c.Regs.EIP++
	return v, nil
}

func (c *CPU) fetch16() (uint16, *Exception) {
	lo, ex := c.fetch8()
	if ex != nil {
		return 0, ex
	}
	hi, ex := c.fetch8()
	if ex != nil {
		return 0, ex
	}
	return weld16(hi, lo), nil
}

func (c *CPU) fetch32() (uint32, *Exception) {
	lo, ex := c.fetch16()
	if ex != nil {
		return 0, ex
	}
	hi, ex := c.fetch16()
	if ex != nil {
		return 0, ex
	}
	return weld32(hi, lo), nil
}

// fetchImm fetches an immediate of width w, sign or zero extending
// per the caller's choice isn't modeled here; callers truncate/extend
// explicitly as each instruction's semantics demand.
func (c *CPU) fetchImm(w Width) (uint32, *Exception) {
	switch w {
	case W8:
		v, ex := c.fetch8()
		return uint32(v), ex
	case W16:
		v, ex := c.fetch16()
		return uint32(v), ex
	default:
		return c.fetch32()
	}
}

func (c *CPU) opWidth() Width {
	if c.opSize32 {
		return W32
	}
	return W16
}

func (c *CPU) addrWidth() Width {
	if c.addrSize32 {
		return W32
	}
	return W16
}

// ---- ModR/M + SIB decode ----

// rmOperand is the resolved ModR/M operand: either a register index
// (isMemory=false, reg is the rm-field register) or a memory operand
// at segment:offset.
type rmOperand struct {
	isMemory bool
	reg      byte
	seg      int
	offset   uint32
}

// modrmResult carries both decoded fields: reg is the ModR/M "reg"
// field (used as the other operand or an opcode-group selector), rm
// is the resolved r/m operand.
type modrmResult struct {
	regField byte
	rm       rmOperand
}

func (c *CPU) decodeModRM() (modrmResult, *Exception) {
	b, ex := c.fetch8()
	if ex != nil {
		return modrmResult{}, ex
	}
	mod := b >> 6
	reg := (b >> 3) & 7
	rm := b & 7

	if mod == 3 {
		return modrmResult{regField: reg, rm: rmOperand{isMemory: false, reg: rm}}, nil
	}

	seg := segDS
	if c.segOverride >= 0 {
		seg = c.segOverride
	}

	var offset uint32
	if c.addrSize32 {
		offset, seg, ex = c.decode32Address(mod, rm, seg)
	} else {
		offset, seg, ex = c.decode16Address(mod, rm, seg)
	}
	if ex != nil {
		return modrmResult{}, ex
	}
	return modrmResult{regField: reg, rm: rmOperand{isMemory: true, seg: seg, offset: offset}}, nil
}

// decode16Address implements the 8086-style [BX+SI], [BX+DI], [BP+SI],
// [BP+DI], [SI], [DI], disp16-or-[BP], [BX] table with 8/16-bit
// displacements.
func (c *CPU) decode16Address(mod, rm byte, defaultSeg int) (uint32, int, *Exception) {
	seg := defaultSeg
	var base uint16
	switch rm {
	case 0:
		base = c.Regs.BX() + c.Regs.SI()
	case 1:
		base = c.Regs.BX() + c.Regs.DI()
	case 2:
		base = c.Regs.BP() + c.Regs.SI()
		seg = segSS
	case 3:
		base = c.Regs.BP() + c.Regs.DI()
		seg = segSS
	case 4:
		base = c.Regs.SI()
	case 5:
		base = c.Regs.DI()
	case 6:
		if mod == 0 {
			disp, ex := c.fetch16()
			if ex != nil {
				return 0, seg, ex
			}
			if c.segOverride >= 0 {
				seg = c.segOverride
			}
			return uint32(disp), seg, nil
		}
		base = c.Regs.BP()
		seg = segSS
	case 7:
		base = c.Regs.BX()
	}
	if c.segOverride >= 0 {
		seg = c.segOverride
	}
	switch mod {
	case 1:
		d, ex := c.fetch8()
		if ex != nil {
			return 0, seg, ex
		}
		return uint32(base + signExtend8to16(d)), seg, nil
	case 2:
		d, ex := c.fetch16()
		if ex != nil {
			return 0, seg, ex
		}
		return uint32(base + d), seg, nil
	default:
		return uint32(base), seg, nil
	}
}

// decode32Address implements the 386-style SIB-capable table.
func (c *CPU) decode32Address(mod, rm byte, defaultSeg int) (uint32, int, *Exception) {
	seg := defaultSeg
	var base uint32

	if rm == 4 {
		sib, ex := c.fetch8()
		if ex != nil {
			return 0, seg, ex
		}
		scale := uint32(1) << (sib >> 6)
		index := (sib >> 3) & 7
		baseReg := sib & 7

		var indexVal uint32
		if index != 4 {
			indexVal = c.Regs.GetReg32(index) * scale
		}

		if baseReg == 5 && mod == 0 {
			disp, ex := c.fetch32()
			if ex != nil {
				return 0, seg, ex
			}
			base = disp
		} else {
			if baseReg == regESP || baseReg == regEBP {
				seg = segSS
			}
			base = c.Regs.GetReg32(baseReg)
		}
		base += indexVal
	} else if rm == 5 && mod == 0 {
		disp, ex := c.fetch32()
		if ex != nil {
			return 0, seg, ex
		}
		if c.segOverride >= 0 {
			seg = c.segOverride
		}
		return disp, seg, nil
	} else {
		if rm == regEBP {
			seg = segSS
		}
		base = c.Regs.GetReg32(rm)
	}

	if c.segOverride >= 0 {
		seg = c.segOverride
	}

	switch mod {
	case 1:
		d, ex := c.fetch8()
		if ex != nil {
			return 0, seg, ex
		}
		return base + signExtend16to32(signExtend8to16(d)), seg, nil
	case 2:
		d, ex := c.fetch32()
		if ex != nil {
			return 0, seg, ex
		}
		return base + d, seg, nil
	default:
		return base, seg, nil
	}
}

// ---- r/m operand access, width-generic ----

func (c *CPU) readRM(op rmOperand, w Width) (uint32, *Exception) {
	if !op.isMemory {
		return c.Regs.GetBySize(op.reg, w), nil
	}
	switch w {
	case W8:
		v, ex := c.ReadMem8(op.seg, op.offset)
		return uint32(v), ex
	case W16:
		v, ex := c.ReadMem16(op.seg, op.offset)
		return uint32(v), ex
	default:
		return c.ReadMem32(op.seg, op.offset)
	}
}

func (c *CPU) writeRM(op rmOperand, w Width, v uint32) *Exception {
	if !op.isMemory {
		c.Regs.SetBySize(op.reg, w, v)
		return nil
	}
	switch w {
	case W8:
		return c.WriteMem8(op.seg, op.offset, byte(v))
	case W16:
		return c.WriteMem16(op.seg, op.offset, uint16(v))
	default:
		return c.WriteMem32(op.seg, op.offset, v)
	}
}

// ---- stack helpers ----

func (c *CPU) stackSeg() int { return segSS }

func (c *CPU) push16(v uint16) *Exception {
	sp := c.Regs.SP() - 2
	c.Regs.SetReg16(regESP, sp)
	return c.WriteMem16(c.stackSeg(), uint32(sp), v)
}

func (c *CPU) pop16() (uint16, *Exception) {
	sp := c.Regs.SP()
	v, ex := c.ReadMem16(c.stackSeg(), uint32(sp))
	if ex != nil {
		return 0, ex
	}
	c.Regs.SetReg16(regESP, sp+2)
	return v, nil
}

func (c *CPU) push32(v uint32) *Exception {
	sp := c.Regs.GetReg32(regESP) - 4
	c.Regs.SetReg32(regESP, sp)
	return c.WriteMem32(c.stackSeg(), sp, v)
}

func (c *CPU) pop32() (uint32, *Exception) {
	sp := c.Regs.GetReg32(regESP)
	v, ex := c.ReadMem32(c.stackSeg(), sp)
	if ex != nil {
		return 0, ex
	}
	c.Regs.SetReg32(regESP, sp+4)
	return v, nil
}

func (c *CPU) pushOpSize(v uint32) *Exception {
	if c.opSize32 {
		return c.push32(v)
	}
	return c.push16(uint16(v))
}

func (c *CPU) popOpSize() (uint32, *Exception) {
	if c.opSize32 {
		return c.pop32()
	}
	v, ex := c.pop16()
	return uint32(v), ex
}

// ---- main loop ----

// Step decodes and executes exactly one instruction, or services a
// pending interrupt in its place. IRQ acceptance is checked once per
// instruction boundary, never mid-instruction.
func (c *CPU) Step() {
	if c.Halted {
		if v, ok := c.Intr.PollIRQ(c.Regs.IF()); ok {
			c.Halted = false
			c.deliverInterrupt(v, false, 0)
		}
		return
	}

	if v, ok := c.Intr.PollIRQ(c.Regs.IF()); ok {
		c.deliverInterrupt(v, false, 0)
		return
	}

	c.segOverride = -1
	c.opSize32 = c.defaultOpSize32()
	c.addrSize32 = c.defaultOpSize32()
	c.repPrefix = 0
	c.lockPrefix = false

	startEIP := c.Regs.EIP
	if c.Trace {
		c.logf("trace: %04x:%08x", c.Regs.GetSeg(segCS), startEIP)
	}

prefixLoop:
	for {
		b, ex := c.fetch8()
		if ex != nil {
			c.raise(ex)
			return
		}
		switch b {
		case 0x26:
			c.segOverride = segES
		case 0x2E:
			c.segOverride = segCS
		case 0x36:
			c.segOverride = segSS
		case 0x3E:
			c.segOverride = segDS
		case 0x64:
			c.segOverride = segFS
		case 0x65:
			c.segOverride = segGS
		case 0x66:
			c.opSize32 = !c.opSize32
		case 0x67:
			c.addrSize32 = !c.addrSize32
		case 0xF0:
			c.lockPrefix = true
		case 0xF2:
			c.repPrefix = 0xF2
		case 0xF3:
			c.repPrefix = 0xF3
		default:
			c.Regs.EIP--
			break prefixLoop
		}
	}

	opcode, ex := c.fetch8()
	if ex != nil {
		c.raise(ex)
		return
	}

	var handler opHandler
	if opcode == 0x0F {
		ext, ex := c.fetch8()
		if ex != nil {
			c.raise(ex)
			return
		}
		handler = extOps[ext]
	} else {
		handler = baseOps[opcode]
	}

	if handler == nil {
		c.Regs.EIP = startEIP
		c.raise(faultUD())
		return
	}

	// handlers only return faults (traps vector directly and return
	// nil), so rewind EIP to make the faulting instruction restartable
	if ex := handler(c); ex != nil {
		c.Regs.EIP = startEIP
		c.raise(ex)
	}
}

// raise vectors an exception through the real-mode IVT or
// protected-mode IDT.
func (c *CPU) raise(ex *Exception) {
	c.deliverInterrupt(ex.Vector, ex.HasError, ex.ErrorCode)
}
