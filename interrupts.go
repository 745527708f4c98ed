// interrupts.go - interrupt/exception delivery.
//
// Real mode: push Flags/CS/IP, clear IF/TF, vector through the IVT at
// vector*4. Protected mode: walk the IDT gate descriptors. IRQ line
// acceptance (gated by IF, edge-latched per line) is kept separate
// from exception delivery (always taken, optional error code).

package main

// InterruptController tracks the 8259-style IRQ lines this machine
// exposes. It does not model priority/cascading beyond a simple fixed
// scan order, IRQ0 highest.
type InterruptController struct {
	pending [16]bool
	mask    [16]bool
}

func NewInterruptController() *InterruptController {
	return &InterruptController{}
}

// RaiseIRQ latches an IRQ line high until it is accepted.
func (ic *InterruptController) RaiseIRQ(line int) {
	if line >= 0 && line < len(ic.pending) {
		ic.pending[line] = true
	}
}

func (ic *InterruptController) SetMask(line int, masked bool) {
	if line >= 0 && line < len(ic.mask) {
		ic.mask[line] = masked
	}
}

// PollIRQ returns the vector for the highest-priority pending,
// unmasked IRQ line if interrupts are currently accepted (ifFlag),
// clearing that line's pending state. Vectors are remapped to 0x08
// (master PIC base) + line, matching standard PC/XT wiring.
func (ic *InterruptController) PollIRQ(ifFlag bool) (uint8, bool) {
	if !ifFlag {
		return 0, false
	}
	for line := 0; line < len(ic.pending); line++ {
		if ic.pending[line] && !ic.mask[line] {
			ic.pending[line] = false
			return uint8(0x08 + line), true
		}
	}
	return 0, false
}

// deliverInterrupt pushes the return context and vectors through the
// IVT (real mode) or IDT (protected mode). hasError/errorCode apply
// only to the protected-mode CPU-generated exceptions that define
// one; real mode never pushes an error code.
func (c *CPU) deliverInterrupt(vector uint8, hasError bool, errorCode uint16) {
	if !c.Regs.ProtectedMode() || c.Regs.VM() {
		c.deliverRealModeInterrupt(vector)
		return
	}
	c.deliverProtectedModeInterrupt(vector, hasError, errorCode)
}

func (c *CPU) deliverRealModeInterrupt(vector uint8) {
	entry := uint32(vector) * 4
	ip := c.Mem.Read16(entry)
	cs := c.Mem.Read16(entry + 2)

	_ = c.push16(uint16(c.Regs.EFlags))
	_ = c.push16(c.Regs.GetSeg(segCS))
	_ = c.push16(uint16(c.Regs.EIP))

	c.Regs.SetFlag(flagIF, false)
	c.Regs.SetFlag(flagTF, false)
	c.Regs.SetFlag(flagAC, false)

	_ = c.LoadSegment(segCS, cs)
	c.Regs.EIP = uint32(ip)
}

// deliverSoftwareInterrupt is the INT n entry point: unlike
// exceptions and hardware IRQs, a software interrupt must pass the
// gate's DPL check against CPL before it may vector, so user code
// cannot invoke ring-0-only gates.
func (c *CPU) deliverSoftwareInterrupt(vector uint8) {
	if c.Regs.ProtectedMode() && !c.Regs.VM() {
		if uint32(vector)*8+7 <= uint32(c.Regs.IDTR.Limit) {
			hi := c.Mem.Read32(c.Regs.IDTR.Base + uint32(vector)*8 + 4)
			gateDPL := uint8((hi >> 13) & 3)
			if gateDPL < c.Regs.CPL() {
				c.raise(faultGP(uint16(vector)*8 + 2))
				return
			}
		}
	}
	c.deliverInterrupt(vector, false, 0)
}

// IDT gate layout (8 bytes): offset_lo(2) selector(2) reserved/type(2) offset_hi(2).
func (c *CPU) deliverProtectedModeInterrupt(vector uint8, hasError bool, errorCode uint16) {
	gateAddr := c.Regs.IDTR.Base + uint32(vector)*8
	if uint32(vector)*8+7 > uint32(c.Regs.IDTR.Limit) {
		// no handler installed; treat as #GP(vector*8+2) escalated to
		// a double fault would be the textbook behavior, but without a
		// second exception vector loop this design simply halts.
		c.Halted = true
		return
	}
	lo := c.Mem.Read32(gateAddr)
	hi := c.Mem.Read32(gateAddr + 4)
	offset := (lo & 0xFFFF) | (hi & 0xFFFF0000)
	selector := uint16((lo >> 16) & 0xFFFF)
	gateType := uint8((hi >> 8) & 0x1F)

	oldCS := c.Regs.GetSeg(segCS)
	oldEIP := c.Regs.EIP
	oldFlags := c.Regs.EFlags

	// a gate targeting a more privileged ring switches to that ring's
	// SS:ESP from the current TSS before anything is pushed
	target, dErr := c.fetchDescriptor(selector)
	if dErr == nil && !target.System && target.DPL < c.Regs.CPL() && c.Regs.TR.Selector != 0 {
		tss := &tssView{c: c, base: c.Regs.TR.Desc.Base, is32Bit: true}
		newSS := tss.read16(tss32SS0 + uint32(target.DPL)*8)
		newESP := tss.read32(tss32ESP0 + uint32(target.DPL)*8)
		oldSS := c.Regs.GetSeg(segSS)
		oldESP := c.Regs.GetReg32(regESP)

		_ = c.LoadSegment(segCS, selector)
		_ = c.LoadSegment(segSS, newSS)
		c.Regs.SetReg32(regESP, newESP)
		_ = c.push32(uint32(oldSS))
		_ = c.push32(oldESP)
	} else {
		_ = c.LoadSegment(segCS, selector)
	}

	_ = c.push32(oldFlags)
	_ = c.push32(uint32(oldCS))
	_ = c.push32(oldEIP)
	if hasError {
		_ = c.push32(uint32(errorCode))
	}

	// interrupt gates (0x6/0xE) mask further interrupts; trap gates
	// (0x7/0xF) leave IF alone
	if gateType&0x7 == 0x6 {
		c.Regs.SetFlag(flagIF, false)
	}
	c.Regs.SetFlag(flagTF, false)

	c.Regs.EIP = offset
}

// InterruptReturn pops the context pushed by deliverInterrupt (IRET).
func (c *CPU) InterruptReturn() *Exception {
	if !c.Regs.ProtectedMode() || c.Regs.VM() {
		ip, ex := c.pop16()
		if ex != nil {
			return ex
		}
		cs, ex := c.pop16()
		if ex != nil {
			return ex
		}
		flags, ex := c.pop16()
		if ex != nil {
			return ex
		}
		c.Regs.EIP = uint32(ip)
		if ex := c.LoadSegment(segCS, cs); ex != nil {
			return ex
		}
		c.Regs.EFlags = (c.Regs.EFlags &^ 0xFFFF) | uint32(flags)
		return nil
	}

	eip, ex := c.pop32()
	if ex != nil {
		return ex
	}
	cs, ex := c.pop32()
	if ex != nil {
		return ex
	}
	flags, ex := c.pop32()
	if ex != nil {
		return ex
	}

	// returning to a less privileged ring also pops the interrupted
	// ring's ESP and SS, mirroring the stack switch on delivery
	outer := uint8(cs&3) > c.Regs.CPL()
	var newESP, newSS uint32
	if outer {
		if newESP, ex = c.pop32(); ex != nil {
			return ex
		}
		if newSS, ex = c.pop32(); ex != nil {
			return ex
		}
	}

	if ex := c.LoadSegment(segCS, uint16(cs)); ex != nil {
		return ex
	}
	c.Regs.EIP = eip
	c.Regs.EFlags = flags
	if outer {
		c.Regs.SetReg32(regESP, newESP)
		if ex := c.LoadSegment(segSS, uint16(newSS)); ex != nil {
			return ex
		}
	}
	return nil
}
