// exec_system.go - privileged/system instructions: descriptor-table
// loads/stores, LMSW/SMSW, control/debug register moves, LAR/LSL/
// VERR/VERW/ARPL, the far-pointer segment loads, and the FPU escape
// stubs.

package main

func init() {
	registerExtOp(0x00, opGrp6)
	registerExtOp(0x01, opGrp7)
	registerExtOp(0x02, opLar)
	registerExtOp(0x03, opLsl)
	registerExtOp(0x06, opClts)
	registerExtOp(0x09, opWbinvd)
	registerExtOp(0x20, opMovRCr)
	registerExtOp(0x22, opMovCrR)
	registerExtOp(0x21, opMovRDr)
	registerExtOp(0x23, opMovDrR)
	registerOp(0x63, opArpl)

	registerOp(0xC4, opLes)
	registerOp(0xC5, opLds)
	registerExtOp(0xB2, opLss)
	registerExtOp(0xB4, opLfs)
	registerExtOp(0xB5, opLgs)

	for b := byte(0xD8); b <= 0xDF; b++ {
		registerOp(b, opFpuEscape)
	}
}

// opFpuEscape consumes the ModR/M byte of an FPU opcode and does
// nothing else. No #UD: real hardware with EM=0 would execute these,
// so they decode-and-discard instead of faulting.
func opFpuEscape(c *CPU) *Exception {
	_, ex := c.decodeModRM()
	return ex
}

// opGrp6 is 0F 00: SLDT(/0) STR(/1) LLDT(/2) LTR(/3) VERR(/4) VERW(/5).
func opGrp6(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	switch m.regField {
	case 0:
		return c.writeRM(m.rm, W16, uint32(c.Regs.LDTR.Selector))
	case 1:
		return c.writeRM(m.rm, W16, uint32(c.Regs.TR.Selector))
	case 2:
		sel, ex := c.readRM(m.rm, W16)
		if ex != nil {
			return ex
		}
		d, ex := c.fetchDescriptor(uint16(sel))
		if ex != nil {
			return ex
		}
		c.Regs.LDTR = SysSeg{Selector: uint16(sel), Desc: d}
		return nil
	case 3:
		sel, ex := c.readRM(m.rm, W16)
		if ex != nil {
			return ex
		}
		d, ex := c.fetchDescriptor(uint16(sel))
		if ex != nil {
			return ex
		}
		c.Regs.TR = SysSeg{Selector: uint16(sel), Desc: d}
		return nil
	case 4, 5:
		sel, ex := c.readRM(m.rm, W16)
		if ex != nil {
			return ex
		}
		_, dErr := c.fetchDescriptor(uint16(sel))
		c.Regs.SetFlag(flagZF, dErr == nil)
		return nil
	default:
		return faultUD()
	}
}

// opGrp7 is 0F 01: SGDT(/0) SIDT(/1) LGDT(/2) LIDT(/3) SMSW(/4)
// LMSW(/6) INVLPG(/7, memory form of /7).
func opGrp7(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	switch m.regField {
	case 0:
		return c.storeDescTableReg(m.rm, c.Regs.GDTR)
	case 1:
		return c.storeDescTableReg(m.rm, c.Regs.IDTR)
	case 2:
		d, ex := c.loadDescTableReg(m.rm)
		if ex != nil {
			return ex
		}
		c.Regs.GDTR = d
		return nil
	case 3:
		d, ex := c.loadDescTableReg(m.rm)
		if ex != nil {
			return ex
		}
		c.Regs.IDTR = d
		return nil
	case 4:
		return c.writeRM(m.rm, W16, c.Regs.CR0&0xFFFF)
	case 6:
		v, ex := c.readRM(m.rm, W16)
		if ex != nil {
			return ex
		}
		c.Regs.CR0 = (c.Regs.CR0 &^ 0xF) | (v & 0xF)
		return nil
	case 7:
		return nil // INVLPG: no TLB is modeled (paging.go walks every access)
	default:
		return faultUD()
	}
}

func (c *CPU) storeDescTableReg(op rmOperand, d DTR) *Exception {
	if !op.isMemory {
		return faultUD()
	}
	if ex := c.WriteMem16(op.seg, op.offset, d.Limit); ex != nil {
		return ex
	}
	return c.WriteMem32(op.seg, op.offset+2, d.Base)
}

func (c *CPU) loadDescTableReg(op rmOperand) (DTR, *Exception) {
	if !op.isMemory {
		return DTR{}, faultUD()
	}
	limit, ex := c.ReadMem16(op.seg, op.offset)
	if ex != nil {
		return DTR{}, ex
	}
	base, ex := c.ReadMem32(op.seg, op.offset+2)
	if ex != nil {
		return DTR{}, ex
	}
	return DTR{Base: base, Limit: limit}, nil
}

func opLar(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	sel, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	d, dErr := c.fetchDescriptor(uint16(sel))
	if dErr != nil {
		c.Regs.SetFlag(flagZF, false)
		return nil
	}
	c.Regs.SetFlag(flagZF, true)
	accessByte := uint32(d.Type) | uint32(d.DPL)<<5
	if d.Present {
		accessByte |= 0x80
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), accessByte<<8)
	return nil
}

func opLsl(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	sel, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	d, dErr := c.fetchDescriptor(uint16(sel))
	if dErr != nil {
		c.Regs.SetFlag(flagZF, false)
		return nil
	}
	c.Regs.SetFlag(flagZF, true)
	c.Regs.SetBySize(m.regField, c.opWidth(), segLimit(d))
	return nil
}

func opClts(c *CPU) *Exception {
	c.Regs.CR0 &^= cr0TS
	return nil
}

// opWbinvd is a no-op: this design models no cache to flush.
func opWbinvd(c *CPU) *Exception { return nil }

func opMovRCr(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.rm.isMemory {
		return faultUD()
	}
	var v uint32
	switch m.regField {
	case 0:
		v = c.Regs.CR0
	case 2:
		v = c.Regs.CR2
	case 3:
		v = c.Regs.CR3
	default:
		return faultUD()
	}
	c.Regs.SetReg32(m.rm.reg, v)
	return nil
}

func opMovCrR(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.rm.isMemory {
		return faultUD()
	}
	v := c.Regs.GetReg32(m.rm.reg)
	switch m.regField {
	case 0:
		c.Regs.CR0 = v
	case 2:
		c.Regs.CR2 = v
	case 3:
		c.Regs.CR3 = v
	default:
		return faultUD()
	}
	return nil
}

// DR0-DR7 are tracked as plain storage; no breakpoint or debug-trap
// semantics are implemented.
func opMovRDr(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.rm.isMemory {
		return faultUD()
	}
	c.Regs.SetReg32(m.rm.reg, c.debugRegs[m.regField&7])
	return nil
}

func opMovDrR(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.rm.isMemory {
		return faultUD()
	}
	c.debugRegs[m.regField&7] = c.Regs.GetReg32(m.rm.reg)
	return nil
}

// opArpl adjusts the RPL of a 16-bit destination up to the source's
// RPL, setting ZF on adjustment (protected mode only; real-mode use
// is architecturally undefined and this design treats it as a no-op
// leaving ZF unchanged, matching #UD-free real hardware behavior).
func opArpl(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if !c.Regs.ProtectedMode() {
		return nil
	}
	dst, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	srcRPL := c.Regs.GetReg16(m.regField) & 3
	dstRPL := uint16(dst) & 3
	if dstRPL < srcRPL {
		c.Regs.SetFlag(flagZF, true)
		return c.writeRM(m.rm, W16, uint32((uint16(dst) &^ 3) | srcRPL))
	}
	c.Regs.SetFlag(flagZF, false)
	return nil
}

// ---- far-pointer segmented loads ----

func (c *CPU) loadFarPtr(m modrmResult, seg int) *Exception {
	if !m.rm.isMemory {
		return faultUD()
	}
	w := c.opWidth()
	off, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	sel, ex := c.ReadMem16(m.rm.seg, m.rm.offset+uint32(w.Bits()/8))
	if ex != nil {
		return ex
	}
	if ex := c.LoadSegment(seg, sel); ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, w, off)
	return nil
}

func opLes(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.loadFarPtr(m, segES)
}

func opLds(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.loadFarPtr(m, segDS)
}

func opLss(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.loadFarPtr(m, segSS)
}

func opLfs(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.loadFarPtr(m, segFS)
}

func opLgs(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.loadFarPtr(m, segGS)
}
