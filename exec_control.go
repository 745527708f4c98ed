// exec_control.go - control flow (near and far JMP/CALL/RET, Jcc,
// LOOP, INT/IRET), the REP-driven string family, and the
// single-flag instructions.

package main

func init() {
	for i := byte(0); i < 16; i++ {
		registerOp(0x70+i, makeJccShort(i))
		registerExtOp(0x80+i, makeJccNear(i))
		registerExtOp(0x90+i, makeSetcc(i))
	}

	registerOp(0xE0, opLoopne)
	registerOp(0xE1, opLoope)
	registerOp(0xE2, opLoop)
	registerOp(0xE3, opJcxz)

	registerOp(0xE8, opCallNearRel)
	registerOp(0xE9, opJmpNearRel)
	registerOp(0xEA, opJmpFarDirect)
	registerOp(0xEB, opJmpShortRel)
	registerOp(0x9A, opCallFarDirect)

	registerOp(0xC2, opRetNearImm)
	registerOp(0xC3, opRetNear)
	registerOp(0xCA, opRetFarImm)
	registerOp(0xCB, opRetFar)

	registerOp(0xCC, opInt3)
	registerOp(0xCD, opIntImm)
	registerOp(0xCE, opInto)
	registerOp(0xCF, opIret)

	registerOp(0xF4, opHlt)
	registerOp(0xF5, opCmc)
	registerOp(0xF8, opClc)
	registerOp(0xF9, opStc)
	registerOp(0xFA, opCli)
	registerOp(0xFB, opSti)
	registerOp(0xFC, opCld)
	registerOp(0xFD, opStd)
	registerOp(0xD6, opSalc)

	registerOp(0xA4, makeMovs(true))
	registerOp(0xA5, makeMovs(false))
	registerOp(0xA6, makeCmps(true))
	registerOp(0xA7, makeCmps(false))
	registerOp(0xAA, makeStos(true))
	registerOp(0xAB, makeStos(false))
	registerOp(0xAC, makeLods(true))
	registerOp(0xAD, makeLods(false))
	registerOp(0xAE, makeScas(true))
	registerOp(0xAF, makeScas(false))
	registerOp(0x6C, makeIns(true))
	registerOp(0x6D, makeIns(false))
	registerOp(0x6E, makeOuts(true))
	registerOp(0x6F, makeOuts(false))

	registerExtOp(0xB6, opMovzxGvEb)
	registerExtOp(0xB7, opMovzxGvEw)
	registerExtOp(0xBE, opMovsxGvEb)
	registerExtOp(0xBF, opMovsxGvEw)
}

// ---- condition evaluation ----

func (c *CPU) evalCondition(cc byte) bool {
	r := c.Regs
	switch cc & 0xF {
	case 0x0:
		return r.OF()
	case 0x1:
		return !r.OF()
	case 0x2:
		return r.CF()
	case 0x3:
		return !r.CF()
	case 0x4:
		return r.ZF()
	case 0x5:
		return !r.ZF()
	case 0x6:
		return r.CF() || r.ZF()
	case 0x7:
		return !r.CF() && !r.ZF()
	case 0x8:
		return r.SF()
	case 0x9:
		return !r.SF()
	case 0xA:
		return r.PF()
	case 0xB:
		return !r.PF()
	case 0xC:
		return r.SF() != r.OF()
	case 0xD:
		return r.SF() == r.OF()
	case 0xE:
		return r.ZF() || r.SF() != r.OF()
	default:
		return !r.ZF() && r.SF() == r.OF()
	}
}

func makeJccShort(cc byte) opHandler {
	return func(c *CPU) *Exception {
		rel, ex := c.fetch8()
		if ex != nil {
			return ex
		}
		if c.evalCondition(cc) {
			c.Regs.EIP += uint32(int32(int8(rel)))
		}
		return nil
	}
}

func makeJccNear(cc byte) opHandler {
	return func(c *CPU) *Exception {
		rel, ex := c.fetchImm(c.opWidth())
		if ex != nil {
			return ex
		}
		if c.evalCondition(cc) {
			c.Regs.EIP += c.opWidth().SignExtend(rel)
		}
		return nil
	}
}

func makeSetcc(cc byte) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		v := uint32(0)
		if c.evalCondition(cc) {
			v = 1
		}
		return c.writeRM(m.rm, W8, v)
	}
}

// ---- LOOP family (always uses CX or ECX per address size) ----

func (c *CPU) loopCounter() uint32 { return c.getAddrReg(regECX) }
func (c *CPU) setLoopCounter(v uint32) { c.setAddrReg(regECX, v) }

func opLoop(c *CPU) *Exception {
	rel, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	n := c.loopCounter() - 1
	c.setLoopCounter(n)
	if n != 0 {
		c.Regs.EIP += uint32(int32(int8(rel)))
	}
	return nil
}

func opLoope(c *CPU) *Exception {
	rel, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	n := c.loopCounter() - 1
	c.setLoopCounter(n)
	if n != 0 && c.Regs.ZF() {
		c.Regs.EIP += uint32(int32(int8(rel)))
	}
	return nil
}

func opLoopne(c *CPU) *Exception {
	rel, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	n := c.loopCounter() - 1
	c.setLoopCounter(n)
	if n != 0 && !c.Regs.ZF() {
		c.Regs.EIP += uint32(int32(int8(rel)))
	}
	return nil
}

func opJcxz(c *CPU) *Exception {
	rel, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	if c.loopCounter() == 0 {
		c.Regs.EIP += uint32(int32(int8(rel)))
	}
	return nil
}

// ---- JMP/CALL/RET ----

func opJmpShortRel(c *CPU) *Exception {
	rel, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	c.Regs.EIP += uint32(int32(int8(rel)))
	return nil
}

func opJmpNearRel(c *CPU) *Exception {
	rel, ex := c.fetchImm(c.opWidth())
	if ex != nil {
		return ex
	}
	c.Regs.EIP += c.opWidth().SignExtend(rel)
	return nil
}

func opCallNearRel(c *CPU) *Exception {
	rel, ex := c.fetchImm(c.opWidth())
	if ex != nil {
		return ex
	}
	ret := c.Regs.EIP
	target := ret + c.opWidth().SignExtend(rel)
	if ex := c.pushOpSize(ret); ex != nil {
		return ex
	}
	c.Regs.EIP = target
	return nil
}

func opRetNear(c *CPU) *Exception {
	v, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	c.Regs.EIP = v
	return nil
}

func opRetNearImm(c *CPU) *Exception {
	n, ex := c.fetch16()
	if ex != nil {
		return ex
	}
	v, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	c.Regs.EIP = v
	c.Regs.SetReg32(regESP, c.Regs.GetReg32(regESP)+uint32(n))
	return nil
}

func opJmpFarDirect(c *CPU) *Exception {
	off, ex := c.fetchImm(c.opWidth())
	if ex != nil {
		return ex
	}
	sel, ex := c.fetch16()
	if ex != nil {
		return ex
	}
	if c.Regs.ProtectedMode() && !c.Regs.VM() {
		if d, dEx := c.fetchDescriptor(sel); dEx == nil && isTSSType(d.Type) {
			return c.performTaskSwitch(sel, d, false)
		}
	}
	if ex := c.LoadSegment(segCS, sel); ex != nil {
		return ex
	}
	c.Regs.EIP = off
	return nil
}

func opCallFarDirect(c *CPU) *Exception {
	off, ex := c.fetchImm(c.opWidth())
	if ex != nil {
		return ex
	}
	sel, ex := c.fetch16()
	if ex != nil {
		return ex
	}
	if c.Regs.ProtectedMode() && !c.Regs.VM() {
		if d, dEx := c.fetchDescriptor(sel); dEx == nil && isTSSType(d.Type) {
			return c.performTaskSwitch(sel, d, true)
		}
	}
	if ex := c.pushOpSize(uint32(c.Regs.GetSeg(segCS))); ex != nil {
		return ex
	}
	if ex := c.pushOpSize(c.Regs.EIP); ex != nil {
		return ex
	}
	if ex := c.LoadSegment(segCS, sel); ex != nil {
		return ex
	}
	c.Regs.EIP = off
	return nil
}

func opRetFar(c *CPU) *Exception {
	eip, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	cs, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	if ex := c.LoadSegment(segCS, uint16(cs)); ex != nil {
		return ex
	}
	c.Regs.EIP = eip
	return nil
}

func opRetFarImm(c *CPU) *Exception {
	n, ex := c.fetch16()
	if ex != nil {
		return ex
	}
	if ex := opRetFar(c); ex != nil {
		return ex
	}
	c.Regs.SetReg32(regESP, c.Regs.GetReg32(regESP)+uint32(n))
	return nil
}

// execGrp5Control handles the 0xFF /2../6 indirect CALL/JMP/PUSH
// forms, called from opGrp5 in exec_arith.go.
func (c *CPU) execGrp5Control(m modrmResult) *Exception {
	w := c.opWidth()
	switch m.regField {
	case 2: // CALL near indirect
		target, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		if ex := c.pushOpSize(c.Regs.EIP); ex != nil {
			return ex
		}
		c.Regs.EIP = target
		return nil
	case 3: // CALL far indirect (memory operand holds offset:selector)
		if !m.rm.isMemory {
			return faultUD()
		}
		off, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		sel, ex := c.ReadMem16(m.rm.seg, m.rm.offset+uint32(w.Bits()/8))
		if ex != nil {
			return ex
		}
		if ex := c.pushOpSize(uint32(c.Regs.GetSeg(segCS))); ex != nil {
			return ex
		}
		if ex := c.pushOpSize(c.Regs.EIP); ex != nil {
			return ex
		}
		if ex := c.LoadSegment(segCS, sel); ex != nil {
			return ex
		}
		c.Regs.EIP = off
		return nil
	case 4: // JMP near indirect
		target, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		c.Regs.EIP = target
		return nil
	case 5: // JMP far indirect
		if !m.rm.isMemory {
			return faultUD()
		}
		off, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		sel, ex := c.ReadMem16(m.rm.seg, m.rm.offset+uint32(w.Bits()/8))
		if ex != nil {
			return ex
		}
		if ex := c.LoadSegment(segCS, sel); ex != nil {
			return ex
		}
		c.Regs.EIP = off
		return nil
	case 6: // PUSH r/m
		v, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		return c.pushOpSize(v)
	default:
		return faultUD()
	}
}

// ---- INT/IRET ----

func opInt3(c *CPU) *Exception {
	c.deliverInterrupt(3, false, 0)
	return nil
}

func opIntImm(c *CPU) *Exception {
	vector, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	if c.TrapInt {
		c.logf("int: software interrupt %#x at %04x:%08x", vector, c.Regs.GetSeg(segCS), c.Regs.EIP)
	}
	c.deliverSoftwareInterrupt(vector)
	return nil
}

func opInto(c *CPU) *Exception {
	if c.Regs.OF() {
		c.deliverInterrupt(4, false, 0)
	}
	return nil
}

func opIret(c *CPU) *Exception {
	return c.InterruptReturn()
}

// ---- single-flag and misc ----

func opHlt(c *CPU) *Exception { c.Halted = true; return nil }
func opClc(c *CPU) *Exception { c.Regs.SetFlag(flagCF, false); return nil }
func opStc(c *CPU) *Exception { c.Regs.SetFlag(flagCF, true); return nil }
func opCmc(c *CPU) *Exception { c.Regs.SetFlag(flagCF, !c.Regs.CF()); return nil }
func opCld(c *CPU) *Exception { c.Regs.SetFlag(flagDF, false); return nil }
func opStd(c *CPU) *Exception { c.Regs.SetFlag(flagDF, true); return nil }
func opCli(c *CPU) *Exception { c.Regs.SetFlag(flagIF, false); return nil }
func opSti(c *CPU) *Exception { c.Regs.SetFlag(flagIF, true); return nil }

// opSalc is the undocumented 0xD6: AL = 0xFF if CF else 0x00.
func opSalc(c *CPU) *Exception {
	if c.Regs.CF() {
		c.Regs.SetAL(0xFF)
	} else {
		c.Regs.SetAL(0x00)
	}
	return nil
}

// ---- MOVZX/MOVSX ----

func opMovzxGvEb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W8)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), v)
	return nil
}

func opMovzxGvEw(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), v)
	return nil
}

func opMovsxGvEb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W8)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), c.opWidth().Truncate(uint32(int32(int8(byte(v))))))
	return nil
}

func opMovsxGvEw(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), c.opWidth().Truncate(signExtend16to32(uint16(v))))
	return nil
}

// ---- string operations ----

func (c *CPU) getAddrReg(reg byte) uint32 {
	if c.addrSize32 {
		return c.Regs.GetReg32(reg)
	}
	return uint32(c.Regs.GetReg16(reg))
}

func (c *CPU) setAddrReg(reg byte, v uint32) {
	if c.addrSize32 {
		c.Regs.SetReg32(reg, v)
	} else {
		c.Regs.SetReg16(reg, uint16(v))
	}
}

// strStep returns the signed per-iteration advance for SI/DI: ±1/2/4
// depending on operand width and the direction flag.
func (c *CPU) strStep(w Width) uint32 {
	step := uint32(w.Bits() / 8)
	if c.Regs.DF() {
		return uint32(-int32(step))
	}
	return step
}

// repeating runs body once, or (with a REP/REPE/REPNE prefix) in a
// loop driven by the address-size counter register, stopping early on
// REPE/REPNE when ZF no longer matches.
func (c *CPU) repeating(checkZF bool, body func() *Exception) *Exception {
	if c.repPrefix == 0 {
		return body()
	}
	for c.loopCounter() != 0 {
		if ex := body(); ex != nil {
			return ex
		}
		c.setLoopCounter(c.loopCounter() - 1)
		if checkZF {
			wantZF := c.repPrefix == 0xF3 // REPE/REPZ continues while ZF=1
			if c.Regs.ZF() != wantZF {
				break
			}
		}
	}
	return nil
}

// strWidth resolves the per-execution operand width of a string
// instruction: the byte forms are fixed at W8, the word forms follow
// the operand-size prefix.
func (c *CPU) strWidth(byteOp bool) Width {
	if byteOp {
		return W8
	}
	return c.opWidth()
}

func makeMovs(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(false, func() *Exception {
			v, ex := c.ReadMemWidth(c.defaultDataSeg(), c.getAddrReg(regESI), w)
			if ex != nil {
				return ex
			}
			if ex := c.WriteMemWidth(segES, c.getAddrReg(regEDI), w, v); ex != nil {
				return ex
			}
			step := c.strStep(w)
			c.setAddrReg(regESI, c.getAddrReg(regESI)+step)
			c.setAddrReg(regEDI, c.getAddrReg(regEDI)+step)
			return nil
		})
	}
}

func makeStos(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(false, func() *Exception {
			v := c.Regs.GetBySize(regEAX, w)
			if ex := c.WriteMemWidth(segES, c.getAddrReg(regEDI), w, v); ex != nil {
				return ex
			}
			c.setAddrReg(regEDI, c.getAddrReg(regEDI)+c.strStep(w))
			return nil
		})
	}
}

func makeLods(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(false, func() *Exception {
			v, ex := c.ReadMemWidth(c.defaultDataSeg(), c.getAddrReg(regESI), w)
			if ex != nil {
				return ex
			}
			c.Regs.SetBySize(regEAX, w, v)
			c.setAddrReg(regESI, c.getAddrReg(regESI)+c.strStep(w))
			return nil
		})
	}
}

func makeCmps(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(true, func() *Exception {
			a, ex := c.ReadMemWidth(c.defaultDataSeg(), c.getAddrReg(regESI), w)
			if ex != nil {
				return ex
			}
			b, ex := c.ReadMemWidth(segES, c.getAddrReg(regEDI), w)
			if ex != nil {
				return ex
			}
			c.applyALU(aluCMP, w, a, b)
			step := c.strStep(w)
			c.setAddrReg(regESI, c.getAddrReg(regESI)+step)
			c.setAddrReg(regEDI, c.getAddrReg(regEDI)+step)
			return nil
		})
	}
}

func makeScas(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(true, func() *Exception {
			v, ex := c.ReadMemWidth(segES, c.getAddrReg(regEDI), w)
			if ex != nil {
				return ex
			}
			c.applyALU(aluCMP, w, c.Regs.GetBySize(regEAX, w), v)
			c.setAddrReg(regEDI, c.getAddrReg(regEDI)+c.strStep(w))
			return nil
		})
	}
}

func makeIns(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(false, func() *Exception {
			v := c.IO.InWidth(c.Regs.DX(), w)
			if ex := c.WriteMemWidth(segES, c.getAddrReg(regEDI), w, v); ex != nil {
				return ex
			}
			c.setAddrReg(regEDI, c.getAddrReg(regEDI)+c.strStep(w))
			return nil
		})
	}
}

func makeOuts(byteOp bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.strWidth(byteOp)
		return c.repeating(false, func() *Exception {
			v, ex := c.ReadMemWidth(c.defaultDataSeg(), c.getAddrReg(regESI), w)
			if ex != nil {
				return ex
			}
			c.IO.OutWidth(c.Regs.DX(), w, v)
			c.setAddrReg(regESI, c.getAddrReg(regESI)+c.strStep(w))
			return nil
		})
	}
}

// ReadMemWidth/WriteMemWidth dispatch to the fixed-width ReadMem/
// WriteMem helpers in segments.go by Width, so the string-op family
// above can stay width-generic like exec_arith.go's ALU helpers.
func (c *CPU) ReadMemWidth(seg int, off uint32, w Width) (uint32, *Exception) {
	switch w {
	case W8:
		v, ex := c.ReadMem8(seg, off)
		return uint32(v), ex
	case W16:
		v, ex := c.ReadMem16(seg, off)
		return uint32(v), ex
	default:
		return c.ReadMem32(seg, off)
	}
}

func (c *CPU) WriteMemWidth(seg int, off uint32, w Width, v uint32) *Exception {
	switch w {
	case W8:
		return c.WriteMem8(seg, off, byte(v))
	case W16:
		return c.WriteMem16(seg, off, uint16(v))
	default:
		return c.WriteMem32(seg, off, v)
	}
}
