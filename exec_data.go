// exec_data.go - data movement: MOV in its register/memory/immediate/
// segment forms, LEA, XCHG, XLAT, the PUSH/POP family, LAHF/SAHF and
// the convert-size pair.

package main

func init() {
	registerOp(0x88, opMovEbGb)
	registerOp(0x89, opMovEvGv)
	registerOp(0x8A, opMovGbEb)
	registerOp(0x8B, opMovGvEv)
	registerOp(0x8C, opMovEwSw)
	registerOp(0x8D, opLea)
	registerOp(0x8E, opMovSwEw)

	registerOp(0xA0, opMovALMoffs)
	registerOp(0xA1, opMovAXMoffs)
	registerOp(0xA2, opMovMoffsAL)
	registerOp(0xA3, opMovMoffsAX)

	for i := byte(0); i < 8; i++ {
		registerOp(0xB0+i, makeMovRegImm8(i))
		registerOp(0xB8+i, makeMovRegImm(i))
	}

	registerOp(0xC6, opMovEbIb)
	registerOp(0xC7, opMovEvIv)

	registerOp(0x86, opXchgEbGb)
	registerOp(0x87, opXchgEvGv)
	for i := byte(1); i < 8; i++ {
		registerOp(0x90+i, makeXchgAX(i))
	}
	registerOp(0x90, opNop)

	for i := byte(0); i < 8; i++ {
		registerOp(0x50+i, makePushReg(i))
		registerOp(0x58+i, makePopReg(i))
	}
	registerOp(0x68, opPushImm)
	registerOp(0x6A, opPushImm8)
	registerOp(0x8F, opPopRM)
	registerOp(0x9B, opWait)
	registerOp(0x60, opPushA)
	registerOp(0x61, opPopA)
	registerOp(0x9C, opPushF)
	registerOp(0x9D, opPopF)
	registerOp(0x9F, opLahf)
	registerOp(0x9E, opSahf)
	registerOp(0x98, opCbwCwde)
	registerOp(0x99, opCwdCdq)
	registerOp(0xD7, opXlat)
}

func opMovEbGb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.writeRM(m.rm, W8, uint32(c.Regs.GetReg8(m.regField)))
}

func opMovEvGv(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	return c.writeRM(m.rm, w, c.Regs.GetBySize(m.regField, w))
}

func opMovGbEb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W8)
	if ex != nil {
		return ex
	}
	c.Regs.SetReg8(m.regField, byte(v))
	return nil
}

func opMovGvEv(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	v, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, w, v)
	return nil
}

// opMovEwSw: MOV r/m16, Sreg.
func opMovEwSw(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	return c.writeRM(m.rm, W16, uint32(c.Regs.GetSeg(int(m.regField&7))))
}

// opMovSwEw: MOV Sreg, r/m16.
func opMovSwEw(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	v, ex := c.readRM(m.rm, W16)
	if ex != nil {
		return ex
	}
	return c.LoadSegment(int(m.regField&7), uint16(v))
}

func opLea(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if !m.rm.isMemory {
		return faultUD()
	}
	c.Regs.SetBySize(m.regField, c.opWidth(), m.rm.offset)
	return nil
}

func (c *CPU) defaultDataSeg() int {
	if c.segOverride >= 0 {
		return c.segOverride
	}
	return segDS
}

func opMovALMoffs(c *CPU) *Exception {
	off, ex := c.fetchImm(c.addrWidth())
	if ex != nil {
		return ex
	}
	v, ex := c.ReadMem8(c.defaultDataSeg(), off)
	if ex != nil {
		return ex
	}
	c.Regs.SetAL(v)
	return nil
}

func opMovAXMoffs(c *CPU) *Exception {
	off, ex := c.fetchImm(c.addrWidth())
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	v, ex := c.readRM(rmOperand{isMemory: true, seg: c.defaultDataSeg(), offset: off}, w)
	if ex != nil {
		return ex
	}
	c.Regs.SetBySize(regEAX, w, v)
	return nil
}

func opMovMoffsAL(c *CPU) *Exception {
	off, ex := c.fetchImm(c.addrWidth())
	if ex != nil {
		return ex
	}
	return c.WriteMem8(c.defaultDataSeg(), off, c.Regs.AL())
}

func opMovMoffsAX(c *CPU) *Exception {
	off, ex := c.fetchImm(c.addrWidth())
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	return c.writeRM(rmOperand{isMemory: true, seg: c.defaultDataSeg(), offset: off}, w, c.Regs.GetBySize(regEAX, w))
}

func makeMovRegImm8(reg byte) opHandler {
	return func(c *CPU) *Exception {
		imm, ex := c.fetch8()
		if ex != nil {
			return ex
		}
		c.Regs.SetReg8(reg, imm)
		return nil
	}
}

func makeMovRegImm(reg byte) opHandler {
	return func(c *CPU) *Exception {
		w := c.opWidth()
		imm, ex := c.fetchImm(w)
		if ex != nil {
			return ex
		}
		c.Regs.SetBySize(reg, w, imm)
		return nil
	}
}

func opMovEbIb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	imm, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	return c.writeRM(m.rm, W8, uint32(imm))
}

func opMovEvIv(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	imm, ex := c.fetchImm(w)
	if ex != nil {
		return ex
	}
	return c.writeRM(m.rm, w, imm)
}

func opXchgEbGb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	rv, ex := c.readRM(m.rm, W8)
	if ex != nil {
		return ex
	}
	gv := c.Regs.GetReg8(m.regField)
	if ex := c.writeRM(m.rm, W8, uint32(gv)); ex != nil {
		return ex
	}
	c.Regs.SetReg8(m.regField, byte(rv))
	return nil
}

func opXchgEvGv(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	rv, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	gv := c.Regs.GetBySize(m.regField, w)
	if ex := c.writeRM(m.rm, w, gv); ex != nil {
		return ex
	}
	c.Regs.SetBySize(m.regField, w, rv)
	return nil
}

func makeXchgAX(reg byte) opHandler {
	return func(c *CPU) *Exception {
		w := c.opWidth()
		a := c.Regs.GetBySize(regEAX, w)
		b := c.Regs.GetBySize(reg, w)
		c.Regs.SetBySize(regEAX, w, b)
		c.Regs.SetBySize(reg, w, a)
		return nil
	}
}

func opNop(c *CPU) *Exception { return nil }

func makePushReg(reg byte) opHandler {
	return func(c *CPU) *Exception {
		return c.pushOpSize(c.Regs.GetBySize(reg, c.opWidth()))
	}
}

func makePopReg(reg byte) opHandler {
	return func(c *CPU) *Exception {
		v, ex := c.popOpSize()
		if ex != nil {
			return ex
		}
		c.Regs.SetBySize(reg, c.opWidth(), v)
		return nil
	}
}

// opPopRM is 0x8F /0: POP r/m.
func opPopRM(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.regField != 0 {
		return faultUD()
	}
	v, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	return c.writeRM(m.rm, c.opWidth(), v)
}

// opWait is 0x9B: with no FPU to synchronize against, a no-op.
func opWait(c *CPU) *Exception { return nil }

func opPushImm(c *CPU) *Exception {
	imm, ex := c.fetchImm(c.opWidth())
	if ex != nil {
		return ex
	}
	return c.pushOpSize(imm)
}

func opPushImm8(c *CPU) *Exception {
	imm, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	return c.pushOpSize(uint32(int32(int8(imm))))
}

// opPushA/opPopA: PUSHA/PUSHAD and POPA/POPAD. The SP value pushed
// for SP's slot is the one sampled before the first push.
func opPushA(c *CPU) *Exception {
	order := []byte{regEAX, regECX, regEDX, regEBX, regESP, regEBP, regESI, regEDI}
	tmpSP := c.Regs.GetBySize(regESP, c.opWidth())
	for _, r := range order {
		v := c.Regs.GetBySize(r, c.opWidth())
		if r == regESP {
			v = tmpSP
		}
		if ex := c.pushOpSize(v); ex != nil {
			return ex
		}
	}
	return nil
}

func opPopA(c *CPU) *Exception {
	order := []byte{regEDI, regESI, regEBP, regESP, regEBX, regEDX, regECX, regEAX}
	for _, r := range order {
		v, ex := c.popOpSize()
		if ex != nil {
			return ex
		}
		if r == regESP {
			continue
		}
		c.Regs.SetBySize(r, c.opWidth(), v)
	}
	return nil
}

func opPushF(c *CPU) *Exception {
	return c.pushOpSize(c.Regs.EFlags)
}

func opPopF(c *CPU) *Exception {
	v, ex := c.popOpSize()
	if ex != nil {
		return ex
	}
	if c.opSize32 {
		c.Regs.EFlags = v
	} else {
		c.Regs.EFlags = (c.Regs.EFlags &^ 0xFFFF) | (v & 0xFFFF)
	}
	return nil
}

func opLahf(c *CPU) *Exception {
	c.Regs.SetReg8(4, byte(c.Regs.EFlags))
	return nil
}

func opSahf(c *CPU) *Exception {
	ah := c.Regs.GetReg8(4)
	const mask = flagCF | flagPF | flagAF | flagZF | flagSF
	c.Regs.EFlags = (c.Regs.EFlags &^ mask) | (uint32(ah) & mask)
	return nil
}

func opCbwCwde(c *CPU) *Exception {
	if c.opSize32 {
		c.Regs.SetReg32(regEAX, signExtend16to32(c.Regs.AX()))
	} else {
		c.Regs.SetAX(signExtend8to16(c.Regs.AL()))
	}
	return nil
}

func opCwdCdq(c *CPU) *Exception {
	if c.opSize32 {
		if c.Regs.GetReg32(regEAX)&0x80000000 != 0 {
			c.Regs.SetReg32(regEDX, 0xFFFFFFFF)
		} else {
			c.Regs.SetReg32(regEDX, 0)
		}
	} else {
		if c.Regs.AX()&0x8000 != 0 {
			c.Regs.SetReg16(regEDX, 0xFFFF)
		} else {
			c.Regs.SetReg16(regEDX, 0)
		}
	}
	return nil
}

func opXlat(c *CPU) *Exception {
	base := c.Regs.GetBySize(regEBX, c.addrWidth())
	v, ex := c.ReadMem8(c.defaultDataSeg(), base+uint32(c.Regs.AL()))
	if ex != nil {
		return ex
	}
	c.Regs.SetAL(v)
	return nil
}
