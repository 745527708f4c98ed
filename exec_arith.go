// exec_arith.go - the eight ALU group-1 operations (ADD/OR/ADC/SBB/
// AND/SUB/XOR/CMP) in their Eb,Gb / Ev,Gv / Gb,Eb / Gv,Ev / AL,Ib /
// eAX,Iv forms, the 0x80-0x83 immediate group, INC/DEC, the
// MUL/IMUL/DIV/IDIV/NEG/NOT group-3 unary operations, and the ASCII/
// decimal adjust family.

package main

// aluOp identifies one of the eight group-1 operations by the ModR/M
// reg-field / opcode-group encoding used throughout the ISA.
type aluOp int

const (
	aluADD aluOp = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

// applyALU computes op1 <aluOp> op2 at width w, updates flags, and
// returns the result (the caller decides whether to store it, since
// CMP/TEST never do).
func (c *CPU) applyALU(op aluOp, w Width, op1, op2 uint32) uint32 {
	op1 = w.Truncate(op1)
	op2 = w.Truncate(op2)
	switch op {
	case aluADD:
		r := op1 + op2
		c.setFlagsAdd(w, op1, op2, 0, r)
		return w.Truncate(r)
	case aluADC:
		cin := uint32(0)
		if c.Regs.CF() {
			cin = 1
		}
		r := op1 + op2 + cin
		c.setFlagsAdd(w, op1, op2, cin, r)
		return w.Truncate(r)
	case aluOR:
		r := op1 | op2
		c.setFlagsLogic(w, r)
		return r
	case aluSBB:
		cin := uint32(0)
		if c.Regs.CF() {
			cin = 1
		}
		r := op1 - op2 - cin
		c.setFlagsSub(w, op1, op2, cin, r)
		return w.Truncate(r)
	case aluAND:
		r := op1 & op2
		c.setFlagsLogic(w, r)
		return r
	case aluSUB, aluCMP:
		r := op1 - op2
		c.setFlagsSub(w, op1, op2, 0, r)
		return w.Truncate(r)
	case aluXOR:
		r := op1 ^ op2
		c.setFlagsLogic(w, r)
		return r
	}
	return 0
}

func init() {
	ops := []aluOp{aluADD, aluOR, aluADC, aluSBB, aluAND, aluSUB, aluXOR, aluCMP}
	for i, op := range ops {
		base := byte(i * 8)
		registerOp(base+0, makeAluEbGb(op))
		registerOp(base+1, makeAluEvGv(op))
		registerOp(base+2, makeAluGbEb(op))
		registerOp(base+3, makeAluGvEv(op))
		registerOp(base+4, makeAluALIb(op))
		registerOp(base+5, makeAluEAXIv(op))
	}

	registerOp(0x06, makePushSeg(segES))
	registerOp(0x07, makePopSeg(segES))
	registerOp(0x0E, makePushSeg(segCS))
	registerOp(0x16, makePushSeg(segSS))
	registerOp(0x17, makePopSeg(segSS))
	registerOp(0x1E, makePushSeg(segDS))
	registerOp(0x1F, makePopSeg(segDS))

	registerOp(0x80, makeGrp1Imm(W8, true))
	registerOp(0x81, makeGrp1Imm(W16, false))
	registerOp(0x83, makeGrp1Imm(W16, true))

	for i := byte(0); i < 8; i++ {
		registerOp(0x40+i, makeIncDecReg(i, true))
		registerOp(0x48+i, makeIncDecReg(i, false))
	}

	registerOp(0xFE, opGrp4)
	registerOp(0xFF, opGrp5)
	registerOp(0xF6, makeGrp3(W8))
	registerOp(0xF7, makeGrp3(W16))

	registerOp(0x69, opImulGvEvIz)
	registerOp(0x6B, opImulGvEvIb)
	registerExtOp(0xAF, opImulGvEv0F)

	registerOp(0x37, opAAA)
	registerOp(0x3F, opAAS)
	registerOp(0x27, opDAA)
	registerOp(0x2F, opDAS)
	registerOp(0xD4, opAAM)
	registerOp(0xD5, opAAD)
}

func makeAluEbGb(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		a, ex := c.readRM(m.rm, W8)
		if ex != nil {
			return ex
		}
		b := uint32(c.Regs.GetReg8(m.regField))
		r := c.applyALU(op, W8, a, b)
		if op == aluCMP {
			return nil
		}
		return c.writeRM(m.rm, W8, r)
	}
}

func makeAluEvGv(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		w := c.opWidth()
		a, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		b := c.Regs.GetBySize(m.regField, w)
		r := c.applyALU(op, w, a, b)
		if op == aluCMP {
			return nil
		}
		return c.writeRM(m.rm, w, r)
	}
}

func makeAluGbEb(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		a := uint32(c.Regs.GetReg8(m.regField))
		b, ex := c.readRM(m.rm, W8)
		if ex != nil {
			return ex
		}
		r := c.applyALU(op, W8, a, b)
		if op != aluCMP {
			c.Regs.SetReg8(m.regField, byte(r))
		}
		return nil
	}
}

func makeAluGvEv(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		w := c.opWidth()
		a := c.Regs.GetBySize(m.regField, w)
		b, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		r := c.applyALU(op, w, a, b)
		if op != aluCMP {
			c.Regs.SetBySize(m.regField, w, r)
		}
		return nil
	}
}

func makeAluALIb(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		imm, ex := c.fetch8()
		if ex != nil {
			return ex
		}
		r := c.applyALU(op, W8, uint32(c.Regs.AL()), uint32(imm))
		if op != aluCMP {
			c.Regs.SetAL(byte(r))
		}
		return nil
	}
}

func makeAluEAXIv(op aluOp) opHandler {
	return func(c *CPU) *Exception {
		w := c.opWidth()
		imm, ex := c.fetchImm(w)
		if ex != nil {
			return ex
		}
		r := c.applyALU(op, w, c.Regs.GetBySize(regEAX, w), imm)
		if op != aluCMP {
			c.Regs.SetBySize(regEAX, w, r)
		}
		return nil
	}
}

func makePushSeg(seg int) opHandler {
	return func(c *CPU) *Exception { return c.pushOpSize(uint32(c.Regs.GetSeg(seg))) }
}

func makePopSeg(seg int) opHandler {
	return func(c *CPU) *Exception {
		v, ex := c.popOpSize()
		if ex != nil {
			return ex
		}
		return c.LoadSegment(seg, uint16(v))
	}
}

// makeGrp1Imm covers 0x80 (Eb,Ib), 0x81 (Ev,Iz) and 0x83 (Ev,Ib
// sign-extended); the ALU op is the ModR/M reg field.
func makeGrp1Imm(w Width, immIsByte bool) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		width := w
		if width != W8 {
			width = c.opWidth()
		}
		var imm uint32
		if immIsByte {
			b, ex := c.fetch8()
			if ex != nil {
				return ex
			}
			imm = width.Truncate(uint32(int32(int8(b))))
		} else {
			imm, ex = c.fetchImm(width)
			if ex != nil {
				return ex
			}
		}
		a, ex := c.readRM(m.rm, width)
		if ex != nil {
			return ex
		}
		op := aluOp(m.regField)
		r := c.applyALU(op, width, a, imm)
		if op == aluCMP {
			return nil
		}
		return c.writeRM(m.rm, width, r)
	}
}

func makeIncDecReg(reg byte, inc bool) opHandler {
	return func(c *CPU) *Exception {
		w := c.opWidth()
		v := c.Regs.GetBySize(reg, w)
		var r uint32
		cf := c.Regs.CF()
		if inc {
			r = v + 1
			c.setFlagsAdd(w, v, 1, 0, r)
		} else {
			r = v - 1
			c.setFlagsSub(w, v, 1, 0, r)
		}
		c.Regs.SetFlag(flagCF, cf) // INC/DEC never touch CF
		c.Regs.SetBySize(reg, w, w.Truncate(r))
		return nil
	}
}

// opGrp4 is 0xFE: INC/DEC r/m8 only (reg field selects /0 or /1).
func opGrp4(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.regField > 1 {
		return faultUD()
	}
	return c.incDecMem(m.rm, W8, m.regField == 0)
}

// opGrp5 is 0xFF: INC/DEC r/m (/0,/1), CALL/JMP/PUSH handled in
// exec_control.go (/2,/3,/4,/5,/6); /7 is undefined.
func opGrp5(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	switch m.regField {
	case 0:
		return c.incDecMem(m.rm, w, true)
	case 1:
		return c.incDecMem(m.rm, w, false)
	default:
		return c.execGrp5Control(m)
	}
}

func (c *CPU) incDecMem(op rmOperand, w Width, inc bool) *Exception {
	v, ex := c.readRM(op, w)
	if ex != nil {
		return ex
	}
	var r uint32
	cf := c.Regs.CF()
	if inc {
		r = v + 1
		c.setFlagsAdd(w, v, 1, 0, r)
	} else {
		r = v - 1
		c.setFlagsSub(w, v, 1, 0, r)
	}
	c.Regs.SetFlag(flagCF, cf)
	return c.writeRM(op, w, w.Truncate(r))
}

// makeGrp3 covers 0xF6/0xF7: TEST(/0,/1) NOT(/2) NEG(/3) MUL(/4)
// IMUL(/5) DIV(/6) IDIV(/7).
func makeGrp3(w Width) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		width := w
		if width != W8 {
			width = c.opWidth()
		}
		switch m.regField {
		case 0, 1:
			imm, ex := c.fetchImm(width)
			if ex != nil {
				return ex
			}
			a, ex := c.readRM(m.rm, width)
			if ex != nil {
				return ex
			}
			c.setFlagsLogic(width, a&imm)
			return nil
		case 2:
			v, ex := c.readRM(m.rm, width)
			if ex != nil {
				return ex
			}
			return c.writeRM(m.rm, width, width.Truncate(^v))
		case 3:
			v, ex := c.readRM(m.rm, width)
			if ex != nil {
				return ex
			}
			r := c.applyALU(aluSUB, width, 0, v)
			c.Regs.SetFlag(flagCF, v != 0)
			return c.writeRM(m.rm, width, r)
		case 4:
			return c.execMul(m.rm, width, false)
		case 5:
			return c.execMul(m.rm, width, true)
		case 6:
			return c.execDiv(m.rm, width, false)
		default:
			return c.execDiv(m.rm, width, true)
		}
	}
}

func (c *CPU) execMul(op rmOperand, w Width, signed bool) *Exception {
	v, ex := c.readRM(op, w)
	if ex != nil {
		return ex
	}
	a := c.Regs.GetBySize(regEAX, w)
	var overflow bool
	switch w {
	case W8:
		if signed {
			r := int16(int8(a)) * int16(int8(v))
			c.Regs.SetAX(uint16(r))
			overflow = r != int16(int8(byte(r)))
		} else {
			r := uint16(byte(a)) * uint16(byte(v))
			c.Regs.SetAX(r)
			overflow = r > 0xFF
		}
	case W16:
		if signed {
			r := int32(int16(a)) * int32(int16(v))
			c.Regs.SetAX(uint16(r))
			c.Regs.SetReg16(regEDX, uint16(r>>16))
			overflow = r != int32(int16(uint16(r)))
		} else {
			r := uint32(uint16(a)) * uint32(uint16(v))
			c.Regs.SetAX(uint16(r))
			c.Regs.SetReg16(regEDX, uint16(r>>16))
			overflow = r > 0xFFFF
		}
	default:
		if signed {
			r := int64(int32(a)) * int64(int32(v))
			c.Regs.SetReg32(regEAX, uint32(r))
			c.Regs.SetReg32(regEDX, uint32(r>>32))
			overflow = r != int64(int32(uint32(r)))
		} else {
			r := uint64(a) * uint64(v)
			c.Regs.SetReg32(regEAX, uint32(r))
			c.Regs.SetReg32(regEDX, uint32(r>>32))
			overflow = r > 0xFFFFFFFF
		}
	}
	c.Regs.SetFlag(flagCF, overflow)
	c.Regs.SetFlag(flagOF, overflow)
	return nil
}

func (c *CPU) execDiv(op rmOperand, w Width, signed bool) *Exception {
	v, ex := c.readRM(op, w)
	if ex != nil {
		return ex
	}
	if v == 0 {
		return faultDE()
	}
	switch w {
	case W8:
		dividend := c.Regs.AX()
		if signed {
			q := int16(dividend) / int16(int8(v))
			r := int16(dividend) % int16(int8(v))
			if q > 127 || q < -128 {
				return faultDE()
			}
			c.Regs.SetAL(byte(q))
			c.Regs.SetReg8(4, byte(r))
		} else {
			q := dividend / uint16(byte(v))
			r := dividend % uint16(byte(v))
			if q > 0xFF {
				return faultDE()
			}
			c.Regs.SetAL(byte(q))
			c.Regs.SetReg8(4, byte(r))
		}
	case W16:
		dividend := weld32(c.Regs.GetReg16(regEDX), c.Regs.AX())
		if signed {
			q := int32(dividend) / int32(int16(v))
			r := int32(dividend) % int32(int16(v))
			if q > 32767 || q < -32768 {
				return faultDE()
			}
			c.Regs.SetAX(uint16(q))
			c.Regs.SetReg16(regEDX, uint16(r))
		} else {
			q := dividend / uint32(uint16(v))
			r := dividend % uint32(uint16(v))
			if q > 0xFFFF {
				return faultDE()
			}
			c.Regs.SetAX(uint16(q))
			c.Regs.SetReg16(regEDX, uint16(r))
		}
	default:
		dividend := (uint64(c.Regs.GetReg32(regEDX)) << 32) | uint64(c.Regs.GetReg32(regEAX))
		if signed {
			q := int64(dividend) / int64(int32(v))
			r := int64(dividend) % int64(int32(v))
			if q > 0x7FFFFFFF || q < -0x80000000 {
				return faultDE()
			}
			c.Regs.SetReg32(regEAX, uint32(q))
			c.Regs.SetReg32(regEDX, uint32(r))
		} else {
			q := dividend / uint64(v)
			r := dividend % uint64(v)
			if q > 0xFFFFFFFF {
				return faultDE()
			}
			c.Regs.SetReg32(regEAX, uint32(q))
			c.Regs.SetReg32(regEDX, uint32(r))
		}
	}
	return nil
}

func opImulGvEvIz(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	imm, ex := c.fetchImm(w)
	if ex != nil {
		return ex
	}
	a, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r, overflow := imulSigned(w, a, imm)
	c.Regs.SetBySize(m.regField, w, r)
	c.Regs.SetFlag(flagCF, overflow)
	c.Regs.SetFlag(flagOF, overflow)
	return nil
}

func opImulGvEvIb(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	b, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	imm := w.Truncate(uint32(int32(int8(b))))
	a, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r, overflow := imulSigned(w, a, imm)
	c.Regs.SetBySize(m.regField, w, r)
	c.Regs.SetFlag(flagCF, overflow)
	c.Regs.SetFlag(flagOF, overflow)
	return nil
}

func opImulGvEv0F(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	a := c.Regs.GetBySize(m.regField, w)
	b, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r, overflow := imulSigned(w, a, b)
	c.Regs.SetBySize(m.regField, w, r)
	c.Regs.SetFlag(flagCF, overflow)
	c.Regs.SetFlag(flagOF, overflow)
	return nil
}

func imulSigned(w Width, a, b uint32) (uint32, bool) {
	switch w {
	case W16:
		r := int32(int16(a)) * int32(int16(b))
		return w.Truncate(uint32(r)), r != int32(int16(uint16(r)))
	default:
		r := int64(int32(a)) * int64(int32(b))
		return w.Truncate(uint32(r)), r != int64(int32(uint32(r)))
	}
}

func opAAA(c *CPU) *Exception {
	al := c.Regs.AL()
	if al&0x0F > 9 || c.Regs.AF() {
		c.Regs.SetAL(al + 6)
		c.Regs.SetReg8(4, c.Regs.GetReg8(4)+1)
		c.Regs.SetFlag(flagAF, true)
		c.Regs.SetFlag(flagCF, true)
	} else {
		c.Regs.SetFlag(flagAF, false)
		c.Regs.SetFlag(flagCF, false)
	}
	c.Regs.SetAL(c.Regs.AL() & 0x0F)
	return nil
}

func opAAS(c *CPU) *Exception {
	al := c.Regs.AL()
	if al&0x0F > 9 || c.Regs.AF() {
		c.Regs.SetAL(al - 6)
		c.Regs.SetReg8(4, c.Regs.GetReg8(4)-1)
		c.Regs.SetFlag(flagAF, true)
		c.Regs.SetFlag(flagCF, true)
	} else {
		c.Regs.SetFlag(flagAF, false)
		c.Regs.SetFlag(flagCF, false)
	}
	c.Regs.SetAL(c.Regs.AL() & 0x0F)
	return nil
}

func opDAA(c *CPU) *Exception {
	al := c.Regs.AL()
	cf := c.Regs.CF()
	af := c.Regs.AF()
	newCF := false
	if al&0x0F > 9 || af {
		al += 6
		newCF = cf || al < 6
		af = true
	} else {
		af = false
	}
	if c.Regs.AL() > 0x99 || cf {
		al += 0x60
		newCF = true
	}
	c.Regs.SetAL(al)
	c.setFlagsLogic(W8, uint32(al))
	c.Regs.SetFlag(flagAF, af)
	c.Regs.SetFlag(flagCF, newCF)
	return nil
}

func opDAS(c *CPU) *Exception {
	al := c.Regs.AL()
	cf := c.Regs.CF()
	af := c.Regs.AF()
	newCF := false
	if al&0x0F > 9 || af {
		al -= 6
		newCF = cf || al > 0xF9
		af = true
	} else {
		af = false
	}
	if c.Regs.AL() > 0x99 || cf {
		al -= 0x60
		newCF = true
	}
	c.Regs.SetAL(al)
	c.setFlagsLogic(W8, uint32(al))
	c.Regs.SetFlag(flagAF, af)
	c.Regs.SetFlag(flagCF, newCF)
	return nil
}

func opAAM(c *CPU) *Exception {
	base, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	if base == 0 {
		return faultDE()
	}
	al := c.Regs.AL()
	c.Regs.SetReg8(4, al/base)
	c.Regs.SetAL(al % base)
	c.setFlagsLogic(W8, uint32(c.Regs.AL()))
	return nil
}

func opAAD(c *CPU) *Exception {
	base, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	al := c.Regs.AL()
	ah := c.Regs.GetReg8(4)
	c.Regs.SetAL(al + ah*base)
	c.Regs.SetReg8(4, 0)
	c.setFlagsLogic(W8, uint32(c.Regs.AL()))
	return nil
}
