// exec_bits.go - bit test/scan family: the 0F A3/AB/B3/BB register
// forms, the 0F BA immediate group, and BSF/BSR.

package main

func init() {
	registerExtOp(0xA3, makeBt(btTest))
	registerExtOp(0xAB, makeBt(btSet))
	registerExtOp(0xB3, makeBt(btReset))
	registerExtOp(0xBB, makeBt(btComplement))
	registerExtOp(0xBA, opBtImmGrp)
	registerExtOp(0xBC, opBsf)
	registerExtOp(0xBD, opBsr)
}

type btOp int

const (
	btTest btOp = iota
	btSet
	btReset
	btComplement
)

// bitMemOperand resolves a BT-family memory operand whose bit index
// may exceed the operand width: the effective address becomes
// baseEA + bitIndex/8 with bit = bitIndex mod 8, so memory forms
// address into a bit array instead of wrapping within one operand.
func (c *CPU) bitMemOperand(op rmOperand, w Width, bitIndex int32) (rmOperand, uint) {
	if !op.isMemory {
		return op, uint(bitIndex) % w.Bits()
	}
	byteOff := bitIndex >> 3
	bit := uint(bitIndex & 7)
	return rmOperand{isMemory: true, seg: op.seg, offset: uint32(int32(op.offset) + byteOff)}, bit
}

func makeBt(op btOp) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		w := c.opWidth()
		bitIndex := int32(c.Regs.GetBySize(m.regField, w))
		target, bit := c.bitMemOperand(m.rm, w, bitIndex)
		v, ex := c.readRM(target, w)
		if ex != nil {
			return ex
		}
		cf := (v>>bit)&1 != 0
		c.Regs.SetFlag(flagCF, cf)
		var r uint32
		switch op {
		case btTest:
			return nil
		case btSet:
			r = v | (1 << bit)
		case btReset:
			r = v &^ (1 << bit)
		default:
			r = v ^ (1 << bit)
		}
		return c.writeRM(target, w, r)
	}
}

// opBtImmGrp is 0F BA: the reg field selects BT(/4) BTS(/5) BTR(/6)
// BTC(/7) with an imm8 bit index (masked to operand width, since the
// immediate form never addresses outside one operand).
func opBtImmGrp(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	if m.regField < 4 {
		return faultUD()
	}
	w := c.opWidth()
	imm, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	bit := uint(imm) % w.Bits()
	v, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	cf := (v>>bit)&1 != 0
	c.Regs.SetFlag(flagCF, cf)
	switch m.regField {
	case 4: // BT
		return nil
	case 5: // BTS
		return c.writeRM(m.rm, w, v|(1<<bit))
	case 6: // BTR
		return c.writeRM(m.rm, w, v&^(1<<bit))
	default: // BTC
		return c.writeRM(m.rm, w, v^(1<<bit))
	}
}

// opBsf/opBsr: ZF=1 and the result register forced to 0 when the
// source is 0 (architecturally undefined), otherwise ZF=0 and the
// result is the index of the least/most significant set bit.
func opBsf(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	v, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	if v == 0 {
		c.Regs.SetFlag(flagZF, true)
		c.Regs.SetBySize(m.regField, w, 0)
		return nil
	}
	c.Regs.SetFlag(flagZF, false)
	c.Regs.SetBySize(m.regField, w, uint32(trailingZeros32(v)))
	return nil
}

func opBsr(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	v, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	if v == 0 {
		c.Regs.SetFlag(flagZF, true)
		c.Regs.SetBySize(m.regField, w, 0)
		return nil
	}
	c.Regs.SetFlag(flagZF, false)
	c.Regs.SetBySize(m.regField, w, uint32(bitLen32(v)-1))
	return nil
}
