// exec_logic.go - the 0xC0-0xC1/0xD0-0xD3 shift/rotate group, TEST,
// and the 0F A4/A5/AC/AD double-shift pair.

package main

func init() {
	registerOp(0xC0, makeShiftGrp(true, shiftSrcImm))
	registerOp(0xC1, makeShiftGrp(false, shiftSrcImm))
	registerOp(0xD0, makeShiftGrp(true, shiftSrcOne))
	registerOp(0xD1, makeShiftGrp(false, shiftSrcOne))
	registerOp(0xD2, makeShiftGrp(true, shiftSrcCL))
	registerOp(0xD3, makeShiftGrp(false, shiftSrcCL))

	registerOp(0x84, makeTestEbGb())
	registerOp(0x85, makeTestEvGv())
	registerOp(0xA8, opTestALIb)
	registerOp(0xA9, opTestEAXIv)

	registerExtOp(0xA4, opShldImm)
	registerExtOp(0xA5, opShldCL)
	registerExtOp(0xAC, opShrdImm)
	registerExtOp(0xAD, opShrdCL)
}

type shiftSrc int

const (
	shiftSrcOne shiftSrc = iota
	shiftSrcCL
	shiftSrcImm
)

// makeShiftGrp handles 0xC0/0xC1/0xD0-0xD3: byteOp selects the
// byte-form opcodes (fixed W8), else the width follows the operand
// size prefix.
func makeShiftGrp(byteOp bool, src shiftSrc) opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		w := W8
		if !byteOp {
			w = c.opWidth()
		}
		var count byte
		switch src {
		case shiftSrcOne:
			count = 1
		case shiftSrcCL:
			count = c.Regs.GetReg8(1) // CL
		case shiftSrcImm:
			b, ex := c.fetch8()
			if ex != nil {
				return ex
			}
			count = b
		}
		v, ex := c.readRM(m.rm, w)
		if ex != nil {
			return ex
		}
		r := c.shiftRotate(m.regField, w, v, count)
		return c.writeRM(m.rm, w, r)
	}
}

// shiftRotate implements ROL(0) ROR(1) RCL(2) RCR(3) SHL/SAL(4,6)
// SHR(5) SAR(7). CF is the last bit shifted out; OF is defined only
// for count==1 and differs per operation.
func (c *CPU) shiftRotate(kind byte, w Width, v uint32, count byte) uint32 {
	bits := w.Bits()
	v = w.Truncate(v)
	count &= 31
	switch kind {
	case 0: // ROL
		n := uint(count) % bits
		if n == 0 {
			if count != 0 {
				c.Regs.SetFlag(flagCF, v&1 != 0)
			}
			return v
		}
		r := w.Truncate((v << n) | (v >> (bits - n)))
		c.Regs.SetFlag(flagCF, r&1 != 0)
		if count == 1 {
			c.Regs.SetFlag(flagOF, (r&w.SignBit() != 0) != (r&1 != 0))
		}
		return r
	case 1: // ROR
		n := uint(count) % bits
		if n == 0 {
			if count != 0 {
				c.Regs.SetFlag(flagCF, v&w.SignBit() != 0)
			}
			return v
		}
		r := w.Truncate((v >> n) | (v << (bits - n)))
		c.Regs.SetFlag(flagCF, r&w.SignBit() != 0)
		if count == 1 {
			top := r & w.SignBit()
			second := (r << 1) & w.SignBit()
			c.Regs.SetFlag(flagOF, (top != 0) != (second != 0))
		}
		return r
	case 2: // RCL
		n := uint(count) % (bits + 1)
		cf := uint32(0)
		if c.Regs.CF() {
			cf = 1
		}
		wide := (uint64(v) << 1) | uint64(cf)
		for i := uint(0); i < n; i++ {
			carry := (wide >> bits) & 1
			wide = ((wide << 1) | carry) & ((uint64(1) << (bits + 1)) - 1)
		}
		newCF := (wide >> bits) & 1
		r := w.Truncate(uint32(wide))
		c.Regs.SetFlag(flagCF, newCF != 0)
		if count == 1 {
			c.Regs.SetFlag(flagOF, (r&w.SignBit() != 0) != (newCF != 0))
		}
		return r
	case 3: // RCR
		n := uint(count) % (bits + 1)
		cf := uint32(0)
		if c.Regs.CF() {
			cf = 1
		}
		wide := uint64(v) | (uint64(cf) << bits)
		for i := uint(0); i < n; i++ {
			carry := wide & 1
			wide = (wide >> 1) | (carry << bits)
		}
		newCF := (wide >> bits) & 1
		r := w.Truncate(uint32(wide))
		if count == 1 {
			before := v&w.SignBit() != 0
			c.Regs.SetFlag(flagOF, before != (newCF != 0))
		}
		c.Regs.SetFlag(flagCF, newCF != 0)
		return r
	case 4, 6: // SHL/SAL
		if count == 0 {
			return v
		}
		n := uint(count)
		var lastOut uint32
		if n <= bits {
			lastOut = (v >> (bits - n)) & 1
		}
		r := w.Truncate(v << n)
		c.setFlagsLogic(w, r)
		c.Regs.SetFlag(flagCF, lastOut != 0)
		if count == 1 {
			c.Regs.SetFlag(flagOF, (r&w.SignBit() != 0) != (lastOut != 0))
		}
		return r
	case 5: // SHR
		if count == 0 {
			return v
		}
		n := uint(count)
		lastOut := (v >> (n - 1)) & 1
		r := v >> n
		c.setFlagsLogic(w, r)
		c.Regs.SetFlag(flagCF, lastOut != 0)
		if count == 1 {
			c.Regs.SetFlag(flagOF, v&w.SignBit() != 0)
		}
		return r
	default: // SAR
		if count == 0 {
			return v
		}
		n := uint(count)
		signed := int32(w.SignExtend(v))
		lastOut := (v >> (n - 1)) & 1
		r := w.Truncate(uint32(signed >> n))
		c.setFlagsLogic(w, r)
		c.Regs.SetFlag(flagCF, lastOut != 0)
		if count == 1 {
			c.Regs.SetFlag(flagOF, false)
		}
		return r
	}
}

func makeTestEbGb() opHandler {
	return func(c *CPU) *Exception {
		m, ex := c.decodeModRM()
		if ex != nil {
			return ex
		}
		a, ex := c.readRM(m.rm, W8)
		if ex != nil {
			return ex
		}
		c.setFlagsLogic(W8, a&uint32(c.Regs.GetReg8(m.regField)))
		return nil
	}
}

func makeTestEvGv() opHandler {
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
		c.setFlagsLogic(w, a&c.Regs.GetBySize(m.regField, w))
		return nil
	}
}

func opTestALIb(c *CPU) *Exception {
	imm, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	c.setFlagsLogic(W8, uint32(c.Regs.AL())&uint32(imm))
	return nil
}

func opTestEAXIv(c *CPU) *Exception {
	w := c.opWidth()
	imm, ex := c.fetchImm(w)
	if ex != nil {
		return ex
	}
	c.setFlagsLogic(w, c.Regs.GetBySize(regEAX, w)&imm)
	return nil
}

func (c *CPU) shld(dst, src uint32, w Width, count byte) uint32 {
	bits := w.Bits()
	n := uint(count) % bits
	if n == 0 {
		return dst
	}
	wide := (uint64(dst) << bits) | uint64(w.Truncate(src))
	r := wide << n
	result := w.Truncate(uint32(r >> bits))
	c.setFlagsLogic(w, result)
	c.Regs.SetFlag(flagCF, (r>>(2*bits))&1 != 0)
	return result
}

func (c *CPU) shrd(dst, src uint32, w Width, count byte) uint32 {
	bits := w.Bits()
	n := uint(count) % bits
	if n == 0 {
		return dst
	}
	wide := (uint64(w.Truncate(src)) << bits) | uint64(dst)
	result := w.Truncate(uint32(wide >> n))
	c.setFlagsLogic(w, result)
	c.Regs.SetFlag(flagCF, (wide>>(n-1))&1 != 0)
	return result
}

func opShldImm(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	count, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	dst, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r := c.shld(dst, c.Regs.GetBySize(m.regField, w), w, count)
	return c.writeRM(m.rm, w, r)
}

func opShldCL(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	dst, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r := c.shld(dst, c.Regs.GetBySize(m.regField, w), w, c.Regs.GetReg8(1))
	return c.writeRM(m.rm, w, r)
}

func opShrdImm(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	count, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	dst, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r := c.shrd(dst, c.Regs.GetBySize(m.regField, w), w, count)
	return c.writeRM(m.rm, w, r)
}

func opShrdCL(c *CPU) *Exception {
	m, ex := c.decodeModRM()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	dst, ex := c.readRM(m.rm, w)
	if ex != nil {
		return ex
	}
	r := c.shrd(dst, c.Regs.GetBySize(m.regField, w), w, c.Regs.GetReg8(1))
	return c.writeRM(m.rm, w, r)
}
