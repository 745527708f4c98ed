// exec_flags.go - width-generic flag computation for arithmetic and
// logic results, using the Width trait from bits.go instead of three
// near-identical per-width copies.

package main

// setFlagsAdd sets CF/PF/AF/ZF/SF/OF for op1+op2(+carryIn) == result
// at width w (ADD/ADC/INC).
func (c *CPU) setFlagsAdd(w Width, op1, op2, carryIn, result uint32) {
	r := w.Truncate(result)
	wide := uint64(op1) + uint64(op2) + uint64(carryIn)
	c.Regs.SetFlag(flagCF, wide > uint64(w.Mask()))
	c.Regs.SetFlag(flagPF, parity(r))
	c.Regs.SetFlag(flagAF, (op1^op2^r)&0x10 != 0)
	c.Regs.SetFlag(flagZF, r == 0)
	c.Regs.SetFlag(flagSF, r&w.SignBit() != 0)
	signOp1 := op1&w.SignBit() != 0
	signOp2 := op2&w.SignBit() != 0
	signR := r&w.SignBit() != 0
	c.Regs.SetFlag(flagOF, signOp1 == signOp2 && signR != signOp1)
}

// setFlagsSub sets flags for op1-op2(-carryIn) == result at width w
// (SUB/SBB/CMP/DEC/NEG).
func (c *CPU) setFlagsSub(w Width, op1, op2, carryIn, result uint32) {
	r := w.Truncate(result)
	borrow := uint64(op1) < uint64(op2)+uint64(carryIn)
	c.Regs.SetFlag(flagCF, borrow)
	c.Regs.SetFlag(flagPF, parity(r))
	c.Regs.SetFlag(flagAF, (op1^op2^r)&0x10 != 0)
	c.Regs.SetFlag(flagZF, r == 0)
	c.Regs.SetFlag(flagSF, r&w.SignBit() != 0)
	signOp1 := op1&w.SignBit() != 0
	signOp2 := op2&w.SignBit() != 0
	signR := r&w.SignBit() != 0
	c.Regs.SetFlag(flagOF, signOp1 != signOp2 && signR != signOp1)
}

// setFlagsLogic sets flags for AND/OR/XOR/TEST results: CF and OF are
// always cleared, PF/ZF/SF reflect the result, AF is architecturally
// undefined and left unchanged.
func (c *CPU) setFlagsLogic(w Width, result uint32) {
	r := w.Truncate(result)
	c.Regs.SetFlag(flagCF, false)
	c.Regs.SetFlag(flagOF, false)
	c.Regs.SetFlag(flagPF, parity(r))
	c.Regs.SetFlag(flagZF, r == 0)
	c.Regs.SetFlag(flagSF, r&w.SignBit() != 0)
}
