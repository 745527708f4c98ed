// tss.go - task-state segment view and task switching.
//
// The TSS is a record view over a contiguous linear block with typed
// getters and setters rather than a parsed Go struct, since the CPU
// must read and write it through the normal memory path (the guest
// can inspect and modify it too).

package main

// tssView addresses a TSS through CPU memory accesses rather than a
// native struct, so loads/stores go through the same paging path as
// any other access.
type tssView struct {
	c       *CPU
	base    uint32
	is32Bit bool
}

// TSS descriptor types.
const (
	tssType16Avail = 0x1
	tssType16Busy  = 0x3
	tssType32Avail = 0x9
	tssType32Busy  = 0xB
)

func isTSSType(t uint8) bool {
	switch t {
	case tssType16Avail, tssType16Busy, tssType32Avail, tssType32Busy:
		return true
	}
	return false
}

func isBusyTSSType(t uint8) bool {
	return t == tssType16Busy || t == tssType32Busy
}

func (v *tssView) read16(off uint32) uint16 {
	return v.c.ReadLinear16(v.base + off)
}

func (v *tssView) write16(off uint32, val uint16) {
	v.c.WriteLinear16(v.base+off, val)
}

func (v *tssView) read32(off uint32) uint32 {
	return v.c.ReadLinear32(v.base + off)
}

func (v *tssView) write32(off uint32, val uint32) {
	v.c.WriteLinear32(v.base+off, val)
}

// 32-bit (104-byte) TSS field offsets.
const (
	tss32Link = 0x00
	tss32ESP0 = 0x04
	tss32SS0  = 0x08
	tss32ESP1 = 0x0C
	tss32SS1  = 0x10
	tss32ESP2 = 0x14
	tss32SS2  = 0x18
	tss32CR3  = 0x1C
	tss32EIP  = 0x20
	tss32EFL  = 0x24
	tss32EAX  = 0x28
	tss32ECX  = 0x2C
	tss32EDX  = 0x30
	tss32EBX  = 0x34
	tss32ESP  = 0x38
	tss32EBP  = 0x3C
	tss32ESI  = 0x40
	tss32EDI  = 0x44
	tss32ES   = 0x48
	tss32CS   = 0x4C
	tss32SS   = 0x50
	tss32DS   = 0x54
	tss32FS   = 0x58
	tss32GS   = 0x5C
	tss32LDT  = 0x60
	tss32IOBM = 0x64
)

// 16-byte 286 TSS field offsets.
const (
	tss16Link = 0x00
	tss16SP0  = 0x02
	tss16SS0  = 0x04
	tss16IP   = 0x0E // simplified 286 layout, not bit-exact; 16-bit
	// TSS support exists only so LTR/JMP-to-TSS in 16-bit protected
	// mode do not crash.
)

// performTaskSwitch saves the outgoing CPU state into the current TSS,
// loads the incoming TSS selector into TR, and loads the new
// register/segment/CR3/EIP/EFLAGS state from it. isCall marks a
// CALL-gate/CALL-far transition, which writes the backlink in the new
// TSS; a JMP transition does not chain a backlink.
func (c *CPU) performTaskSwitch(newSelector uint16, newDesc SegDescriptor, isCall bool) *Exception {
	is32 := newDesc.Type == tssType32Avail || newDesc.Type == tssType32Busy

	if c.Regs.TR.Selector != 0 {
		out := &tssView{c: c, base: c.Regs.TR.Desc.Base, is32Bit: is32}
		c.saveStateToTSS(out)
	}

	in := &tssView{c: c, base: newDesc.Base, is32Bit: is32}
	if isCall {
		in.write32(tss32Link, uint32(c.Regs.TR.Selector))
	}

	c.Regs.TR = SysSeg{Selector: newSelector, Desc: newDesc}
	c.Regs.CR0 |= cr0TS

	c.loadStateFromTSS(in)
	return nil
}

func (c *CPU) saveStateToTSS(v *tssView) {
	if !v.is32Bit {
		v.write16(tss16IP, uint16(c.Regs.EIP))
		return
	}
	v.write32(tss32EIP, c.Regs.EIP)
	v.write32(tss32EFL, c.Regs.EFlags)
	v.write32(tss32EAX, c.Regs.GetReg32(regEAX))
	v.write32(tss32ECX, c.Regs.GetReg32(regECX))
	v.write32(tss32EDX, c.Regs.GetReg32(regEDX))
	v.write32(tss32EBX, c.Regs.GetReg32(regEBX))
	v.write32(tss32ESP, c.Regs.GetReg32(regESP))
	v.write32(tss32EBP, c.Regs.GetReg32(regEBP))
	v.write32(tss32ESI, c.Regs.GetReg32(regESI))
	v.write32(tss32EDI, c.Regs.GetReg32(regEDI))
	v.write16(tss32ES, c.Regs.GetSeg(segES))
	v.write16(tss32CS, c.Regs.GetSeg(segCS))
	v.write16(tss32SS, c.Regs.GetSeg(segSS))
	v.write16(tss32DS, c.Regs.GetSeg(segDS))
	v.write16(tss32FS, c.Regs.GetSeg(segFS))
	v.write16(tss32GS, c.Regs.GetSeg(segGS))
}

func (c *CPU) loadStateFromTSS(v *tssView) {
	if !v.is32Bit {
		c.Regs.EIP = uint32(v.read16(tss16IP))
		return
	}
	c.Regs.CR3 = v.read32(tss32CR3)
	c.Regs.EIP = v.read32(tss32EIP)
	c.Regs.EFlags = v.read32(tss32EFL)
	c.Regs.SetReg32(regEAX, v.read32(tss32EAX))
	c.Regs.SetReg32(regECX, v.read32(tss32ECX))
	c.Regs.SetReg32(regEDX, v.read32(tss32EDX))
	c.Regs.SetReg32(regEBX, v.read32(tss32EBX))
	c.Regs.SetReg32(regESP, v.read32(tss32ESP))
	c.Regs.SetReg32(regEBP, v.read32(tss32EBP))
	c.Regs.SetReg32(regESI, v.read32(tss32ESI))
	c.Regs.SetReg32(regEDI, v.read32(tss32EDI))
	// CS first: the other loads validate against the incoming CPL
	_ = c.LoadSegment(segCS, v.read16(tss32CS))
	_ = c.LoadSegment(segSS, v.read16(tss32SS))
	_ = c.LoadSegment(segES, v.read16(tss32ES))
	_ = c.LoadSegment(segDS, v.read16(tss32DS))
	_ = c.LoadSegment(segFS, v.read16(tss32FS))
	_ = c.LoadSegment(segGS, v.read16(tss32GS))
	ldtSel := v.read16(tss32LDT)
	if ldtSel&0xFFFC != 0 {
		if d, ex := c.fetchDescriptor(ldtSel); ex == nil {
			c.Regs.LDTR = SysSeg{Selector: ldtSel, Desc: d}
		}
	}
}
