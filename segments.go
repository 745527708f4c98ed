// segments.go - segmentation: real-mode and protected-mode linear
// address computation. Real mode computes seg*16+offset with no limit
// check; protected mode consults the segment's cached descriptor and
// raises #GP/#NP on violations.

package main

// Exception is an x86 architectural exception. It is not a Go error
// in the ordinary sense: Step() catches it and vectors through the
// IDT/IVT like real hardware would.
type Exception struct {
	Vector    uint8
	HasError  bool
	ErrorCode uint16
}

func (e *Exception) Error() string {
	return exceptionMnemonic(e.Vector)
}

func exceptionMnemonic(vector uint8) string {
	switch vector {
	case 0:
		return "#DE"
	case 1:
		return "#DB"
	case 3:
		return "#BP"
	case 4:
		return "#OF"
	case 5:
		return "#BR"
	case 6:
		return "#UD"
	case 8:
		return "#DF"
	case 10:
		return "#TS"
	case 11:
		return "#NP"
	case 12:
		return "#SS"
	case 13:
		return "#GP"
	case 14:
		return "#PF"
	default:
		return "#exc"
	}
}

func faultUD() *Exception            { return &Exception{Vector: 6} }
func faultGP(code uint16) *Exception { return &Exception{Vector: 13, HasError: true, ErrorCode: code} }
func faultSS(code uint16) *Exception { return &Exception{Vector: 12, HasError: true, ErrorCode: code} }
func faultNP(code uint16) *Exception { return &Exception{Vector: 11, HasError: true, ErrorCode: code} }
func faultPF(code uint16) *Exception { return &Exception{Vector: 14, HasError: true, ErrorCode: code} }
func faultDE() *Exception            { return &Exception{Vector: 0} }

// segLimit returns the effective byte limit of a descriptor, applying
// 4 KiB granularity when set.
func segLimit(d SegDescriptor) uint32 {
	if d.Granularity {
		return (d.Limit << 12) | 0xFFF
	}
	return d.Limit
}

// LinearAddress computes the linear address for an access through
// segment seg at the given offset, with sz bytes being accessed
// (used for the limit check). Real mode: seg*16+offset, no limit
// check. Protected mode: base+offset with a limit check against the
// cached descriptor, raising #GP on violation.
func (c *CPU) LinearAddress(seg int, offset uint32, sz uint32, forWrite bool) (uint32, *Exception) {
	if !c.Regs.ProtectedMode() || c.Regs.VM() {
		selector := c.Regs.GetSeg(seg)
		return (uint32(selector) << 4) + offset, nil
	}

	d := c.Regs.SegDesc(seg)
	if !d.Present {
		return 0, faultNP(uint16(c.Regs.GetSeg(seg)) &^ 7)
	}
	limit := segLimit(d)
	end := offset + sz - 1
	if sz == 0 {
		end = offset
	}
	if offset > limit || end > limit {
		if seg == segSS {
			return 0, faultSS(0)
		}
		return 0, faultGP(0)
	}
	return d.Base + offset, nil
}

// TranslateAddress resolves a linear address to a physical address,
// walking the page tables when CR0.PG is set, otherwise returning it
// unchanged.
func (c *CPU) TranslateAddress(linear uint32, forWrite bool) (uint32, *Exception) {
	if !c.Regs.PagingEnabled() {
		return linear, nil
	}
	return c.translatePage(linear, forWrite)
}

// ReadMem8/16/32 and WriteMem8/16/32 are the segmented-access entry
// points every instruction handler goes through: linear translation,
// then paging, then the physical memory-provider dispatch.
func (c *CPU) ReadMem8(seg int, offset uint32) (byte, *Exception) {
	lin, ex := c.LinearAddress(seg, offset, 1, false)
	if ex != nil {
		return 0, ex
	}
	pa, ex := c.TranslateAddress(lin, false)
	if ex != nil {
		return 0, ex
	}
	return c.Mem.Read8(pa), nil
}

func (c *CPU) WriteMem8(seg int, offset uint32, v byte) *Exception {
	lin, ex := c.LinearAddress(seg, offset, 1, true)
	if ex != nil {
		return ex
	}
	pa, ex := c.TranslateAddress(lin, true)
	if ex != nil {
		return ex
	}
	c.Mem.Write8(pa, v)
	return nil
}

func (c *CPU) ReadMem16(seg int, offset uint32) (uint16, *Exception) {
	lin, ex := c.LinearAddress(seg, offset, 2, false)
	if ex != nil {
		return 0, ex
	}
	pa, ex := c.TranslateAddress(lin, false)
	if ex != nil {
		return 0, ex
	}
	return c.Mem.Read16(pa), nil
}

func (c *CPU) WriteMem16(seg int, offset uint32, v uint16) *Exception {
	lin, ex := c.LinearAddress(seg, offset, 2, true)
	if ex != nil {
		return ex
	}
	pa, ex := c.TranslateAddress(lin, true)
	if ex != nil {
		return ex
	}
	c.Mem.Write16(pa, v)
	return nil
}

func (c *CPU) ReadMem32(seg int, offset uint32) (uint32, *Exception) {
	lin, ex := c.LinearAddress(seg, offset, 4, false)
	if ex != nil {
		return 0, ex
	}
	pa, ex := c.TranslateAddress(lin, false)
	if ex != nil {
		return 0, ex
	}
	return c.Mem.Read32(pa), nil
}

func (c *CPU) WriteMem32(seg int, offset uint32, v uint32) *Exception {
	lin, ex := c.LinearAddress(seg, offset, 4, true)
	if ex != nil {
		return ex
	}
	pa, ex := c.TranslateAddress(lin, true)
	if ex != nil {
		return ex
	}
	c.Mem.Write32(pa, v)
	return nil
}

// ReadLinear16/32 and WriteLinear16/32 address memory by a
// pre-computed linear address (paging still applies) without going
// through a segment register. tss.go uses these, since it addresses
// the TSS by the cached descriptor base rather than a selector.
func (c *CPU) ReadLinear16(linear uint32) uint16 {
	pa, ex := c.TranslateAddress(linear, false)
	if ex != nil {
		return 0
	}
	return c.Mem.Read16(pa)
}

func (c *CPU) WriteLinear16(linear uint32, v uint16) {
	pa, ex := c.TranslateAddress(linear, true)
	if ex != nil {
		return
	}
	c.Mem.Write16(pa, v)
}

func (c *CPU) ReadLinear32(linear uint32) uint32 {
	pa, ex := c.TranslateAddress(linear, false)
	if ex != nil {
		return 0
	}
	return c.Mem.Read32(pa)
}

func (c *CPU) WriteLinear32(linear uint32, v uint32) {
	pa, ex := c.TranslateAddress(linear, true)
	if ex != nil {
		return
	}
	c.Mem.Write32(pa, v)
}

// LoadSegment sets a segment register's visible selector and, in
// protected mode, fetches and caches its descriptor from the GDT/LDT
// after the type and privilege checks below. Real mode synthesizes a
// descriptor with base=selector<<4 so the LinearAddress fast path
// above needs no mode branch for reads that only want the selector.
func (c *CPU) LoadSegment(seg int, selector uint16) *Exception {
	if !c.Regs.ProtectedMode() || c.Regs.VM() {
		c.Regs.Seg[seg] = SegReg{
			Selector: selector,
			Desc:     SegDescriptor{Base: uint32(selector) << 4, Limit: 0xFFFF, Present: true},
		}
		return nil
	}

	if selector&0xFFFC == 0 {
		// null selector: CS and SS must never be null; the data
		// segments accept it and fault on first use instead
		if seg == segCS || seg == segSS {
			return faultGP(0)
		}
		c.Regs.Seg[seg] = SegReg{Selector: 0, Desc: SegDescriptor{}}
		return nil
	}

	d, ex := c.fetchDescriptor(selector)
	if ex != nil {
		return ex
	}
	if ex := c.validateSegmentLoad(seg, selector, d); ex != nil {
		return ex
	}
	if !d.Present {
		return faultNP(selector &^ 7)
	}
	c.Regs.Seg[seg] = SegReg{Selector: selector, Desc: d}
	return nil
}

// validateSegmentLoad applies the protected-mode descriptor type and
// privilege rules: loading a system descriptor, the wrong segment
// class, or a selector whose RPL/DPL disagree with CPL is #GP. Code
// type nibble: bit3 code/data, bit2 conforming (code) or expand-down
// (data), bit1 readable (code) or writable (data).
func (c *CPU) validateSegmentLoad(seg int, selector uint16, d SegDescriptor) *Exception {
	if d.System {
		return faultGP(selector &^ 7)
	}
	rpl := uint8(selector & 3)
	cpl := c.Regs.CPL()
	isCode := d.Type&0x8 != 0
	conforming := isCode && d.Type&0x4 != 0

	switch seg {
	case segCS:
		if !isCode {
			return faultGP(selector &^ 7)
		}
		if conforming {
			if d.DPL > cpl {
				return faultGP(selector &^ 7)
			}
		} else if d.DPL != rpl {
			return faultGP(selector &^ 7)
		}
	case segSS:
		writable := !isCode && d.Type&0x2 != 0
		if !writable || d.DPL != cpl || rpl != cpl {
			return faultGP(selector &^ 7)
		}
	default:
		if isCode && d.Type&0x2 == 0 {
			return faultGP(selector &^ 7) // execute-only code is unreadable as data
		}
		if !conforming && (d.DPL < rpl || d.DPL < cpl) {
			return faultGP(selector &^ 7)
		}
	}
	return nil
}

// fetchDescriptor reads an 8-byte descriptor from the GDT (selector
// bit 2 clear) or LDT (bit 2 set) and decodes the fields this design
// tracks: base, limit, type/DPL, granularity, default operand size.
func (c *CPU) fetchDescriptor(selector uint16) (SegDescriptor, *Exception) {
	var tableBase uint32
	var tableLimit uint32
	if selector&4 != 0 {
		tableBase = c.Regs.LDTR.Desc.Base
		tableLimit = segLimit(c.Regs.LDTR.Desc)
	} else {
		tableBase = c.Regs.GDTR.Base
		tableLimit = uint32(c.Regs.GDTR.Limit)
	}
	index := uint32(selector >> 3)
	entryOff := index * 8
	if entryOff+7 > tableLimit {
		return SegDescriptor{}, faultGP(selector &^ 7)
	}
	addr := tableBase + entryOff
	lo := c.Mem.Read32(addr)
	hi := c.Mem.Read32(addr + 4)

	limit := (lo & 0xFFFF) | ((hi & 0xF0000) >> 0)
	base := ((lo >> 16) & 0xFFFF) | ((hi & 0xFF) << 16) | ((hi >> 24) << 24)
	access := uint8((hi >> 8) & 0xFF)
	flags := uint8((hi >> 20) & 0xF)

	return SegDescriptor{
		Base:        base,
		Limit:       limit,
		Type:        access & 0x0F,
		DPL:         (access >> 5) & 3,
		System:      access&0x10 == 0,
		Present:     access&0x80 != 0,
		Granularity: flags&0x8 != 0,
		DefaultSize: flags&0x4 != 0,
	}, nil
}
