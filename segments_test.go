// segments_test.go - protected-mode descriptor and limit tests.

package main

import "testing"

const testGDTBase = 0x5000

// writeGDTDescriptor encodes an 8-byte descriptor at the given GDT
// slot: 16-bit limit, byte granularity, flags nibble zero.
func writeGDTDescriptor(c *CPU, index int, base, limit uint32, access byte) {
	lo := (limit & 0xFFFF) | (base&0xFFFF)<<16
	hi := (base>>16)&0xFF | uint32(access)<<8 | (limit & 0xF0000) | (base>>24)<<24
	addr := testGDTBase + uint32(index)*8
	c.Mem.Write32(addr, lo)
	c.Mem.Write32(addr+4, hi)
}

// enterProtected flips the CPU into ring-0 protected mode with a GDT
// at testGDTBase and flat 64 KiB code/data descriptor caches, leaving
// EIP wherever loadCode pointed it.
func enterProtected(c *CPU) {
	c.Regs.GDTR = DTR{Base: testGDTBase, Limit: 0xFF}
	c.Regs.CR0 |= cr0PE
	c.Regs.Seg[segCS] = SegReg{
		Selector: 0x08,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0xA, Present: true},
	}
	c.Regs.Seg[segSS] = SegReg{
		Selector: 0x10,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0x2, Present: true},
	}
	c.Regs.Seg[segDS] = SegReg{
		Selector: 0x10,
		Desc:     SegDescriptor{Base: 0, Limit: 0xFFFF, Type: 0x2, Present: true},
	}
}

// An access past the granularity-adjusted segment limit is #GP; an
// access within it goes through.
func TestProtectedModeLimitViolation(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	c.Regs.Seg[segDS].Desc.Limit = 0xFF

	if _, ex := c.ReadMem8(segDS, 0x10); ex != nil {
		t.Fatalf("in-limit read faulted: %v", ex)
	}
	_, ex := c.ReadMem8(segDS, 0x100)
	if ex == nil || ex.Vector != 13 {
		t.Fatalf("past-limit read = %v, want #GP", ex)
	}
}

// Stack-segment limit violations report #SS, not #GP.
func TestStackLimitViolationIsSS(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	c.Regs.Seg[segSS].Desc.Limit = 0xFF

	ex := c.WriteMem16(segSS, 0x200, 0x1234)
	if ex == nil || ex.Vector != 12 {
		t.Fatalf("stack write past limit = %v, want #SS", ex)
	}
}

// Loading CS with a data descriptor, or SS with a code descriptor, is
// a wrong-type #GP; the right classes load cleanly.
func TestLoadSegmentWrongType(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	writeGDTDescriptor(c, 1, 0, 0xFFFF, 0x9A) // ring-0 code, readable
	writeGDTDescriptor(c, 2, 0, 0xFFFF, 0x92) // ring-0 data, writable

	if ex := c.LoadSegment(segCS, 0x10); ex == nil || ex.Vector != 13 {
		t.Fatalf("CS <- data descriptor = %v, want #GP", ex)
	}
	if ex := c.LoadSegment(segSS, 0x08); ex == nil || ex.Vector != 13 {
		t.Fatalf("SS <- code descriptor = %v, want #GP", ex)
	}
	if ex := c.LoadSegment(segCS, 0x08); ex != nil {
		t.Fatalf("CS <- code descriptor faulted: %v", ex)
	}
	if ex := c.LoadSegment(segSS, 0x10); ex != nil {
		t.Fatalf("SS <- writable data faulted: %v", ex)
	}
	if got := c.Regs.SegDesc(segSS).Type; got != 0x2 {
		t.Fatalf("cached SS type = %#x, want 0x2", got)
	}
}

// A selector whose RPL outranks the descriptor's DPL is a privilege
// #GP on a data-segment load.
func TestLoadSegmentPrivilegeMismatch(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	writeGDTDescriptor(c, 2, 0, 0xFFFF, 0x92) // DPL 0 data

	if ex := c.LoadSegment(segDS, 0x10|3); ex == nil || ex.Vector != 13 {
		t.Fatalf("DS <- DPL0 data with RPL3 = %v, want #GP", ex)
	}
	if ex := c.LoadSegment(segDS, 0x10); ex != nil {
		t.Fatalf("DS <- DPL0 data with RPL0 faulted: %v", ex)
	}
}

// A not-present descriptor of the right type raises #NP, not #GP.
func TestLoadSegmentNotPresent(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	writeGDTDescriptor(c, 2, 0, 0xFFFF, 0x12) // data, writable, P=0

	ex := c.LoadSegment(segDS, 0x10)
	if ex == nil || ex.Vector != 11 {
		t.Fatalf("DS <- not-present descriptor = %v, want #NP", ex)
	}
}

// A system descriptor (TSS) can never land in an ordinary segment
// register.
func TestLoadSegmentSystemDescriptor(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)
	writeGDTDescriptor(c, 3, 0x4000, 0x67, 0x89) // 32-bit available TSS

	if ex := c.LoadSegment(segDS, 0x18); ex == nil || ex.Vector != 13 {
		t.Fatalf("DS <- TSS descriptor = %v, want #GP", ex)
	}
}

// Loading a null selector into SS is #GP; a data segment takes it and
// defers the fault to first use.
func TestLoadSegmentNullSelector(t *testing.T) {
	c := newTestCPU()
	enterProtected(c)

	if ex := c.LoadSegment(segSS, 0); ex == nil || ex.Vector != 13 {
		t.Fatalf("SS <- null = %v, want #GP", ex)
	}
	if ex := c.LoadSegment(segES, 0); ex != nil {
		t.Fatalf("ES <- null faulted eagerly: %v", ex)
	}
	if _, ex := c.ReadMem8(segES, 0); ex == nil {
		t.Fatal("use of a null ES should fault")
	}
}
