// paging_test.go - page-walk and #PF tests.

package main

import "testing"

// pagingCPU maps linear page 0 to physical 0x3000 through a directory
// at 0x1000 and a table at 0x2000, with paging enabled.
func pagingCPU() *CPU {
	c := newTestCPU()
	c.Regs.CR3 = 0x1000
	c.Mem.Write32(0x1000, 0x2000|pageFlagPresent|pageFlagWrite)
	c.Mem.Write32(0x2000, 0x3000|pageFlagPresent|pageFlagWrite)
	enterProtected(c)
	c.Regs.CR0 |= cr0PG

	// a 4 GiB data segment so the segment limit never masks a paging
	// fault
	c.Regs.Seg[segDS].Desc.Limit = 0xFFFFF
	c.Regs.Seg[segDS].Desc.Granularity = true
	return c
}

func TestPageWalkTranslates(t *testing.T) {
	c := pagingCPU()

	c.Mem.Write8(0x3005, 0x77)
	v, ex := c.ReadMem8(segDS, 5)
	if ex != nil {
		t.Fatalf("mapped read faulted: %v", ex)
	}
	if v != 0x77 {
		t.Fatalf("mapped read = %#x, want 0x77", v)
	}

	if ex := c.WriteMem8(segDS, 6, 0x88); ex != nil {
		t.Fatalf("mapped write faulted: %v", ex)
	}
	if got := c.Mem.Read8(0x3006); got != 0x88 {
		t.Fatalf("physical byte = %#x, want 0x88", got)
	}
}

// A successful walk sets the accessed bits; a write also sets the
// PTE's dirty bit.
func TestPageWalkSetsAccessedDirty(t *testing.T) {
	c := pagingCPU()

	if _, ex := c.ReadMem8(segDS, 0); ex != nil {
		t.Fatalf("read faulted: %v", ex)
	}
	if c.Mem.Read32(0x1000)&pageFlagAccess == 0 {
		t.Fatal("PDE accessed bit should be set after a walk")
	}
	pte := c.Mem.Read32(0x2000)
	if pte&pageFlagAccess == 0 {
		t.Fatal("PTE accessed bit should be set after a read")
	}
	if pte&pageFlagDirty != 0 {
		t.Fatal("PTE dirty bit should not be set by a read")
	}

	if ex := c.WriteMem8(segDS, 0, 1); ex != nil {
		t.Fatalf("write faulted: %v", ex)
	}
	if c.Mem.Read32(0x2000)&pageFlagDirty == 0 {
		t.Fatal("PTE dirty bit should be set after a write")
	}
}

// A not-present PTE raises #PF with CR2 pointing at the faulting
// linear address and a not-present error code.
func TestPageFaultNotPresent(t *testing.T) {
	c := pagingCPU()
	c.Mem.Write32(0x2000+4, 0) // page 1 unmapped

	_, ex := c.ReadMem8(segDS, 0x1234)
	if ex == nil || ex.Vector != 14 {
		t.Fatalf("unmapped read = %v, want #PF", ex)
	}
	if got := c.Regs.CR2; got != 0x1234 {
		t.Fatalf("CR2 = %#x, want faulting linear 0x1234", got)
	}
	if ex.ErrorCode&1 != 0 {
		t.Fatalf("error code = %#x, want not-present (bit 0 clear)", ex.ErrorCode)
	}
}

func TestPageFaultMissingDirectory(t *testing.T) {
	c := pagingCPU()

	// directory slot 1 (linear 4 MiB) was never filled in
	_, ex := c.ReadMem8(segDS, 0x400000)
	if ex == nil || ex.Vector != 14 {
		t.Fatalf("read through empty PDE = %v, want #PF", ex)
	}
	if got := c.Regs.CR2; got != 0x400000 {
		t.Fatalf("CR2 = %#x, want 0x400000", got)
	}
}
