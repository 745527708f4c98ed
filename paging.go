// paging.go - CR0.PG-gated linear-to-physical translation.
//
// Two-level directory/table/offset walk rooted at CR3: directory bits
// 31:22, table bits 21:12, offset bits 11:0. No TLB is modeled; every
// access re-walks the tables.

package main

const (
	pdeAddrMask = 0xFFFFF000
	pteAddrMask = 0xFFFFF000

	pageFlagPresent = 1 << 0
	pageFlagWrite   = 1 << 1
	pageFlagUser    = 1 << 2
	pageFlagAccess  = 1 << 5
	pageFlagDirty   = 1 << 6
)

// translatePage walks the two-level page table rooted at CR3 and
// returns the physical address for linear, raising #PF on a missing
// or (write to) read-only mapping. Accessed/dirty bits are set as a
// side effect, matching real hardware.
func (c *CPU) translatePage(linear uint32, forWrite bool) (uint32, *Exception) {
	dirIndex := (linear >> 22) & 0x3FF
	tblIndex := (linear >> 12) & 0x3FF
	pageOff := linear & 0xFFF

	pdeAddr := (c.Regs.CR3 & pdeAddrMask) + dirIndex*4
	pde := c.Mem.Read32(pdeAddr)
	if pde&pageFlagPresent == 0 {
		return 0, c.pageFault(linear, forWrite, false)
	}

	if pde&pageFlagAccess == 0 {
		c.Mem.Write32(pdeAddr, pde|pageFlagAccess)
	}

	pteAddr := (pde & pteAddrMask) + tblIndex*4
	pte := c.Mem.Read32(pteAddr)
	if pte&pageFlagPresent == 0 {
		return 0, c.pageFault(linear, forWrite, false)
	}
	if forWrite && pte&pageFlagWrite == 0 && c.Regs.CR0&cr0WP != 0 && c.Regs.CPL() == 3 {
		return 0, c.pageFault(linear, forWrite, true)
	}

	newPTE := pte | pageFlagAccess
	if forWrite {
		newPTE |= pageFlagDirty
	}
	if newPTE != pte {
		c.Mem.Write32(pteAddr, newPTE)
	}

	return (pte & pteAddrMask) | pageOff, nil
}

// pageFault sets CR2 to the faulting linear address and builds the
// #PF error code: bit0 present-but-protection-violation, bit1 write
// access, bit2 user-mode access.
func (c *CPU) pageFault(linear uint32, forWrite, present bool) *Exception {
	c.Regs.CR2 = linear
	var code uint16
	if present {
		code |= 1
	}
	if forWrite {
		code |= 2
	}
	if c.Regs.CPL() == 3 {
		code |= 4
	}
	return faultPF(code)
}
