// memory.go - flat physical memory and the memory-provider registry.
//
// The registry does first-match range lookup. 16/32-bit accesses are
// composed from the provider's 8-bit primitive in little-endian
// order, so a plane or text provider only ever has to implement
// read8/write8.

package main

import (
	"fmt"
	"sync"
)

// MemoryProvider answers 8-bit reads/writes for a claimed physical
// range. 16/32-bit accesses are composed from these by the registry
// unless the provider opts into wider natives.
type MemoryProvider interface {
	// Base and Size describe the half-open physical range [Base, Base+Size).
	Base() uint32
	Size() uint32
	Read8(addr uint32) uint8
	Write8(addr uint32, v uint8)
}

// wideProvider is an optional extension a provider may implement to
// avoid the default 8-bit composition for 16/32-bit accesses.
type wideProvider interface {
	Read16(addr uint32) (uint16, bool)
	Write16(addr uint32, v uint16) bool
	Read32(addr uint32) (uint32, bool)
	Write32(addr uint32, v uint32) bool
}

// PhysicalMemory is the flat RAM array plus the provider registry that
// intercepts ranges before they reach raw RAM.
type PhysicalMemory struct {
	mu        sync.Mutex
	ram       []byte
	providers []MemoryProvider
	logf      func(format string, args ...any)
}

// NewPhysicalMemory allocates RAM sized to a multiple of 16 KiB and an
// empty provider table.
func NewPhysicalMemory(sizeBytes uint32, logf func(string, ...any)) *PhysicalMemory {
	const unit = 16 * 1024
	if sizeBytes%unit != 0 {
		sizeBytes = (sizeBytes/unit + 1) * unit
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &PhysicalMemory{
		ram:  make([]byte, sizeBytes),
		logf: logf,
	}
}

// Size returns the RAM array size in bytes.
func (m *PhysicalMemory) Size() uint32 {
	return uint32(len(m.ram))
}

// RegisterProvider installs a provider. Exactly one provider may claim
// any physical address; overlap is a hard exit, not a logged warning,
// because it can only arise from a programming error in the machine
// wiring, never from guest behavior.
func (m *PhysicalMemory) RegisterProvider(p MemoryProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.providers {
		if rangesOverlap(existing.Base(), existing.Size(), p.Base(), p.Size()) {
			panic(fmt.Sprintf("memory: provider range [%#x,%#x) overlaps existing [%#x,%#x)",
				p.Base(), p.Base()+p.Size(), existing.Base(), existing.Base()+existing.Size()))
		}
	}
	m.providers = append(m.providers, p)
}

func rangesOverlap(aBase, aSize, bBase, bSize uint32) bool {
	aEnd := aBase + aSize
	bEnd := bBase + bSize
	return aBase < bEnd && bBase < aEnd
}

// findProvider returns the first provider claiming pa, or nil.
func (m *PhysicalMemory) findProvider(pa uint32) MemoryProvider {
	for _, p := range m.providers {
		if pa >= p.Base() && pa < p.Base()+p.Size() {
			return p
		}
	}
	return nil
}

// Read8 checks the provider table first, then raw RAM, then falls to
// the out-of-range default of 0xFF.
func (m *PhysicalMemory) Read8(pa uint32) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findProvider(pa); p != nil {
		return p.Read8(pa)
	}
	if pa < uint32(len(m.ram)) {
		return m.ram[pa]
	}
	m.logf("memory: read8 out of range at %#x", pa)
	return 0xFF
}

// Write8 routes through the provider table, then raw RAM; out-of-range
// writes are discarded with a log, never a fault.
func (m *PhysicalMemory) Write8(pa uint32, v uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.findProvider(pa); p != nil {
		p.Write8(pa, v)
		return
	}
	if pa < uint32(len(m.ram)) {
		m.ram[pa] = v
		return
	}
	m.logf("memory: write8 out of range at %#x (discarded)", pa)
}

// Read16 composes two little-endian Read8 calls unless the claiming
// provider implements wideProvider.
func (m *PhysicalMemory) Read16(pa uint32) uint16 {
	if p := m.providerForWide(pa); p != nil {
		if wp, ok := p.(wideProvider); ok {
			if v, ok := wp.Read16(pa); ok {
				return v
			}
		}
	}
	lo := m.Read8(pa)
	hi := m.Read8(pa + 1)
	return weld16(hi, lo)
}

// Write16 is the little-endian write-side mirror of Read16.
func (m *PhysicalMemory) Write16(pa uint32, v uint16) {
	if p := m.providerForWide(pa); p != nil {
		if wp, ok := p.(wideProvider); ok {
			if wp.Write16(pa, v) {
				return
			}
		}
	}
	m.Write8(pa, byte(v))
	m.Write8(pa+1, byte(v>>8))
}

// Read32 composes two little-endian Read16 calls:
// read32(a) == weld(read16(a+2), read16(a)).
func (m *PhysicalMemory) Read32(pa uint32) uint32 {
	if p := m.providerForWide(pa); p != nil {
		if wp, ok := p.(wideProvider); ok {
			if v, ok := wp.Read32(pa); ok {
				return v
			}
		}
	}
	lo := m.Read16(pa)
	hi := m.Read16(pa + 2)
	return weld32(hi, lo)
}

// Write32 is the little-endian write-side mirror of Read32.
func (m *PhysicalMemory) Write32(pa uint32, v uint32) {
	if p := m.providerForWide(pa); p != nil {
		if wp, ok := p.(wideProvider); ok {
			if wp.Write32(pa, v) {
				return
			}
		}
	}
	m.Write16(pa, uint16(v))
	m.Write16(pa+2, uint16(v>>16))
}

func (m *PhysicalMemory) providerForWide(pa uint32) MemoryProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findProvider(pa)
}

// RAMProvider is the default provider backing ordinary RAM ranges that
// still need to participate as a provider (e.g. the low 1 MiB IVT/BDA
// region, which is plain RAM but addressed through the same table so
// BIOS peeks and pokes stay uniform). It forwards to the owning
// PhysicalMemory's raw array via direct index, bypassing the provider
// lookup recursion.
type RAMProvider struct {
	mem  *PhysicalMemory
	base uint32
	size uint32
}

func NewRAMProvider(mem *PhysicalMemory, base, size uint32) *RAMProvider {
	return &RAMProvider{mem: mem, base: base, size: size}
}

func (p *RAMProvider) Base() uint32 { return p.base }
func (p *RAMProvider) Size() uint32 { return p.size }

func (p *RAMProvider) Read8(addr uint32) uint8 {
	if addr < uint32(len(p.mem.ram)) {
		return p.mem.ram[addr]
	}
	return 0xFF
}

func (p *RAMProvider) Write8(addr uint32, v uint8) {
	if addr < uint32(len(p.mem.ram)) {
		p.mem.ram[addr] = v
	}
}
