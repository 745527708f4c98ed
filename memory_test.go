// memory_test.go - provider dispatch and little-endian composition.

package main

import "testing"

func TestLittleEndianComposition(t *testing.T) {
	m := NewPhysicalMemory(64*1024, nil)

	m.Write8(0x100, 0x11)
	m.Write8(0x101, 0x22)
	m.Write8(0x102, 0x33)
	m.Write8(0x103, 0x44)

	if got := m.Read16(0x100); got != weld16(m.Read8(0x101), m.Read8(0x100)) {
		t.Fatalf("read16 = %#x, want welded bytes", got)
	}
	if got := m.Read16(0x100); got != 0x2211 {
		t.Fatalf("read16 = %#x, want 0x2211", got)
	}
	if got := m.Read32(0x100); got != weld32(m.Read16(0x102), m.Read16(0x100)) {
		t.Fatalf("read32 = %#x, want welded words", got)
	}
	if got := m.Read32(0x100); got != 0x44332211 {
		t.Fatalf("read32 = %#x, want 0x44332211", got)
	}

	m.Write32(0x200, 0xAABBCCDD)
	if got := m.Read8(0x200); got != 0xDD {
		t.Fatalf("low byte of write32 = %#x, want 0xDD", got)
	}
	if got := m.Read8(0x203); got != 0xAA {
		t.Fatalf("high byte of write32 = %#x, want 0xAA", got)
	}
}

func TestOutOfRangeReadsFF(t *testing.T) {
	m := NewPhysicalMemory(16*1024, nil)
	if got := m.Read8(0x100000); got != 0xFF {
		t.Fatalf("out-of-range read = %#x, want 0xFF", got)
	}
	m.Write8(0x100000, 0x42) // discarded, must not panic
}

func TestSizeRoundsUpTo16K(t *testing.T) {
	m := NewPhysicalMemory(16*1024+1, nil)
	if got := m.Size(); got != 32*1024 {
		t.Fatalf("size = %d, want 32 KiB", got)
	}
}

// recordingProvider claims a range and records accesses.
type recordingProvider struct {
	base, size uint32
	store      map[uint32]byte
}

func (p *recordingProvider) Base() uint32 { return p.base }
func (p *recordingProvider) Size() uint32 { return p.size }
func (p *recordingProvider) Read8(addr uint32) byte {
	return p.store[addr]
}
func (p *recordingProvider) Write8(addr uint32, v byte) {
	p.store[addr] = v
}

func TestProviderInterceptsRange(t *testing.T) {
	m := NewPhysicalMemory(64*1024, nil)
	p := &recordingProvider{base: 0x8000, size: 0x1000, store: map[uint32]byte{}}
	m.RegisterProvider(p)

	m.Write8(0x8000, 0x99)
	if got := p.store[0x8000]; got != 0x99 {
		t.Fatalf("provider store = %#x, want 0x99", got)
	}
	if got := m.Read8(0x8000); got != 0x99 {
		t.Fatalf("read through provider = %#x, want 0x99", got)
	}

	// 16-bit access decomposes into two provider bytes
	m.Write16(0x8100, 0xBEEF)
	if p.store[0x8100] != 0xEF || p.store[0x8101] != 0xBE {
		t.Fatalf("provider 16-bit store = %#x %#x, want EF BE",
			p.store[0x8100], p.store[0x8101])
	}

	// accesses outside the claimed range go to RAM
	m.Write8(0x7FFF, 0x12)
	if _, ok := p.store[0x7FFF]; ok {
		t.Fatal("provider observed an access outside its range")
	}
}

func TestOverlappingProviderPanics(t *testing.T) {
	m := NewPhysicalMemory(64*1024, nil)
	m.RegisterProvider(&recordingProvider{base: 0x1000, size: 0x1000, store: map[uint32]byte{}})

	defer func() {
		if recover() == nil {
			t.Fatal("overlapping provider registration should panic")
		}
	}()
	m.RegisterProvider(&recordingProvider{base: 0x1800, size: 0x1000, store: map[uint32]byte{}})
}
