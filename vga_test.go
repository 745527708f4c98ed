// vga_test.go - port behaviour, planar write and dirty-flag tests.

package main

import "testing"

// Two consecutive writes to 0x3C0 land in index then data, and a
// 0x3DA read beforehand forces the next write to be an index.
func TestAttributeControllerLatch(t *testing.T) {
	v := NewVGA(nil, nil)

	v.Read8(0x3DA) // reset latch to "index"
	v.Write8(0x3C0, 0x23)
	v.Write8(0x3C0, 0x17)

	if got := v.Read8(0x3C1); got != 0x17 {
		t.Fatalf("attribute data readback = %#x, want 0x17", got)
	}
	if got := v.Read8(0x3C0); got != 0x23 {
		t.Fatalf("attribute index readback = %#x, want 0x23", got)
	}
}

func TestStatusRegisterToggles(t *testing.T) {
	v := NewVGA(nil, nil)
	first := v.Read8(0x3DA)
	second := v.Read8(0x3DA)
	if first&1 == second&1 {
		t.Fatalf("bit 0 did not toggle across reads: %#x then %#x", first, second)
	}
}

// Write mode 0 with map mask 0x0F, bit mask 0xFF and set/reset
// disabled copies the value into all four planes.
func TestMode0WriteAllPlanes(t *testing.T) {
	v := NewVGA(nil, nil)

	// chain-4 off so the map mask selects planes
	v.Write8(0x3C4, 4)
	v.Write8(0x3C5, 0)

	p := v.GraphicsProvider()
	p.Write8(0xA0000, 0x5A)

	for plane := 0; plane < 4; plane++ {
		if got := v.ReadPlane(plane, 0); got != 0x5A {
			t.Fatalf("plane %d byte 0 = %#x, want 0x5A", plane, got)
		}
	}
}

// The map mask restricts mode-0 writes to the enabled planes.
func TestMode0WriteMapMask(t *testing.T) {
	v := NewVGA(nil, nil)
	v.Write8(0x3C4, 4)
	v.Write8(0x3C5, 0)
	v.Write8(0x3C4, 2)
	v.Write8(0x3C5, 0x05) // planes 0 and 2 only

	v.GraphicsProvider().Write8(0xA0000, 0xFF)

	for plane := 0; plane < 4; plane++ {
		want := byte(0)
		if plane == 0 || plane == 2 {
			want = 0xFF
		}
		if got := v.ReadPlane(plane, 0); got != want {
			t.Fatalf("plane %d = %#x, want %#x", plane, got, want)
		}
	}
}

// A read loads the latches; a mode-1 write copies them back out.
func TestMode1WriteCopiesLatches(t *testing.T) {
	v := NewVGA(nil, nil)
	v.Write8(0x3C4, 4)
	v.Write8(0x3C5, 0)

	p := v.GraphicsProvider()
	p.Write8(0xA0000, 0x33)
	p.Read8(0xA0000) // latch all four planes at offset 0

	v.Write8(0x3CE, 5)
	v.Write8(0x3CF, 1) // write mode 1
	p.Write8(0xA0010, 0x00)

	for plane := 0; plane < 4; plane++ {
		if got := v.ReadPlane(plane, 0x10); got != 0x33 {
			t.Fatalf("plane %d byte 0x10 = %#x, want latched 0x33", plane, got)
		}
	}
}

// With chain-4 on (the power-on default), a byte written at any linear
// offset reads back from the same offset.
func TestChain4RoundTrip(t *testing.T) {
	v := NewVGA(nil, nil)
	p := v.GraphicsProvider()

	offsets := []uint32{0, 1, 2, 3, 0x100, 0x4567}
	for i, off := range offsets {
		val := byte(0xA0 + i)
		p.Write8(0xA0000+off, val)
		if got := p.Read8(0xA0000 + off); got != val {
			t.Fatalf("offset %#x = %#x, want %#x", off, got, val)
		}
	}
}

// Every text-window byte store must signal the refresher exactly once.
func TestTextWriteNotifiesScreen(t *testing.T) {
	notified := 0
	v := NewVGA(func() { notified++ }, nil)
	p := v.TextProvider()

	p.Write8(0xB8000, 'A')
	p.Write8(0xB8001, 0x07)

	if notified != 2 {
		t.Fatalf("notifyScreen called %d times, want 2", notified)
	}
	if got := p.Read8(0xB8000); got != 'A' {
		t.Fatalf("text byte = %#x, want 'A'", got)
	}
	if !v.TakeTextDirty() {
		t.Fatal("text dirty flag should be set after a write")
	}
	if v.TakeTextDirty() {
		t.Fatal("text dirty flag should clear once taken")
	}
}

// A DAC write sets paletteDirty; one snapshot clears it.
func TestPaletteDirtyCycle(t *testing.T) {
	v := NewVGA(nil, nil)

	v.Write8(0x3C8, 5)
	v.Write8(0x3C9, 0x10)
	v.Write8(0x3C9, 0x20)
	v.Write8(0x3C9, 0x30)

	pal, dirty := v.PaletteSnapshot()
	if !dirty {
		t.Fatal("palette should be dirty after a DAC write")
	}
	if pal[5] != [3]byte{0x10, 0x20, 0x30} {
		t.Fatalf("palette entry 5 = %v, want {10 20 30}", pal[5])
	}
	if _, dirty := v.PaletteSnapshot(); dirty {
		t.Fatal("palette dirty should clear after one snapshot")
	}
}

// 0x3C9 reads walk R, G, B and advance to the next entry after blue.
func TestDACReadAutoIncrement(t *testing.T) {
	v := NewVGA(nil, nil)
	v.Write8(0x3C8, 1)
	v.Write8(0x3C9, 1)
	v.Write8(0x3C9, 2)
	v.Write8(0x3C9, 3)
	v.Write8(0x3C9, 4)
	v.Write8(0x3C9, 5)
	v.Write8(0x3C9, 6)

	v.Write8(0x3C7, 1)
	got := []byte{
		v.Read8(0x3C9), v.Read8(0x3C9), v.Read8(0x3C9),
		v.Read8(0x3C9), v.Read8(0x3C9), v.Read8(0x3C9),
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DAC read %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestCRTCCursorAndStart(t *testing.T) {
	v := NewVGA(nil, nil)
	v.Write8(0x3D4, 0x0C)
	v.Write8(0x3D5, 0x12)
	v.Write8(0x3D4, 0x0D)
	v.Write8(0x3D5, 0x34)
	v.Write8(0x3D4, 0x0E)
	v.Write8(0x3D5, 0x00)
	v.Write8(0x3D4, 0x0F)
	v.Write8(0x3D5, 0x50)

	if got := v.StartAddress(); got != 0x1234 {
		t.Fatalf("start address = %#x, want 0x1234", got)
	}
	if got := v.CursorPosition(); got != 0x0050 {
		t.Fatalf("cursor = %#x, want 0x0050", got)
	}
}

// Out-of-range CRTC indices are ignored, not stored.
func TestCRTCIndexOutOfRange(t *testing.T) {
	v := NewVGA(nil, nil)
	v.Write8(0x3D4, 0x19)
	v.Write8(0x3D5, 0xAA)
	if got := v.Read8(0x3D5); got != 0 {
		t.Fatalf("out-of-range CRTC register read = %#x, want 0", got)
	}
}
