// vga.go - VGA-compatible video subsystem: four 64 KiB display planes
// with the graphics-controller write-mode ALU, the CRTC/sequencer/
// attribute/DAC register files, and the 0xB8000 text window.
//
// The device is split across two interfaces: the graphics and text
// windows are MemoryProviders, the register files are one IODevice
// spanning the 0x3Bx/0x3Cx/0x3Dx port range.

package main

import "sync"

const (
	vgaGraphicsBase = 0xA0000
	vgaGraphicsSize = 0x10000
	vgaTextBase     = 0xB8000
	vgaTextSize     = 0x8000

	vgaPlaneCount = 4
	vgaPlaneSize  = 0x10000

	vgaSeqRegCount  = 7  // indices 0..4 plus 6; index 5 is unused
	vgaCRTCRegCount = 25 // indices 0..0x18
	vgaGCRegCount   = 18 // indices 0..0x11
	vgaAttrRegCount = 21 // palette 0..15, plus 0x10..0x14

	vgaSeqMapMask  = 0x02
	vgaSeqMemMode  = 0x04
	vgaSeqChain4   = 1 << 3
	vgaGCSetReset  = 0x00
	vgaGCEnableSR  = 0x01
	vgaGCRotate    = 0x03
	vgaGCReadMap   = 0x04
	vgaGCMode      = 0x05
	vgaGCBitmask   = 0x08
	vgaGCWriteMask = 0x03
	vgaGCReadBit   = 1 << 3
)

// VGA holds the full register/plane/palette state of the device and
// implements both MemoryProvider (through the graphics/text adapters
// below) and IODevice (port dispatch).
type VGA struct {
	mu sync.Mutex // guards dacPalette + paletteDirty; shared with the refresher

	planes [vgaPlaneCount][vgaPlaneSize]byte
	latch  [vgaPlaneCount]byte
	text   [vgaTextSize]byte

	seqIndex byte
	seqRegs  [vgaSeqRegCount]byte

	crtcIndex byte
	crtcRegs  [vgaCRTCRegCount]byte

	gcIndex byte
	gcRegs  [vgaGCRegCount]byte

	attrIndex     byte
	attrRegs      [vgaAttrRegCount]byte
	next3C0IsIdx  bool // true: next 0x3C0 write is an index, false: data
	miscOutput    byte
	statusReg     byte
	featureCtrl   byte
	dacPalette    [256][3]byte // 6-bit R,G,B
	dacReadIndex  byte
	dacWriteIndex byte
	dacSubIndex   int
	paletteDirty  bool
	textDirty     bool

	notifyScreen func()
	logf         func(format string, args ...any)
}

// NewVGA constructs a VGA device with hardware power-on defaults: map
// mask and chain-4 on, bit mask all-ones, the standard 16-color
// palette in the first DAC entries.
func NewVGA(notifyScreen func(), logf func(string, ...any)) *VGA {
	if notifyScreen == nil {
		notifyScreen = func() {}
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	v := &VGA{
		notifyScreen: notifyScreen,
		logf:         logf,
		next3C0IsIdx: true,
	}
	v.seqRegs[2] = 0x0F
	v.seqRegs[4] = vgaSeqChain4
	v.gcRegs[vgaGCBitmask] = 0xFF
	v.initDefaultPalette()
	return v
}

// initDefaultPalette seeds the 256-entry DAC with the standard VGA
// 16-color set repeated across the remaining entries; only the first
// 16 entries matter for the attribute-controller palette this design
// exercises.
func (v *VGA) initDefaultPalette() {
	std := [16][3]byte{
		{0x00, 0x00, 0x00}, {0x00, 0x00, 0x2A}, {0x00, 0x2A, 0x00}, {0x00, 0x2A, 0x2A},
		{0x2A, 0x00, 0x00}, {0x2A, 0x00, 0x2A}, {0x2A, 0x15, 0x00}, {0x2A, 0x2A, 0x2A},
		{0x15, 0x15, 0x15}, {0x15, 0x15, 0x3F}, {0x15, 0x3F, 0x15}, {0x15, 0x3F, 0x3F},
		{0x3F, 0x15, 0x15}, {0x3F, 0x15, 0x3F}, {0x3F, 0x3F, 0x15}, {0x3F, 0x3F, 0x3F},
	}
	for i, c := range std {
		v.dacPalette[i] = c
	}
	for i := 0; i < vgaAttrRegCount && i < 16; i++ {
		v.attrRegs[i] = byte(i)
	}
}

// ---- memory providers ----

// vgaGraphicsProvider adapts VGA's planar write machinery to the
// MemoryProvider interface for the 0xA0000..0xAFFFF window.
type vgaGraphicsProvider struct{ v *VGA }

func (p vgaGraphicsProvider) Base() uint32 { return vgaGraphicsBase }
func (p vgaGraphicsProvider) Size() uint32 { return vgaGraphicsSize }
func (p vgaGraphicsProvider) Read8(addr uint32) uint8 {
	return p.v.graphicsRead(addr - vgaGraphicsBase)
}
func (p vgaGraphicsProvider) Write8(addr uint32, val uint8) {
	p.v.graphicsWrite(addr-vgaGraphicsBase, val)
}

// GraphicsProvider returns the MemoryProvider to register at 0xA0000.
func (v *VGA) GraphicsProvider() MemoryProvider { return vgaGraphicsProvider{v} }

// vgaTextProvider is the 0xB8000..0xBFFFF text-buffer window: stores
// verbatim and signals the screen refresher on every byte written.
type vgaTextProvider struct{ v *VGA }

func (p vgaTextProvider) Base() uint32 { return vgaTextBase }
func (p vgaTextProvider) Size() uint32 { return vgaTextSize }
func (p vgaTextProvider) Read8(addr uint32) uint8 {
	return p.v.text[addr-vgaTextBase]
}
func (p vgaTextProvider) Write8(addr uint32, val uint8) {
	p.v.text[addr-vgaTextBase] = val
	p.v.textDirty = true
	p.v.notifyScreen()
}

// TextProvider returns the MemoryProvider to register at 0xB8000.
func (v *VGA) TextProvider() MemoryProvider { return vgaTextProvider{v} }

// ---- planar graphics read/write ----

func rotateRight8(v byte, n byte) byte {
	n &= 7
	return (v >> n) | (v << (8 - n))
}

// planeTarget resolves the local graphics address to a per-plane
// address and the set of planes a write should touch. With chain-4 on,
// the low two address bits select the plane and the rest index into
// it; otherwise the map mask selects the planes.
func (v *VGA) planeTarget(addr uint32) (planeAddr uint32, planeMask byte) {
	if v.seqRegs[vgaSeqMemMode]&vgaSeqChain4 != 0 {
		return addr >> 2, 1 << (addr & 3)
	}
	return addr, v.seqRegs[vgaSeqMapMask] & 0x0F
}

func (v *VGA) graphicsWrite(addr uint32, value byte) {
	if int(addr) >= vgaPlaneSize {
		return
	}
	planeAddr, planeMask := v.planeTarget(addr)
	mode := v.gcRegs[vgaGCMode] & vgaGCWriteMask

	switch mode {
	case 0:
		rotated := rotateRight8(value, v.gcRegs[vgaGCRotate]&0x07)
		setResetEnable := v.gcRegs[vgaGCEnableSR]
		setReset := v.gcRegs[vgaGCSetReset]
		bitmask := v.gcRegs[vgaGCBitmask]
		rasterOp := (v.gcRegs[vgaGCRotate] >> 3) & 0x03
		for p := byte(0); p < vgaPlaneCount; p++ {
			if planeMask&(1<<p) == 0 {
				continue
			}
			var src byte
			if setResetEnable&(1<<p) != 0 {
				if setReset&(1<<p) != 0 {
					src = 0xFF
				}
			} else {
				src = rotated
			}
			var result byte
			switch rasterOp {
			case 0:
				result = src
			case 1:
				result = src & v.latch[p]
			case 2:
				result = src | v.latch[p]
			case 3:
				result = src ^ v.latch[p]
			}
			v.planes[p][planeAddr] = (result & bitmask) | (v.latch[p] &^ bitmask)
		}
	case 1:
		for p := byte(0); p < vgaPlaneCount; p++ {
			if planeMask&(1<<p) == 0 {
				continue
			}
			v.planes[p][planeAddr] = v.latch[p]
		}
	case 2:
		bitmask := v.gcRegs[vgaGCBitmask]
		for p := byte(0); p < vgaPlaneCount; p++ {
			if planeMask&(1<<p) == 0 {
				continue
			}
			var src byte
			if value&(1<<p) != 0 {
				src = 0xFF
			}
			v.planes[p][planeAddr] = (src & bitmask) | (v.latch[p] &^ bitmask)
		}
	default:
		v.logf("vga: write mode 3 not implemented (addr=%#x value=%#x)", addr, value)
	}
}

func (v *VGA) graphicsRead(addr uint32) byte {
	if int(addr) >= vgaPlaneSize {
		return 0xFF
	}
	planeAddr, _ := v.planeTarget(addr)
	for p := 0; p < vgaPlaneCount; p++ {
		v.latch[p] = v.planes[p][planeAddr]
	}
	if v.gcRegs[vgaGCMode]&vgaGCReadBit != 0 {
		v.logf("vga: read mode 1 (color compare) not implemented, returning 0")
		return 0
	}
	plane := v.gcRegs[vgaGCReadMap] & 0x03
	if v.seqRegs[vgaSeqMemMode]&vgaSeqChain4 != 0 {
		plane = byte(addr & 3)
	}
	return v.planes[plane][planeAddr]
}

// ---- port I/O ----

// VGAPort pairs a port number with the read/write capability VGA
// claims it for, so machine.go can Listen() every one in a loop.
type VGAPort struct {
	Port              uint16
	CanRead, CanWrite bool
}

// Ports returns every port this device must be Listen()'d on.
func (v *VGA) Ports() []VGAPort {
	rw := func(p uint16) VGAPort { return VGAPort{p, true, true} }
	return []VGAPort{
		rw(0x3B4), rw(0x3B5), rw(0x3BA),
		rw(0x3C0), rw(0x3C1), rw(0x3C2), rw(0x3C4), rw(0x3C5),
		rw(0x3C7), rw(0x3C8), rw(0x3C9), rw(0x3CA), rw(0x3CC),
		rw(0x3CE), rw(0x3CF), rw(0x3D4), rw(0x3D5), rw(0x3DA),
	}
}

func (v *VGA) Read8(port uint16) byte {
	switch port {
	case 0x3C0:
		return v.attrIndex
	case 0x3C1:
		idx := v.attrIndex & 0x1F
		if int(idx) >= len(v.attrRegs) {
			return 0
		}
		return v.attrRegs[idx]
	case 0x3C2:
		return v.statusReg
	case 0x3C4:
		return v.seqIndex
	case 0x3C5:
		return v.seqRegAt(v.seqIndex)
	case 0x3C7:
		return 0 // DAC state register; read-only distinction not modeled
	case 0x3C8:
		return v.dacWriteIndex
	case 0x3C9:
		return v.dacRead()
	case 0x3CA:
		return v.featureCtrl // always 0
	case 0x3CC:
		return v.miscOutput
	case 0x3CE:
		return v.gcIndex
	case 0x3CF:
		return v.gcRegAt(v.gcIndex)
	case 0x3B4, 0x3D4:
		return v.crtcIndex
	case 0x3B5, 0x3D5:
		return v.crtcRegAt(v.crtcIndex)
	case 0x3BA, 0x3DA:
		status := v.statusReg
		v.statusReg ^= 0x01 // toggle display-enable imitation
		v.next3C0IsIdx = true
		return status
	default:
		v.logf("vga: unhandled port read %#x", port)
		return 0xFF
	}
}

func (v *VGA) Write8(port uint16, val byte) {
	switch port {
	case 0x3C0:
		if v.next3C0IsIdx {
			v.attrIndex = val
		} else {
			idx := v.attrIndex & 0x1F
			if int(idx) < len(v.attrRegs) {
				v.attrRegs[idx] = val
			} else {
				v.logf("vga: attribute-controller index %#x out of range", idx)
			}
		}
		v.next3C0IsIdx = !v.next3C0IsIdx
	case 0x3C2:
		v.miscOutput = val
	case 0x3C4:
		v.seqIndex = val
	case 0x3C5:
		v.setSeqReg(v.seqIndex, val)
	case 0x3C7:
		v.dacReadIndex = val
		v.dacSubIndex = 0
	case 0x3C8:
		v.dacWriteIndex = val
		v.dacSubIndex = 0
	case 0x3C9:
		v.dacWrite(val)
	case 0x3CE:
		v.gcIndex = val
	case 0x3CF:
		v.setGCReg(v.gcIndex, val)
	case 0x3B4, 0x3D4:
		v.crtcIndex = val
	case 0x3B5, 0x3D5:
		v.setCRTCReg(v.crtcIndex, val)
	default:
		v.logf("vga: unhandled port write %#x = %#x", port, val)
	}
}

// seqRegAt/setSeqReg guard against index 5 (unused) and out-of-range
// indices with a log; a bad index is a guest bug, never a fault.
func (v *VGA) seqRegAt(idx byte) byte {
	if idx == 5 || int(idx) >= len(v.seqRegs) {
		v.logf("vga: invalid sequencer register index %#x", idx)
		return 0
	}
	return v.seqRegs[idx]
}

func (v *VGA) setSeqReg(idx byte, val byte) {
	if idx == 5 || int(idx) >= len(v.seqRegs) {
		v.logf("vga: invalid sequencer register index %#x", idx)
		return
	}
	v.seqRegs[idx] = val
}

func (v *VGA) gcRegAt(idx byte) byte {
	if int(idx) >= len(v.gcRegs) {
		v.logf("vga: invalid graphics-controller register index %#x", idx)
		return 0
	}
	return v.gcRegs[idx]
}

func (v *VGA) setGCReg(idx byte, val byte) {
	if int(idx) >= len(v.gcRegs) {
		v.logf("vga: invalid graphics-controller register index %#x", idx)
		return
	}
	v.gcRegs[idx] = val
}

func (v *VGA) crtcRegAt(idx byte) byte {
	if int(idx) > 0x18 || int(idx) >= len(v.crtcRegs) {
		v.logf("vga: invalid CRTC register index %#x", idx)
		return 0
	}
	return v.crtcRegs[idx]
}

func (v *VGA) setCRTCReg(idx byte, val byte) {
	if int(idx) > 0x18 || int(idx) >= len(v.crtcRegs) {
		v.logf("vga: invalid CRTC register index %#x", idx)
		return
	}
	v.crtcRegs[idx] = val
}

// dacRead/dacWrite implement the 0x3C9 auto-incrementing R,G,B
// sequence: the sub-index walks R, G, B and the entry index advances
// after the blue component.
func (v *VGA) dacRead() byte {
	c := v.dacPalette[v.dacReadIndex][v.dacSubIndex]
	v.dacSubIndex++
	if v.dacSubIndex == 3 {
		v.dacSubIndex = 0
		v.dacReadIndex++
	}
	return c
}

func (v *VGA) dacWrite(val byte) {
	v.mu.Lock()
	v.dacPalette[v.dacWriteIndex][v.dacSubIndex] = val & 0x3F
	v.dacSubIndex++
	if v.dacSubIndex == 3 {
		v.dacSubIndex = 0
		v.dacWriteIndex++
	}
	v.paletteDirty = true
	v.mu.Unlock()
}

// ---- screen-refresher accessors ----

// PaletteSnapshot copies the 256-entry DAC table and clears
// paletteDirty, under the palette lock.
func (v *VGA) PaletteSnapshot() ([256][3]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	dirty := v.paletteDirty
	v.paletteDirty = false
	return v.dacPalette, dirty
}

// TakeTextDirty reports and clears the text-dirty flag.
func (v *VGA) TakeTextDirty() bool {
	dirty := v.textDirty
	v.textDirty = false
	return dirty
}

// ReadPlane returns a byte from one of the four 64 KiB display planes.
// The refresher reads without a lock; torn frames are tolerated.
func (v *VGA) ReadPlane(plane int, addr uint32) byte {
	if plane < 0 || plane >= vgaPlaneCount {
		return 0
	}
	return v.planes[plane][addr&(vgaPlaneSize-1)]
}

// TextByte returns a byte from the text buffer without going through
// the memory-provider path, for the refresher.
func (v *VGA) TextByte(off uint32) byte {
	if off >= vgaTextSize {
		return 0
	}
	return v.text[off]
}

// StartAddress returns the CRTC display-start address (registers
// 0x0C/0x0D).
func (v *VGA) StartAddress() uint16 {
	return weld16(v.crtcRegs[0x0C], v.crtcRegs[0x0D])
}

// CursorPosition returns the CRTC cursor location (registers
// 0x0E/0x0F).
func (v *VGA) CursorPosition() uint16 {
	return weld16(v.crtcRegs[0x0E], v.crtcRegs[0x0F])
}

// AttributePaletteIndex maps attribute-controller palette index 0..15
// (or 16 for overscan) through the attribute registers to a DAC entry.
func (v *VGA) AttributePaletteIndex(i int) byte {
	if i < 0 || i >= len(v.attrRegs) {
		return 0
	}
	return v.attrRegs[i]
}
