// registers.go - CPU register file: eight 32-bit general registers
// with 16/8-bit aliased views, six segment registers with descriptor
// caches, EIP, EFLAGS, the control registers and the descriptor-table
// registers.

package main

// General-purpose register indices, matching the ModR/M reg/rm
// encoding order (EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI).
const (
	regEAX = 0
	regECX = 1
	regEDX = 2
	regEBX = 3
	regESP = 4
	regEBP = 5
	regESI = 6
	regEDI = 7
)

// Segment register indices.
const (
	segES = 0
	segCS = 1
	segSS = 2
	segDS = 3
	segFS = 4
	segGS = 5
)

// EFLAGS bit positions.
const (
	flagCF   uint32 = 1 << 0
	flagPF   uint32 = 1 << 2
	flagAF   uint32 = 1 << 4
	flagZF   uint32 = 1 << 6
	flagSF   uint32 = 1 << 7
	flagTF   uint32 = 1 << 8
	flagIF   uint32 = 1 << 9
	flagDF   uint32 = 1 << 10
	flagOF   uint32 = 1 << 11
	flagIOPL uint32 = 3 << 12
	flagNT   uint32 = 1 << 14
	flagRF   uint32 = 1 << 16
	flagVM   uint32 = 1 << 17
	flagAC   uint32 = 1 << 18
	flagVIF  uint32 = 1 << 19
	flagVIP  uint32 = 1 << 20
	flagID   uint32 = 1 << 21
)

// CR0 bit positions.
const (
	cr0PE uint32 = 1 << 0
	cr0MP uint32 = 1 << 1
	cr0EM uint32 = 1 << 2
	cr0TS uint32 = 1 << 3
	cr0WP uint32 = 1 << 16
	cr0PG uint32 = 1 << 31
)

// SegDescriptor is the hidden cached descriptor carried alongside a
// segment register's visible selector.
type SegDescriptor struct {
	Base        uint32
	Limit       uint32
	Type        uint8 // low nibble of the access byte
	DPL         uint8
	System      bool // S bit clear: TSS/LDT/gate, never a code/data segment
	Granularity bool // true = limit scaled by 4 KiB pages
	DefaultSize bool // true = 32-bit default operand/address size (D/B bit)
	Present     bool
}

// SegReg is a segment register: a 16-bit selector plus its descriptor
// cache, which is what segmentation.go actually consults.
type SegReg struct {
	Selector uint16
	Desc     SegDescriptor
}

// DTR is a descriptor-table register (GDTR/IDTR): base + limit.
type DTR struct {
	Base  uint32
	Limit uint16
}

// SysSeg is a system segment register (LDTR/TR): selector + descriptor.
type SysSeg struct {
	Selector uint16
	Desc     SegDescriptor
}

// Registers holds the full x86 register file.
type Registers struct {
	// General purpose (32-bit canonical storage; 16/8-bit views are
	// computed).
	gpr [8]uint32

	EIP uint32

	Seg [6]SegReg // indexed by segES..segGS

	EFlags uint32

	CR0 uint32
	CR2 uint32
	CR3 uint32

	GDTR DTR
	IDTR DTR
	LDTR SysSeg
	TR   SysSeg
}

func NewRegisters() *Registers {
	r := &Registers{}
	r.Reset()
	return r
}

// Reset puts the register file into its post-reset state: CS =
// F000:FFF0-style real-mode base, flags with IF/reserved bit 1 set,
// CR0 with PE clear (real mode).
func (r *Registers) Reset() {
	for i := range r.gpr {
		r.gpr[i] = 0
	}
	r.EIP = 0x0000FFF0
	for i := range r.Seg {
		r.Seg[i] = SegReg{}
	}
	r.Seg[segCS] = SegReg{Selector: 0xF000, Desc: SegDescriptor{Base: 0xFFFF0000, Limit: 0xFFFF, Present: true}}
	for _, s := range []int{segDS, segES, segSS, segFS, segGS} {
		r.Seg[s] = SegReg{Selector: 0, Desc: SegDescriptor{Base: 0, Limit: 0xFFFF, Present: true}}
	}
	r.EFlags = 1 << 1 // reserved bit 1 always reads as 1
	r.CR0 = 0
	r.CR2 = 0
	r.CR3 = 0
	r.GDTR = DTR{}
	r.IDTR = DTR{Base: 0, Limit: 0x3FF}
	r.LDTR = SysSeg{}
	r.TR = SysSeg{}
}

// ---- General register access ----

func (r *Registers) GetReg32(idx byte) uint32    { return r.gpr[idx&7] }
func (r *Registers) SetReg32(idx byte, v uint32) { r.gpr[idx&7] = v }

func (r *Registers) GetReg16(idx byte) uint16 {
	return uint16(r.gpr[idx&7])
}

func (r *Registers) SetReg16(idx byte, v uint16) {
	r.gpr[idx&7] = (r.gpr[idx&7] &^ 0xFFFF) | uint32(v)
}

// GetReg8/SetReg8 use the legacy AL/CL/DL/BL/AH/CH/DH/BH encoding: 0-3
// are low bytes of EAX/ECX/EDX/EBX, 4-7 are high bytes of the same.
func (r *Registers) GetReg8(idx byte) byte {
	idx &= 7
	if idx < 4 {
		return byte(r.gpr[idx])
	}
	return byte(r.gpr[idx-4] >> 8)
}

func (r *Registers) SetReg8(idx byte, v byte) {
	idx &= 7
	if idx < 4 {
		r.gpr[idx] = (r.gpr[idx] &^ 0xFF) | uint32(v)
	} else {
		r.gpr[idx-4] = (r.gpr[idx-4] &^ 0xFF00) | (uint32(v) << 8)
	}
}

func (r *Registers) GetBySize(idx byte, w Width) uint32 {
	switch w {
	case W8:
		return uint32(r.GetReg8(idx))
	case W16:
		return uint32(r.GetReg16(idx))
	default:
		return r.GetReg32(idx)
	}
}

func (r *Registers) SetBySize(idx byte, w Width, v uint32) {
	switch w {
	case W8:
		r.SetReg8(idx, byte(v))
	case W16:
		r.SetReg16(idx, uint16(v))
	default:
		r.SetReg32(idx, v)
	}
}

// ---- Named 16-bit aliases used by string-instruction handlers ----

func (r *Registers) AX() uint16 { return r.GetReg16(regEAX) }
func (r *Registers) CX() uint16 { return r.GetReg16(regECX) }
func (r *Registers) DX() uint16 { return r.GetReg16(regEDX) }
func (r *Registers) BX() uint16 { return r.GetReg16(regEBX) }
func (r *Registers) SP() uint16 { return r.GetReg16(regESP) }
func (r *Registers) BP() uint16 { return r.GetReg16(regEBP) }
func (r *Registers) SI() uint16 { return r.GetReg16(regESI) }
func (r *Registers) DI() uint16 { return r.GetReg16(regEDI) }

func (r *Registers) SetAX(v uint16) { r.SetReg16(regEAX, v) }
func (r *Registers) SetAL(v byte)   { r.SetReg8(0, v) }
func (r *Registers) AL() byte       { return r.GetReg8(0) }

// ---- Segment access ----

func (r *Registers) GetSeg(idx int) uint16         { return r.Seg[idx].Selector }
func (r *Registers) SegDesc(idx int) SegDescriptor { return r.Seg[idx].Desc }

// ---- EFLAGS accessors ----

func (r *Registers) Flag(mask uint32) bool { return r.EFlags&mask != 0 }

func (r *Registers) SetFlag(mask uint32, set bool) {
	if set {
		r.EFlags |= mask
	} else {
		r.EFlags &^= mask
	}
}

func (r *Registers) CF() bool { return r.Flag(flagCF) }
func (r *Registers) PF() bool { return r.Flag(flagPF) }
func (r *Registers) AF() bool { return r.Flag(flagAF) }
func (r *Registers) ZF() bool { return r.Flag(flagZF) }
func (r *Registers) SF() bool { return r.Flag(flagSF) }
func (r *Registers) TF() bool { return r.Flag(flagTF) }
func (r *Registers) IF() bool { return r.Flag(flagIF) }
func (r *Registers) DF() bool { return r.Flag(flagDF) }
func (r *Registers) OF() bool { return r.Flag(flagOF) }
func (r *Registers) VM() bool { return r.Flag(flagVM) }

func (r *Registers) IOPL() uint8 {
	return uint8((r.EFlags & flagIOPL) >> 12)
}

// CPL returns the current privilege level: ring 0 in real mode and
// whenever CR0.PE is clear, else the RPL of the CS selector.
func (r *Registers) CPL() uint8 {
	if r.CR0&cr0PE == 0 {
		return 0
	}
	return uint8(r.Seg[segCS].Selector & 3)
}

func (r *Registers) ProtectedMode() bool { return r.CR0&cr0PE != 0 }
func (r *Registers) PagingEnabled() bool { return r.CR0&cr0PG != 0 }
