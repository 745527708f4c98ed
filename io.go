// io.go - port I/O dispatch layer.
//
// One exact-match table keyed by 16-bit port number. Listen declares
// which of {read, write} a device answers for a given port, and
// In/Out decompose wider accesses into sequential 8-bit port, port+1,
// ... calls in little-endian order.

package main

import "fmt"

// IODevice is anything that can be installed on one or more ports.
// Devices that only read, only write, or do both all implement the
// same interface; ListenPorts declares which ports they claim.
type IODevice interface {
	Read8(port uint16) byte
	Write8(port uint16, v byte)
}

type portListener struct {
	dev      IODevice
	canRead  bool
	canWrite bool
}

// IODispatcher is the per-port table: one dictionary keyed by port
// number, devices registering for read, write, or both.
type IODispatcher struct {
	listeners map[uint16]*portListener
	silent    map[uint16]bool
	warned    map[uint16]bool
	logf      func(format string, args ...any)
	peek      bool // --iopeek: log every IN/OUT
}

func NewIODispatcher(logf func(string, ...any)) *IODispatcher {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &IODispatcher{
		listeners: make(map[uint16]*portListener),
		silent:    make(map[uint16]bool),
		logf:      logf,
	}
}

// SetPeek enables or disables the --iopeek diagnostic: log every
// IN/OUT regardless of whether the port is handled.
func (d *IODispatcher) SetPeek(on bool) {
	d.peek = on
}

// SilenceWarnings marks a port as not worth a diagnostic when
// unhandled.
func (d *IODispatcher) SilenceWarnings(port uint16) {
	d.silent[port] = true
}

// Listen registers dev for reads, writes, or both at port.
func (d *IODispatcher) Listen(port uint16, dev IODevice, canRead, canWrite bool) {
	l, ok := d.listeners[port]
	if !ok {
		l = &portListener{dev: dev}
		d.listeners[port] = l
	}
	if canRead {
		l.canRead = true
	}
	if canWrite {
		l.canWrite = true
	}
}

func (d *IODispatcher) warnOnce(port uint16, dir string) {
	if d.silent[port] {
		return
	}
	if d.warned == nil {
		d.warned = make(map[uint16]bool)
	}
	key := port
	if d.warned[key] {
		return
	}
	d.warned[key] = true
	d.logf("io: unhandled %s at port %#x", dir, port)
}

// In8 dispatches a port read; an unhandled port returns 0xFF.
func (d *IODispatcher) In8(port uint16) byte {
	if d.peek {
		d.logf("io: IN %#x", port)
	}
	if l, ok := d.listeners[port]; ok && l.canRead {
		return l.dev.Read8(port)
	}
	d.warnOnce(port, "read")
	return 0xFF
}

func (d *IODispatcher) Out8(port uint16, v byte) {
	if d.peek {
		d.logf("io: OUT %#x, %#x", port, v)
	}
	if l, ok := d.listeners[port]; ok && l.canWrite {
		l.dev.Write8(port, v)
		return
	}
	d.warnOnce(port, "write")
}

// InWidth/OutWidth decompose 16/32-bit accesses into sequential
// little-endian 8-bit port calls to port, port+1, ...
func (d *IODispatcher) InWidth(port uint16, w Width) uint32 {
	switch w {
	case W8:
		return uint32(d.In8(port))
	case W16:
		lo := d.In8(port)
		hi := d.In8(port + 1)
		return uint32(weld16(hi, lo))
	default:
		lo := d.In8(port)
		b1 := d.In8(port + 1)
		b2 := d.In8(port + 2)
		b3 := d.In8(port + 3)
		return uint32(lo) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
	}
}

func (d *IODispatcher) OutWidth(port uint16, w Width, v uint32) {
	switch w {
	case W8:
		d.Out8(port, byte(v))
	case W16:
		d.Out8(port, byte(v))
		d.Out8(port+1, byte(v>>8))
	default:
		d.Out8(port, byte(v))
		d.Out8(port+1, byte(v>>8))
		d.Out8(port+2, byte(v>>16))
		d.Out8(port+3, byte(v>>24))
	}
}

func (d *IODispatcher) String() string {
	return fmt.Sprintf("IODispatcher{%d ports}", len(d.listeners))
}

func init() {
	registerOp(0xE4, opInImm8)
	registerOp(0xE5, opInImm)
	registerOp(0xE6, opOutImm8)
	registerOp(0xE7, opOutImm)
	registerOp(0xEC, opInDX8)
	registerOp(0xED, opInDX)
	registerOp(0xEE, opOutDX8)
	registerOp(0xEF, opOutDX)
}

func opInImm8(c *CPU) *Exception {
	port, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	c.Regs.SetAL(byte(c.IO.InWidth(uint16(port), W8)))
	return nil
}

func opInImm(c *CPU) *Exception {
	port, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	c.Regs.SetBySize(regEAX, w, c.IO.InWidth(uint16(port), w))
	return nil
}

func opOutImm8(c *CPU) *Exception {
	port, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	c.IO.OutWidth(uint16(port), W8, uint32(c.Regs.AL()))
	return nil
}

func opOutImm(c *CPU) *Exception {
	port, ex := c.fetch8()
	if ex != nil {
		return ex
	}
	w := c.opWidth()
	c.IO.OutWidth(uint16(port), w, c.Regs.GetBySize(regEAX, w))
	return nil
}

func opInDX8(c *CPU) *Exception {
	c.Regs.SetAL(byte(c.IO.InWidth(c.Regs.DX(), W8)))
	return nil
}

func opInDX(c *CPU) *Exception {
	w := c.opWidth()
	c.Regs.SetBySize(regEAX, w, c.IO.InWidth(c.Regs.DX(), w))
	return nil
}

func opOutDX8(c *CPU) *Exception {
	c.IO.OutWidth(c.Regs.DX(), W8, uint32(c.Regs.AL()))
	return nil
}

func opOutDX(c *CPU) *Exception {
	w := c.opWidth()
	c.IO.OutWidth(c.Regs.DX(), w, c.Regs.GetBySize(regEAX, w))
	return nil
}
