// keyboard.go - 8042-style keyboard controller: two ports, a scancode
// FIFO, one IRQ line. No scancode-set switching and no command-byte
// emulation; the device is a plain I/O-port and IRQ client.

package main

import (
	"os"

	"golang.org/x/term"
)

const (
	kbdPortData   = 0x60
	kbdPortStatus = 0x64
	kbdStatusOBF  = 1 << 0 // output buffer full

	kbdIRQLine = 1
)

// Keyboard is the CPU-visible half of the controller: a small FIFO of
// scancodes drained by reading port 0x60, with port 0x64 reporting
// "output buffer full" and IRQ1 raised whenever the FIFO is non-empty.
type Keyboard struct {
	fifo []byte
	intr *InterruptController
}

func NewKeyboard(intr *InterruptController) *Keyboard {
	return &Keyboard{intr: intr}
}

// PushScancode enqueues a byte from the host adapter and raises IRQ1.
// One IRQ per byte, not per keystroke; a multi-byte scancode raises
// it once per byte.
func (k *Keyboard) PushScancode(b byte) {
	k.fifo = append(k.fifo, b)
	k.intr.RaiseIRQ(kbdIRQLine)
}

func (k *Keyboard) Read8(port uint16) byte {
	switch port {
	case kbdPortData:
		if len(k.fifo) == 0 {
			return 0
		}
		b := k.fifo[0]
		k.fifo = k.fifo[1:]
		return b
	case kbdPortStatus:
		if len(k.fifo) > 0 {
			return kbdStatusOBF
		}
		return 0
	default:
		return 0xFF
	}
}

// Write8 accepts and discards controller commands (0x64) and data
// (0x60): the AT command set (set-LEDs, typematic, self-test) is not
// modeled.
func (k *Keyboard) Write8(port uint16, v byte) {}

// scancodeSet1 is the fixed set-1 make-code table for ASCII letters,
// digits and a handful of control keys: enough for the host adapter
// below to feed a boot-sector or DOS-era keyboard ISR.
var scancodeSet1 = map[byte]byte{
	'\r': 0x1C, '\n': 0x1C, '\x1b': 0x01, '\b': 0x0E, '\t': 0x0F, ' ': 0x39,
	'a': 0x1E, 'b': 0x30, 'c': 0x2E, 'd': 0x20, 'e': 0x12, 'f': 0x21,
	'g': 0x22, 'h': 0x23, 'i': 0x17, 'j': 0x24, 'k': 0x25, 'l': 0x26,
	'm': 0x32, 'n': 0x31, 'o': 0x18, 'p': 0x19, 'q': 0x10, 'r': 0x13,
	's': 0x1F, 't': 0x14, 'u': 0x16, 'v': 0x2F, 'w': 0x11, 'x': 0x2D,
	'y': 0x15, 'z': 0x2C,
	'0': 0x0B, '1': 0x02, '2': 0x03, '3': 0x04, '4': 0x05, '5': 0x06,
	'6': 0x07, '7': 0x08, '8': 0x09, '9': 0x0A,
}

// KeyboardHost puts the controlling terminal into raw mode and feeds
// every byte it reads to a Keyboard as set-1 scancodes, plus the
// matching break code (make | 0x80).
type KeyboardHost struct {
	fd       int
	kbd      *Keyboard
	oldState *term.State
}

func NewKeyboardHost(kbd *Keyboard) *KeyboardHost {
	return &KeyboardHost{fd: int(os.Stdin.Fd()), kbd: kbd}
}

// Start enters raw mode and launches the read loop. The caller is
// responsible for calling Stop before process exit; Run() in main.go
// does this via a deferred Stop on context cancellation.
func (h *KeyboardHost) Start() error {
	if !term.IsTerminal(h.fd) {
		return nil // non-interactive stdin (pipe/redirect): no host keys
	}
	old, err := term.MakeRaw(h.fd)
	if err != nil {
		return err
	}
	h.oldState = old
	go h.readLoop()
	return nil
}

func (h *KeyboardHost) Stop() {
	if h.oldState != nil {
		_ = term.Restore(h.fd, h.oldState)
	}
}

func (h *KeyboardHost) readLoop() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if code, ok := scancodeSet1[buf[0]]; ok {
			h.kbd.PushScancode(code)
			h.kbd.PushScancode(code | 0x80)
		}
	}
}
