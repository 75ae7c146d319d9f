// Package emu emulates the register window of IO-APIC controllers so that the
// ioapic package can be exercised without hardware. A Bus services the 32-bit
// register accesses issued through the mmio package.
package emu

import (
	"bootirq/device/mmio"
	"sync"
)

const (
	// WindowSize is the size of the MMIO region decoded by a controller.
	WindowSize = 0x20

	regSelect = 0x00
	regData   = 0x10

	regID                = 0x00
	regVersion           = 0x01
	regArbitration       = 0x02
	regRedirectionTable  = 0x10
	controllerVersion    = 0x11
	openBusValue         = 0xffffffff
	defaultRedirectEntry = 1 << 16

	// The 8-bit select register reaches 120 redirection entries.
	maxLines = (0x100 - regRedirectionTable) / 2
)

// Redirection bits that software is permitted to write. The delivery status
// and remote IRR bits are owned by the controller.
const redirectionWriteMask uint64 = 0xff00000000000000 |
	0xff | // vector
	(0x7 << 8) | // delivery mode
	(1 << 11) | // destination mode
	(1 << 13) | // polarity
	(1 << 15) | // trigger mode
	(1 << 16) // mask bit

// Write records a single write to the data register of a controller.
type Write struct {
	// Register is the index that was selected when the write occurred.
	Register uint32
	Value    uint32
}

// Controller emulates a single IO-APIC.
type Controller struct {
	id            uint8
	arbitrationID uint8
	selected      uint32
	redirection   []uint64

	// writes logs every data register write in program order.
	writes []Write
}

// NewController returns a controller with the supplied id and number of
// interrupt lines. Line counts outside [1, 120] select the common 24-line
// controller. Like real hardware, all lines start out masked.
func NewController(id uint8, lines int) *Controller {
	if lines <= 0 || lines > maxLines {
		lines = 24
	}

	c := &Controller{
		id:            id & 0xf,
		arbitrationID: id & 0xf,
		redirection:   make([]uint64, lines),
	}

	for i := range c.redirection {
		c.redirection[i] = defaultRedirectEntry
	}

	return c
}

// Lines returns the number of interrupt lines of the controller.
func (c *Controller) Lines() int { return len(c.redirection) }

// Entry returns the raw value of redirection entry n.
func (c *Controller) Entry(n int) uint64 { return c.redirection[n] }

// SetEntryStatus sets the controller-owned delivery status and remote IRR
// bits of entry n.
func (c *Controller) SetEntryStatus(n int, deliveryPending, remoteIRR bool) {
	entry := c.redirection[n] &^ (1<<12 | 1<<14)
	if deliveryPending {
		entry |= 1 << 12
	}
	if remoteIRR {
		entry |= 1 << 14
	}
	c.redirection[n] = entry
}

// Writes returns the data register writes issued to the controller.
func (c *Controller) Writes() []Write { return c.writes }

// EntryWritten returns true if any half of redirection entry n was written.
func (c *Controller) EntryWritten(n int) bool {
	for _, w := range c.writes {
		if w.Register >= regRedirectionTable && int(w.Register-regRedirectionTable)/2 == n {
			return true
		}
	}

	return false
}

func (c *Controller) readRegister() uint32 {
	switch {
	case c.selected == regID:
		return uint32(c.id) << 24
	case c.selected == regVersion:
		return uint32(len(c.redirection)-1)<<16 | controllerVersion
	case c.selected == regArbitration:
		return uint32(c.arbitrationID) << 24
	case c.selected >= regRedirectionTable:
		n := int(c.selected-regRedirectionTable) / 2
		if n >= len(c.redirection) {
			return 0
		}

		if c.selected&1 == 1 {
			return uint32(c.redirection[n] >> 32)
		}
		return uint32(c.redirection[n])
	default:
		return 0
	}
}

func (c *Controller) writeRegister(value uint32) {
	c.writes = append(c.writes, Write{Register: c.selected, Value: value})

	switch {
	case c.selected == regID:
		c.id = uint8(value>>24) & 0xf
	case c.selected >= regRedirectionTable:
		n := int(c.selected-regRedirectionTable) / 2
		if n >= len(c.redirection) {
			return
		}

		var (
			raw  = c.redirection[n]
			val  = uint64(value)
			mask = redirectionWriteMask & 0xffffffff
		)

		if c.selected&1 == 1 {
			val <<= 32
			mask = redirectionWriteMask &^ 0xffffffff
		}

		c.redirection[n] = raw&^mask | val&mask
	}
}

// Bus routes register accesses to the controllers attached to it. Accesses
// that do not hit any controller read as all ones and are otherwise ignored.
type Bus struct {
	mu          sync.Mutex
	controllers map[uintptr]*Controller
}

var _ mmio.Accessor = (*Bus)(nil)

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{controllers: make(map[uintptr]*Controller)}
}

// Attach maps the register window of c at base.
func (b *Bus) Attach(base uintptr, c *Controller) {
	b.mu.Lock()
	b.controllers[base] = c
	b.mu.Unlock()
}

// Controller returns the controller attached at base or nil.
func (b *Bus) Controller(base uintptr) *Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controllers[base]
}

func (b *Bus) decode(addr uintptr) (*Controller, uintptr) {
	offset := addr % WindowSize
	return b.controllers[addr-offset], offset
}

// Read32 implements mmio.Accessor.
func (b *Bus) Read32(addr uintptr) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, offset := b.decode(addr)
	switch {
	case c == nil:
		return openBusValue
	case offset == regSelect:
		return c.selected
	case offset == regData:
		return c.readRegister()
	default:
		return openBusValue
	}
}

// Write32 implements mmio.Accessor.
func (b *Bus) Write32(addr uintptr, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, offset := b.decode(addr)
	switch {
	case c == nil:
	case offset == regSelect:
		c.selected = value & 0xff
	case offset == regData:
		c.writeRegister(value)
	}
}
