package ioapic

import (
	"bootirq/device/acpi/table"
	"bootirq/kernel"
)

const (
	// MaxControllers is the number of IO-APICs that a Router can track.
	MaxControllers = 16

	// isaIRQCount is the number of legacy ISA interrupt lines.
	isaIRQCount = 16

	// cascadeIRQ is used by the legacy PIC pair for cascading and is
	// never routed through an IO-APIC.
	cascadeIRQ = 2
)

var (
	errNilController        = &kernel.Error{Module: "ioapic", Message: "controller is nil", Kind: kernel.KindNullPointerArgument}
	errControllerUnreadable = &kernel.Error{Module: "ioapic", Message: "could not read IO-APIC version register", Kind: kernel.KindNullPointerValue}
	errEntryOutOfBounds     = &kernel.Error{Module: "ioapic", Message: "redirection entry index exceeds the controller's last entry", Kind: kernel.KindArgumentOutOfBounds}
	errNoControllerForGSI   = &kernel.Error{Module: "ioapic", Message: "no IO-APIC handles the requested GSI", Kind: kernel.KindNotFound}
)

// Controller describes an IO-APIC discovered in the MADT.
type Controller struct {
	// ID is the IO-APIC id reported by the MADT.
	ID uint8

	// Base is the address of the controller's register window.
	Base Base

	// GSIBase is the first global system interrupt that the controller
	// handles. Its redirection entry n serves GSI GSIBase+n.
	GSIBase uint32
}

// LineCount reads the version register of the controller and returns the
// number of interrupt lines it handles.
func (c *Controller) LineCount() (uint32, *kernel.Error) {
	if c == nil {
		return 0, errNilController
	}

	ver, err := ReadVersion(c.Base)
	if err != nil {
		return 0, errControllerUnreadable
	}

	return uint32(ver.MaxRedirectionEntry()) + 1, nil
}

// Override describes an interrupt source override for an ISA IRQ.
type Override struct {
	// IRQ is the ISA interrupt line that is being remapped.
	IRQ uint8

	// GSI is the global system interrupt that IRQ is connected to.
	GSI uint32

	// Flags optionally replace the default ISA polarity and trigger mode.
	Flags table.InterruptFlags
}

// Router maps ISA IRQs to global system interrupts and global system
// interrupts to the controller that serves them. The zero value is an empty
// Router; it is populated by Initialize.
type Router struct {
	controllers    [MaxControllers]Controller
	numControllers int

	overrides [isaIRQCount]Override

	// overridePresent has bit n set if overrides[n] is populated.
	overridePresent uint16
}

// Controllers returns the registered controllers in discovery order. The
// returned slice aliases the router's storage and must not be modified.
func (r *Router) Controllers() []Controller {
	return r.controllers[:r.numControllers]
}

// Override returns the interrupt source override registered for an ISA IRQ.
func (r *Router) Override(irq uint8) (Override, bool) {
	if irq >= isaIRQCount || r.overridePresent&(1<<irq) == 0 {
		return Override{}, false
	}

	return r.overrides[irq], true
}

// IRQToGSI returns the global system interrupt that an ISA IRQ is connected
// to. IRQs without an override, including any value outside the ISA range,
// are identity mapped.
func (r *Router) IRQToGSI(irq uint32) uint32 {
	if irq < isaIRQCount {
		if ovr, ok := r.Override(uint8(irq)); ok {
			return ovr.GSI
		}
	}

	return irq
}

// GSIToController returns the first registered controller whose range
// [GSIBase, GSIBase+max redirection entry] contains gsi.
func (r *Router) GSIToController(gsi uint32) (*Controller, *kernel.Error) {
	for i := 0; i < r.numControllers; i++ {
		c := &r.controllers[i]

		lines, err := c.LineCount()
		if err != nil {
			return nil, err
		}

		if gsi >= c.GSIBase && gsi-c.GSIBase < lines {
			return c, nil
		}
	}

	return nil, errNoControllerForGSI
}

// RedirectionEntryToGSI returns the global system interrupt served by
// redirection entry n of controller c.
func RedirectionEntryToGSI(c *Controller, n uint32) (uint32, *kernel.Error) {
	lines, err := c.LineCount()
	if err != nil {
		return 0, err
	}

	if n >= lines {
		return 0, errEntryOutOfBounds
	}

	return c.GSIBase + n, nil
}
