// Package ioapic programs the I/O Advanced Programmable Interrupt Controllers
// described by the ACPI MADT and maps legacy ISA IRQs to global system
// interrupts (GSI).
package ioapic

import (
	"bootirq/device/mmio"
	"bootirq/kernel"
	"bootirq/kernel/sync"
)

// Base is the address of the register window of an IO-APIC.
type Base uintptr

// Offsets of the select and data registers inside the register window.
const (
	regSelectOffset = 0x00
	regWindowOffset = 0x10
)

// Register identifies an internal IO-APIC register that is reachable through
// the register window.
type Register uint32

// The list of IO-APIC registers.
const (
	RegisterID          Register = 0x00
	RegisterVersion     Register = 0x01
	RegisterArbitration Register = 0x02

	// RegisterRedirectionTable is the lower half of redirection entry 0.
	// Entry n occupies registers 0x10+2n (lower) and 0x11+2n (higher).
	RegisterRedirectionTable Register = 0x10
)

var (
	errNullBase = &kernel.Error{Module: "ioapic", Message: "IO-APIC base address is null", Kind: kernel.KindNullPointerArgument}

	// regLock serializes the select/access register pairs.
	regLock sync.Spinlock
)

// Read selects reg and returns the value of the data register.
func Read(base Base, reg Register) (uint32, *kernel.Error) {
	if base == 0 {
		return 0, errNullBase
	}

	regLock.Acquire()
	mmio.Write32(uintptr(base)+regSelectOffset, uint32(reg))
	value := mmio.Read32(uintptr(base) + regWindowOffset)
	regLock.Release()

	return value, nil
}

// Write selects reg and stores value to the data register.
func Write(base Base, reg Register, value uint32) *kernel.Error {
	if base == 0 {
		return errNullBase
	}

	regLock.Acquire()
	mmio.Write32(uintptr(base)+regSelectOffset, uint32(reg))
	mmio.Write32(uintptr(base)+regWindowOffset, value)
	regLock.Release()

	return nil
}

// ID is the value of the identification register.
type ID uint32

// ControllerID returns the 4-bit id of the IO-APIC (bits 24-27).
func (v ID) ControllerID() uint8 { return uint8(v>>24) & 0xf }

// Version is the value of the version register.
type Version uint32

// Version returns the implementation version (bits 0-8).
func (v Version) Version() uint16 { return uint16(v) & 0x1ff }

// MaxRedirectionEntry returns the index of the last redirection entry (bits
// 16-23). The controller handles MaxRedirectionEntry()+1 interrupt lines.
func (v Version) MaxRedirectionEntry() uint8 { return uint8(v >> 16) }

// Arbitration is the value of the arbitration register.
type Arbitration uint32

// ArbitrationID returns the bus arbitration priority (bits 24-27).
func (v Arbitration) ArbitrationID() uint8 { return uint8(v>>24) & 0xf }

// ReadID reads the identification register.
func ReadID(base Base) (ID, *kernel.Error) {
	value, err := Read(base, RegisterID)
	return ID(value), err
}

// ReadVersion reads the version register.
func ReadVersion(base Base) (Version, *kernel.Error) {
	value, err := Read(base, RegisterVersion)
	return Version(value), err
}

// ReadArbitration reads the arbitration register.
func ReadArbitration(base Base) (Arbitration, *kernel.Error) {
	value, err := Read(base, RegisterArbitration)
	return Arbitration(value), err
}
