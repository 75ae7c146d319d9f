package ioapic

import "bootirq/kernel"

var errInvalidRedirectionEntry = &kernel.Error{Module: "ioapic", Message: "redirection entry uses a reserved or unsupported configuration", Kind: kernel.KindIllegalValue}

// DeliveryMode specifies how the interrupt is delivered to its destination.
type DeliveryMode uint8

// The list of supported delivery modes. Modes 3 and 6 are reserved.
const (
	DeliveryModeFixed          DeliveryMode = 0
	DeliveryModeLowestPriority DeliveryMode = 1
	DeliveryModeSMI            DeliveryMode = 2
	DeliveryModeNMI            DeliveryMode = 4
	DeliveryModeINIT           DeliveryMode = 5
	DeliveryModeExtINT         DeliveryMode = 7
)

// DestinationMode specifies how the destination field is interpreted.
type DestinationMode uint8

// The list of destination modes.
const (
	DestinationModePhysical DestinationMode = 0
	DestinationModeLogical  DestinationMode = 1
)

// PinPolarity specifies the active level of the interrupt input.
type PinPolarity uint8

// The list of pin polarities.
const (
	PinPolarityActiveHigh PinPolarity = 0
	PinPolarityActiveLow  PinPolarity = 1
)

// TriggerMode specifies whether the interrupt input is edge or level
// sensitive.
type TriggerMode uint8

// The list of trigger modes.
const (
	TriggerModeEdge  TriggerMode = 0
	TriggerModeLevel TriggerMode = 1
)

const (
	redirVectorMask          = 0xff
	redirDeliveryModeShift   = 8
	redirDeliveryModeMask    = 0x7 << redirDeliveryModeShift
	redirDestModeBit         = 1 << 11
	redirDeliveryStatusBit   = 1 << 12
	redirPinPolarityBit      = 1 << 13
	redirRemoteIRRBit        = 1 << 14
	redirTriggerModeBit      = 1 << 15
	redirMaskBit             = 1 << 16
	redirReservedMask        = 0x00ffffff_fffe0000
	redirDestinationShift    = 56
	redirDestinationMask     = 0xff << redirDestinationShift
	redirectionRegisterWidth = 2
)

// RedirectionEntry is the 64-bit configuration of a single IO-APIC
// interrupt line. The With* methods return a copy of the entry with the
// respective field replaced.
type RedirectionEntry uint64

// RedirectionEntryFromHalves assembles an entry from the values of its lower
// and higher register.
func RedirectionEntryFromHalves(lower, higher uint32) RedirectionEntry {
	return RedirectionEntry(uint64(higher)<<32 | uint64(lower))
}

// Lower returns the value of the lower redirection register (bits 0-31).
func (e RedirectionEntry) Lower() uint32 { return uint32(e) }

// Higher returns the value of the higher redirection register (bits 32-63).
func (e RedirectionEntry) Higher() uint32 { return uint32(e >> 32) }

// Vector returns the interrupt vector delivered to the processor.
func (e RedirectionEntry) Vector() uint8 { return uint8(e & redirVectorMask) }

// DeliveryMode returns the delivery mode of the entry.
func (e RedirectionEntry) DeliveryMode() DeliveryMode {
	return DeliveryMode((e & redirDeliveryModeMask) >> redirDeliveryModeShift)
}

// DestinationMode returns the destination mode of the entry.
func (e RedirectionEntry) DestinationMode() DestinationMode {
	if e&redirDestModeBit != 0 {
		return DestinationModeLogical
	}
	return DestinationModePhysical
}

// DeliveryPending returns true if an interrupt is waiting to be delivered.
// The controller owns this bit; it is ignored on writes.
func (e RedirectionEntry) DeliveryPending() bool { return e&redirDeliveryStatusBit != 0 }

// PinPolarity returns the polarity of the interrupt input.
func (e RedirectionEntry) PinPolarity() PinPolarity {
	if e&redirPinPolarityBit != 0 {
		return PinPolarityActiveLow
	}
	return PinPolarityActiveHigh
}

// RemoteIRR returns true if a level-triggered interrupt was accepted but
// not yet acknowledged. The controller owns this bit; it is ignored on writes.
func (e RedirectionEntry) RemoteIRR() bool { return e&redirRemoteIRRBit != 0 }

// TriggerMode returns the trigger mode of the interrupt input.
func (e RedirectionEntry) TriggerMode() TriggerMode {
	if e&redirTriggerModeBit != 0 {
		return TriggerModeLevel
	}
	return TriggerModeEdge
}

// Masked returns true if the interrupt line is masked.
func (e RedirectionEntry) Masked() bool { return e&redirMaskBit != 0 }

// Destination returns the id of the processor (or set of processors) that
// receives the interrupt.
func (e RedirectionEntry) Destination() uint8 { return uint8(e >> redirDestinationShift) }

// WithVector returns a copy of e with its vector set to v.
func (e RedirectionEntry) WithVector(v uint8) RedirectionEntry {
	return e&^redirVectorMask | RedirectionEntry(v)
}

// WithDeliveryMode returns a copy of e with its delivery mode set to m.
func (e RedirectionEntry) WithDeliveryMode(m DeliveryMode) RedirectionEntry {
	return e&^redirDeliveryModeMask | RedirectionEntry(m&0x7)<<redirDeliveryModeShift
}

// WithDestinationMode returns a copy of e with its destination mode set to m.
func (e RedirectionEntry) WithDestinationMode(m DestinationMode) RedirectionEntry {
	return e.withBit(redirDestModeBit, m == DestinationModeLogical)
}

// WithPinPolarity returns a copy of e with its pin polarity set to p.
func (e RedirectionEntry) WithPinPolarity(p PinPolarity) RedirectionEntry {
	return e.withBit(redirPinPolarityBit, p == PinPolarityActiveLow)
}

// WithTriggerMode returns a copy of e with its trigger mode set to m.
func (e RedirectionEntry) WithTriggerMode(m TriggerMode) RedirectionEntry {
	return e.withBit(redirTriggerModeBit, m == TriggerModeLevel)
}

// WithMasked returns a copy of e with its mask bit set to masked.
func (e RedirectionEntry) WithMasked(masked bool) RedirectionEntry {
	return e.withBit(redirMaskBit, masked)
}

// WithDestination returns a copy of e with its destination set to dest.
func (e RedirectionEntry) WithDestination(dest uint8) RedirectionEntry {
	return e&^redirDestinationMask | RedirectionEntry(dest)<<redirDestinationShift
}

func (e RedirectionEntry) withBit(bit RedirectionEntry, set bool) RedirectionEntry {
	if set {
		return e | bit
	}
	return e &^ bit
}

// Validate checks that e can be programmed into a controller. Entries that
// use a reserved delivery mode, set reserved bits or request level-triggered
// delivery for the SMI, NMI, INIT or ExtINT modes are rejected.
func (e RedirectionEntry) Validate() *kernel.Error {
	if e&redirReservedMask != 0 {
		return errInvalidRedirectionEntry
	}

	switch e.DeliveryMode() {
	case DeliveryModeFixed, DeliveryModeLowestPriority:
		return nil
	case DeliveryModeSMI, DeliveryModeNMI, DeliveryModeINIT, DeliveryModeExtINT:
		if e.TriggerMode() == TriggerModeLevel {
			return errInvalidRedirectionEntry
		}
		return nil
	default:
		return errInvalidRedirectionEntry
	}
}

// redirectionRegister returns the lower register of redirection entry n.
func redirectionRegister(n uint8) Register {
	return RegisterRedirectionTable + Register(n)*redirectionRegisterWidth
}

// WriteRedirectionEntry programs redirection entry n. The lower register is
// written before the higher one. Invalid entries are rejected without
// touching the controller.
func WriteRedirectionEntry(base Base, n uint8, entry RedirectionEntry) *kernel.Error {
	if base == 0 {
		return errNullBase
	}

	if err := entry.Validate(); err != nil {
		return err
	}

	reg := redirectionRegister(n)
	if err := Write(base, reg, entry.Lower()); err != nil {
		return err
	}

	return Write(base, reg+1, entry.Higher())
}

// ReadRedirectionEntry reads redirection entry n.
func ReadRedirectionEntry(base Base, n uint8) (RedirectionEntry, *kernel.Error) {
	if base == 0 {
		return 0, errNullBase
	}

	reg := redirectionRegister(n)
	lower, err := Read(base, reg)
	if err != nil {
		return 0, err
	}

	higher, err := Read(base, reg+1)
	if err != nil {
		return 0, err
	}

	return RedirectionEntryFromHalves(lower, higher), nil
}
