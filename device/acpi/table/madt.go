package table

import (
	"bootirq/kernel"
	"encoding/binary"
	"unsafe"
)

var (
	// ErrNoMoreEntries is returned by NextEntry when the supplied entry is
	// the last one in the table. It signals the end of a scan and is not a
	// failure.
	ErrNoMoreEntries = &kernel.Error{Module: "acpi", Message: "no more MADT entries", Kind: kernel.KindValueOutOfBounds}

	errNilMADT            = &kernel.Error{Module: "acpi", Message: "MADT table is nil", Kind: kernel.KindInvalidArgument}
	errNilMADTEntry       = &kernel.Error{Module: "acpi", Message: "MADT entry is nil", Kind: kernel.KindInvalidArgument}
	errEmptyMADT          = &kernel.Error{Module: "acpi", Message: "MADT contains no entries", Kind: kernel.KindEmptyThing}
	errEntryOutOfBounds   = &kernel.Error{Module: "acpi", Message: "MADT entry lies outside the table", Kind: kernel.KindArgumentOutOfBounds}
	errEntryCorrupt       = &kernel.Error{Module: "acpi", Message: "MADT entry length exceeds table bounds", Kind: kernel.KindIllegalValue}
	errEntryTypeMismatch  = &kernel.Error{Module: "acpi", Message: "MADT entry type mismatch", Kind: kernel.KindIllegalValue}
	errEntryTooShort      = &kernel.Error{Module: "acpi", Message: "MADT entry too short for its type", Kind: kernel.KindIllegalValue}
	errNilMADTEntryDecode = &kernel.Error{Module: "acpi", Message: "cannot decode nil MADT entry", Kind: kernel.KindNullPointerArgument}
)

// MADTEntryType describes the type of a MADT record.
type MADTEntryType uint8

// The list of MADT entry types that can be decoded. Entries of any other type
// are still traversed by the walker.
const (
	MADTEntryTypeLocalAPIC             MADTEntryType = 0
	MADTEntryTypeIOAPIC                MADTEntryType = 1
	MADTEntryTypeIntSrcOverride        MADTEntryType = 2
	MADTEntryTypeNMI                   MADTEntryType = 4
	MADTEntryTypeLocalAPICAddrOverride MADTEntryType = 5
)

// Packed sizes (including the entry header) of the decodable MADT entries.
const (
	sizeofLocalAPIC             = 8
	sizeofIOAPIC                = 12
	sizeofIntSrcOverride        = 10
	sizeofNMI                   = 6
	sizeofLocalAPICAddrOverride = 12
)

// MADTEntry describes a MADT table entry that follows the MADT definition. As
// MADT entries are variable sized records, this struct only covers the common
// header. The typed accessors decode the remaining fields after checking the
// entry type and length.
type MADTEntry struct {
	Type   MADTEntryType
	Length uint8
}

// bytes returns a view over the entire entry, header included.
func (e *MADTEntry) bytes() []byte {
	return kernel.Bytes(uintptr(unsafe.Pointer(e)), uintptr(e.Length))
}

func (e *MADTEntry) payload(typ MADTEntryType, size uint8) ([]byte, *kernel.Error) {
	switch {
	case e == nil:
		return nil, errNilMADTEntryDecode
	case e.Type != typ:
		return nil, errEntryTypeMismatch
	case e.Length < size:
		return nil, errEntryTooShort
	}

	return e.bytes(), nil
}

// InterruptFlags holds the MPS INTI flags attached to interrupt source
// override and NMI entries.
type InterruptFlags uint16

// The list of InterruptFlags bits.
const (
	InterruptFlagPolarityOverride InterruptFlags = 1 << 0
	InterruptFlagActiveLow        InterruptFlags = 1 << 1
	InterruptFlagTriggerOverride  InterruptFlags = 1 << 2
	InterruptFlagLevelTriggered   InterruptFlags = 1 << 3
)

// PolarityOverride returns true if the flags specify a pin polarity that
// replaces the bus default.
func (f InterruptFlags) PolarityOverride() bool { return f&InterruptFlagPolarityOverride != 0 }

// ActiveLow returns true if the specified polarity is active low.
func (f InterruptFlags) ActiveLow() bool { return f&InterruptFlagActiveLow != 0 }

// TriggerOverride returns true if the flags specify a trigger mode that
// replaces the bus default.
func (f InterruptFlags) TriggerOverride() bool { return f&InterruptFlagTriggerOverride != 0 }

// LevelTriggered returns true if the specified trigger mode is level.
func (f InterruptFlags) LevelTriggered() bool { return f&InterruptFlagLevelTriggered != 0 }

// MADTEntryLocalAPIC describes a single physical processor and its local
// interrupt controller.
type MADTEntryLocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

// Enabled returns true if the processor is ready for use.
func (e MADTEntryLocalAPIC) Enabled() bool { return e.Flags&(1<<0) != 0 }

// OnlineCapable returns true if a disabled processor can be brought online.
func (e MADTEntryLocalAPIC) OnlineCapable() bool { return e.Flags&(1<<1) != 0 }

// LocalAPIC decodes a local APIC entry.
func (e *MADTEntry) LocalAPIC() (MADTEntryLocalAPIC, *kernel.Error) {
	b, err := e.payload(MADTEntryTypeLocalAPIC, sizeofLocalAPIC)
	if err != nil {
		return MADTEntryLocalAPIC{}, err
	}

	return MADTEntryLocalAPIC{
		ProcessorID: b[2],
		APICID:      b[3],
		Flags:       binary.LittleEndian.Uint32(b[4:]),
	}, nil
}

// MADTEntryIOAPIC describes an I/O Advanced Programmable Interrupt Controller.
type MADTEntryIOAPIC struct {
	APICID uint8

	// Address contains the address of the controller.
	Address uint32

	// SysInterruptBase defines the first interrupt number that this
	// controller handles.
	SysInterruptBase uint32
}

// IOAPIC decodes an I/O APIC entry.
func (e *MADTEntry) IOAPIC() (MADTEntryIOAPIC, *kernel.Error) {
	b, err := e.payload(MADTEntryTypeIOAPIC, sizeofIOAPIC)
	if err != nil {
		return MADTEntryIOAPIC{}, err
	}

	return MADTEntryIOAPIC{
		APICID:           b[2],
		Address:          binary.LittleEndian.Uint32(b[4:]),
		SysInterruptBase: binary.LittleEndian.Uint32(b[8:]),
	}, nil
}

// MADTEntryInterruptSrcOverride contains the data for an Interrupt Source
// Override.  This mechanism is used to map IRQ sources to global system
// interrupts.
type MADTEntryInterruptSrcOverride struct {
	BusSrc          uint8
	IRQSrc          uint8
	GlobalInterrupt uint32
	Flags           InterruptFlags
}

// InterruptSrcOverride decodes an interrupt source override entry.
func (e *MADTEntry) InterruptSrcOverride() (MADTEntryInterruptSrcOverride, *kernel.Error) {
	b, err := e.payload(MADTEntryTypeIntSrcOverride, sizeofIntSrcOverride)
	if err != nil {
		return MADTEntryInterruptSrcOverride{}, err
	}

	return MADTEntryInterruptSrcOverride{
		BusSrc:          b[2],
		IRQSrc:          b[3],
		GlobalInterrupt: binary.LittleEndian.Uint32(b[4:]),
		Flags:           InterruptFlags(binary.LittleEndian.Uint16(b[8:])),
	}, nil
}

// MADTEntryNMI describes a non-maskable interrupt that we need to set up for
// a single processor or all processors.
type MADTEntryNMI struct {
	// Processor specifies the local APIC that we need to configure for
	// this NMI. If set to 0xff we need to configure all processor APICs.
	Processor uint8

	Flags InterruptFlags

	// This value will be either 0 or 1 and specifies which entry in the
	// local vector table of the processor's local APIC we need to setup.
	LINT uint8
}

// NMI decodes a local APIC NMI entry.
func (e *MADTEntry) NMI() (MADTEntryNMI, *kernel.Error) {
	b, err := e.payload(MADTEntryTypeNMI, sizeofNMI)
	if err != nil {
		return MADTEntryNMI{}, err
	}

	return MADTEntryNMI{
		Processor: b[2],
		Flags:     InterruptFlags(binary.LittleEndian.Uint16(b[3:])),
		LINT:      b[5],
	}, nil
}

// MADTEntryLocalAPICAddrOverride provides the 64-bit address of the local
// APIC, replacing MADT.LocalControllerAddress.
type MADTEntryLocalAPICAddrOverride struct {
	Address uint64
}

// LocalAPICAddrOverride decodes a local APIC address override entry.
func (e *MADTEntry) LocalAPICAddrOverride() (MADTEntryLocalAPICAddrOverride, *kernel.Error) {
	b, err := e.payload(MADTEntryTypeLocalAPICAddrOverride, sizeofLocalAPICAddrOverride)
	if err != nil {
		return MADTEntryLocalAPICAddrOverride{}, err
	}

	return MADTEntryLocalAPICAddrOverride{
		Address: binary.LittleEndian.Uint64(b[4:]),
	}, nil
}

// FirstEntry returns the first record that follows the fixed MADT prefix.
func (m *MADT) FirstEntry() (*MADTEntry, *kernel.Error) {
	if m == nil {
		return nil, errNilMADT
	}

	tableStart := uintptr(unsafe.Pointer(m))
	if uintptr(m.Length) < SizeofMADT+SizeofMADTEntry {
		return nil, errEmptyMADT
	}

	first := tableStart + SizeofMADT
	if err := checkEntryFits(first, tableStart+uintptr(m.Length)); err != nil {
		return nil, err
	}

	return (*MADTEntry)(unsafe.Pointer(first)), nil
}

// NextEntry returns the record that follows cur. When cur is the last record
// in the table, NextEntry returns ErrNoMoreEntries.
//
// NextEntry is meant to be called in a loop where the entry returned by one
// call becomes the input of the next one. Every entry it returns lies entirely
// within the table.
func (m *MADT) NextEntry(cur *MADTEntry) (*MADTEntry, *kernel.Error) {
	switch {
	case m == nil:
		return nil, errNilMADT
	case cur == nil:
		return nil, errNilMADTEntry
	}

	var (
		tableStart = uintptr(unsafe.Pointer(m))
		tableEnd   = tableStart + uintptr(m.Length)
		curAddr    = uintptr(unsafe.Pointer(cur))
	)

	if curAddr < tableStart+SizeofMADT || curAddr+SizeofMADTEntry > tableEnd {
		return nil, errEntryOutOfBounds
	}

	if err := checkEntryFits(curAddr, tableEnd); err != nil {
		return nil, err
	}

	next := curAddr + uintptr(cur.Length)
	if next == tableEnd {
		return nil, ErrNoMoreEntries
	}

	if next+SizeofMADTEntry > tableEnd {
		return nil, errEntryCorrupt
	}

	if err := checkEntryFits(next, tableEnd); err != nil {
		return nil, err
	}

	return (*MADTEntry)(unsafe.Pointer(next)), nil
}

// checkEntryFits verifies that the entry header at entryAddr describes a
// record that advances the scan and ends at or before tableEnd. The caller
// must ensure that the entry header itself is readable.
func checkEntryFits(entryAddr, tableEnd uintptr) *kernel.Error {
	entry := (*MADTEntry)(unsafe.Pointer(entryAddr))
	if entry.Length < SizeofMADTEntry || entryAddr+uintptr(entry.Length) > tableEnd {
		return errEntryCorrupt
	}

	return nil
}

// VisitEntries invokes visitor for each MADT record in table order. The scan
// stops early if visitor returns false. Reaching the end of the table is not
// reported as an error.
func (m *MADT) VisitEntries(visitor func(*MADTEntry) bool) *kernel.Error {
	entry, err := m.FirstEntry()
	for ; err == nil; entry, err = m.NextEntry(entry) {
		if !visitor(entry) {
			return nil
		}
	}

	if err == ErrNoMoreEntries {
		return nil
	}

	return err
}
