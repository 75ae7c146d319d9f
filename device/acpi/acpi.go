// Package acpi locates the ACPI tables that firmware publishes through the
// root system descriptor pointer (RSDP).
package acpi

import (
	"bootirq/device"
	"bootirq/device/acpi/table"
	"bootirq/kernel"
	"bootirq/kernel/kfmt"
	"bootirq/multiboot"
	"encoding/binary"
	"io"
	"unsafe"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2

	// Widths of the table addresses stored in the RSDT and the XSDT.
	rsdtEntryWidth = 4
	xsdtEntryWidth = 8
)

var (
	errNilRSDP               = &kernel.Error{Module: "acpi", Message: "RSDP is nil", Kind: kernel.KindInvalidArgument}
	errBadSignature          = &kernel.Error{Module: "acpi", Message: "table signature must be exactly 4 characters long", Kind: kernel.KindInvalidArgument}
	errNullRootTable         = &kernel.Error{Module: "acpi", Message: "RSDP points to a null root table", Kind: kernel.KindNullPointerValue}
	errNullTableEntry        = &kernel.Error{Module: "acpi", Message: "root table contains a null table address", Kind: kernel.KindNullPointerValue}
	errTableNotFound         = &kernel.Error{Module: "acpi", Message: "no table with the requested signature", Kind: kernel.KindNotFound}
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP", Kind: kernel.KindNotFound}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header", Kind: kernel.KindIllegalValue}

	// physToVirtFn translates a physical address found in a firmware
	// table into an address the kernel can dereference. The boot code
	// identity-maps the low memory so no translation is needed by default.
	physToVirtFn = func(physAddr uintptr) uintptr { return physAddr }

	// bootloaderRSDPFn returns the copy of the RSDP that the boot loader
	// placed in the multiboot info.
	bootloaderRSDPFn = multiboot.GetACPIRSDP

	// RDSP must be located in the physical memory region 0xe0000 to 0xfffff
	rsdpLocationLow uintptr = 0xe0000
	rsdpLocationHi  uintptr = 0xfffff
	rsdpAlignment   uintptr = 16

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
)

// LookupRSDT scans the 32-bit root system descriptor table referenced by an
// ACPI 1.0 RSDP and returns the header of the first table whose signature
// matches the supplied 4-character signature.
func LookupRSDT(rsdp *table.RSDPDescriptor, signature string) (*table.SDTHeader, *kernel.Error) {
	if rsdp == nil {
		return nil, errNilRSDP
	}

	return lookup(uintptr(rsdp.RSDTAddr), rsdtEntryWidth, signature)
}

// LookupXSDT behaves like LookupRSDT but scans the 64-bit extended system
// descriptor table referenced by an ACPI 2.0+ RSDP.
func LookupXSDT(rsdp *table.ExtRSDPDescriptor, signature string) (*table.SDTHeader, *kernel.Error) {
	if rsdp == nil {
		return nil, errNilRSDP
	}

	return lookup(uintptr(rsdp.XSDTAddr), xsdtEntryWidth, signature)
}

// Lookup selects between LookupRSDT and LookupXSDT based on the revision
// of the supplied RSDP.
func Lookup(rsdp *table.RSDPDescriptor, signature string) (*table.SDTHeader, *kernel.Error) {
	if rsdp == nil {
		return nil, errNilRSDP
	}

	if rsdp.Revision >= acpiRev2Plus {
		return LookupXSDT((*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdp)), signature)
	}

	return LookupRSDT(rsdp, signature)
}

func lookup(rootAddr, entryWidth uintptr, signature string) (*table.SDTHeader, *kernel.Error) {
	if len(signature) != 4 {
		return nil, errBadSignature
	}

	var found *table.SDTHeader
	err := visitRootTable(rootAddr, entryWidth, func(header *table.SDTHeader) bool {
		if signatureMatches(header, signature) {
			found = header
			return false
		}
		return true
	})

	switch {
	case err != nil:
		return nil, err
	case found == nil:
		return nil, errTableNotFound
	}

	return found, nil
}

// visitRootTable invokes visitor with the header of every table listed in the
// root table at rootAddr until visitor returns false. The number of entries
// is derived from the root table length. A null entry aborts the scan with
// errNullTableEntry.
func visitRootTable(rootAddr, entryWidth uintptr, visitor func(*table.SDTHeader) bool) *kernel.Error {
	if rootAddr == 0 {
		return errNullRootTable
	}

	var (
		rootVirtAddr = physToVirtFn(rootAddr)
		root         = (*table.SDTHeader)(unsafe.Pointer(rootVirtAddr))
		entryCount   uintptr
	)

	if uintptr(root.Length) > table.SizeofSDTHeader {
		entryCount = (uintptr(root.Length) - table.SizeofSDTHeader) / entryWidth
	}

	entries := kernel.Bytes(rootVirtAddr+table.SizeofSDTHeader, entryCount*entryWidth)
	for i := uintptr(0); i < entryCount; i++ {
		var tableAddr uint64
		if entryWidth == xsdtEntryWidth {
			tableAddr = binary.LittleEndian.Uint64(entries[i*entryWidth:])
		} else {
			tableAddr = uint64(binary.LittleEndian.Uint32(entries[i*entryWidth:]))
		}

		if tableAddr == 0 {
			return errNullTableEntry
		}

		if !visitor((*table.SDTHeader)(unsafe.Pointer(physToVirtFn(uintptr(tableAddr))))) {
			return nil
		}
	}

	return nil
}

// signatureMatches compares all 4 signature bytes positionally.
func signatureMatches(header *table.SDTHeader, signature string) bool {
	for i := range header.Signature {
		if header.Signature[i] != signature[i] {
			return false
		}
	}

	return true
}

type acpiDriver struct {
	// rsdp points to a validated root system descriptor pointer. The
	// driver uses the XSDT if the RSDP revision is 2 or newer.
	rsdp *table.RSDPDescriptor
}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	rootAddr, entryWidth := drv.rootTable()
	kfmt.Fprintf(w, "revision %d, OEM %6s, root table at 0x%16x\n", drv.rsdp.Revision, drv.rsdp.OEMID[:], rootAddr)

	return visitRootTable(rootAddr, entryWidth, func(header *table.SDTHeader) bool {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)",
			header.Signature[:],
			uintptr(unsafe.Pointer(header)),
			header.Length,
			header.OEMID[:],
			header.OEMTableID[:],
		)

		if !validTable(uintptr(unsafe.Pointer(header)), header.Length) {
			kfmt.Fprintf(w, " [checksum mismatch]")
		}

		kfmt.Fprintf(w, "\n")
		return true
	})
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// LookupTable implements table.Resolver. Tables with an invalid checksum are
// reported as missing.
func (drv *acpiDriver) LookupTable(name string) *table.SDTHeader {
	header, err := Lookup(drv.rsdp, name)
	if err != nil || !validTable(uintptr(unsafe.Pointer(header)), header.Length) {
		return nil
	}

	return header
}

func (drv *acpiDriver) rootTable() (uintptr, uintptr) {
	if drv.rsdp.Revision >= acpiRev2Plus {
		return uintptr((*table.ExtRSDPDescriptor)(unsafe.Pointer(drv.rsdp)).XSDTAddr), xsdtEntryWidth
	}

	return uintptr(drv.rsdp.RSDTAddr), rsdtEntryWidth
}

// locateRSDP returns the RSDP copy supplied by the boot loader. If the boot
// loader did not provide one, locateRSDP scans the memory region
// [rsdpLocationLow, rsdpLocationHi] for a valid RSDP.
func locateRSDP() (*table.RSDPDescriptor, *kernel.Error) {
	if rsdpAddr, _ := bootloaderRSDPFn(); rsdpAddr != 0 {
		if !validRSDP(rsdpAddr) {
			return nil, errTableChecksumMismatch
		}

		return (*table.RSDPDescriptor)(unsafe.Pointer(rsdpAddr)), nil
	}

	// The RSDP should be aligned on a 16-byte boundary
	for curPtr := rsdpLocationLow; curPtr+table.SizeofRSDPDescriptor <= rsdpLocationHi+1; curPtr += rsdpAlignment {
		virtAddr := physToVirtFn(curPtr)
		if validRSDP(virtAddr) {
			return (*table.RSDPDescriptor)(unsafe.Pointer(virtAddr)), nil
		}
	}

	return nil, errMissingRSDP
}

// validRSDP returns true if a RSDP with a valid signature and checksum starts
// at rsdpAddr. For ACPI 2.0+ descriptors the extended checksum is verified too.
func validRSDP(rsdpAddr uintptr) bool {
	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	if rsdp.Signature != rsdpSignature || !validTable(rsdpAddr, table.SizeofRSDPDescriptor) {
		return false
	}

	return rsdp.Revision == acpiRev1 || validTable(rsdpAddr, table.SizeofExtRSDPDescriptor)
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var sum uint8
	for _, b := range kernel.Bytes(tablePtr, uintptr(tableLength)) {
		sum += b
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	if rsdp, err := locateRSDP(); err == nil {
		return &acpiDriver{rsdp: rsdp}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
