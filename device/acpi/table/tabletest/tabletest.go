// Package tabletest assembles ACPI table images in memory so that the table
// parsing and interrupt routing code can be exercised without firmware.
package tabletest

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// Entry is implemented by all MADT records that can be appended to a table
// image.
type Entry interface {
	appendTo(buf *bytes.Buffer)
}

// LocalAPIC describes a processor local APIC record.
type LocalAPIC struct {
	ProcessorID uint8
	APICID      uint8
	Flags       uint32
}

func (e LocalAPIC) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{0, 8, e.ProcessorID, e.APICID})
	binary.Write(buf, binary.LittleEndian, e.Flags)
}

// IOAPIC describes an I/O APIC record.
type IOAPIC struct {
	ID      uint8
	Address uint32
	GSIBase uint32
}

func (e IOAPIC) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{1, 12, e.ID, 0})
	binary.Write(buf, binary.LittleEndian, e.Address)
	binary.Write(buf, binary.LittleEndian, e.GSIBase)
}

// InterruptSrcOverride describes an interrupt source override record.
type InterruptSrcOverride struct {
	Bus   uint8
	IRQ   uint8
	GSI   uint32
	Flags uint16
}

func (e InterruptSrcOverride) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{2, 10, e.Bus, e.IRQ})
	binary.Write(buf, binary.LittleEndian, e.GSI)
	binary.Write(buf, binary.LittleEndian, e.Flags)
}

// NMI describes a local APIC NMI record.
type NMI struct {
	Processor uint8
	Flags     uint16
	LINT      uint8
}

func (e NMI) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{4, 6, e.Processor})
	binary.Write(buf, binary.LittleEndian, e.Flags)
	buf.WriteByte(e.LINT)
}

// LocalAPICAddrOverride describes a local APIC address override record.
type LocalAPICAddrOverride struct {
	Address uint64
}

func (e LocalAPICAddrOverride) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{5, 12, 0, 0})
	binary.Write(buf, binary.LittleEndian, e.Address)
}

// Raw is a record emitted verbatim. It allows tests to build records with
// unknown types or corrupt lengths.
type Raw struct {
	Type   uint8
	Length uint8
	Data   []byte
}

func (e Raw) appendTo(buf *bytes.Buffer) {
	buf.Write([]byte{e.Type, e.Length})
	buf.Write(e.Data)
}

// Table assembles an ACPI table with the given signature and body. The header
// length and checksum fields are filled in.
func Table(signature string, revision uint8, body []byte) []byte {
	buf := make([]byte, 36+len(body))
	copy(buf[0:4], signature)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)))
	buf[8] = revision
	copy(buf[10:16], "BOOIRQ")
	copy(buf[16:24], "TESTTBL ")
	binary.LittleEndian.PutUint32(buf[24:28], 1)
	copy(buf[28:32], "GOTT")
	binary.LittleEndian.PutUint32(buf[32:36], 1)
	copy(buf[36:], body)

	buf[9] = -Checksum(buf)
	return buf
}

// MADT assembles a MADT image containing the supplied records.
func MADT(localAPICAddr, flags uint32, entries ...Entry) []byte {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, localAPICAddr)
	binary.Write(&body, binary.LittleEndian, flags)
	for _, entry := range entries {
		entry.appendTo(&body)
	}

	return Table("APIC", 4, body.Bytes())
}

// RSDT assembles a root table with 32-bit entries.
func RSDT(entries ...uint32) []byte {
	body := make([]byte, 4*len(entries))
	for i, addr := range entries {
		binary.LittleEndian.PutUint32(body[4*i:], addr)
	}

	return Table("RSDT", 1, body)
}

// XSDT assembles a root table with 64-bit entries.
func XSDT(entries ...uint64) []byte {
	body := make([]byte, 8*len(entries))
	for i, addr := range entries {
		binary.LittleEndian.PutUint64(body[8*i:], addr)
	}

	return Table("XSDT", 1, body)
}

// RSDP assembles an ACPI 1.0 root system descriptor pointer.
func RSDP(rsdtAddr uint32) []byte {
	buf := make([]byte, 20)
	copy(buf[0:8], "RSD PTR ")
	copy(buf[9:15], "BOOIRQ")
	binary.LittleEndian.PutUint32(buf[16:20], rsdtAddr)

	buf[8] = -Checksum(buf)
	return buf
}

// ExtRSDP assembles an ACPI 2.0+ root system descriptor pointer. Both the
// legacy and the extended checksums are filled in.
func ExtRSDP(rsdtAddr uint32, xsdtAddr uint64) []byte {
	buf := make([]byte, 36)
	copy(buf[0:8], "RSD PTR ")
	copy(buf[9:15], "BOOIRQ")
	buf[15] = 2
	binary.LittleEndian.PutUint32(buf[16:20], rsdtAddr)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(buf)))
	binary.LittleEndian.PutUint64(buf[24:32], xsdtAddr)

	buf[8] = -Checksum(buf[:20])
	buf[32] = -Checksum(buf)
	return buf
}

// Checksum returns the 8-bit sum of all bytes in b.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}

	return sum
}

// Addr returns the address of the first byte of b.
func Addr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
