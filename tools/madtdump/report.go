package main

import (
	"bootirq/device/acpi/table"
	"bootirq/device/apic/ioapic"
	"bootirq/device/apic/ioapic/emu"
	"fmt"
	"strings"
	"unsafe"
)

type report struct {
	Table       tableReport        `yaml:"table"`
	Processor   uint8              `yaml:"routed_to_processor"`
	Processors  []processorReport  `yaml:"processors,omitempty"`
	Controllers []controllerReport `yaml:"controllers"`
	Overrides   []overrideReport   `yaml:"overrides,omitempty"`
	ISA         []isaReport        `yaml:"isa,omitempty"`
	Error       string             `yaml:"error,omitempty"`
}

type tableReport struct {
	OEMID            string `yaml:"oem_id"`
	OEMTableID       string `yaml:"oem_table_id"`
	Revision         uint8  `yaml:"revision"`
	Length           uint32 `yaml:"length"`
	ChecksumValid    bool   `yaml:"checksum_valid"`
	LocalAPICAddress string `yaml:"local_apic_address"`
	PCATCompat       bool   `yaml:"pcat_compat"`
	Records          int    `yaml:"records"`
}

type processorReport struct {
	ProcessorID uint8 `yaml:"processor_id"`
	APICID      uint8 `yaml:"apic_id"`
	Enabled     bool  `yaml:"enabled"`
}

type controllerReport struct {
	ID      uint8         `yaml:"id"`
	Address string        `yaml:"address"`
	GSIBase uint32        `yaml:"gsi_base"`
	Lines   int           `yaml:"lines"`
	Entries []entryReport `yaml:"entries"`
}

type entryReport struct {
	Line        int    `yaml:"line"`
	GSI         uint32 `yaml:"gsi"`
	Raw         string `yaml:"raw"`
	Vector      uint8  `yaml:"vector"`
	Delivery    string `yaml:"delivery"`
	Destination uint8  `yaml:"destination"`
	Polarity    string `yaml:"polarity"`
	Trigger     string `yaml:"trigger"`
	Masked      bool   `yaml:"masked"`
}

type overrideReport struct {
	IRQ      uint8  `yaml:"irq"`
	GSI      uint32 `yaml:"gsi"`
	Polarity string `yaml:"polarity"`
	Trigger  string `yaml:"trigger"`
}

type isaReport struct {
	IRQ        uint8  `yaml:"irq"`
	GSI        uint32 `yaml:"gsi"`
	Controller uint8  `yaml:"controller"`
	Line       uint32 `yaml:"line"`
}

var deliveryModeNames = map[ioapic.DeliveryMode]string{
	ioapic.DeliveryModeFixed:          "fixed",
	ioapic.DeliveryModeLowestPriority: "lowest-priority",
	ioapic.DeliveryModeSMI:            "smi",
	ioapic.DeliveryModeNMI:            "nmi",
	ioapic.DeliveryModeINIT:           "init",
	ioapic.DeliveryModeExtINT:         "extint",
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func trimmed(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}

func polarityName(p ioapic.PinPolarity) string {
	if p == ioapic.PinPolarityActiveLow {
		return "low"
	}
	return "high"
}

func triggerName(m ioapic.TriggerMode) string {
	if m == ioapic.TriggerModeLevel {
		return "level"
	}
	return "edge"
}

// overrideFlagNames describes the polarity and trigger mode requested by an
// interrupt source override.
func overrideFlagNames(flags table.InterruptFlags) (string, string) {
	polarity, trigger := "bus", "bus"
	if flags.PolarityOverride() {
		polarity = "high"
		if flags.ActiveLow() {
			polarity = "low"
		}
	}

	if flags.TriggerOverride() {
		trigger = "edge"
		if flags.LevelTriggered() {
			trigger = "level"
		}
	}

	return polarity, trigger
}

func checksumValid(madt *table.MADT) bool {
	var sum uint8
	for _, b := range unsafe.Slice((*byte)(unsafe.Pointer(madt)), madt.Length) {
		sum += b
	}

	return sum == 0
}

func buildReport(madt *table.MADT, router *ioapic.Router, bus *emu.Bus, processorID uint8) *report {
	rep := &report{
		Processor: processorID,
		Table: tableReport{
			OEMID:            trimmed(madt.OEMID[:]),
			OEMTableID:       trimmed(madt.OEMTableID[:]),
			Revision:         madt.Revision,
			Length:           madt.Length,
			ChecksumValid:    checksumValid(madt),
			LocalAPICAddress: hex(uint64(madt.LocalControllerAddress)),
			PCATCompat:       madt.Flags&table.MADTFlagPCATCompat != 0,
		},
	}

	madt.VisitEntries(func(entry *table.MADTEntry) bool {
		rep.Table.Records++

		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			if rec, err := entry.LocalAPIC(); err == nil {
				rep.Processors = append(rep.Processors, processorReport{
					ProcessorID: rec.ProcessorID,
					APICID:      rec.APICID,
					Enabled:     rec.Enabled(),
				})
			}
		case table.MADTEntryTypeLocalAPICAddrOverride:
			if rec, err := entry.LocalAPICAddrOverride(); err == nil {
				rep.Table.LocalAPICAddress = hex(rec.Address)
			}
		}
		return true
	})

	for _, c := range router.Controllers() {
		emulated := bus.Controller(uintptr(c.Base))
		if emulated == nil {
			continue
		}

		ctrlRep := controllerReport{
			ID:      c.ID,
			Address: hex(uint64(c.Base)),
			GSIBase: c.GSIBase,
			Lines:   emulated.Lines(),
		}

		for n := 0; n < emulated.Lines(); n++ {
			entry := ioapic.RedirectionEntry(emulated.Entry(n))
			ctrlRep.Entries = append(ctrlRep.Entries, entryReport{
				Line:        n,
				GSI:         c.GSIBase + uint32(n),
				Raw:         hex(uint64(entry)),
				Vector:      entry.Vector(),
				Delivery:    deliveryModeNames[entry.DeliveryMode()],
				Destination: entry.Destination(),
				Polarity:    polarityName(entry.PinPolarity()),
				Trigger:     triggerName(entry.TriggerMode()),
				Masked:      entry.Masked(),
			})
		}

		rep.Controllers = append(rep.Controllers, ctrlRep)
	}

	for irq := uint8(0); irq < 16; irq++ {
		if ovr, ok := router.Override(irq); ok {
			polarity, trigger := overrideFlagNames(ovr.Flags)
			rep.Overrides = append(rep.Overrides, overrideReport{
				IRQ:      ovr.IRQ,
				GSI:      ovr.GSI,
				Polarity: polarity,
				Trigger:  trigger,
			})
		}

		// IRQ 2 cascades the legacy PICs and is never routed
		if irq == 2 {
			continue
		}

		gsi := router.IRQToGSI(uint32(irq))
		c, err := router.GSIToController(gsi)
		if err != nil {
			continue
		}

		rep.ISA = append(rep.ISA, isaReport{
			IRQ:        irq,
			GSI:        gsi,
			Controller: c.ID,
			Line:       gsi - c.GSIBase,
		})
	}

	return rep
}
