package ioapic

import (
	"bootirq/device/acpi/table"
	"bootirq/kernel"
)

var (
	errNilMADT            = &kernel.Error{Module: "ioapic", Message: "MADT is nil", Kind: kernel.KindNullPointerArgument}
	errTooManyControllers = &kernel.Error{Module: "ioapic", Message: "MADT lists too many IO-APIC controllers", Kind: kernel.KindTooManyThings}
	errNonISAOverride     = &kernel.Error{Module: "ioapic", Message: "interrupt source override does not refer to an ISA IRQ", Kind: kernel.KindIllegalValue}
	errDuplicateOverride  = &kernel.Error{Module: "ioapic", Message: "multiple interrupt source overrides for the same IRQ", Kind: kernel.KindDuplicateThing}
)

var maskedRedirectionEntry = RedirectionEntry(0).WithMasked(true)

// Initialize rebuilds the router from the IO-APIC and interrupt source
// override records of madt and programs the controllers:
//
//  1. every line of every controller is masked;
//  2. each ISA IRQ except the cascade line is routed, still masked, to the
//     processor with the supplied id using fixed delivery, physical
//     destination mode and the ISA defaults of active high polarity and edge
//     triggering unless an override specifies otherwise.
//
// Initialize stops at the first error. Controllers programmed up to that
// point are not restored.
func (r *Router) Initialize(madt *table.MADT, processorID uint8) *kernel.Error {
	if madt == nil {
		return errNilMADT
	}

	*r = Router{}

	if err := r.collect(madt); err != nil {
		return err
	}

	if err := r.maskAll(); err != nil {
		return err
	}

	return r.routeISA(processorID)
}

// collect registers the IO-APIC and interrupt source override records of
// madt. Any other record type is skipped.
func (r *Router) collect(madt *table.MADT) *kernel.Error {
	var recordErr *kernel.Error

	walkErr := madt.VisitEntries(func(entry *table.MADTEntry) bool {
		switch entry.Type {
		case table.MADTEntryTypeIOAPIC:
			recordErr = r.addController(entry)
		case table.MADTEntryTypeIntSrcOverride:
			recordErr = r.addOverride(entry)
		}
		return recordErr == nil
	})

	if recordErr != nil {
		return recordErr
	}

	return walkErr
}

func (r *Router) addController(entry *table.MADTEntry) *kernel.Error {
	rec, err := entry.IOAPIC()
	if err != nil {
		return err
	}

	if r.numControllers == MaxControllers {
		return errTooManyControllers
	}

	r.controllers[r.numControllers] = Controller{
		ID:      rec.APICID,
		Base:    Base(rec.Address),
		GSIBase: rec.SysInterruptBase,
	}
	r.numControllers++

	return nil
}

func (r *Router) addOverride(entry *table.MADTEntry) *kernel.Error {
	rec, err := entry.InterruptSrcOverride()
	if err != nil {
		return err
	}

	// ISA is bus 0
	if rec.BusSrc != 0 || rec.IRQSrc >= isaIRQCount {
		return errNonISAOverride
	}

	if r.overridePresent&(1<<rec.IRQSrc) != 0 {
		return errDuplicateOverride
	}

	r.overrides[rec.IRQSrc] = Override{
		IRQ:   rec.IRQSrc,
		GSI:   rec.GlobalInterrupt,
		Flags: rec.Flags,
	}
	r.overridePresent |= 1 << rec.IRQSrc

	return nil
}

// maskAll masks every redirection entry of every registered controller.
func (r *Router) maskAll() *kernel.Error {
	for i := 0; i < r.numControllers; i++ {
		c := &r.controllers[i]

		lines, err := c.LineCount()
		if err != nil {
			return err
		}

		for n := uint32(0); n < lines; n++ {
			if err = WriteRedirectionEntry(c.Base, uint8(n), maskedRedirectionEntry); err != nil {
				return err
			}
		}
	}

	return nil
}

// routeISA programs the redirection entries that serve ISA IRQs 0-15.
func (r *Router) routeISA(processorID uint8) *kernel.Error {
	for irq := uint8(0); irq < isaIRQCount; irq++ {
		if irq == cascadeIRQ {
			continue
		}

		entry := RedirectionEntry(0).
			WithVector(0).
			WithDeliveryMode(DeliveryModeFixed).
			WithDestinationMode(DestinationModePhysical).
			WithPinPolarity(PinPolarityActiveHigh).
			WithTriggerMode(TriggerModeEdge).
			WithMasked(true).
			WithDestination(processorID)

		if ovr, ok := r.Override(irq); ok {
			entry = applyOverrideFlags(entry, ovr.Flags)
		}

		gsi := r.IRQToGSI(uint32(irq))
		c, err := r.GSIToController(gsi)
		if err != nil {
			return err
		}

		if err = WriteRedirectionEntry(c.Base, uint8(gsi-c.GSIBase), entry); err != nil {
			return err
		}
	}

	return nil
}

// applyOverrideFlags replaces the polarity and trigger mode of entry with the
// ones specified by flags. Fields that flags leaves to the bus default are
// not changed.
func applyOverrideFlags(entry RedirectionEntry, flags table.InterruptFlags) RedirectionEntry {
	if flags.PolarityOverride() {
		polarity := PinPolarityActiveHigh
		if flags.ActiveLow() {
			polarity = PinPolarityActiveLow
		}
		entry = entry.WithPinPolarity(polarity)
	}

	if flags.TriggerOverride() {
		trigger := TriggerModeEdge
		if flags.LevelTriggered() {
			trigger = TriggerModeLevel
		}
		entry = entry.WithTriggerMode(trigger)
	}

	return entry
}
