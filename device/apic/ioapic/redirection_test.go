package ioapic

import (
	"bootirq/device/apic/ioapic/emu"
	"testing"
)

func TestRedirectionEntryFields(t *testing.T) {
	entry := RedirectionEntry(0).
		WithVector(0x31).
		WithDeliveryMode(DeliveryModeLowestPriority).
		WithDestinationMode(DestinationModeLogical).
		WithPinPolarity(PinPolarityActiveLow).
		WithTriggerMode(TriggerModeLevel).
		WithMasked(true).
		WithDestination(0xa5)

	if exp := RedirectionEntry(0xa5000000_0001a931); entry != exp {
		t.Fatalf("expected entry to be 0x%x; got 0x%x", uint64(exp), uint64(entry))
	}

	if got := entry.Vector(); got != 0x31 {
		t.Errorf("expected vector 0x31; got 0x%x", got)
	}

	if got := entry.DeliveryMode(); got != DeliveryModeLowestPriority {
		t.Errorf("expected lowest priority delivery; got %d", got)
	}

	if got := entry.DestinationMode(); got != DestinationModeLogical {
		t.Errorf("expected logical destination mode; got %d", got)
	}

	if got := entry.PinPolarity(); got != PinPolarityActiveLow {
		t.Errorf("expected active low polarity; got %d", got)
	}

	if got := entry.TriggerMode(); got != TriggerModeLevel {
		t.Errorf("expected level trigger mode; got %d", got)
	}

	if !entry.Masked() {
		t.Error("expected entry to be masked")
	}

	if got := entry.Destination(); got != 0xa5 {
		t.Errorf("expected destination 0xa5; got 0x%x", got)
	}

	if entry.DeliveryPending() || entry.RemoteIRR() {
		t.Error("expected status bits to be clear")
	}

	if got := entry.Lower(); got != 0x0001a931 {
		t.Errorf("expected lower half 0x0001a931; got 0x%x", got)
	}

	if got := entry.Higher(); got != 0xa5000000 {
		t.Errorf("expected higher half 0xa5000000; got 0x%x", got)
	}

	if got := RedirectionEntryFromHalves(entry.Lower(), entry.Higher()); got != entry {
		t.Errorf("expected entry to be reassembled from its halves; got 0x%x", uint64(got))
	}

	// clearing fields must not disturb their neighbours
	cleared := entry.
		WithVector(0).
		WithDeliveryMode(DeliveryModeFixed).
		WithDestinationMode(DestinationModePhysical).
		WithPinPolarity(PinPolarityActiveHigh).
		WithTriggerMode(TriggerModeEdge).
		WithMasked(false).
		WithDestination(0)

	if cleared != 0 {
		t.Errorf("expected all fields to be cleared; got 0x%x", uint64(cleared))
	}

	status := RedirectionEntryFromHalves(1<<12|1<<14, 0)
	if !status.DeliveryPending() || !status.RemoteIRR() {
		t.Error("expected delivery status and remote IRR to be decoded")
	}
}

func TestRedirectionEntryValidate(t *testing.T) {
	fixed := RedirectionEntry(0).WithVector(0x40)

	specs := []struct {
		entry    RedirectionEntry
		expValid bool
	}{
		{fixed, true},
		{fixed.WithTriggerMode(TriggerModeLevel), true},
		{fixed.WithDeliveryMode(DeliveryModeLowestPriority).WithTriggerMode(TriggerModeLevel), true},
		{maskedRedirectionEntry, true},
		{fixed.WithDeliveryMode(DeliveryModeSMI), true},
		{fixed.WithDeliveryMode(DeliveryModeNMI), true},
		{fixed.WithDeliveryMode(DeliveryModeINIT), true},
		{fixed.WithDeliveryMode(DeliveryModeExtINT), true},
		// reserved delivery modes
		{fixed.WithDeliveryMode(3), false},
		{fixed.WithDeliveryMode(6), false},
		// level triggering is only defined for fixed and lowest priority
		{fixed.WithDeliveryMode(DeliveryModeSMI).WithTriggerMode(TriggerModeLevel), false},
		{fixed.WithDeliveryMode(DeliveryModeNMI).WithTriggerMode(TriggerModeLevel), false},
		{fixed.WithDeliveryMode(DeliveryModeINIT).WithTriggerMode(TriggerModeLevel), false},
		{fixed.WithDeliveryMode(DeliveryModeExtINT).WithTriggerMode(TriggerModeLevel), false},
		// reserved bits
		{fixed | 1<<17, false},
		{fixed | 1<<55, false},
	}

	for specIndex, spec := range specs {
		err := spec.entry.Validate()
		switch {
		case spec.expValid && err != nil:
			t.Errorf("[spec %d] expected entry 0x%x to be valid; got %v", specIndex, uint64(spec.entry), err)
		case !spec.expValid && err != errInvalidRedirectionEntry:
			t.Errorf("[spec %d] expected entry 0x%x to be rejected with errInvalidRedirectionEntry; got %v", specIndex, uint64(spec.entry), err)
		}
	}
}

func TestWriteRedirectionEntry(t *testing.T) {
	var (
		bus = emu.NewBus()
		c   = emu.NewController(0, 24)
	)
	bus.Attach(testBase, c)

	rec := &recordingAccessor{next: bus}
	defer useAccessor(rec)()

	entry := RedirectionEntry(0).
		WithVector(0x21).
		WithPinPolarity(PinPolarityActiveLow).
		WithTriggerMode(TriggerModeLevel).
		WithDestination(3)

	if err := WriteRedirectionEntry(testBase, 7, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := []emu.Write{
		{Register: 0x10 + 2*7, Value: entry.Lower()},
		{Register: 0x11 + 2*7, Value: entry.Higher()},
	}

	writes := c.Writes()
	if len(writes) != len(exp) {
		t.Fatalf("expected %d register writes; got %d", len(exp), len(writes))
	}

	for i := range exp {
		if writes[i] != exp[i] {
			t.Errorf("expected write %d to be %+v; got %+v", i, exp[i], writes[i])
		}
	}

	if got := c.Entry(7); got != uint64(entry) {
		t.Fatalf("expected controller entry 7 to be 0x%x; got 0x%x", uint64(entry), got)
	}

	got, err := ReadRedirectionEntry(testBase, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != entry {
		t.Fatalf("expected to read back 0x%x; got 0x%x", uint64(entry), uint64(got))
	}

	t.Run("invalid entries do not reach the controller", func(t *testing.T) {
		rec.log = rec.log[:0]

		invalid := entry.WithDeliveryMode(DeliveryModeNMI)
		if err := WriteRedirectionEntry(testBase, 7, invalid); err != errInvalidRedirectionEntry {
			t.Fatalf("expected errInvalidRedirectionEntry; got %v", err)
		}

		if len(rec.log) != 0 {
			t.Fatalf("expected no register accesses; got %+v", rec.log)
		}
	})

	t.Run("status bits are reported", func(t *testing.T) {
		c.SetEntryStatus(7, true, true)

		got, err := ReadRedirectionEntry(testBase, 7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !got.DeliveryPending() || !got.RemoteIRR() {
			t.Fatalf("expected status bits to be set in 0x%x", uint64(got))
		}
	})
}
