package ioapic

import (
	"bootirq/device/acpi/table"
	"bootirq/device/acpi/table/tabletest"
	"bootirq/device/apic/ioapic/emu"
	"bytes"
	"testing"
	"unsafe"
)

type fakeResolver struct {
	tables map[string][]byte
}

func (r *fakeResolver) LookupTable(name string) *table.SDTHeader {
	if img, ok := r.tables[name]; ok {
		return (*table.SDTHeader)(unsafe.Pointer(&img[0]))
	}
	return nil
}

func TestProbe(t *testing.T) {
	defer func(origResolver func() table.Resolver, origAPICID func() uint8, origCmdLine func(string) (string, bool)) {
		resolverFn = origResolver
		apicIDFn = origAPICID
		cmdLineOptionFn = origCmdLine
	}(resolverFn, apicIDFn, cmdLineOptionFn)

	madtImg := tabletest.MADT(0xfee00000, 0, tabletest.IOAPIC{ID: 0, Address: testBase})
	resolver := &fakeResolver{tables: map[string][]byte{"APIC": madtImg}}

	apicIDFn = func() uint8 { return 5 }

	t.Run("no table resolver", func(t *testing.T) {
		resolverFn = func() table.Resolver { return nil }
		cmdLineOptionFn = func(string) (string, bool) { return "", false }

		if drv := probeForIOAPIC(); drv != nil {
			t.Fatal("expected probe to fail without a table resolver")
		}
	})

	t.Run("missing MADT", func(t *testing.T) {
		resolverFn = func() table.Resolver { return &fakeResolver{} }
		cmdLineOptionFn = func(string) (string, bool) { return "", false }

		if drv := probeForIOAPIC(); drv != nil {
			t.Fatal("expected probe to fail without a MADT")
		}
	})

	t.Run("disabled from the command line", func(t *testing.T) {
		resolverFn = func() table.Resolver { return resolver }
		cmdLineOptionFn = func(key string) (string, bool) {
			if key == "ioapic" {
				return "off", true
			}
			return "", false
		}

		if drv := probeForIOAPIC(); drv != nil {
			t.Fatal("expected probe to honor ioapic=off")
		}
	})

	t.Run("MADT present", func(t *testing.T) {
		resolverFn = func() table.Resolver { return resolver }
		cmdLineOptionFn = func(key string) (string, bool) {
			if key == "ioapic" {
				return "on", true
			}
			return "", false
		}

		drv, ok := probeForIOAPIC().(*ioapicDriver)
		if !ok {
			t.Fatal("expected probe to return an ioapicDriver")
		}

		if exp := (*table.MADT)(unsafe.Pointer(&madtImg[0])); drv.madt != exp {
			t.Fatal("expected driver to use the MADT returned by the resolver")
		}

		if drv.processorID != 5 {
			t.Fatalf("expected driver to route interrupts to processor 5; got %d", drv.processorID)
		}
	})
}

func TestDriverInit(t *testing.T) {
	defer func() { activeRouter = nil }()

	bus := emu.NewBus()
	bus.Attach(testBase, emu.NewController(2, 24))
	bus.Attach(testBase+0x1000, emu.NewController(3, 16))
	defer useAccessor(bus)()

	madtImg := tabletest.MADT(0xfee00000, table.MADTFlagPCATCompat,
		tabletest.IOAPIC{ID: 2, Address: testBase, GSIBase: 0},
		tabletest.IOAPIC{ID: 3, Address: testBase + 0x1000, GSIBase: 24},
		tabletest.InterruptSrcOverride{IRQ: 0, GSI: 2},
		tabletest.InterruptSrcOverride{IRQ: 9, GSI: 9, Flags: 0xf},
	)

	drv := &ioapicDriver{madt: (*table.MADT)(unsafe.Pointer(&madtImg[0])), processorID: 1}

	if got := drv.DriverName(); got != "IOAPIC" {
		t.Errorf("expected driver name IOAPIC; got %s", got)
	}

	if major, minor, patch := drv.DriverVersion(); major != 0 || minor != 1 || patch != 0 {
		t.Errorf("expected driver version 0.1.0; got %d.%d.%d", major, minor, patch)
	}

	var buf bytes.Buffer
	if err := drv.DriverInit(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := "IO-APIC 2 at 0xfec00000: version 0x11, GSI 0-23\n" +
		"IO-APIC 3 at 0xfec01000: version 0x11, GSI 24-39\n" +
		"IRQ 0 -> GSI 2 (flags 0x0)\n" +
		"IRQ 9 -> GSI 9 (flags 0xf)\n" +
		"ISA IRQs routed to processor 1\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}

	if ActiveRouter() != &drv.router {
		t.Fatal("expected the driver router to become the active router")
	}

	if got := ActiveRouter().IRQToGSI(0); got != 2 {
		t.Fatalf("expected the active router to map IRQ 0 to GSI 2; got %d", got)
	}

	t.Run("init failure", func(t *testing.T) {
		activeRouter = nil

		drv := &ioapicDriver{madt: (*table.MADT)(unsafe.Pointer(&tabletest.MADT(0xfee00000, 0)[0]))}
		if err := drv.DriverInit(&bytes.Buffer{}); err == nil {
			t.Fatal("expected DriverInit to fail for an empty MADT")
		}

		if ActiveRouter() != nil {
			t.Fatal("expected no active router after a failed init")
		}
	})
}
