package hal

import (
	"bootirq/device"
	"bootirq/device/acpi/table"
	"bootirq/kernel"
	"bootirq/kernel/kfmt"
	"bytes"
	"io"
	"testing"
)

type testDriver struct {
	name    string
	initErr *kernel.Error
	inits   *[]string
}

func (d *testDriver) DriverName() string { return d.name }

func (d *testDriver) DriverVersion() (uint16, uint16, uint16) { return 1, 2, 3 }

func (d *testDriver) DriverInit(w io.Writer) *kernel.Error {
	*d.inits = append(*d.inits, d.name)
	kfmt.Fprintf(w, "probing %s\n", d.name)
	return d.initErr
}

type testResolverDriver struct {
	testDriver
	header *table.SDTHeader
}

func (d *testResolverDriver) LookupTable(name string) *table.SDTHeader {
	if name == "APIC" {
		return d.header
	}
	return nil
}

func withSink(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer

	origSink := kfmt.GetOutputSink()
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() {
		kfmt.SetOutputSink(origSink)
		devices = managedDevices{}
	})

	devices = managedDevices{}
	return &buf
}

func TestProbe(t *testing.T) {
	var (
		buf   = withSink(t)
		inits []string
		madt  table.SDTHeader
	)

	acpiDrv := &testResolverDriver{testDriver: testDriver{name: "ACPI", inits: &inits}, header: &madt}
	ioapicDrv := &testDriver{name: "IOAPIC", inits: &inits}

	list := device.DriverInfoList{
		{Order: device.DetectOrderACPI, Probe: func() device.Driver { return acpiDrv }},
		{Order: device.DetectOrderAfterACPI, Probe: func() device.Driver { return nil }},
		{Order: device.DetectOrderAfterACPI, Probe: func() device.Driver { return ioapicDrv }},
	}

	if err := probe(list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := "[hal] ACPI(1.2.3): probing ACPI\n" +
		"[hal] ACPI(1.2.3): initialized\n" +
		"[hal] IOAPIC(1.2.3): probing IOAPIC\n" +
		"[hal] IOAPIC(1.2.3): initialized\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}

	if exp, got := 2, len(ActiveDrivers()); got != exp {
		t.Fatalf("expected %d active drivers; got %d", exp, got)
	}

	resolver := TableResolver()
	if resolver == nil {
		t.Fatal("expected the ACPI driver to be registered as the table resolver")
	}

	if got := resolver.LookupTable("APIC"); got != &madt {
		t.Fatalf("expected the resolver to return the APIC table")
	}
}

func TestProbeInitFailure(t *testing.T) {
	var (
		buf     = withSink(t)
		inits   []string
		expErr  = &kernel.Error{Module: "test", Message: "no controllers", Kind: kernel.KindEmptyThing}
		failing = &testDriver{name: "IOAPIC", initErr: expErr, inits: &inits}
		never   = &testDriver{name: "LAST", inits: &inits}
	)

	list := device.DriverInfoList{
		{Order: device.DetectOrderAfterACPI, Probe: func() device.Driver { return failing }},
		{Order: device.DetectOrderLast, Probe: func() device.Driver { return never }},
	}

	if err := probe(list); err != expErr {
		t.Fatalf("expected error %v; got %v", expErr, err)
	}

	if exp, got := 1, len(inits); got != exp {
		t.Fatalf("expected %d driver inits; got %d (%v)", exp, got, inits)
	}

	if len(ActiveDrivers()) != 0 || TableResolver() != nil {
		t.Fatal("expected failed driver not to be tracked")
	}

	exp := "[hal] IOAPIC(1.2.3): probing IOAPIC\n" +
		"[hal] IOAPIC(1.2.3): init failed: no controllers (empty)\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

func TestDetectHardwareOrder(t *testing.T) {
	withSink(t)

	defer func(origFn func() device.DriverInfoList) {
		driverListFn = origFn
	}(driverListFn)

	var inits []string
	driverListFn = func() device.DriverInfoList {
		return device.DriverInfoList{
			{Order: device.DetectOrderLast, Probe: func() device.Driver { return &testDriver{name: "LAST", inits: &inits} }},
			{Order: device.DetectOrderAfterACPI, Probe: func() device.Driver { return &testDriver{name: "IOAPIC", inits: &inits} }},
			{Order: device.DetectOrderACPI, Probe: func() device.Driver { return &testDriver{name: "ACPI", inits: &inits} }},
		}
	}

	if err := DetectHardware(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := []string{"ACPI", "IOAPIC", "LAST"}
	if len(inits) != len(exp) {
		t.Fatalf("expected drivers %v to be initialized; got %v", exp, inits)
	}

	for i := range exp {
		if inits[i] != exp[i] {
			t.Fatalf("expected drivers to be initialized in order %v; got %v", exp, inits)
		}
	}
}
