package ioapic

import (
	"bootirq/device/apic/ioapic/emu"
	"bootirq/device/mmio"
	"testing"
)

const testBase = 0xfec00000

// access describes a single register access observed by recordingAccessor.
type access struct {
	write bool
	addr  uintptr
	value uint32
}

// recordingAccessor logs every access before forwarding it to next.
type recordingAccessor struct {
	next mmio.Accessor
	log  []access
}

func (a *recordingAccessor) Read32(addr uintptr) uint32 {
	value := a.next.Read32(addr)
	a.log = append(a.log, access{addr: addr, value: value})
	return value
}

func (a *recordingAccessor) Write32(addr uintptr, value uint32) {
	a.log = append(a.log, access{write: true, addr: addr, value: value})
	a.next.Write32(addr, value)
}

// useAccessor routes register accesses to a and returns a function that
// restores the previous accessor.
func useAccessor(a mmio.Accessor) func() {
	prev := mmio.SetAccessor(a)
	return func() { mmio.SetAccessor(prev) }
}

func TestRegisterAccessOrder(t *testing.T) {
	bus := emu.NewBus()
	bus.Attach(testBase, emu.NewController(3, 24))

	rec := &recordingAccessor{next: bus}
	defer useAccessor(rec)()

	if _, err := Read(testBase, RegisterVersion); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := Write(testBase, RegisterID, 5<<24); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exp := []access{
		{write: true, addr: testBase + 0x00, value: uint32(RegisterVersion)},
		{write: false, addr: testBase + 0x10, value: 23<<16 | 0x11},
		{write: true, addr: testBase + 0x00, value: uint32(RegisterID)},
		{write: true, addr: testBase + 0x10, value: 5 << 24},
	}

	if len(rec.log) != len(exp) {
		t.Fatalf("expected %d register accesses; got %d: %+v", len(exp), len(rec.log), rec.log)
	}

	for i := range exp {
		if rec.log[i] != exp[i] {
			t.Errorf("expected access %d to be %+v; got %+v", i, exp[i], rec.log[i])
		}
	}
}

func TestNullBase(t *testing.T) {
	rec := &recordingAccessor{next: emu.NewBus()}
	defer useAccessor(rec)()

	if _, err := Read(0, RegisterID); err != errNullBase {
		t.Errorf("expected Read to return errNullBase; got %v", err)
	}

	if err := Write(0, RegisterID, 0); err != errNullBase {
		t.Errorf("expected Write to return errNullBase; got %v", err)
	}

	if _, err := ReadVersion(0); err != errNullBase {
		t.Errorf("expected ReadVersion to return errNullBase; got %v", err)
	}

	if err := WriteRedirectionEntry(0, 0, maskedRedirectionEntry); err != errNullBase {
		t.Errorf("expected WriteRedirectionEntry to return errNullBase; got %v", err)
	}

	if _, err := ReadRedirectionEntry(0, 0); err != errNullBase {
		t.Errorf("expected ReadRedirectionEntry to return errNullBase; got %v", err)
	}

	if len(rec.log) != 0 {
		t.Fatalf("expected no register accesses for a null base; got %+v", rec.log)
	}
}

func TestIdentificationRegisters(t *testing.T) {
	bus := emu.NewBus()
	bus.Attach(testBase, emu.NewController(9, 32))
	defer useAccessor(bus)()

	id, err := ReadID(testBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := id.ControllerID(); got != 9 {
		t.Errorf("expected controller id 9; got %d", got)
	}

	ver, err := ReadVersion(testBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := ver.Version(); got != 0x11 {
		t.Errorf("expected version 0x11; got 0x%x", got)
	}

	if got := ver.MaxRedirectionEntry(); got != 31 {
		t.Errorf("expected max redirection entry 31; got %d", got)
	}

	arb, err := ReadArbitration(testBase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := arb.ArbitrationID(); got != 9 {
		t.Errorf("expected arbitration id 9; got %d", got)
	}
}

func TestRegisterFieldDecoding(t *testing.T) {
	specs := []struct {
		raw        uint32
		expID      uint8
		expVersion uint16
		expMax     uint8
	}{
		{0x00000000, 0, 0, 0},
		{0x0f170020, 0xf, 0x020, 0x17},
		// reserved bits must be ignored
		{0xf0ff01ff, 0x0, 0x1ff, 0xff},
		{0x02000011, 0x2, 0x011, 0x00},
	}

	for specIndex, spec := range specs {
		if got := ID(spec.raw).ControllerID(); got != spec.expID {
			t.Errorf("[spec %d] expected id %d; got %d", specIndex, spec.expID, got)
		}

		if got := Arbitration(spec.raw).ArbitrationID(); got != spec.expID {
			t.Errorf("[spec %d] expected arbitration id %d; got %d", specIndex, spec.expID, got)
		}

		if got := Version(spec.raw).Version(); got != spec.expVersion {
			t.Errorf("[spec %d] expected version 0x%x; got 0x%x", specIndex, spec.expVersion, got)
		}

		if got := Version(spec.raw).MaxRedirectionEntry(); got != spec.expMax {
			t.Errorf("[spec %d] expected max redirection entry %d; got %d", specIndex, spec.expMax, got)
		}
	}
}
