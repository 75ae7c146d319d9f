package mmio

import (
	"testing"
	"unsafe"
)

type recordingAccessor struct {
	regs   map[uintptr]uint32
	writes int
}

func (a *recordingAccessor) Read32(addr uintptr) uint32 { return a.regs[addr] }

func (a *recordingAccessor) Write32(addr uintptr, value uint32) {
	a.regs[addr] = value
	a.writes++
}

func TestPhysicalAccess(t *testing.T) {
	regs := make([]uint32, 8)
	addr := uintptr(unsafe.Pointer(&regs[4]))

	Write32(addr, 0xfec00000)
	if regs[4] != 0xfec00000 {
		t.Fatalf("expected Write32 to store 0xfec00000; got 0x%x", regs[4])
	}

	regs[4] = 0x00170011
	if got := Read32(addr); got != 0x00170011 {
		t.Fatalf("expected Read32 to return 0x00170011; got 0x%x", got)
	}
}

func TestSetAccessor(t *testing.T) {
	acc := &recordingAccessor{regs: make(map[uintptr]uint32)}

	prev := SetAccessor(acc)
	defer SetAccessor(prev)

	if _, ok := prev.(physicalAccessor); !ok {
		t.Fatalf("expected the default accessor to access memory directly; got %T", prev)
	}

	Write32(0xfec00000, 1)
	Write32(0xfec00010, 0x10000)

	if got := Read32(0xfec00010); got != 0x10000 {
		t.Fatalf("expected Read32 to return 0x10000; got 0x%x", got)
	}

	if acc.writes != 2 {
		t.Fatalf("expected 2 writes to reach the accessor; got %d", acc.writes)
	}

	if got := SetAccessor(nil); got != acc {
		t.Fatal("expected SetAccessor to return the previously installed accessor")
	}

	if _, ok := activeAccessor.(physicalAccessor); !ok {
		t.Fatal("expected SetAccessor(nil) to restore direct memory access")
	}
}
