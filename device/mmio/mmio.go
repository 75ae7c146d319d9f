// Package mmio performs 32-bit accesses to memory-mapped device registers.
//
// Every access is a single atomic load or store so that the compiler never
// merges, elides or reorders register accesses. Tests and hosted tools can
// redirect all accesses to an emulated device via SetAccessor.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Accessor is implemented by objects that service 32-bit register accesses.
type Accessor interface {
	// Read32 returns the 32-bit value of the register at addr.
	Read32(addr uintptr) uint32

	// Write32 stores value to the register at addr.
	Write32(addr uintptr, value uint32)
}

// physicalAccessor dereferences register addresses directly.
type physicalAccessor struct{}

func (physicalAccessor) Read32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

func (physicalAccessor) Write32(addr uintptr, value uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), value)
}

var activeAccessor Accessor = physicalAccessor{}

// SetAccessor routes all subsequent register accesses to a and returns the
// previously active accessor. Passing nil restores direct memory access.
func SetAccessor(a Accessor) Accessor {
	prev := activeAccessor
	if a == nil {
		a = physicalAccessor{}
	}
	activeAccessor = a
	return prev
}

// Read32 reads the 32-bit register at addr.
func Read32(addr uintptr) uint32 {
	return activeAccessor.Read32(addr)
}

// Write32 writes value to the 32-bit register at addr.
func Write32(addr uintptr, value uint32) {
	activeAccessor.Write32(addr, value)
}
