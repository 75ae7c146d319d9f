package kernel

import "unsafe"

// Bytes overlays a byte slice on top of the memory region that starts at addr
// and spans size bytes. The returned slice aliases the underlying memory; it
// does not copy it. Bytes returns nil if addr or size is zero.
func Bytes(addr, size uintptr) []byte {
	if addr == 0 || size == 0 {
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
