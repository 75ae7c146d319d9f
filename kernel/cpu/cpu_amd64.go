package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution.
func Halt()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// InitialAPICID returns the local APIC id that the firmware assigned to the
// processor executing this call. It is reported by CPUID leaf 1 in bits 24-31
// of EBX.
func InitialAPICID() uint8 {
	_, ebx, _, _ := cpuidFn(1)
	return uint8(ebx >> 24)
}
