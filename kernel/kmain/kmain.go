// Package kmain contains the kernel entrypoint that runs the boot-time
// hardware detection.
package kmain

import (
	"bootirq/kernel/cpu"
	"bootirq/kernel/hal"
	"bootirq/kernel/kfmt"
	"bootirq/multiboot"

	// Drivers register themselves with the device package when imported.
	_ "bootirq/device/acpi"
	_ "bootirq/device/apic/ioapic"
)

var (
	// The following functions are mocked by tests.
	detectHardwareFn   = hal.DetectHardware
	panicFn            = kfmt.Panic
	enableInterruptsFn = cpu.EnableInterrupts
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and a minimal g0 struct that allows Go code to run
// on the stack allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by
// the bootloader. Kmain detects the ACPI tables and programs the IO-APICs
// before enabling interrupts. A driver initialization failure halts the CPU.
//
// If Kmain returns, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	if err := detectHardwareFn(); err != nil {
		panicFn(err)
		return
	}

	enableInterruptsFn()
}
