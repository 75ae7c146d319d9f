package ioapic

import (
	"bootirq/device"
	"bootirq/device/acpi/table"
	"bootirq/kernel"
	"bootirq/kernel/cpu"
	"bootirq/kernel/hal"
	"bootirq/kernel/kfmt"
	"bootirq/multiboot"
	"io"
	"unsafe"
)

var (
	// The following hooks are overridden by tests.
	resolverFn      = hal.TableResolver
	apicIDFn        = cpu.InitialAPICID
	cmdLineOptionFn = multiboot.BootCmdLineOption

	// activeRouter points to the router of the initialized driver.
	activeRouter *Router
)

// ActiveRouter returns the router populated by the IO-APIC driver or nil if
// the driver has not been initialized.
func ActiveRouter() *Router {
	return activeRouter
}

type ioapicDriver struct {
	madt        *table.MADT
	processorID uint8
	router      Router
}

// DriverInit initializes this driver.
func (drv *ioapicDriver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.router.Initialize(drv.madt, drv.processorID); err != nil {
		return err
	}

	for _, c := range drv.router.Controllers() {
		lines, err := c.LineCount()
		if err != nil {
			return err
		}

		ver, err := ReadVersion(c.Base)
		if err != nil {
			return err
		}

		kfmt.Fprintf(w, "IO-APIC %d at 0x%8x: version 0x%2x, GSI %d-%d\n",
			c.ID, uintptr(c.Base), ver.Version(), c.GSIBase, c.GSIBase+lines-1,
		)
	}

	for irq := uint8(0); irq < isaIRQCount; irq++ {
		if ovr, ok := drv.router.Override(irq); ok {
			kfmt.Fprintf(w, "IRQ %d -> GSI %d (flags 0x%x)\n", ovr.IRQ, ovr.GSI, uint16(ovr.Flags))
		}
	}

	kfmt.Fprintf(w, "ISA IRQs routed to processor %d\n", drv.processorID)
	activeRouter = &drv.router
	return nil
}

// DriverName returns the name of this driver.
func (*ioapicDriver) DriverName() string {
	return "IOAPIC"
}

// DriverVersion returns the version of this driver.
func (*ioapicDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

func probeForIOAPIC() device.Driver {
	if value, found := cmdLineOptionFn("ioapic"); found && value == "off" {
		return nil
	}

	resolver := resolverFn()
	if resolver == nil {
		return nil
	}

	header := resolver.LookupTable("APIC")
	if header == nil {
		return nil
	}

	return &ioapicDriver{
		madt:        (*table.MADT)(unsafe.Pointer(header)),
		processorID: apicIDFn(),
	}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderAfterACPI,
		Probe: probeForIOAPIC,
	})
}
