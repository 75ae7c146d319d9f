// Package hal probes for the hardware drivers registered with the device
// package and keeps track of the ones that were successfully initialized.
package hal

import (
	"bootirq/device"
	"bootirq/device/acpi/table"
	"bootirq/kernel"
	"bootirq/kernel/kfmt"
	"bytes"
	"sort"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// tableResolver is provided by the first driver that can look up
	// ACPI tables.
	tableResolver table.Resolver

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	driverListFn = device.DriverList
)

// TableResolver returns the resolver for ACPI tables or nil if no ACPI
// driver has been initialized.
func TableResolver() table.Resolver {
	return devices.tableResolver
}

// ActiveDrivers returns the drivers initialized by DetectHardware in the
// order they were initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers. Drivers whose probe function does not detect any hardware are
// skipped. The first driver that fails to initialize aborts the detection
// and its error is returned to the caller.
func DetectHardware() *kernel.Error {
	// Get driver list and sort by detection priority
	drivers := driverListFn()
	sort.Sort(drivers)

	return probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) *kernel.Error {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s (%s)\n", err.Message, err.Kind)
			return err
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
	}

	return nil
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized.
func onDriverInit(drv device.Driver) {
	if resolver, ok := drv.(table.Resolver); ok && devices.tableResolver == nil {
		devices.tableResolver = resolver
	}

	devices.activeDrivers = append(devices.activeDrivers, drv)
}
