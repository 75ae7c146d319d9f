// Command madtdump performs a dry run of the IO-APIC initialization against a
// MADT image, such as the one exported by Linux under
// /sys/firmware/acpi/tables/APIC. Every IO-APIC listed in the table is
// replaced by an emulated controller and the resulting redirection tables are
// printed as YAML.
package main

import (
	"bootirq/device/acpi/table"
	"bootirq/device/apic/ioapic"
	"bootirq/device/apic/ioapic/emu"
	"bootirq/device/mmio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const defaultLineCount = 24

// config describes the emulated controllers. Controllers that are not listed
// get defaultLineCount lines.
type config struct {
	Controllers []controllerConfig `yaml:"controllers"`
}

type controllerConfig struct {
	ID    uint8 `yaml:"id"`
	Lines int   `yaml:"lines"`
}

func (c *config) lineCount(id uint8) int {
	for _, ctrl := range c.Controllers {
		if ctrl.ID == id && ctrl.Lines > 0 {
			return ctrl.Lines
		}
	}

	return defaultLineCount
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// mmapFn maps a file into memory. Tests replace it to exercise the read
// fallback.
var mmapFn = unix.Mmap

// loadTable maps the file at path read-only. Files that cannot be mapped,
// like the table attributes under /sys/firmware/acpi/tables, are read into
// memory instead. The returned function releases the image.
func loadTable(path string) ([]byte, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	if size := int(info.Size()); size > 0 {
		data, err := mmapFn(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
		switch {
		case err == nil:
			return data, func() { unix.Munmap(data) }, nil
		case !errors.Is(err, unix.ENODEV):
			return nil, nil, fmt.Errorf("%s: mmap: %w", path, err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	return data, func() {}, nil
}

// checkTable verifies that data holds a complete MADT.
func checkTable(path string, data []byte) error {
	if len(data) < table.SizeofMADT {
		return fmt.Errorf("%s: file too small to contain a MADT", path)
	}

	madt := (*table.MADT)(unsafe.Pointer(&data[0]))
	switch {
	case string(madt.Signature[:]) != "APIC":
		return fmt.Errorf("%s: unexpected table signature %q", path, string(madt.Signature[:]))
	case int(madt.Length) > len(data):
		return fmt.Errorf("%s: table length %d exceeds file size %d", path, madt.Length, len(data))
	}

	return nil
}

// mapTable loads the table image at path and checks that it holds a complete
// MADT. The returned function releases the image.
func mapTable(path string) (*table.MADT, func(), error) {
	data, release, err := loadTable(path)
	if err != nil {
		return nil, nil, err
	}

	if err = checkTable(path, data); err != nil {
		release()
		return nil, nil, err
	}

	return (*table.MADT)(unsafe.Pointer(&data[0])), release, nil
}

// attachControllers attaches an emulated controller to bus for every IO-APIC
// record in madt.
func attachControllers(bus *emu.Bus, madt *table.MADT, cfg *config) error {
	var err error

	walkErr := madt.VisitEntries(func(entry *table.MADTEntry) bool {
		if entry.Type != table.MADTEntryTypeIOAPIC {
			return true
		}

		rec, recErr := entry.IOAPIC()
		if recErr != nil {
			err = recErr
			return false
		}

		bus.Attach(uintptr(rec.Address), emu.NewController(rec.APICID, cfg.lineCount(rec.APICID)))
		return true
	})

	if err != nil {
		return err
	}

	if walkErr != nil {
		return walkErr
	}

	return nil
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("madtdump", flag.ContinueOnError)
	fs.SetOutput(out)

	configPath := fs.String("config", "", "YAML file describing the line count of each IO-APIC")
	processorID := fs.Uint("processor", 0, "local APIC id that ISA interrupts are routed to")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return errors.New("usage: madtdump [-config file] [-processor id] path-to-madt")
	}

	if *processorID > 0xff {
		return fmt.Errorf("invalid processor id %d", *processorID)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	madt, unmap, err := mapTable(fs.Arg(0))
	if err != nil {
		return err
	}
	defer unmap()

	bus := emu.NewBus()
	if err = attachControllers(bus, madt, cfg); err != nil {
		return err
	}

	prevAccessor := mmio.SetAccessor(bus)
	defer mmio.SetAccessor(prevAccessor)

	var router ioapic.Router
	initErr := router.Initialize(madt, uint8(*processorID))

	rep := buildReport(madt, &router, bus, uint8(*processorID))
	if initErr != nil {
		rep.Error = fmt.Sprintf("%s (%s)", initErr.Message, initErr.Kind)
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err = enc.Encode(rep); err != nil {
		return err
	}

	if err = enc.Close(); err != nil {
		return err
	}

	if initErr != nil {
		return fmt.Errorf("IO-APIC initialization failed: %s", initErr.Message)
	}

	return nil
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[madtdump] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		exit(err)
	}
}
