package systeminfo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	gcpu "github.com/shirou/gopsutil/v4/cpu"
	gmem "github.com/shirou/gopsutil/v4/mem"
)

// ErrNoModules is returned when neither SMBIOS nor dmidecode lists a populated slot.
var ErrNoModules = errors.New("no memory modules reported")

const smbiosMemoryDevice = 17

// memoryTypeNames maps dmidecode "Type:" values to SMBIOS and legacy codes.
var memoryTypeNames = map[string]struct{ smbios, legacy uint16 }{
	"SDRAM":        {0x0F, 17},
	"DDR":          {0x12, 20},
	"DDR2":         {0x13, 21},
	"DDR2 FB-DIMM": {0x14, 22},
	"DDR3":         {0x18, 24},
	"LPDDR3":       {0x1D, 0},
	"DDR4":         {0x1A, 26},
	"LPDDR4":       {0x1E, 0},
	"DDR5":         {0x22, 0},
	"LPDDR5":       {0x23, 0},
}

// Provider answers HardwareInfo from gopsutil and the firmware tables.
type Provider struct {
	dmiDir    string
	dmidecode func(ctx context.Context) ([]byte, error)
	timeout   time.Duration
}

func NewProvider() *Provider {
	return &Provider{
		dmiDir:    "/sys/firmware/dmi/entries",
		dmidecode: runDmidecode,
		timeout:   5 * time.Second,
	}
}

func runDmidecode(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "dmidecode", "-t", "17").CombinedOutput()
}

func (p *Provider) LogicalCoreCount() int {
	n, err := gcpu.Counts(true)
	if err != nil || n < 1 {
		return max(1, runtime.NumCPU())
	}
	return n
}

func (p *Provider) TotalSystemMemoryBytes() uint64 {
	vm, err := gmem.VirtualMemory()
	if err != nil {
		return 0
	}
	return vm.Total
}

// MemoryModules reads SMBIOS type 17 entries from sysfs and falls back to
// dmidecode text output. Both normally need root.
func (p *Provider) MemoryModules() ([]Module, error) {
	modules, smbiosErr := p.smbiosModules()
	if smbiosErr == nil && len(modules) > 0 {
		return modules, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	out, err := p.dmidecode(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory module query failed (requires dmidecode, try running with sudo): %w", errors.Join(smbiosErr, err))
	}
	modules = parseDmidecodeModules(string(out))
	if len(modules) == 0 {
		return nil, ErrNoModules
	}
	return modules, nil
}

func (p *Provider) smbiosModules() ([]Module, error) {
	entries, err := filepath.Glob(filepath.Join(p.dmiDir, fmt.Sprintf("%d-*", smbiosMemoryDevice), "raw"))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoModules
	}
	sort.Strings(entries)

	var modules []Module
	var errs []error
	for _, path := range entries {
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if m, ok := parseType17(raw); ok {
			modules = append(modules, m)
		}
	}
	if len(modules) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoModules
	}
	return modules, nil
}

// parseType17 decodes one raw SMBIOS Memory Device structure. Empty slots
// (size 0) are reported as not ok.
func parseType17(raw []byte) (Module, bool) {
	if len(raw) < 0x17 || raw[0] != smbiosMemoryDevice {
		return Module{}, false
	}
	length := int(raw[1])
	if length < 0x17 || length > len(raw) {
		return Module{}, false
	}

	size := binary.LittleEndian.Uint16(raw[0x0C:])
	if size == 0 {
		return Module{}, false
	}

	m := Module{
		GenerationCode: uint16(raw[0x12]),
		SpeedMHz:       uint32(binary.LittleEndian.Uint16(raw[0x15:])),
		Locator:        smbiosString(raw, length, raw[0x10]),
	}
	if m.SpeedMHz == 0xFFFF {
		m.SpeedMHz = 0
		if length >= 0x58 {
			m.SpeedMHz = binary.LittleEndian.Uint32(raw[0x54:])
		}
	}

	switch {
	case size == 0xFFFF:
		m.Size = "Unknown"
	case size == 0x7FFF && length >= 0x20:
		m.Size = utils.FormatSize(int64(binary.LittleEndian.Uint32(raw[0x1C:])&0x7FFFFFFF) * utils.MiB)
	case size&0x8000 != 0:
		m.Size = utils.FormatSize(int64(size&0x7FFF) * utils.KiB)
	default:
		m.Size = utils.FormatSize(int64(size) * utils.MiB)
	}
	return m, true
}

// smbiosString returns the 1-based string idx from the unformatted area.
func smbiosString(raw []byte, length int, idx byte) string {
	if idx == 0 || length >= len(raw) {
		return ""
	}
	strs := strings.Split(string(raw[length:]), "\x00")
	if int(idx) > len(strs) {
		return ""
	}
	return strings.TrimSpace(strs[idx-1])
}

// parseDmidecodeDevices splits `dmidecode -t 17` output into populated devices.
func parseDmidecodeDevices(output string) []map[string]string {
	var currentDevice map[string]string
	var devices []map[string]string

	flush := func() {
		if currentDevice != nil && currentDevice["Size"] != "No Module Installed" {
			devices = append(devices, currentDevice)
		}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Memory Device") {
			flush()
			currentDevice = make(map[string]string)
		} else if currentDevice != nil && strings.Contains(line, ": ") {
			parts := strings.SplitN(line, ": ", 2)
			currentDevice[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	flush()

	return devices
}

func parseDmidecodeModules(output string) []Module {
	var modules []Module
	for _, dev := range parseDmidecodeDevices(output) {
		m := Module{Locator: dev["Locator"], Size: dev["Size"]}
		if codes, ok := memoryTypeNames[dev["Type"]]; ok {
			m.GenerationCode = codes.smbios
			m.LegacyCode = codes.legacy
		}
		m.SpeedMHz = parseSpeed(dev["Speed"])
		if m.SpeedMHz == 0 {
			m.SpeedMHz = parseSpeed(dev["Configured Memory Speed"])
		}
		modules = append(modules, m)
	}
	return modules
}

// parseSpeed reads "3200 MT/s" or "2666 MHz"; anything else is 0.
func parseSpeed(s string) uint32 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
