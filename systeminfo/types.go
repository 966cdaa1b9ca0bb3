package systeminfo

// Module is one installed memory device as reported by firmware.
type Module struct {
	// GenerationCode is the SMBIOS type 17 "Memory Type" byte (0x1A = DDR4).
	GenerationCode uint16
	// LegacyCode is the older WMI-style memory type code (26 = DDR4), 0 when unknown.
	LegacyCode uint16
	// SpeedMHz is the rated speed, 0 when unknown.
	SpeedMHz uint32
	Locator  string
	Size     string
}

// HardwareInfo is the inventory the engine needs from the host.
type HardwareInfo interface {
	LogicalCoreCount() int
	// TotalSystemMemoryBytes returns 0 when the size is unknown.
	TotalSystemMemoryBytes() uint64
	MemoryModules() ([]Module, error)
}

// SystemInfo holds the printable sections of the host report.
type SystemInfo struct {
	CPUInfo    string
	MemoryInfo string
	ModuleInfo string
	CacheInfo  string
	NUMAInfo   string
	HostInfo   string
}

// Static is a fixed HardwareInfo, used when inventory comes from configuration.
type Static struct {
	Cores   int
	Memory  uint64
	Modules []Module
	Err     error
}

func (s Static) LogicalCoreCount() int {
	if s.Cores < 1 {
		return 1
	}
	return s.Cores
}

func (s Static) TotalSystemMemoryBytes() uint64 { return s.Memory }

func (s Static) MemoryModules() ([]Module, error) { return s.Modules, s.Err }
