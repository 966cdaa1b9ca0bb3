package systeminfo

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	gcpu "github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	gmem "github.com/shirou/gopsutil/v4/mem"
)

// GetSystemInfo collects the host report shown by `xeno info`.
func GetSystemInfo(hw HardwareInfo) SystemInfo {
	var info SystemInfo

	cpuInfo, err := gcpu.Info()
	if err != nil || len(cpuInfo) == 0 {
		info.CPUInfo = fmt.Sprintf("CPU Info: Model: Unknown, Logical cores: %d", hw.LogicalCoreCount())
	} else {
		info.CPUInfo = fmt.Sprintf("CPU Info: Model: %s, Logical cores: %d, Frequency: %.2f MHz",
			strings.TrimSpace(cpuInfo[0].ModelName), hw.LogicalCoreCount(), cpuInfo[0].Mhz)
	}

	vm, err := gmem.VirtualMemory()
	if err != nil {
		info.MemoryInfo = "Memory Info: Unable to retrieve memory information"
	} else {
		info.MemoryInfo = fmt.Sprintf("Memory Info: Total: %s, Available: %s, Used: %.1f%%",
			utils.FormatSize(int64(vm.Total)), utils.FormatSize(int64(vm.Available)), vm.UsedPercent)
	}

	modules, err := hw.MemoryModules()
	if err != nil {
		info.ModuleInfo = fmt.Sprintf("[Memory]: Unable to retrieve device information: %v", err)
	} else {
		lines := make([]string, 0, len(modules))
		for i, m := range modules {
			lines = append(lines, FormatModule(i, m))
		}
		info.ModuleInfo = strings.Join(lines, "\n")
	}

	cache, err := utils.GetCacheInfo()
	if err != nil {
		info.CacheInfo = fmt.Sprintf("Cache Info: %v", err)
	} else {
		l3 := "not present"
		if cache.L3Size > 0 {
			l3 = utils.FormatSize(cache.L3Size)
		}
		info.CacheInfo = fmt.Sprintf("Cache Info: L1: %s, L2: %s, L3: %s",
			utils.FormatSize(cache.L1Size), utils.FormatSize(cache.L2Size), l3)
	}

	numaInfo, err := utils.GetNUMAInfo()
	if err != nil {
		info.NUMAInfo = fmt.Sprintf("NUMA Info: Failed to retrieve NUMA information: %v", err)
	} else {
		numaDetails := []string{fmt.Sprintf("NUMA Nodes: %d", numaInfo.NumNodes)}
		for i, cpus := range numaInfo.NodeCPUs {
			if len(cpus) > 0 {
				numaDetails = append(numaDetails, fmt.Sprintf("Node %d CPUs: %v", i, cpus))
			}
		}
		info.NUMAInfo = strings.Join(numaDetails, "\n")
	}

	hostInfo, err := host.Info()
	if err != nil {
		info.HostInfo = fmt.Sprintf("Host Info: %s/%s", runtime.GOOS, runtime.GOARCH)
	} else {
		info.HostInfo = fmt.Sprintf("Host Info: %s %s (%s), kernel %s, %s",
			hostInfo.Platform, hostInfo.PlatformVersion, hostInfo.OS, hostInfo.KernelVersion, hostInfo.KernelArch)
	}

	return info
}

// FormatModule renders one module line.
func FormatModule(i int, m Module) string {
	locator := m.Locator
	if locator == "" {
		locator = "Unknown"
	}
	size := m.Size
	if size == "" {
		size = "Unknown"
	}
	speed := "Unknown"
	if m.SpeedMHz > 0 {
		speed = fmt.Sprintf("%d MT/s", m.SpeedMHz)
	}
	return fmt.Sprintf("[Memory] %d: %s | %s | type 0x%02X (legacy %d) | %s",
		i, locator, size, m.GenerationCode, m.LegacyCode, speed)
}

// String renders the full report.
func (info SystemInfo) String() string {
	return strings.Join([]string{
		"=== System Information ===",
		info.HostInfo,
		info.CPUInfo,
		info.CacheInfo,
		info.NUMAInfo,
		info.MemoryInfo,
		info.ModuleInfo,
	}, "\n")
}
