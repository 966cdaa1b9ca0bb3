package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Sysfs roots, variables so tests can point them at fixture trees.
var (
	cacheDir = "/sys/devices/system/cpu/cpu0/cache"
	nodeDir  = "/sys/devices/system/node"
)

// CacheInfo holds the data cache size per level of cpu0, in bytes.
type CacheInfo struct {
	L1Size int64
	L2Size int64
	L3Size int64
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// GetCacheInfo reads cpu0's data and unified caches. L1 and L2 fall back to
// 32K and 256K when sysfs does not report them.
func GetCacheInfo() (CacheInfo, error) {
	info := CacheInfo{}
	indexes, err := filepath.Glob(filepath.Join(cacheDir, "index*"))
	if err != nil {
		return info, err
	}

	levels := map[int]*int64{1: &info.L1Size, 2: &info.L2Size, 3: &info.L3Size}
	for _, dir := range indexes {
		kind, err := readTrimmed(filepath.Join(dir, "type"))
		if err != nil || (kind != "Data" && kind != "Unified") {
			continue
		}
		raw, err := readTrimmed(filepath.Join(dir, "level"))
		if err != nil {
			continue
		}
		level, err := strconv.Atoi(raw)
		if err != nil || levels[level] == nil {
			continue
		}
		raw, err = readTrimmed(filepath.Join(dir, "size"))
		if err != nil {
			continue
		}
		if size, err := ParseCacheSize(raw); err == nil {
			*levels[level] = size
		}
	}

	if info.L1Size == 0 {
		info.L1Size = 32 * KiB
	}
	if info.L2Size == 0 {
		info.L2Size = 256 * KiB
	}
	return info, nil
}

// ParseCacheSize reads a sysfs cache size such as "32K" or "4M". A unit is required.
func ParseCacheSize(sizeStr string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(sizeStr))
	if s == "" || !strings.ContainsAny(s[len(s)-1:], "KMG") {
		return 0, fmt.Errorf("invalid cache size %q", sizeStr)
	}
	return ParseSize(s)
}

// NUMAInfo lists the CPUs of each NUMA node, indexed by node id.
type NUMAInfo struct {
	NumNodes int
	NodeCPUs [][]int
}

// GetNUMAInfo reads the node topology. Without a node directory the machine
// is reported as a single node holding every CPU.
func GetNUMAInfo() (NUMAInfo, error) {
	entries, err := os.ReadDir(nodeDir)
	if os.IsNotExist(err) {
		all := make([]int, runtime.NumCPU())
		for i := range all {
			all[i] = i
		}
		return NUMAInfo{NumNodes: 1, NodeCPUs: [][]int{all}}, nil
	}
	if err != nil {
		return NUMAInfo{NumNodes: 1}, err
	}

	var info NUMAInfo
	for _, e := range entries {
		id, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "node"))
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "node") || err != nil {
			continue
		}
		list, err := readTrimmed(filepath.Join(nodeDir, e.Name(), "cpulist"))
		if err != nil {
			continue
		}
		for len(info.NodeCPUs) <= id {
			info.NodeCPUs = append(info.NodeCPUs, nil)
		}
		info.NodeCPUs[id] = ParseCPUList(list)
		if len(info.NodeCPUs[id]) > 0 && id+1 > info.NumNodes {
			info.NumNodes = id + 1
		}
	}
	return info, nil
}

// ParseCPUList expands a kernel cpulist such as "0-3,8,10-11". Malformed
// segments are skipped.
func ParseCPUList(list string) []int {
	cpus := []int{}
	for _, segment := range strings.Split(strings.TrimSpace(list), ",") {
		lo, hi, isRange := strings.Cut(segment, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				continue
			}
		}
		for c := start; c <= end; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus
}
