// Package hardware detects system specs (CPU, RAM, GPU) and recommends an
// optimization backend suited to the current machine.
package hardware

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/davidsonq/modelforge/internal/log"
)

// CPUVendor identifies the CPU manufacturer family.
type CPUVendor string

const (
	VendorIntel   CPUVendor = "intel"
	VendorAMD     CPUVendor = "amd"
	VendorARM     CPUVendor = "arm"
	VendorUnknown CPUVendor = "unknown"
)

// GPUInfo holds one detected GPU.
type GPUInfo struct {
	Name   string  `json:"name"`
	VRAMGB float64 `json:"vram_gb"`
	Driver string  `json:"driver"`
}

// SystemInfo holds detected system specs for the current machine.
type SystemInfo struct {
	CPUName        string    `json:"cpu_name"`
	CPUVendor      CPUVendor `json:"cpu_vendor"`
	PhysicalCores  int       `json:"physical_cores"`
	LogicalCores   int       `json:"logical_cores"`
	Features       []string  `json:"features"`
	TotalRAMGB     float64   `json:"total_ram_gb"`
	AvailableRAMGB float64   `json:"available_ram_gb"`
	HasGPU         bool      `json:"has_gpu"`
	GPUs           []GPUInfo `json:"gpus,omitempty"`
	OS             string    `json:"os"`
	Arch           string    `json:"arch"`
}

// HasFeature reports whether the CPU exposes the given instruction set
// extension (avx, avx2, avx512, sse4_2).
func (s *SystemInfo) HasFeature(name string) bool {
	for _, f := range s.Features {
		if f == name {
			return true
		}
	}
	return false
}

const gb = 1024 * 1024 * 1024

// trackedFeatures are the instruction set extensions relevant to inference
// runtimes.
var trackedFeatures = []string{"avx", "avx2", "avx512f", "sse4_2", "fma", "neon"}

// Detector probes the machine and caches the result. Detection shells out to
// nvidia-smi and reads /proc, so answers are memoized for a short TTL.
type Detector struct {
	cache *gocache.Cache
}

const cacheKey = "system-info"

func NewDetector() *Detector {
	return &Detector{cache: gocache.New(5*time.Minute, 10*time.Minute)}
}

// Detect returns system specs for the current machine. Results are cached;
// call Invalidate to force a fresh probe.
func (d *Detector) Detect() (*SystemInfo, error) {
	if v, ok := d.cache.Get(cacheKey); ok {
		return v.(*SystemInfo), nil
	}

	info, err := probe()
	if err != nil {
		return nil, err
	}
	d.cache.Set(cacheKey, info, gocache.DefaultExpiration)
	return info, nil
}

// Invalidate drops the cached probe result.
func (d *Detector) Invalidate() {
	d.cache.Delete(cacheKey)
}

func probe() (*SystemInfo, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("reading memory info: %w", err)
	}

	info := &SystemInfo{
		CPUName:        "Unknown CPU",
		CPUVendor:      VendorUnknown,
		LogicalCores:   runtime.NumCPU(),
		TotalRAMGB:     float64(v.Total) / float64(gb),
		AvailableRAMGB: float64(v.Available) / float64(gb),
		OS:             runtime.GOOS,
		Arch:           runtime.GOARCH,
	}

	cpus, err := cpu.Info()
	if err != nil {
		log.Warn(log.CatHW, "cpu info unavailable", "error", err)
	} else if len(cpus) > 0 {
		if cpus[0].ModelName != "" {
			info.CPUName = cpus[0].ModelName
		}
		info.CPUVendor = vendorFromID(cpus[0].VendorID)
	}
	if counts, err := cpu.Counts(false); err == nil {
		info.PhysicalCores = counts
	} else {
		info.PhysicalCores = info.LogicalCores
	}

	if runtime.GOARCH == "arm64" && info.CPUVendor == VendorUnknown {
		info.CPUVendor = VendorARM
	}
	info.Features = detectFeatures()

	info.GPUs = detectNvidiaGPUs()
	info.HasGPU = len(info.GPUs) > 0

	log.Debug(log.CatHW, "system probe complete",
		"cpu", info.CPUName,
		"vendor", string(info.CPUVendor),
		"cores", info.LogicalCores,
		"gpus", len(info.GPUs))
	return info, nil
}

func vendorFromID(vendorID string) CPUVendor {
	switch strings.TrimSpace(vendorID) {
	case "GenuineIntel":
		return VendorIntel
	case "AuthenticAMD":
		return VendorAMD
	case "ARM", "Apple":
		return VendorARM
	}
	lower := strings.ToLower(vendorID)
	switch {
	case strings.Contains(lower, "intel"):
		return VendorIntel
	case strings.Contains(lower, "amd"):
		return VendorAMD
	case strings.Contains(lower, "arm"), strings.Contains(lower, "apple"):
		return VendorARM
	}
	return VendorUnknown
}

func detectFeatures() []string {
	if runtime.GOARCH == "arm64" {
		return []string{"neon"}
	}
	if runtime.GOOS != "linux" {
		return nil
	}
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return nil
	}
	return parseCPUFlags(string(data))
}

func parseCPUFlags(cpuinfo string) []string {
	sc := bufio.NewScanner(strings.NewReader(cpuinfo))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "flags") && !strings.HasPrefix(line, "Features") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		present := make(map[string]bool)
		for _, f := range strings.Fields(line[idx+1:]) {
			present[f] = true
		}
		var found []string
		for _, want := range trackedFeatures {
			if present[want] {
				found = append(found, want)
			}
		}
		return found
	}
	return nil
}

func detectNvidiaGPUs() []GPUInfo {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=name,memory.total,driver_version",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil
	}
	return parseNvidiaSMI(out)
}

func parseNvidiaSMI(out []byte) []GPUInfo {
	var gpus []GPUInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		gpu := GPUInfo{Name: strings.TrimSpace(parts[0])}
		var vramMB float64
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &vramMB); err == nil {
			gpu.VRAMGB = vramMB / 1024
		}
		if len(parts) > 2 {
			gpu.Driver = strings.TrimSpace(parts[2])
		}
		gpus = append(gpus, gpu)
	}
	return gpus
}
