// Package system samples the live hardware counters shown on the status page
// and restarts the device when the portal policy asks for it.
package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one reading of the hardware counters. Fields that could not be
// read are zero.
type Snapshot struct {
	Hostname  string
	Model     string
	ChipID    string
	Uptime    time.Duration
	FreeHeap  uint64
	FlashSize uint64
	CPUMHz    float64
}

// UptimeHuman formats the uptime like "2d 5h 30m 15s".
func (s Snapshot) UptimeHuman() string {
	return formatUptime(uint64(s.Uptime / time.Second))
}

// Sampler reads counters on demand. Nothing is cached between calls.
type Sampler struct {
	// storage is the path whose filesystem size is reported as flash size.
	storage string
}

// NewSampler reports flash size for the filesystem holding storagePath.
func NewSampler(storagePath string) *Sampler {
	dir := filepath.Dir(storagePath)
	if storagePath == "" || storagePath == ":memory:" {
		dir = "/"
	}
	return &Sampler{storage: dir}
}

// Sample reads the counters now.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	var snap Snapshot

	if hostname, err := os.Hostname(); err == nil {
		snap.Hostname = hostname
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = time.Duration(up) * time.Second
	}

	// Prefer the board serial; fall back to the machine id.
	snap.Model = readFileString("/sys/firmware/devicetree/base/model")
	if serial, _ := getPiInfo(); serial != "" {
		snap.ChipID = serial
	} else if id, err := host.HostIDWithContext(ctx); err == nil {
		snap.ChipID = id
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.FreeHeap = vm.Available
	}

	if usage, err := disk.UsageWithContext(ctx, s.storage); err == nil {
		snap.FlashSize = usage.Total
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		snap.CPUMHz = infos[0].Mhz
	}

	return snap
}

// formatUptime converts seconds to human-readable format (e.g., "2d 5h 30m 15s")
func formatUptime(seconds uint64) string {
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))

	return strings.Join(parts, " ")
}

// readFileString reads a file and returns its contents as a trimmed string.
// Returns empty string on error (non-fatal, e.g., file doesn't exist on non-Pi).
func readFileString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	// Remove null bytes and trim whitespace
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", ""))
}

// getPiInfo reads Raspberry Pi serial and revision from /proc/cpuinfo.
func getPiInfo() (serial, revision string) {
	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "", ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Serial") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				serial = strings.TrimSpace(parts[1])
			}
		}
		if strings.HasPrefix(line, "Revision") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				revision = strings.TrimSpace(parts[1])
			}
		}
	}
	return serial, revision
}
