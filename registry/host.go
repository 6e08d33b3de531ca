package registry

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostStats is whole-machine load, shown next to the per-process telemetry.
type HostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
	MemUsed    uint64  `json:"mem_used"`
	MemTotal   uint64  `json:"mem_total"`
}

// SampleHost reads current host CPU and memory usage.
// CPU usage is measured since the previous call, so the first sample after startup may read 0.
func SampleHost() (*HostStats, error) {
	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(cpuPercent) == 0 {
		return nil, fmt.Errorf("reading cpu usage: no samples")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("reading memory usage: %w", err)
	}
	return &HostStats{
		CPUPercent: cpuPercent[0],
		MemPercent: vm.UsedPercent,
		MemUsed:    vm.Used,
		MemTotal:   vm.Total,
	}, nil
}
