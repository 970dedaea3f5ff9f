package perflog

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Usage is a point-in-time host resource reading, in percent.
type Usage struct {
	CPU float64
	RAM float64
}

// Sampler reads host CPU and RAM usage.
type Sampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// SystemSampler samples the host through gopsutil.
type SystemSampler struct{}

// Sample implements Sampler.
func (SystemSampler) Sample(ctx context.Context) (Usage, error) {
	times, err := cpu.TimesWithContext(ctx, true)
	if err != nil {
		return Usage{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{CPU: cpuUsage(times), RAM: vm.UsedPercent}, nil
}

// cpuUsage is 100 minus the rounded idle share of cumulative per-CPU time.
func cpuUsage(times []cpu.TimesStat) float64 {
	var idle, total float64
	for _, t := range times {
		idle += t.Idle
		total += t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	}
	if total == 0 {
		return 0
	}
	return 100 - math.Round(100*idle/total)
}
