package metrics

import (
	"log/slog"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

// sampleSystem gathers host resource figures. Sensors that are unavailable
// on the host are skipped, not errors.
func sampleSystem() map[string]float64 {
	out := make(map[string]float64)

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		out["system.cpu_percent"] = pcts[0]
	} else if err != nil {
		slog.Debug("cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		out["system.memory_percent"] = vm.UsedPercent
		out["system.memory_used_bytes"] = float64(vm.Used)
	} else {
		slog.Debug("memory sample failed", "error", err)
	}

	if du, err := disk.Usage("/"); err == nil {
		out["system.disk_percent"] = du.UsedPercent
		out["system.disk_free_bytes"] = float64(du.Free)
	} else {
		slog.Debug("disk sample failed", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		out["system.load1"] = avg.Load1
	}

	if temps, err := sensors.SensorsTemperatures(); err == nil && len(temps) > 0 {
		maxTemp := temps[0].Temperature
		for _, t := range temps[1:] {
			if t.Temperature > maxTemp {
				maxTemp = t.Temperature
			}
		}
		out["system.temperature_c"] = maxTemp
	}

	return out
}
