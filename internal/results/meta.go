package results

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Meta describes one run. It is written once, before the first row.
type Meta struct {
	RunID        string            `yaml:"run_id"`
	StartedAt    time.Time         `yaml:"started_at"`
	Seed         int64             `yaml:"seed"`
	Backends     []string          `yaml:"backends"`
	Test         string            `yaml:"test_type"`
	Dataset      string            `yaml:"dataset"`
	Records      int               `yaml:"records"`
	DatasetBytes uint64            `yaml:"dataset_bytes"`
	Host         SysInfo           `yaml:"host"`
	Parameters   map[string]string `yaml:"parameters,omitempty"`
}

type SysInfo struct {
	Arch     string  `yaml:"arch"`
	Hostname string  `yaml:"hostname"`
	Platform string  `yaml:"platform"`
	CPUCount int     `yaml:"cpu_count"`
	CPUFreq  float64 `yaml:"cpu_mhz"`
	RAM      float64 `yaml:"ram_gib"`
}

// HostStat collects what gopsutil can tell about the machine. Probes that
// fail leave their fields zero.
func HostStat() SysInfo {
	info := SysInfo{Arch: runtime.GOARCH}
	if hostStat, err := host.Info(); err == nil {
		info.Hostname = hostStat.Hostname
		info.Platform = hostStat.Platform
	}
	if cpuStat, err := cpu.Info(); err == nil && len(cpuStat) > 0 {
		total := 0.0
		for _, c := range cpuStat {
			total += c.Mhz
		}
		info.CPUFreq = total / float64(len(cpuStat))
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCount = n
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.RAM = float64(vmStat.Total) / 1024 / 1024 / 1024
	}
	return info
}

// Size renders the dataset size for logs.
func (m Meta) Size() string {
	return bytefmt.ByteSize(m.DatasetBytes)
}

// Flatten turns the metadata into name/value pairs, sorted by name. The SQL
// sink stores these in its parameters table.
func (m Meta) Flatten() [][2]string {
	pairs := map[string]string{
		"run_id":       m.RunID,
		"time":         m.StartedAt.UTC().Format(time.RFC3339),
		"seed":         strconv.FormatInt(m.Seed, 10),
		"backends":     strings.Join(m.Backends, ","),
		"test_type":    m.Test,
		"dataset":      m.Dataset,
		"records":      strconv.Itoa(m.Records),
		"dataset_size": m.Size(),
		"arch":         m.Host.Arch,
		"hostname":     m.Host.Hostname,
		"platform":     m.Host.Platform,
		"cpu":          strconv.Itoa(m.Host.CPUCount),
		"freq":         fmt.Sprintf("%.0f", m.Host.CPUFreq),
		"ram":          fmt.Sprintf("%.1f", m.Host.RAM),
	}
	for k, v := range m.Parameters {
		if _, ok := pairs[k]; !ok {
			pairs[k] = v
		}
	}
	out := make([][2]string, 0, len(pairs))
	for k, v := range pairs {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
