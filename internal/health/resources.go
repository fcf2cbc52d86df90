package health

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceSnapshot is a point-in-time reading of this process's own
// resource consumption, independent of the named-component checks above.
type ResourceSnapshot struct {
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	OpenFDs    int32     `json:"openFds"`
	SampledAt  time.Time `json:"sampledAt"`
}

// resourceSampler lazily opens a gopsutil handle to the current process and
// reuses it, since process.NewProcess re-reads /proc (or the platform
// equivalent) on every call and cpu.Percent needs a prior sample to diff
// against.
type resourceSampler struct {
	mu   sync.Mutex
	proc *process.Process
}

var self = &resourceSampler{}

// SampleSelf reports this process's current CPU%, resident set size, and
// open file descriptor count. Any individual metric that fails to read
// (e.g. NumFDs on a platform without /proc) is left at its zero value
// rather than failing the whole snapshot.
func SampleSelf() (ResourceSnapshot, error) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return ResourceSnapshot{}, err
		}
		self.proc = p
	}

	snap := ResourceSnapshot{SampledAt: time.Now()}

	if cpuPct, err := self.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpuPct
	}
	if mem, err := self.proc.MemoryInfo(); err == nil && mem != nil {
		snap.RSSBytes = mem.RSS
	}
	if fds, err := self.proc.NumFDs(); err == nil {
		snap.OpenFDs = fds
	}

	return snap, nil
}

// UpdateResources samples this process's resource usage and records it on
// the monitor under the reserved "process" component name, degrading the
// component (not the whole Monitor) if sampling itself fails.
func (m *Monitor) UpdateResources() {
	snap, err := SampleSelf()
	if err != nil {
		m.Update("process", Unhealthy, "resource sampling failed: "+err.Error())
		return
	}

	m.mu.Lock()
	m.resources = snap
	m.mu.Unlock()

	m.Update("process", Healthy, "")
}

// Resources returns the last sampled process resource snapshot, or the
// zero value if UpdateResources has never been called.
func (m *Monitor) Resources() ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resources
}
