package proc

import (
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// UsageSampler reads the current resource usage of a process. The health
// loop depends on this interface so tests can drive breaches directly.
type UsageSampler interface {
	Sample(pid int) (Usage, error)
}

// procfsSampler reads memory and CPU usage from /proc. CPU percent is
// computed from the delta in accumulated CPU seconds between samples,
// so the first sample for a pid always reports zero CPU.
type procfsSampler struct {
	fs procfs.FS

	mu   sync.Mutex
	last map[int]cpuSample
}

type cpuSample struct {
	at      time.Time
	seconds float64
}

// NewProcfsSampler returns a sampler backed by the /proc filesystem.
func NewProcfsSampler() (UsageSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	return &procfsSampler{
		fs:   fs,
		last: make(map[int]cpuSample),
	}, nil
}

func (s *procfsSampler) Sample(pid int) (Usage, error) {
	p, err := s.fs.Proc(pid)
	if err != nil {
		return Usage{}, err
	}
	stat, err := p.Stat()
	if err != nil {
		return Usage{}, err
	}

	now := time.Now()
	usage := Usage{
		MemoryBytes: uint64(stat.ResidentMemory()),
		SampledAt:   now,
	}

	// Fd counting needs /proc/<pid>/fd access; a miss there should not
	// void the memory and CPU reading.
	if fds, err := p.FileDescriptorsLen(); err == nil {
		usage.OpenFiles = uint64(fds)
	}

	seconds := stat.CPUTime()

	s.mu.Lock()
	prev, ok := s.last[pid]
	s.last[pid] = cpuSample{at: now, seconds: seconds}
	s.mu.Unlock()

	if ok {
		if elapsed := now.Sub(prev.at).Seconds(); elapsed > 0 {
			usage.CPUPercent = (seconds - prev.seconds) / elapsed * 100
		}
	}

	return usage, nil
}

// Forget drops the CPU bookkeeping for a pid once its process is gone.
func (s *procfsSampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}
