package acp

import (
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Health is the process-wide admission health derived from resource
// thresholds (spec §4.5).
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// ResourceGuardConfig holds the process-wide limits (spec §4.5 defaults).
type ResourceGuardConfig struct {
	MaxConcurrentSessions  int64
	MaxConcurrentOperations int64
	MemoryWarningMiB       uint64
	MemoryCriticalMiB      uint64
}

// DefaultResourceGuardConfig returns the spec's tuned defaults.
func DefaultResourceGuardConfig() ResourceGuardConfig {
	return ResourceGuardConfig{
		MaxConcurrentSessions:   100,
		MaxConcurrentOperations: 50,
		MemoryWarningMiB:        512,
		MemoryCriticalMiB:       768,
	}
}

// MemSampler reports the process's current resident memory in bytes. The
// default implementation samples runtime.MemStats; tests substitute a
// deterministic fake.
type MemSampler func() uint64

func defaultMemSampler() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Sys
}

// ResourceGuard is the process-wide admission controller bounding
// concurrent sessions, in-flight operations, and memory pressure
// (spec §4.5). A denied admission is immediate; there is no wait queue.
type ResourceGuard struct {
	cfg ResourceGuardConfig

	sessionSem *semaphore.Weighted
	opSem      *semaphore.Weighted

	mu           sync.Mutex
	sessionCount int64
	opCount      int64

	sampleMem MemSampler
	gcHook    func()
}

// NewResourceGuard builds a guard with the given config. gcHook, if
// non-nil, is invoked when RSS exceeds the critical threshold (spec §4.5);
// it is typically runtime.GC or nil in tests. A zero memory threshold takes
// the default from DefaultResourceGuardConfig.
func NewResourceGuard(cfg ResourceGuardConfig, gcHook func()) *ResourceGuard {
	defaults := DefaultResourceGuardConfig()
	if cfg.MemoryWarningMiB == 0 {
		cfg.MemoryWarningMiB = defaults.MemoryWarningMiB
	}
	if cfg.MemoryCriticalMiB == 0 {
		cfg.MemoryCriticalMiB = defaults.MemoryCriticalMiB
	}
	return &ResourceGuard{
		cfg:        cfg,
		sessionSem: semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		opSem:      semaphore.NewWeighted(cfg.MaxConcurrentOperations),
		sampleMem:  defaultMemSampler,
		gcHook:     gcHook,
	}
}

// SetMemSampler overrides the memory sampling function (test hook).
func (g *ResourceGuard) SetMemSampler(fn MemSampler) { g.sampleMem = fn }

// Health reports the current process health.
func (g *ResourceGuard) Health() Health {
	mib := g.sampleMem() / (1024 * 1024)
	switch {
	case mib >= g.cfg.MemoryCriticalMiB:
		return HealthCritical
	case mib >= g.cfg.MemoryWarningMiB:
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// CanStartOperation reports whether admission would currently succeed,
// without reserving a slot (spec §4.5).
func (g *ResourceGuard) CanStartOperation() bool {
	if g.Health() == HealthCritical {
		if g.gcHook != nil {
			g.gcHook()
		}
		if g.Health() == HealthCritical {
			return false
		}
	}
	return g.remainingOps() > 0
}

func (g *ResourceGuard) remainingOps() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.MaxConcurrentOperations - g.opCount
}

// StartOperation atomically reserves an operation slot, returning false if
// denied (memory critical, or at capacity). finish() releases the slot and
// must be called exactly once per successful StartOperation.
func (g *ResourceGuard) StartOperation() (ok bool, finish func()) {
	if g.Health() == HealthCritical {
		if g.gcHook != nil {
			g.gcHook()
		}
		if g.Health() == HealthCritical {
			return false, func() {}
		}
	}

	if !g.opSem.TryAcquire(1) {
		return false, func() {}
	}
	g.mu.Lock()
	g.opCount++
	g.mu.Unlock()

	var once sync.Once
	return true, func() {
		once.Do(func() {
			g.mu.Lock()
			g.opCount--
			g.mu.Unlock()
			g.opSem.Release(1)
		})
	}
}

// StartSession reserves a session slot, returning false if the fleet is at
// MaxConcurrentSessions.
func (g *ResourceGuard) StartSession() (ok bool, finish func()) {
	if !g.sessionSem.TryAcquire(1) {
		return false, func() {}
	}
	g.mu.Lock()
	g.sessionCount++
	g.mu.Unlock()

	var once sync.Once
	return true, func() {
		once.Do(func() {
			g.mu.Lock()
			g.sessionCount--
			g.mu.Unlock()
			g.sessionSem.Release(1)
		})
	}
}

// ActiveSessions and ActiveOperations report current counters (diagnostics).
func (g *ResourceGuard) ActiveSessions() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionCount
}

func (g *ResourceGuard) ActiveOperations() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opCount
}
