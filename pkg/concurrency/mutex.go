package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashwheel/timer/pkg/logger"
)

// MutexConfig controls the observability behavior of a SmartMutex.
type MutexConfig struct {
	// Name identifies this mutex in logs (only used in DebugMode).
	Name string

	// SlowThreshold logs a warning if the lock is held longer than this
	// (only in DebugMode). Default: 100ms.
	SlowThreshold time.Duration

	// DebugMode enables caller tracking and slow-lock logging. It adds
	// runtime.Caller overhead to every Lock(), so leave it off in
	// production and flip it on only while chasing contention.
	DebugMode bool
}

// SmartMutex is a sync.Mutex that can report when it is held longer than
// SlowThreshold. The scheduler facade uses one to guard its id-to-handle
// map: a goroutine stuck there would otherwise silently stall fixed-rate
// rescheduling with no diagnostic trail.
type SmartMutex struct {
	mu       sync.Mutex
	config   MutexConfig
	holder   atomic.Value // string
	lockedAt atomic.Int64 // UnixMilli
}

func NewSmartMutex(cfg MutexConfig) *SmartMutex {
	if cfg.SlowThreshold == 0 {
		cfg.SlowThreshold = 100 * time.Millisecond
	}
	return &SmartMutex{config: cfg}
}

func (m *SmartMutex) Lock() {
	m.mu.Lock()
	if !m.config.DebugMode {
		return
	}
	m.lockedAt.Store(time.Now().UnixMilli())
	if _, file, line, ok := runtime.Caller(1); ok {
		m.holder.Store(fmt.Sprintf("%s:%d", file, line))
	}
}

func (m *SmartMutex) Unlock() {
	if !m.config.DebugMode {
		m.mu.Unlock()
		return
	}
	start := m.lockedAt.Load()
	duration := time.Since(time.UnixMilli(start))
	holder := m.holder.Load()
	m.mu.Unlock()
	if duration > m.config.SlowThreshold {
		logger.L().Warn("SmartMutex held too long",
			"name", m.config.Name, "duration", duration, "caller", holder)
	}
}
