package common

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is how many recent decode durations feed the latency summary.
const latencyWindow = 256

// PerformanceMetrics defines the interface for performance tracking
type PerformanceMetrics interface {
	GetMetrics() map[string]interface{}
}

// BaseMetrics provides common fields used across different metrics types
type BaseMetrics struct {
	TotalOperations int64
	SuccessfulOps   int64
	FailedOps       int64
	LastOperation   time.Time
	Mu              sync.RWMutex
}

// UpdateBaseMetrics updates common metrics fields
func (bm *BaseMetrics) UpdateBaseMetrics(success bool) {
	bm.Mu.Lock()
	defer bm.Mu.Unlock()

	bm.TotalOperations++
	if success {
		bm.SuccessfulOps++
	} else {
		bm.FailedOps++
	}
	bm.LastOperation = time.Now()
}

// GetBaseMetrics returns the common metrics as a map
func (bm *BaseMetrics) GetBaseMetrics() map[string]interface{} {
	bm.Mu.RLock()
	defer bm.Mu.RUnlock()

	return map[string]interface{}{
		"total_operations": bm.TotalOperations,
		"successful_ops":   bm.SuccessfulOps,
		"failed_ops":       bm.FailedOps,
		"last_operation":   bm.LastOperation,
	}
}

// PrefetchMetrics tracks prefetch cache activity in process. The base
// counters count decodes; the remaining fields count Get outcomes.
type PrefetchMetrics struct {
	BaseMetrics
	Hits      int64 // served from the completed cache
	Waits     int64 // blocked on an existing load handle
	Misses    int64 // had to submit a load before waiting
	Evictions int64
	Pending   int
	Completed int

	latencies []float64 // milliseconds, ring of latencyWindow entries
	next      int
}

// NewPrefetchMetrics creates an empty PrefetchMetrics.
func NewPrefetchMetrics() *PrefetchMetrics {
	return &PrefetchMetrics{latencies: make([]float64, 0, latencyWindow)}
}

func (pm *PrefetchMetrics) ObserveHit() {
	pm.Mu.Lock()
	pm.Hits++
	pm.Mu.Unlock()
}

func (pm *PrefetchMetrics) ObserveWait() {
	pm.Mu.Lock()
	pm.Waits++
	pm.Mu.Unlock()
}

func (pm *PrefetchMetrics) ObserveMiss() {
	pm.Mu.Lock()
	pm.Misses++
	pm.Mu.Unlock()
}

// ObserveDecode records one finished decode and its duration.
func (pm *PrefetchMetrics) ObserveDecode(duration time.Duration, err error) {
	pm.UpdateBaseMetrics(err == nil)

	pm.Mu.Lock()
	defer pm.Mu.Unlock()

	ms := float64(duration) / float64(time.Millisecond)
	if len(pm.latencies) < latencyWindow {
		pm.latencies = append(pm.latencies, ms)
		return
	}
	pm.latencies[pm.next] = ms
	pm.next = (pm.next + 1) % latencyWindow
}

func (pm *PrefetchMetrics) ObserveEviction(n int) {
	pm.Mu.Lock()
	pm.Evictions += int64(n)
	pm.Mu.Unlock()
}

func (pm *PrefetchMetrics) SetWarm(pending, completed int) {
	pm.Mu.Lock()
	pm.Pending = pending
	pm.Completed = completed
	pm.Mu.Unlock()
}

// DecodeLatency returns mean and standard deviation in milliseconds over the
// most recent decodes.
func (pm *PrefetchMetrics) DecodeLatency() (mean, stddev float64) {
	pm.Mu.RLock()
	defer pm.Mu.RUnlock()

	switch len(pm.latencies) {
	case 0:
		return 0, 0
	case 1:
		return pm.latencies[0], 0
	}
	return stat.MeanStdDev(pm.latencies, nil)
}

// GetMetrics returns prefetch metrics as a map
func (pm *PrefetchMetrics) GetMetrics() map[string]interface{} {
	metrics := pm.GetBaseMetrics()
	mean, stddev := pm.DecodeLatency()

	pm.Mu.RLock()
	defer pm.Mu.RUnlock()

	metrics["hits"] = pm.Hits
	metrics["waits"] = pm.Waits
	metrics["misses"] = pm.Misses
	metrics["evictions"] = pm.Evictions
	metrics["pending"] = pm.Pending
	metrics["completed"] = pm.Completed
	metrics["decode_ms_mean"] = mean
	metrics["decode_ms_stddev"] = stddev
	return metrics
}
