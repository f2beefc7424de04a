package batch

import (
	"sort"
	"sync"
)

// PerformanceSample is one completed batch's performance record, the unit
// the adaptive sizer's sliding window is built from.
type PerformanceSample struct {
	BatchSize       int
	DurationSeconds float64
	ObjectsPerSec   float64
	ErrorRate       float64
	MemoryUsageMB   float64
}

// AdaptiveConfig bounds and tunes the sizing algorithm.
type AdaptiveConfig struct {
	MinSize         int
	MaxSize         int
	WindowSize      int
	ShrinkFactor    float64 // applied when error rate is high
	GrowFactor      float64 // applied when throughput is high and errors are low
	ErrorShrinkRate float64 // error-rate threshold that triggers a shrink
	ErrorGrowCeil   float64 // error-rate ceiling below which growth is allowed
	ThroughputFloor float64 // objects/sec threshold that allows growth
}

// Sizer maintains a sliding window of PerformanceSample and computes the
// next adaptive batch size from it, mirroring the median-error/mean-
// throughput thresholds of its grounding source exactly.
type Sizer struct {
	mu      sync.Mutex
	cfg     AdaptiveConfig
	window  []PerformanceSample
	current int
}

// NewSizer creates a Sizer starting at initialSize.
func NewSizer(cfg AdaptiveConfig, initialSize int) *Sizer {
	return &Sizer{cfg: cfg, current: clamp(initialSize, cfg.MinSize, cfg.MaxSize)}
}

// CurrentSize returns the active batch size. Safe to call while concurrent
// dispatch groups are recording samples.
func (s *Sizer) CurrentSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Record appends a completed batch's performance sample to the window,
// trimming to WindowSize, and recomputes CurrentSize. Safe for concurrent
// callers, since the engine's worker pool records samples from more than
// one dispatched group at a time.
func (s *Sizer) Record(sample PerformanceSample) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, sample)
	if s.cfg.WindowSize > 0 && len(s.window) > s.cfg.WindowSize {
		s.window = s.window[len(s.window)-s.cfg.WindowSize:]
	}
	s.current = s.optimize()
	return s.current
}

// optimize implements the adaptive-sizing algorithm: shrink on a high
// median error rate, grow on high mean throughput with a low median error
// rate, otherwise hold steady. Clamped to [MinSize, MaxSize].
//
// With fewer than two samples in the window there is nothing yet to compare
// against, so the size holds unchanged. Once a decision fires, it resizes
// from the most recently recorded batch's size, not the running current
// size, so repeated samples at the same rate don't compound a shrink or
// grow across calls.
func (s *Sizer) optimize() int {
	if len(s.window) < 2 {
		return s.current
	}

	last := s.window[len(s.window)-1]
	medianErr := medianErrorRate(s.window)
	meanThroughput := meanObjectsPerSec(s.window)

	next := s.current
	switch {
	case medianErr > s.cfg.ErrorShrinkRate:
		next = int(float64(last.BatchSize) * s.cfg.ShrinkFactor)
	case meanThroughput > s.cfg.ThroughputFloor && medianErr < s.cfg.ErrorGrowCeil:
		next = int(float64(last.BatchSize) * s.cfg.GrowFactor)
	}

	return clamp(next, s.cfg.MinSize, s.cfg.MaxSize)
}

func medianErrorRate(window []PerformanceSample) float64 {
	rates := make([]float64, len(window))
	for i, s := range window {
		rates[i] = s.ErrorRate
	}
	sort.Float64s(rates)
	n := len(rates)
	if n%2 == 1 {
		return rates[n/2]
	}
	return (rates[n/2-1] + rates[n/2]) / 2
}

func meanObjectsPerSec(window []PerformanceSample) float64 {
	sum := 0.0
	for _, s := range window {
		sum += s.ObjectsPerSec
	}
	return sum / float64(len(window))
}

func clamp(v, lo, hi int) int {
	if lo > 0 && v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// EstimateMemoryMB estimates the memory cost in megabytes of a batch of
// items with combined content length totalChars, following the
// (2*L)/2^20 + 0.5*N estimator: two bytes per character of combined
// content plus a fixed half-megabyte per-item allowance.
func EstimateMemoryMB(totalChars int, itemCount int) float64 {
	return (2.0*float64(totalChars))/1048576.0 + 0.5*float64(itemCount)
}
