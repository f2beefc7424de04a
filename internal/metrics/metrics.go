// Package metrics implements a per-operation ring buffer profiler (C1),
// tracking recent OperationMetric samples and the aggregate stats over them.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/indexforge/ingestcore/internal/timeutil"
)

const defaultCapacity = 1024

// OperationMetric is a single completed-operation sample.
type OperationMetric struct {
	Operation    string
	DurationMS   float64
	Success      bool
	Timestamp    time.Time
	CPUPercent   *float64
	RSSBytes     *int64
	Threads      *int
	IOReadBytes  *int64
	IOWriteBytes *int64
}

// Stats summarizes a window of samples for one operation.
type Stats struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
}

type ring struct {
	mu       sync.Mutex
	samples  []OperationMetric
	capacity int
	next     int
	filled   bool
}

func newRing(capacity int) *ring {
	return &ring{samples: make([]OperationMetric, capacity), capacity: capacity}
}

func (r *ring) push(m OperationMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = m
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
}

func (r *ring) snapshot() []OperationMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]OperationMetric, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]OperationMetric, r.capacity)
	copy(out, r.samples[r.next:])
	copy(out[r.capacity-r.next:], r.samples[:r.next])
	return out
}

// Sink receives completed samples for export to an external system (e.g.
// Prometheus). Implementations must not block the caller for long.
type Sink interface {
	Record(m OperationMetric)
}

// Profiler tracks recent operation samples per operation name.
type Profiler struct {
	mu       sync.RWMutex
	rings    map[string]*ring
	capacity int
	sink     Sink
	sample   func() ResourceSample
}

// ResourceSample is the point-in-time process resource snapshot taken
// alongside a profiled operation. The default sampler fills only RSSBytes
// and Threads (from /proc/self/status, nil where unreadable); CPUPercent
// and the I/O fields are left nil.
type ResourceSample struct {
	CPUPercent   *float64
	RSSBytes     *int64
	Threads      *int
	IOReadBytes  *int64
	IOWriteBytes *int64
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithSink attaches a Sink that receives every completed sample.
func WithSink(sink Sink) Option { return func(p *Profiler) { p.sink = sink } }

// WithCapacity overrides the default ring buffer capacity (1024).
func WithCapacity(capacity int) Option {
	return func(p *Profiler) {
		if capacity > 0 {
			p.capacity = capacity
		}
	}
}

// WithResourceSampler overrides the resource sampling function, primarily
// for tests.
func WithResourceSampler(fn func() ResourceSample) Option {
	return func(p *Profiler) { p.sample = fn }
}

// New creates a Profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{
		rings:    make(map[string]*ring),
		capacity: defaultCapacity,
		sample:   sampleProcessResources,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Profiler) ringFor(operation string) *ring {
	p.mu.RLock()
	r, ok := p.rings[operation]
	p.mu.RUnlock()
	if ok {
		return r
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok = p.rings[operation]; ok {
		return r
	}
	r = newRing(p.capacity)
	p.rings[operation] = r
	return r
}

// Scope is returned by TrackOperation (Profile uses one internally) and
// records the sample when ended.
type Scope struct {
	profiler  *Profiler
	operation string
	start     time.Time
}

// End records the sample for this scope's operation. Call exactly once.
func (s Scope) End(err error) {
	sample := s.profiler.sample()
	m := OperationMetric{
		Operation:    s.operation,
		DurationMS:   float64(timeutil.NowUTC().Sub(s.start).Microseconds()) / 1000.0,
		Success:      err == nil,
		Timestamp:    timeutil.NowUTC(),
		CPUPercent:   sample.CPUPercent,
		RSSBytes:     sample.RSSBytes,
		Threads:      sample.Threads,
		IOReadBytes:  sample.IOReadBytes,
		IOWriteBytes: sample.IOWriteBytes,
	}
	s.profiler.ringFor(s.operation).push(m)
	if s.profiler.sink != nil {
		s.profiler.sink.Record(m)
	}
}

// TrackOperation starts a scope for the named operation.
func (p *Profiler) TrackOperation(operation string) Scope {
	return Scope{profiler: p, operation: operation, start: timeutil.NowUTC()}
}

// Profile runs fn under a tracked scope and returns its error.
func (p *Profiler) Profile(operation string, fn func() error) error {
	scope := p.TrackOperation(operation)
	err := fn()
	scope.End(err)
	return err
}

// Stats computes aggregate statistics over the current window for an
// operation. Returns the zero Stats if no samples exist.
func (p *Profiler) Stats(operation string) Stats {
	samples := p.ringFor(operation).snapshot()
	if len(samples) == 0 {
		return Stats{}
	}

	durations := make([]float64, len(samples))
	sum := 0.0
	for i, s := range samples {
		durations[i] = s.DurationMS
		sum += s.DurationMS
	}
	sort.Float64s(durations)

	return Stats{
		Count:  len(durations),
		Mean:   sum / float64(len(durations)),
		Median: median(durations),
		Min:    durations[0],
		Max:    durations[len(durations)-1],
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
