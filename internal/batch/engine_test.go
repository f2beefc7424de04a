package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/ingestcore/internal/chunk"
	"github.com/indexforge/ingestcore/internal/metrics"
	"github.com/indexforge/ingestcore/internal/resource"
	"github.com/indexforge/ingestcore/internal/vectorstore"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted [][]vectorstore.BatchObject
	fail     bool
}

func (f *fakeStore) Create(ctx context.Context, collection string, obj map[string]any, id *string) (string, error) {
	return "", nil
}
func (f *fakeStore) Get(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	return nil, false, nil
}
func (f *fakeStore) Update(ctx context.Context, collection, id string, obj map[string]any) (bool, error) {
	return false, nil
}
func (f *fakeStore) Delete(ctx context.Context, collection, id string) (bool, error) { return false, nil }
func (f *fakeStore) BatchInsert(ctx context.Context, collection string, items []vectorstore.BatchObject, size int, dynamic bool) ([]chunk.ItemOutcome, error) {
	f.mu.Lock()
	f.inserted = append(f.inserted, items)
	f.mu.Unlock()
	outcomes := make([]chunk.ItemOutcome, len(items))
	for i, item := range items {
		outcomes[i] = chunk.ItemOutcome{ID: item.ID, Success: !f.fail}
	}
	return outcomes, nil
}
func (f *fakeStore) BatchDelete(ctx context.Context, collection string, ids []string, size int) ([]chunk.ItemOutcome, error) {
	return nil, nil
}
func (f *fakeStore) Search(ctx context.Context, collection string, query vectorstore.Query, limit int, cursor *string) (vectorstore.SearchResult, error) {
	return vectorstore.SearchResult{}, nil
}
func (f *fakeStore) Stats(ctx context.Context, collection string) (chunk.DocumentStats, error) {
	return chunk.DocumentStats{}, nil
}
func (f *fakeStore) HealthCheck(ctx context.Context) bool { return true }

type fakeEmbedder struct {
	callsN atomic.Int32
}

func (f *fakeEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	f.callsN.Add(1)
	return []float32{1, 2, 3}, nil
}
func (f *fakeEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Close() error   { return nil }

func testEngine(store *fakeStore, embedder *fakeEmbedder) *Engine {
	resMgr := resource.New(resource.Limits{MaxMemoryMB: 100000})
	profiler := metrics.New(metrics.WithResourceSampler(func() metrics.ResourceSample { return metrics.ResourceSample{} }))
	cfg := EngineConfig{
		Adaptive: AdaptiveConfig{
			MinSize: 1, MaxSize: 100, WindowSize: 10,
			ShrinkFactor: 0.8, GrowFactor: 1.2,
			ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100,
		},
		InitialSize:   5,
		MemoCacheSize: 128,
	}
	return New(store, embedder, resMgr, profiler, cfg)
}

func makeChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{NaturalKey: "doc", Content: "hello world"}
	}
	return chunks
}

func TestDispatchSucceeds(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e := testEngine(store, embedder)

	result, err := e.Dispatch(context.Background(), "docs", makeChunks(3))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Submitted)
	assert.Equal(t, 3, result.Succeeded)
}

func TestDispatchReportsNotFoundAfterWrite(t *testing.T) {
	store := &fakeStore{fail: true}
	embedder := &fakeEmbedder{}
	e := testEngine(store, embedder)

	result, err := e.Dispatch(context.Background(), "docs", makeChunks(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.NotEmpty(t, result.Errors)
}

func TestDispatchSplitsBySizeBoundary(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e := testEngine(store, embedder)
	e.sizer.current = 2 // force multiple sub-batches for 5 items

	result, err := e.Dispatch(context.Background(), "docs", makeChunks(5))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Submitted)
	assert.True(t, len(store.inserted) >= 3)
}

func TestDispatchUsesMemoCacheForIdenticalContent(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e := testEngine(store, embedder)

	chunks := []chunk.Chunk{
		{NaturalKey: "a", Content: "same text"},
		{NaturalKey: "b", Content: "same text"},
	}
	_, err := e.Dispatch(context.Background(), "docs", chunks)
	require.NoError(t, err)
	assert.Equal(t, int32(1), embedder.callsN.Load(), "second identical chunk should hit the memo cache")
}

// tightMemoryEngine forces splitForMemory to fragment every multi-item
// sub-batch down to single-item groups, so dispatchGroups actually has
// several groups to fan out across the worker pool.
func tightMemoryEngine(store *fakeStore, embedder *fakeEmbedder, concurrency int) *Engine {
	resMgr := resource.New(resource.Limits{MaxMemoryMB: 0}, resource.WithMemoryReader(func() int64 { return 0 }))
	profiler := metrics.New(metrics.WithResourceSampler(func() metrics.ResourceSample { return metrics.ResourceSample{} }))
	cfg := EngineConfig{
		Adaptive: AdaptiveConfig{
			MinSize: 1, MaxSize: 100, WindowSize: 10,
			ShrinkFactor: 0.8, GrowFactor: 1.2,
			ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100,
		},
		InitialSize:   8,
		MemoCacheSize: 128,
		Concurrency:   concurrency,
	}
	e := New(store, embedder, resMgr, profiler, cfg)
	e.sizer.current = 8
	return e
}

func TestDispatchConcurrentGroupsAllSucceed(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e := tightMemoryEngine(store, embedder, 4)

	result, err := e.Dispatch(context.Background(), "docs", makeChunks(8))
	require.NoError(t, err)
	assert.Equal(t, 8, result.Submitted)
	assert.Equal(t, 8, result.Succeeded)
	assert.Len(t, store.inserted, 8)
}

func TestDispatchConcurrentGroupsReportsFailuresFromEveryGroup(t *testing.T) {
	store := &fakeStore{fail: true}
	embedder := &fakeEmbedder{}
	e := tightMemoryEngine(store, embedder, 4)

	result, err := e.Dispatch(context.Background(), "docs", makeChunks(6))
	require.NoError(t, err)
	assert.Equal(t, 6, result.Failed)
}

func TestDispatchSkipsEncodeWhenVectorPresent(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	e := testEngine(store, embedder)

	chunks := []chunk.Chunk{{NaturalKey: "a", Content: "x", Vector: []float32{9, 9}}}
	_, err := e.Dispatch(context.Background(), "docs", chunks)
	require.NoError(t, err)
	assert.Equal(t, int32(0), embedder.callsN.Load())
}

func TestAdaptiveSizerHoldsOnFirstSample(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 100)
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.5, ObjectsPerSec: 10})
	assert.Equal(t, 100, s.CurrentSize(), "a single sample has nothing to compare against yet")
}

func TestAdaptiveSizerShrinksOnHighErrorRate(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 100)
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.5, ObjectsPerSec: 10})
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.5, ObjectsPerSec: 10})
	assert.Equal(t, 80, s.CurrentSize())
}

func TestAdaptiveSizerShrinkDoesNotCompoundAcrossSamples(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 50)
	for i := 0; i < 5; i++ {
		s.Record(PerformanceSample{BatchSize: 50, ErrorRate: 0.3, ObjectsPerSec: 10})
	}
	assert.Equal(t, 40, s.CurrentSize())
}

func TestAdaptiveSizerGrowsOnHighThroughputLowError(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 100)
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.0, ObjectsPerSec: 200})
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.0, ObjectsPerSec: 200})
	assert.Equal(t, 120, s.CurrentSize())
}

func TestAdaptiveSizerGrowDoesNotCompoundAcrossSamples(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 50)
	for i := 0; i < 5; i++ {
		s.Record(PerformanceSample{BatchSize: 50, ErrorRate: 0.0, ObjectsPerSec: 200})
	}
	assert.Equal(t, 60, s.CurrentSize())
}

func TestAdaptiveSizerHoldsSteadyOtherwise(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 1, MaxSize: 1000, WindowSize: 5, ShrinkFactor: 0.8, GrowFactor: 1.2, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 100}
	s := NewSizer(cfg, 100)
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.07, ObjectsPerSec: 50})
	s.Record(PerformanceSample{BatchSize: 100, ErrorRate: 0.07, ObjectsPerSec: 50})
	assert.Equal(t, 100, s.CurrentSize())
}

func TestAdaptiveSizerClampsToBounds(t *testing.T) {
	cfg := AdaptiveConfig{MinSize: 10, MaxSize: 20, WindowSize: 5, ShrinkFactor: 0.1, GrowFactor: 5, ErrorShrinkRate: 0.10, ErrorGrowCeil: 0.05, ThroughputFloor: 1}
	s := NewSizer(cfg, 15)
	s.Record(PerformanceSample{BatchSize: 15, ErrorRate: 0.0, ObjectsPerSec: 1000})
	s.Record(PerformanceSample{BatchSize: 15, ErrorRate: 0.0, ObjectsPerSec: 1000})
	assert.Equal(t, 20, s.CurrentSize())
}

func TestEstimateMemoryMB(t *testing.T) {
	got := EstimateMemoryMB(1048576, 4) // 1 MiB of chars
	assert.InDelta(t, 2.0+2.0, got, 0.001)
}

func TestResolveIDDeterministicForSameNaturalKey(t *testing.T) {
	id1, err := ResolveID("", "doc-1")
	require.NoError(t, err)
	id2, err := ResolveID("", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestResolveIDRandomWithoutNaturalKey(t *testing.T) {
	id1, err := ResolveID("", "")
	require.NoError(t, err)
	id2, err := ResolveID("", "")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestResolveIDRejectsInvalidSuppliedID(t *testing.T) {
	_, err := ResolveID("not-a-uuid", "")
	assert.Error(t, err)
}
