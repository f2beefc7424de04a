// Package batch implements the Dynamic Batch Engine (C7): adaptive batch
// sizing, memory-aware recursive splitting, deterministic/random item ID
// resolution, and the dispatch protocol (encode -> write -> verify) against
// a VectorStore.
package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/indexforge/ingestcore/internal/chunk"
	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/embedding"
	"github.com/indexforge/ingestcore/internal/metrics"
	"github.com/indexforge/ingestcore/internal/resource"
	"github.com/indexforge/ingestcore/internal/timeutil"
	"github.com/indexforge/ingestcore/internal/vectorstore"
	"github.com/indexforge/ingestcore/internal/worker"
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	Adaptive      AdaptiveConfig
	InitialSize   int
	MemoCacheSize int
	ItemMemoryMB  float64 // per-item memory ceiling used by OptimizeBatchSize
	Concurrency   int     // number of sub-batch groups dispatched in parallel; 1 disables pooling
}

// Engine dispatches chunks to a VectorStore in adaptively-sized batches.
type Engine struct {
	store    vectorstore.Store
	embedder embedding.Model
	resource *resource.Manager
	profiler *metrics.Profiler
	sizer    *Sizer
	memo     *embeddingMemo
	cfg      EngineConfig
}

// New creates an Engine.
func New(store vectorstore.Store, embedder embedding.Model, resMgr *resource.Manager, profiler *metrics.Profiler, cfg EngineConfig) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		resource: resMgr,
		profiler: profiler,
		sizer:    NewSizer(cfg.Adaptive, cfg.InitialSize),
		memo:     newEmbeddingMemo(cfg.MemoCacheSize),
		cfg:      cfg,
	}
}

// CurrentBatchSize exposes the engine's current adaptive size.
func (e *Engine) CurrentBatchSize() int { return e.sizer.CurrentSize() }

// Dispatch indexes chunks into collection, splitting into adaptively-sized
// (and, when necessary, memory-bounded) sub-batches, verifying writes, and
// feeding the outcome back into the adaptive sizer.
func (e *Engine) Dispatch(ctx context.Context, collection string, chunks []chunk.Chunk) (chunk.BatchResult, error) {
	scope := e.profiler.TrackOperation("batch.dispatch")
	var dispatchErr error
	defer func() { scope.End(dispatchErr) }()

	result := chunk.BatchResult{}
	size := e.sizer.CurrentSize()
	if e.cfg.ItemMemoryMB > 0 {
		if optimized := e.resource.OptimizeBatchSize(size, e.cfg.ItemMemoryMB); optimized > 0 {
			size = optimized
		}
	}

	for start := 0; start < len(chunks); start += size {
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		sub := chunks[start:end]

		sub, err := e.splitForMemory(sub)
		if err != nil {
			dispatchErr = err
			return result, err
		}

		groupResult, err := e.dispatchGroups(ctx, collection, sub)
		result.Submitted += groupResult.Submitted
		result.Succeeded += groupResult.Succeeded
		result.Failed += groupResult.Failed
		result.Outcomes = append(result.Outcomes, groupResult.Outcomes...)
		result.Errors = append(result.Errors, groupResult.Errors...)
		if err != nil {
			dispatchErr = err
			return result, err
		}
	}

	return result, nil
}

// dispatchGroupJob adapts a single dispatchOne call into a worker.Job so
// independent sub-batch groups can be written to the store concurrently.
type dispatchGroupJob struct {
	engine     *Engine
	ctx        context.Context
	collection string
	items      []chunk.Chunk
	resultOut  *chunk.BatchResult
	errOut     *error
	mu         *sync.Mutex
}

type dispatchGroupResult struct{ err error }

func (r dispatchGroupResult) Error() error { return r.err }

func (j dispatchGroupJob) Execute(ctx context.Context) worker.Result {
	groupResult, err := j.engine.dispatchOne(j.ctx, j.collection, j.items)

	j.mu.Lock()
	j.resultOut.Submitted += groupResult.Submitted
	j.resultOut.Succeeded += groupResult.Succeeded
	j.resultOut.Failed += groupResult.Failed
	j.resultOut.Outcomes = append(j.resultOut.Outcomes, groupResult.Outcomes...)
	j.resultOut.Errors = append(j.resultOut.Errors, groupResult.Errors...)
	if err != nil && *j.errOut == nil {
		*j.errOut = err
	}
	j.mu.Unlock()

	return dispatchGroupResult{err: err}
}

// dispatchGroups writes each memory-bounded group to the store, fanning out
// across a bounded worker pool when the engine is configured for
// concurrency greater than one. All groups run to completion even if one
// fails; the first error encountered is returned alongside the combined
// result so partial progress is never discarded.
func (e *Engine) dispatchGroups(ctx context.Context, collection string, groups [][]chunk.Chunk) (chunk.BatchResult, error) {
	var result chunk.BatchResult
	var firstErr error

	concurrency := e.cfg.Concurrency
	if concurrency <= 1 || len(groups) <= 1 {
		for _, group := range groups {
			groupResult, err := e.dispatchOne(ctx, collection, group)
			result.Submitted += groupResult.Submitted
			result.Succeeded += groupResult.Succeeded
			result.Failed += groupResult.Failed
			result.Outcomes = append(result.Outcomes, groupResult.Outcomes...)
			result.Errors = append(result.Errors, groupResult.Errors...)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return result, firstErr
	}

	var mu sync.Mutex
	if concurrency > len(groups) {
		concurrency = len(groups)
	}
	queue := make(chan worker.Job, len(groups))
	for _, group := range groups {
		queue <- dispatchGroupJob{engine: e, ctx: ctx, collection: collection, items: group, resultOut: &result, errOut: &firstErr, mu: &mu}
	}
	close(queue)

	wg := worker.SpawnPool(ctx, concurrency, queue, nil)
	wg.Wait()

	return result, firstErr
}

// splitForMemory recursively halves a batch until its estimated memory
// cost fits the resource manager's current budget, following the
// memory-aware splitting contract: a single-item batch is always
// dispatched as-is even if it alone would exceed the ceiling, to guarantee
// forward progress.
func (e *Engine) splitForMemory(items []chunk.Chunk) ([][]chunk.Chunk, error) {
	if len(items) <= 1 {
		return [][]chunk.Chunk{items}, nil
	}

	totalChars := 0
	for _, c := range items {
		totalChars += len(c.Content)
	}
	estimatedMB := EstimateMemoryMB(totalChars, len(items))

	if err := e.resource.CheckMemory(int(estimatedMB)); err == nil {
		return [][]chunk.Chunk{items}, nil
	}

	mid := len(items) / 2
	left, err := e.splitForMemory(items[:mid])
	if err != nil {
		return nil, err
	}
	right, err := e.splitForMemory(items[mid:])
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (e *Engine) dispatchOne(ctx context.Context, collection string, items []chunk.Chunk) (chunk.BatchResult, error) {
	objects := make([]vectorstore.BatchObject, 0, len(items))
	result := chunk.BatchResult{Submitted: len(items)}

	start := timeutil.NowUTC()
	errCount := 0

	for _, c := range items {
		id, err := ResolveID(c.ID, c.NaturalKey)
		if err != nil {
			errCount++
			result.Errors = append(result.Errors, fmt.Errorf("resolve id: %w", err))
			continue
		}

		vector := c.Vector
		if len(vector) == 0 && e.embedder != nil {
			if cached, ok := e.memo.get(c.Content); ok {
				vector = cached
			} else {
				vector, err = e.embedder.Encode(ctx, c.Content)
				if err != nil {
					errCount++
					result.Errors = append(result.Errors, fmt.Errorf("encode chunk %s: %w", id, err))
					continue
				}
				e.memo.put(c.Content, vector)
			}
		}

		objects = append(objects, vectorstore.BatchObject{
			ID:     id,
			Vector: vector,
			Object: withContent(c),
		})
	}

	outcomes, err := e.store.BatchInsert(ctx, collection, objects, len(objects), true)
	duration := timeutil.NowUTC().Sub(start).Seconds()
	if err != nil {
		return result, coreerrors.NewVectorStoreError("batch_insert", err)
	}

	for _, o := range outcomes {
		result.Outcomes = append(result.Outcomes, o)
		if o.Success {
			result.Succeeded++
		} else {
			result.Failed++
			errCount++
			if o.Err != nil {
				result.Errors = append(result.Errors, o.Err)
			} else {
				result.Errors = append(result.Errors, coreerrors.NewNotFoundAfterWriteError(o.ID))
			}
		}
	}

	totalChars := 0
	for _, c := range items {
		totalChars += len(c.Content)
	}

	errorRate := 0.0
	if len(items) > 0 {
		errorRate = float64(errCount) / float64(len(items))
	}
	objectsPerSec := 0.0
	if duration > 0 {
		objectsPerSec = float64(len(items)) / duration
	}

	e.sizer.Record(PerformanceSample{
		BatchSize:       len(items),
		DurationSeconds: duration,
		ObjectsPerSec:   objectsPerSec,
		ErrorRate:       errorRate,
		MemoryUsageMB:   EstimateMemoryMB(totalChars, len(items)),
	})

	return result, nil
}

func withContent(c chunk.Chunk) map[string]any {
	obj := make(map[string]any, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		obj[k] = v
	}
	obj["content"] = c.Content
	return obj
}
