package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/ingestcore/internal/coreerrors"
)

func fixedMemory(mb int64) func() int64 {
	return func() int64 { return mb * 1024 * 1024 }
}

func TestCheckMemoryWithinBudget(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 1000}, WithMemoryReader(fixedMemory(100)))
	assert.NoError(t, m.CheckMemory(200))
}

func TestCheckMemoryExceedsBudget(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 1000}, WithMemoryReader(fixedMemory(900)))
	err := m.CheckMemory(200)
	require.Error(t, err)
	var exhausted *coreerrors.ResourceExhaustedError
	assert.True(t, errors.As(err, &exhausted))
}

func TestOptimizeBatchSizeCapsToAvailable(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 1000}, WithMemoryReader(fixedMemory(900)))
	// 100MB available, 10MB/item -> fits 10, requested 50
	assert.Equal(t, 10, m.OptimizeBatchSize(50, 10))
}

func TestOptimizeBatchSizeRequestedSmallerThanAvailable(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 1000}, WithMemoryReader(fixedMemory(100)))
	assert.Equal(t, 5, m.OptimizeBatchSize(5, 10))
}

func TestOptimizeBatchSizeNoRoom(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 100}, WithMemoryReader(fixedMemory(200)))
	assert.Equal(t, 0, m.OptimizeBatchSize(10, 5))
}

func TestDeviceFallsBackToCPU(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 100, TargetDevice: "cuda:0", FallbackDevice: "cpu"})
	assert.Equal(t, "cpu", m.Device())
}

func TestExecuteWithResourcesWrapsFailure(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 1000}, WithMemoryReader(fixedMemory(100)))
	_, err := ExecuteWithResources(m, 10, func() (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	var resErr *coreerrors.ResourceError
	assert.True(t, errors.As(err, &resErr))
}

func TestExecuteWithResourcesFailsFastOnMemory(t *testing.T) {
	m := New(Limits{MaxMemoryMB: 100}, WithMemoryReader(fixedMemory(100)))
	called := false
	_, err := ExecuteWithResources(m, 50, func() (int, error) {
		called = true
		return 1, nil
	})
	require.Error(t, err)
	assert.False(t, called)
}
