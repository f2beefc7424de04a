package batch

import (
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// embeddingMemo caches embedding vectors by an FNV-1a hash of chunk content
// alone (metadata is not part of the key), so repeated identical chunks
// within a dispatch window skip a redundant encode call. Plain
// recency eviction is the right policy here (unlike the Model Cache's
// hit-count-ordered eviction), so hashicorp/golang-lru is used directly.
type embeddingMemo struct {
	cache *lru.Cache[uint64, []float32]
}

func newEmbeddingMemo(size int) *embeddingMemo {
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[uint64, []float32](size)
	return &embeddingMemo{cache: c}
}

func memoKey(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}

func (m *embeddingMemo) get(content string) ([]float32, bool) {
	if m == nil || m.cache == nil {
		return nil, false
	}
	return m.cache.Get(memoKey(content))
}

func (m *embeddingMemo) put(content string, vector []float32) {
	if m == nil || m.cache == nil {
		return
	}
	m.cache.Add(memoKey(content), vector)
}
