package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/indexforge/ingestcore/internal/chunk"
)

func TestContentValidatorEmpty(t *testing.T) {
	v := ContentValidator{MaxLength: 10}
	assert.NotEmpty(t, v.Validate(""))
}

func TestContentValidatorTooLong(t *testing.T) {
	v := ContentValidator{MaxLength: 3}
	assert.NotEmpty(t, v.Validate("abcdef"))
}

func TestContentValidatorOK(t *testing.T) {
	v := ContentValidator{MaxLength: 10}
	assert.Empty(t, v.Validate("hello"))
}

func TestMetadataValidatorMissingKey(t *testing.T) {
	v := MetadataValidator{RequiredKeys: []string{"source"}}
	assert.NotEmpty(t, v.Validate(map[string]any{}))
}

func TestMetadataValidatorBadType(t *testing.T) {
	v := MetadataValidator{}
	assert.NotEmpty(t, v.Validate(map[string]any{"x": []int{1, 2}}))
}

func TestChunkValidatorComposes(t *testing.T) {
	v := ChunkValidator{Content: ContentValidator{MaxLength: 100}, Metadata: MetadataValidator{RequiredKeys: []string{"source"}}}
	violations := v.Validate(chunk.Chunk{Content: "", Metadata: map[string]any{}})
	assert.Len(t, violations, 2)
}

func TestBatchValidatorBounds(t *testing.T) {
	v := BatchValidator{MinSize: 1, MaxSize: 100}
	assert.NotEmpty(t, v.Validate(0))
	assert.NotEmpty(t, v.Validate(101))
	assert.Empty(t, v.Validate(50))
}

func TestResourceAwareValidatorResetsOnSuccess(t *testing.T) {
	inner := ContentValidator{}
	rav := NewResourceAwareValidator(inner, 3, 10)

	rav.Validate("")
	rav.Validate("")
	assert.Equal(t, 2, rav.ConsecutiveFailures())

	rav.Validate("ok")
	assert.Equal(t, 0, rav.ConsecutiveFailures())
}

func TestResourceAwareValidatorEscalatesAtThreshold(t *testing.T) {
	inner := ContentValidator{}
	rav := NewResourceAwareValidator(inner, 2, 10)

	rav.Validate("")
	violations := rav.Validate("")
	found := false
	for _, v := range violations {
		if v == "resource-aware validator: 2 consecutive failures reached" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResourceAwareValidatorSuccessRate(t *testing.T) {
	inner := ContentValidator{}
	rav := NewResourceAwareValidator(inner, 100, 4)

	rav.Validate("ok")
	rav.Validate("ok")
	rav.Validate("")
	rav.Validate("")
	assert.InDelta(t, 0.5, rav.SuccessRate(), 0.001)
}
