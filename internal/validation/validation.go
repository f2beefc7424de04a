// Package validation implements the Validation Framework (C4): composable
// validators over content, batches, metadata, and chunks, plus a
// resource-aware validator that escalates after consecutive failures.
package validation

import (
	"fmt"
	"sync"
	"time"

	"github.com/indexforge/ingestcore/internal/chunk"
	"github.com/indexforge/ingestcore/internal/timeutil"
)

// Validator checks a value and returns a list of human-readable violations.
// An empty slice means the value is valid.
type Validator interface {
	Validate(value any) []string
}

// ContentValidator enforces non-empty content within a length bound.
type ContentValidator struct {
	MaxLength int
}

func (v ContentValidator) Validate(value any) []string {
	content, ok := value.(string)
	if !ok {
		return []string{"expected string content"}
	}
	var violations []string
	if content == "" {
		violations = append(violations, "content must not be empty")
	}
	if v.MaxLength > 0 && len(content) > v.MaxLength {
		violations = append(violations, fmt.Sprintf("content exceeds max length %d", v.MaxLength))
	}
	return violations
}

// MetadataValidator restricts metadata values to JSON-primitive types.
type MetadataValidator struct {
	RequiredKeys []string
}

func (v MetadataValidator) Validate(value any) []string {
	meta, ok := value.(map[string]any)
	if !ok {
		return []string{"expected metadata map"}
	}
	var violations []string
	for _, key := range v.RequiredKeys {
		if _, present := meta[key]; !present {
			violations = append(violations, fmt.Sprintf("missing required metadata key %q", key))
		}
	}
	for k, v := range meta {
		if !isJSONPrimitive(v) {
			violations = append(violations, fmt.Sprintf("metadata key %q has unsupported type %T", k, v))
		}
	}
	return violations
}

func isJSONPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return true
	default:
		return false
	}
}

// ChunkValidator composes ContentValidator and MetadataValidator over a
// chunk.Chunk.
type ChunkValidator struct {
	Content  ContentValidator
	Metadata MetadataValidator
}

func (v ChunkValidator) Validate(value any) []string {
	c, ok := value.(chunk.Chunk)
	if !ok {
		return []string{"expected chunk.Chunk"}
	}
	violations := v.Content.Validate(c.Content)
	violations = append(violations, v.Metadata.Validate(c.Metadata)...)
	return violations
}

// BatchValidator enforces batch-size bounds.
type BatchValidator struct {
	MinSize int
	MaxSize int
}

func (v BatchValidator) Validate(value any) []string {
	n, ok := value.(int)
	if !ok {
		return []string{"expected int batch size"}
	}
	var violations []string
	if v.MinSize > 0 && n < v.MinSize {
		violations = append(violations, fmt.Sprintf("batch size %d below minimum %d", n, v.MinSize))
	}
	if v.MaxSize > 0 && n > v.MaxSize {
		violations = append(violations, fmt.Sprintf("batch size %d above maximum %d", n, v.MaxSize))
	}
	return violations
}

// ResourceAwareValidator wraps a Validator with a consecutive-failure
// counter over a recent outcomes window. The counter resets on any
// success; once it reaches MaxConsecutiveFailures, Validate additionally
// reports the escalation so callers can trip a circuit.
type ResourceAwareValidator struct {
	Inner                  Validator
	MaxConsecutiveFailures int
	WindowSize             int

	mu          sync.Mutex
	consecutive int
	recent      []outcome
}

type outcome struct {
	at      time.Time
	success bool
}

// NewResourceAwareValidator wraps inner with consecutive-failure tracking.
func NewResourceAwareValidator(inner Validator, maxConsecutiveFailures, windowSize int) *ResourceAwareValidator {
	return &ResourceAwareValidator{Inner: inner, MaxConsecutiveFailures: maxConsecutiveFailures, WindowSize: windowSize}
}

// Validate runs the inner validator and updates the consecutive-failure
// state. When the threshold is reached it appends an escalation message
// exactly once per threshold crossing (the counter does not re-escalate
// every call while still failing — the caller acts on the first signal and
// the counter keeps accumulating for observability only).
func (v *ResourceAwareValidator) Validate(value any) []string {
	violations := v.Inner.Validate(value)
	success := len(violations) == 0

	v.mu.Lock()
	defer v.mu.Unlock()

	v.recent = append(v.recent, outcome{at: timeutil.NowUTC(), success: success})
	if v.WindowSize > 0 && len(v.recent) > v.WindowSize {
		v.recent = v.recent[len(v.recent)-v.WindowSize:]
	}

	if success {
		v.consecutive = 0
		return violations
	}

	v.consecutive++
	if v.MaxConsecutiveFailures > 0 && v.consecutive == v.MaxConsecutiveFailures {
		violations = append(violations, fmt.Sprintf("resource-aware validator: %d consecutive failures reached", v.consecutive))
	}
	return violations
}

// ConsecutiveFailures returns the current run length of failures.
func (v *ResourceAwareValidator) ConsecutiveFailures() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.consecutive
}

// SuccessRate returns the fraction of successes within the recent window.
func (v *ResourceAwareValidator) SuccessRate() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.recent) == 0 {
		return 1
	}
	successes := 0
	for _, o := range v.recent {
		if o.success {
			successes++
		}
	}
	return float64(successes) / float64(len(v.recent))
}
