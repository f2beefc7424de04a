package mlservice

import (
	"context"
	"fmt"

	"github.com/indexforge/ingestcore/internal/coreerrors"
)

// TextAnnotator is the capability a TextProcessor delegates lexical
// analysis to (satisfied by internal/textmodel adapters).
type TextAnnotator interface {
	Annotate(ctx context.Context, text string) (any, error)
	Close() error
}

// EmbeddingEncoder is the capability an EmbeddingProcessor delegates vector
// generation to (satisfied by internal/embedding adapters).
type EmbeddingEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// TextProcessor fulfils Processor for ProcessingParameters.
type TextProcessor struct {
	annotator TextAnnotator
}

func (p *TextProcessor) Process(ctx context.Context, input string) (any, error) {
	return p.annotator.Annotate(ctx, input)
}

func (p *TextProcessor) Close() error { return p.annotator.Close() }

// EmbeddingProcessor fulfils Processor for EmbeddingParameters.
type EmbeddingProcessor struct {
	encoder   EmbeddingEncoder
	dimension int
}

func (p *EmbeddingProcessor) Process(ctx context.Context, input string) (any, error) {
	vec, err := p.encoder.Encode(ctx, input)
	if err != nil {
		return nil, err
	}
	if p.dimension > 0 && len(vec) != p.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d want %d", len(vec), p.dimension)
	}
	return vec, nil
}

func (p *EmbeddingProcessor) Close() error { return p.encoder.Close() }

// NewFactory builds a ProcessorFactory that dispatches on the concrete
// type of Parameters, constructing a TextProcessor for
// ProcessingParameters or an EmbeddingProcessor for EmbeddingParameters —
// the Go tagged-variant replacement for isinstance-based dispatch.
func NewFactory(annotatorFor func(ProcessingParameters) (TextAnnotator, error), encoderFor func(EmbeddingParameters) (EmbeddingEncoder, error)) ProcessorFactory {
	return func(ctx context.Context, params Parameters) (Processor, error) {
		switch p := params.(type) {
		case ProcessingParameters:
			annotator, err := annotatorFor(p)
			if err != nil {
				return nil, coreerrors.NewModelLoadError("mlservice", "failed to load text annotator", err)
			}
			return &TextProcessor{annotator: annotator}, nil
		case EmbeddingParameters:
			encoder, err := encoderFor(p)
			if err != nil {
				return nil, coreerrors.NewModelLoadError("mlservice", "failed to load embedding encoder", err)
			}
			return &EmbeddingProcessor{encoder: encoder, dimension: p.Dimension}, nil
		default:
			return nil, coreerrors.NewInvalidParametersError("mlservice", fmt.Sprintf("unsupported parameters type %T", params))
		}
	}
}
