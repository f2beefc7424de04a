// Package mlservice implements the ML Service Lifecycle (C6): a state
// machine (Uninitialized -> Initializing -> Running -> Stopped, with Error
// reachable from any state) wrapping a Processor selected by parameter type.
package mlservice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/indexforge/ingestcore/internal/coreerrors"
)

// State names a lifecycle stage.
type State int

const (
	Uninitialized State = iota
	Initializing
	Running
	Stopped
	ErrorState
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Parameters is the marker interface processor configs implement; the
// concrete type selects which Processor initialize() constructs.
type Parameters interface {
	isProcessorParameters()
}

// ProcessingParameters configures a TextProcessor.
type ProcessingParameters struct {
	ModelName string
	Options   map[string]any
}

func (ProcessingParameters) isProcessorParameters() {}

// EmbeddingParameters configures an EmbeddingProcessor.
type EmbeddingParameters struct {
	ModelName string
	Dimension int
}

func (EmbeddingParameters) isProcessorParameters() {}

// Processor is the unit of work a running Service delegates to.
type Processor interface {
	Process(ctx context.Context, input string) (any, error)
	Close() error
}

// ProcessorFactory constructs a Processor for the given parameters.
type ProcessorFactory func(ctx context.Context, params Parameters) (Processor, error)

// Service wraps a Processor behind the lifecycle state machine.
type Service struct {
	name    string
	factory ProcessorFactory

	mu        sync.Mutex
	state     State
	processor Processor
	errReason string
}

// New creates a Service in the Uninitialized state.
func New(name string, factory ProcessorFactory) *Service {
	return &Service{name: name, factory: factory, state: Uninitialized}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize constructs the Processor for params. Calling it again while
// Running logs a warning and is otherwise a no-op; calling it while in
// ErrorState is rejected.
func (s *Service) Initialize(ctx context.Context, params Parameters) error {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		slog.Warn("service already running; initialize ignored", "service", s.name)
		return nil
	}
	if s.state == ErrorState {
		s.mu.Unlock()
		return coreerrors.NewServiceInitializationError(s.name, fmt.Sprintf("cannot initialize from error state: %s", s.errReason))
	}
	s.state = Initializing
	s.mu.Unlock()

	processor, err := s.factory(ctx, params)
	if err != nil {
		s.mu.Lock()
		s.state = ErrorState
		s.errReason = err.Error()
		s.mu.Unlock()
		return coreerrors.NewServiceInitializationError(s.name, "processor construction failed")
	}

	s.mu.Lock()
	s.processor = processor
	s.state = Running
	s.mu.Unlock()
	return nil
}

// Process delegates to the underlying processor; it is only valid while
// Running.
func (s *Service) Process(ctx context.Context, input string) (any, error) {
	s.mu.Lock()
	if s.state != Running {
		state := s.state
		s.mu.Unlock()
		return nil, coreerrors.NewProcessingError(s.name, fmt.Sprintf("service not running (state=%s)", state), nil, nil)
	}
	processor := s.processor
	s.mu.Unlock()

	result, err := processor.Process(ctx, input)
	if err != nil {
		return nil, coreerrors.NewProcessingError(s.name, "processing failed", map[string]any{"input_length": len(input)}, err)
	}
	return result, nil
}

// Cleanup releases the processor and moves to Stopped. Calling it before
// Initialize is a no-op; calling it again leaves the service Stopped.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processor == nil {
		if s.state != Uninitialized {
			s.state = Stopped
		}
		return nil
	}

	err := s.processor.Close()
	s.processor = nil
	s.state = Stopped
	if err != nil {
		return coreerrors.NewServiceError(s.name, "cleanup failed", err)
	}
	return nil
}

// HealthCheck reports whether the service is Running with a processor
// attached.
func (s *Service) HealthCheck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running && s.processor != nil
}
