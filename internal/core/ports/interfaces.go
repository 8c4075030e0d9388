package ports

import (
	"context"

	"swapijob/internal/core/domain"
	"swapijob/internal/protocol"
)

// Fetcher retrieves one person by its 1-based index from the remote source.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (domain.Person, error)
}

// Transformer derives a processed person. It may block (simulated work) and
// should honour ctx cancellation.
type Transformer interface {
	Transform(ctx context.Context, p domain.Person) (domain.ProcessedPerson, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, p domain.Person) (domain.ProcessedPerson, error)

func (f TransformerFunc) Transform(ctx context.Context, p domain.Person) (domain.ProcessedPerson, error) {
	return f(ctx, p)
}

// Storage defines the contract for persisting job artifacts.
type Storage interface {
	// InitJob creates the job directory structure.
	InitJob(ctx context.Context, jobID string) error

	// SaveInput saves the job parameters.
	SaveInput(ctx context.Context, jobID string, data []byte) error

	// SaveResults saves the final processed people as JSON.
	SaveResults(ctx context.Context, jobID string, data []byte) error

	// GetJobPath returns the filesystem path for a given job ID.
	GetJobPath(jobID string) string
}

// ResultSink receives the results of a completed job.
type ResultSink interface {
	SaveResults(ctx context.Context, job domain.Job, results []domain.ProcessedPerson) error
}

// EventPublisher mirrors worker messages to an external observer.
type EventPublisher interface {
	Publish(ctx context.Context, jobID string, env protocol.Envelope) error
}
