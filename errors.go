package labelgraph

import (
	"errors"

	"github.com/brunobiangulo/labelgraph/extract"
	"github.com/brunobiangulo/labelgraph/llm"
	"github.com/brunobiangulo/labelgraph/loader"
	"github.com/brunobiangulo/labelgraph/parser"
	"github.com/brunobiangulo/labelgraph/store"
)

var (
	// ErrDimensionMismatch is returned when a provider answers with vectors
	// of the wrong length.
	ErrDimensionMismatch = llm.ErrDimensionMismatch

	// ErrIndexDimension is returned when a vector written to or queried
	// against the chunk index has the wrong length.
	ErrIndexDimension = store.ErrDimensionMismatch

	// ErrMalformed is returned for documents whose extraction JSON cannot
	// be read.
	ErrMalformed = parser.ErrMalformed

	// ErrEmbeddingFailed is returned when chunk embeddings cannot be produced.
	ErrEmbeddingFailed = loader.ErrEmbeddingFailed

	// ErrRateLimited is returned when a provider keeps refusing requests.
	ErrRateLimited = llm.ErrRateLimited

	// ErrTimeout is returned when a structured extraction exceeds its deadline.
	ErrTimeout = extract.ErrTimeout

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("labelgraph: invalid configuration")

	// ErrExtractionDisabled is returned by extraction calls when no chat
	// provider is configured.
	ErrExtractionDisabled = errors.New("labelgraph: no chat provider configured")
)
