// Package batch manages governed generation operations over the term
// store: a state machine per operation, a registry of live and
// finished operations, and a runner that processes the target set in
// concurrent sub-batches with cost accounting on every unit.
package batch

import (
	"fmt"

	"glosspipe/internal/schema"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024

	// maxChunkSize bounds per-chunk memory and keeps retries cheap.
	maxChunkSize = 1000
)

// Request describes one generation operation.
type Request struct {
	// Section is the catalogue section to generate.
	Section string
	// TermIDs is the explicit target set. A request must carry either
	// term ids or AllTerms; an empty target set is rejected.
	TermIDs []string
	// AllTerms targets every stored term that needs the section,
	// resolved at start time. Mutually exclusive with TermIDs.
	AllTerms bool

	// Model is the primary model selector. FallbackModel, when set,
	// gets one attempt after the primary fails for a unit.
	Model         string
	FallbackModel string

	ChunkSize            int
	MaxConcurrentBatches int
	Temperature          float64
	MaxTokens            int

	// RegenerateExisting includes terms whose section is already
	// populated; the default skips them.
	RegenerateExisting bool
	// PauseOnError pauses the operation on the first unit failure
	// instead of counting it and continuing.
	PauseOnError bool

	Initiator string
	Reason    string
}

// withDefaults fills zero values for the generation knobs only. The
// target set, chunk size, and concurrency are never defaulted; those
// must be explicit and are checked by validate before any state is
// created.
func (r Request) withDefaults() Request {
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	if r.Initiator == "" {
		r.Initiator = "unknown"
	}
	return r
}

// validate rejects malformed requests before any state is created.
func (r Request) validate() error {
	if r.Section == "" {
		return fmt.Errorf("target section is required")
	}
	if _, ok := schema.Get(r.Section); !ok {
		return fmt.Errorf("unknown section: %q", r.Section)
	}
	if len(r.TermIDs) == 0 && !r.AllTerms {
		return fmt.Errorf("no target terms: supply term ids or set AllTerms")
	}
	if len(r.TermIDs) > 0 && r.AllTerms {
		return fmt.Errorf("term ids and AllTerms are mutually exclusive")
	}
	if r.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", r.ChunkSize)
	}
	if r.ChunkSize > maxChunkSize {
		return fmt.Errorf("chunk size %d exceeds maximum %d", r.ChunkSize, maxChunkSize)
	}
	if r.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("max concurrent batches must be positive, got %d", r.MaxConcurrentBatches)
	}
	if r.Model == "" {
		return fmt.Errorf("model selector is required")
	}
	return nil
}
