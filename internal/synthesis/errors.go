package synthesis

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailure marks a pass aborted because the generator failed or timed out.
	ErrGenerationFailure = errors.New("generation failed")
	// ErrEmptyQuery is returned for blank queries.
	ErrEmptyQuery = errors.New("query is empty")

	errEmptyGeneration = errors.New("generator returned empty text")
	errNoGenerator     = errors.New("no text generator configured")
)

// GenerationError carries the cause of a generation failure. It matches
// ErrGenerationFailure and the underlying cause with errors.Is.
type GenerationError struct {
	Attempt int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGenerationFailure, e.Err}
}
