package audio

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSource is returned by position-dependent operations before a load completes.
	ErrNoSource = errors.New("no source loaded")

	// ErrInvalidLoopRange is returned when a loop whose end does not follow its start is played.
	ErrInvalidLoopRange = errors.New("invalid loop range")

	// ErrLoopNotSet is returned when a loop is played before both bounds are captured.
	ErrLoopNotSet = errors.New("loop bounds not set")

	// ErrSuperseded is reported for a load whose completion arrived after a newer load started.
	ErrSuperseded = errors.New("load superseded")

	// ErrDestroyed is returned by operations on a destroyed deck.
	ErrDestroyed = errors.New("deck destroyed")
)

// SourceLoadError reports an unreachable or undecodable source.
type SourceLoadError struct {
	Ref string
	Err error
}

func (e *SourceLoadError) Error() string {
	return fmt.Sprintf("load source %q: %v", e.Ref, e.Err)
}

func (e *SourceLoadError) Unwrap() error {
	return e.Err
}

// IndexOutOfRangeError reports a cue index outside [0, Len).
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("cue index %d out of range [0, %d)", e.Index, e.Len)
}
