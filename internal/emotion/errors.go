package emotion

import "errors"

// detectError is a sentinel that also names its metric label.
type detectError struct {
	msg     string
	errType string
}

func (e *detectError) Error() string     { return e.msg }
func (e *detectError) ErrorType() string { return e.errType }

// Sentinel errors returned by the detector. Wrapped errors keep them
// matchable with errors.Is.
var (
	ErrNoFace           error = &detectError{"no face detected", "no_face"}
	ErrModelUnavailable error = &detectError{"emotion model unavailable", "model"}
	ErrInvalidFrame     error = &detectError{"invalid frame", "invalid_input"}
	ErrInference        error = &detectError{"inference failed", "inference"}
)

// LabelForError maps a detector error to the label string shown to users.
// A nil error maps to the empty string.
func LabelForError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoFace):
		return NoFaceDetected
	default:
		return ErrorLabel
	}
}
