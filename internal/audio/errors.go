package audio

import "fmt"

// InvalidInputError reports an empty buffer or an out-of-range parameter.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %s: %s", e.Field, e.Reason)
}

// DecodeError reports that an input stream could not be turned into PCM.
// Stream names the offending input, e.g. "voice" or "background".
type DecodeError struct {
	Stream string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stream, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports that the final mix could not be serialized or written.
type EncodeError struct {
	Format string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
