package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrFieldMissing is wrapped by FieldError when a record field is absent
	// and its schema provides no default.
	ErrFieldMissing = errors.New("field value missing")

	// ErrIndexOutOfRange reports a vector index beyond the current size.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnsetElement reports a copy from an element that was never set.
	ErrUnsetElement = errors.New("copy of unset element")

	// ErrNilValue reports use of a nil managed value.
	ErrNilValue = errors.New("use of uninitialized value")
)

// FieldError describes a failed record field lookup.
type FieldError struct {
	Record string
	Field  string
	Err    error // set when the default itself failed
}

func (e *FieldError) Error() string {
	name := e.Field
	if e.Record != "" {
		name = e.Record + "$" + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: default for %s failed: %v", ErrFieldMissing, name, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrFieldMissing, name)
}

func (e *FieldError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFieldMissing, e.Err}
	}
	return []error{ErrFieldMissing}
}

// RuntimeError is a script error raised while executing a body.
type RuntimeError struct {
	Func string
	Inst int // instruction index, -1 for interpreted code
	Err  error
}

func (e *RuntimeError) Error() string {
	if e.Inst >= 0 {
		return fmt.Sprintf("%s (inst %d): %v", e.Func, e.Inst, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Func, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ErrorFlag records that a value-related runtime error happened, so the
// value layer need not decide how it is reported. It is carried in Env
// rather than being process-wide.
type ErrorFlag struct {
	errs []error
}

// Set records err.
func (f *ErrorFlag) Set(err error) {
	if f != nil && err != nil {
		f.errs = append(f.errs, err)
	}
}

// IsSet reports whether any error was recorded.
func (f *ErrorFlag) IsSet() bool { return f != nil && len(f.errs) > 0 }

// Err joins the recorded errors, or returns nil.
func (f *ErrorFlag) Err() error {
	if f == nil {
		return nil
	}
	return errors.Join(f.errs...)
}

// Reset clears the flag.
func (f *ErrorFlag) Reset() {
	if f != nil {
		f.errs = nil
	}
}
