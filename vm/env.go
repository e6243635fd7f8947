package vm

import (
	"io"
	"os"
)

// Env is the execution environment shared by interpreted and compiled
// bodies. Execution is single threaded; an Env must not be used by two
// bodies running concurrently.
type Env struct {
	// Out receives print output. Defaults to os.Stdout.
	Out io.Writer

	// NetworkTime supplies the logical timestamp recorded by statement
	// access statistics.
	NetworkTime func() float64

	// Errors collects value-related runtime errors.
	Errors *ErrorFlag

	// StrictCopy makes a copy from an unset managed element a runtime
	// error. When false the copy is skipped and the target left as is.
	StrictCopy bool

	// Profiler, if set, counts executed instructions.
	Profiler *Profiler

	depth int
}

// MaxCallDepth bounds nested calls through an Env.
const MaxCallDepth = 1024

// NewEnv returns an environment writing to stdout with a zero clock.
func NewEnv() *Env {
	return &Env{
		Out:         os.Stdout,
		NetworkTime: func() float64 { return 0 },
		Errors:      &ErrorFlag{},
	}
}

// Now returns the current logical timestamp.
func (e *Env) Now() float64 {
	if e.NetworkTime == nil {
		return 0
	}
	return e.NetworkTime()
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

// Enter records a call; it returns false once MaxCallDepth is reached.
func (e *Env) Enter() bool {
	if e.depth >= MaxCallDepth {
		return false
	}
	e.depth++
	return true
}

// Leave undoes Enter.
func (e *Env) Leave() { e.depth-- }

// Print writes a line of output.
func (e *Env) Print(s string) error {
	_, err := io.WriteString(e.out(), s+"\n")
	return err
}
