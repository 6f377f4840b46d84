package domain

import "fmt"

type FailureKind string

const (
	FailureConstruction FailureKind = "construction"
	FailurePipeline     FailureKind = "pipeline"
	FailureTransport    FailureKind = "transport"
	FailurePresence     FailureKind = "presence"
)

// Failure is handed to the error policy when no caller can observe an error.
type Failure struct {
	Kind     FailureKind
	Op       string
	Channel  string
	Identity string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s failure during %s on %q: %v", f.Kind, f.Op, f.Channel, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }
