package cliout

import (
	"errors"

	"github.com/lanonasis/memctl-go/internal/faults"
)

// StructuredError is the machine-parseable error shape emitted by the CLI.
// Code carries the fault class; Remedy is printed verbatim and never parsed.
type StructuredError struct {
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message" yaml:"message"`
	Remedy    string `json:"remedy,omitempty" yaml:"remedy,omitempty"`
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// Error implements the error interface.
func (e StructuredError) Error() string {
	return e.Message
}

// FromError converts any error into a StructuredError, lifting the class
// and remediation hint from a classified fault when one is in the chain.
func FromError(err error) StructuredError {
	var f *faults.Fault
	if errors.As(err, &f) {
		return StructuredError{
			Code:    string(f.Class),
			Message: err.Error(),
			Remedy:  f.Remedy,
		}
	}
	return StructuredError{
		Code:    "operation_failed",
		Message: err.Error(),
	}
}

// WithRequestID attaches a server request ID for log correlation.
func (e StructuredError) WithRequestID(id string) StructuredError {
	e.RequestID = id
	return e
}
