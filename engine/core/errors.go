package core

import (
	"errors"
	"fmt"
)

// Error classes. Every failed import is tagged with exactly one of them.
var (
	ErrIO       = errors.New("i/o error")
	ErrCapacity = errors.New("capacity error")
	ErrFormat   = errors.New("format error")
	ErrLogic    = errors.New("logic error")
)

var (
	ErrRequestClosed          = fmt.Errorf("%w: request already reached a terminal state", ErrLogic)
	ErrDecodeBeforeCompletion = fmt.Errorf("%w: decode called before the worker completed", ErrLogic)
	ErrBacklogFull            = errors.New("import backlog is full")
	ErrRequestDiscarded       = errors.New("import request discarded before completion")
	ErrImporterStopped        = errors.New("import system is shut down")
	ErrUnknownKind            = errors.New("unknown resource kind")
	ErrNoWorkers              = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeQueueSize      = errors.New("attempting to create worker pool with a negative channel size")
)

// ImportError is the error produced for a failed import. Msg is the human
// readable text that travels through the transfer buffer; Class is one of
// ErrIO, ErrCapacity or ErrFormat and travels as a header code.
type ImportError struct {
	Class error
	Msg   string
}

// Error renders as "<class>: <message>".
func (e *ImportError) Error() string {
	if e.Class == nil {
		return e.Msg
	}
	return e.Class.Error() + ": " + e.Msg
}

func (e *ImportError) Unwrap() error {
	return e.Class
}

// NewImportError builds an ImportError of the given class.
func NewImportError(class error, format string, args ...interface{}) *ImportError {
	return &ImportError{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// Error class codes as stored in a transfer buffer header. 0 means no error.
const (
	ErrorCodeNone uint32 = iota
	ErrorCodeIO
	ErrorCodeCapacity
	ErrorCodeFormat
	ErrorCodeLogic
)

// ClassCode returns the header code of an error class.
func ClassCode(class error) uint32 {
	switch class {
	case ErrIO:
		return ErrorCodeIO
	case ErrCapacity:
		return ErrorCodeCapacity
	case ErrLogic:
		return ErrorCodeLogic
	}
	return ErrorCodeFormat
}

// ClassFromCode is the reverse of ClassCode. Unknown codes are format errors.
func ClassFromCode(code uint32) error {
	switch code {
	case ErrorCodeIO:
		return ErrIO
	case ErrorCodeCapacity:
		return ErrCapacity
	case ErrorCodeLogic:
		return ErrLogic
	}
	return ErrFormat
}

// AsImportError returns err as an ImportError, classing it with ClassOf when
// it is not one already.
func AsImportError(err error) *ImportError {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie
	}
	return &ImportError{Class: ClassOf(err), Msg: err.Error()}
}

// ClassOf returns the error class of err, or ErrFormat when err carries none.
func ClassOf(err error) error {
	for _, class := range []error{ErrIO, ErrCapacity, ErrFormat, ErrLogic} {
		if errors.Is(err, class) {
			return class
		}
	}
	return ErrFormat
}
