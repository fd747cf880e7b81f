package app

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientRemote matches any failed read or write against a client.
	ErrTransientRemote = errors.New("remote call failed")
	// ErrConfiguration matches fatal configuration-level failures.
	ErrConfiguration = errors.New("configuration error")
	// ErrPartialData matches a single topology entity that had to be skipped.
	ErrPartialData = errors.New("partial topology data")
	// ErrUnexpected matches a recovered fault inside a reconciliation tick.
	ErrUnexpected = errors.New("unexpected error")

	// ErrRootNotFound is returned by Monitoring.ServiceTree when the named
	// root service does not exist.
	ErrRootNotFound = errors.New("root service not found")
	// ErrNotFound is returned by clients for missing records.
	ErrNotFound = errors.New("not found")
)

// RemoteError wraps a failed client call.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransientRemote) match every RemoteError.
func (e *RemoteError) Is(target error) bool { return target == ErrTransientRemote }

// Remote wraps err as a RemoteError for op. A nil err stays nil.
func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// ConfigurationError is fatal: the process cannot make progress.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}
func (e *ConfigurationError) Unwrap() error        { return e.Err }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// PartialDataReason distinguishes why a topology entity was skipped.
type PartialDataReason string

const (
	ReasonZeroTrigger        PartialDataReason = "trigger id is zero and service has no children"
	ReasonNoTrigger          PartialDataReason = "service has no trigger id and no children"
	ReasonTriggerUnavailable PartialDataReason = "trigger could not be fetched"
	ReasonStatusPageWrite    PartialDataReason = "status page write failed"
	ReasonDuplicateTrigger   PartialDataReason = "trigger is already bound to another component"
)

// PartialDataError reports one skipped topology entity.
type PartialDataError struct {
	EntityID   string
	EntityName string
	Reason     PartialDataReason
	Err        error
}

func (e *PartialDataError) Error() string {
	msg := fmt.Sprintf("service %s (%s): %s", e.EntityName, e.EntityID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}
func (e *PartialDataError) Unwrap() error        { return e.Err }
func (e *PartialDataError) Is(target error) bool { return target == ErrPartialData }

// UnexpectedError is a panic recovered while running a tick.
type UnexpectedError struct {
	Value any
	Stack []byte
}

func (e *UnexpectedError) Error() string        { return fmt.Sprintf("unexpected: %v", e.Value) }
func (e *UnexpectedError) Is(target error) bool { return target == ErrUnexpected }
