package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidArchitecture = errors.New("Invalid architecture specification")
	ErrNotImplemented      = errors.New("stage not implemented")
	ErrCancelled           = errors.New("Job cancelled")
	ErrInterrupted         = errors.New("Job interrupted before completion")
	ErrJobFinished         = errors.New("job already finished")
	ErrAlreadyDispatched   = errors.New("job already dispatched")
	ErrShuttingDown        = errors.New("scheduler is shutting down")
	ErrInvalidTransition   = errors.New("invalid job state transition")
	ErrLogClosed           = errors.New("progress log already has a terminal entry")
	ErrProgressRegression  = errors.New("progress may not decrease")
	ErrInvalidRequest      = errors.New("invalid request")
)

// StageError is a fault raised by a stage collaborator.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StorageError is an I/O failure reading or writing job state, logs or artifacts.
type StorageError struct {
	Op    string
	JobID string
	Err   error
}

func (e *StorageError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("storage %s (job_id=%s): %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStageError reports whether err carries a StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// failureMessage is the text recorded in the terminal progress entry for err.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArchitecture):
		return ErrInvalidArchitecture.Error()
	case errors.Is(err, ErrCancelled):
		return ErrCancelled.Error()
	case errors.Is(err, ErrInterrupted):
		return ErrInterrupted.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Job failed"
}
