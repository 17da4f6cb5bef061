package syncer

import (
	"github.com/pkg/errors"

	"teamsync-server/internal/store"
)

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrValidation   = errors.New("invalid sync request")
	ErrUnauthorized = errors.New("not authorized")
	ErrNotFound     = errors.New("not found")
	ErrStore        = errors.New("sync store failure")
)

// StoreError is a transaction-fatal failure. It keeps the underlying message
// for diagnostics.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// classify leaves typed failures alone and marks everything else as a store
// failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound), errors.Is(err, ErrStore):
		return err
	case errors.Is(err, store.ErrNotFound):
		return errors.Wrap(ErrNotFound, op)
	}
	return &StoreError{Op: op, Err: err}
}
