package main

import (
	"errors"

	"github.com/cuemby/sentinel/internal/kernelerr"
)

// exitCodeFor maps a top-level command error to the process exit code
// an operator's tooling scripts against: 0 clean, 2 config error, 3
// storage error, 4 doctrine violation at boot. Anything else is a
// generic failure (1).
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, kernelerr.ErrDoctrineViolation):
		return exitDoctrineViolation
	case errors.Is(err, kernelerr.ErrStorage), errors.Is(err, kernelerr.ErrStorageFull):
		return exitStorageError
	case errors.Is(err, kernelerr.ErrConfig):
		return exitConfigError
	default:
		return 1
	}
}
