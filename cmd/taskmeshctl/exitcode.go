package main

import (
	"errors"

	"github.com/taskmesh/taskmesh/internal/taskerr"
)

// exitCodeFor maps a command's returned error to a process exit code per
// spec.md §6: 0 on clean shutdown (handled by cobra before this is ever
// called with a nil error), nonzero on an unrecoverable background-task
// exception, distinguishing a Fatal escalation from a plain task failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var fatal *taskerr.Fatal
	if errors.As(err, &fatal) {
		return 2
	}
	return 1
}
