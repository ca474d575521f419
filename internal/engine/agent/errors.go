package agent

import "errors"

var (
	// ErrEntryNotFound is returned when a team folder has no runnable entry.
	ErrEntryNotFound = errors.New("agent: entry point not found")

	// ErrEntryFunction is returned when the entry file does not define run_crew.
	ErrEntryFunction = errors.New("agent: run_crew not defined")

	// ErrProvisionFailed is returned when installing team dependencies fails.
	ErrProvisionFailed = errors.New("agent: dependency installation failed")
)
