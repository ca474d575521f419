package catalog

import "errors"

// Domain errors for the catalog package.
var (
	// ErrEntryNotFound is returned when an entry directory or one of its
	// required files does not exist.
	ErrEntryNotFound = errors.New("catalog: entry not found")

	// ErrInvalidDescriptor is returned when a descriptor cannot be parsed
	// or fails schema validation.
	ErrInvalidDescriptor = errors.New("catalog: invalid descriptor")

	// ErrInvalidFolder is returned for a folder name that is empty or
	// escapes the catalog root.
	ErrInvalidFolder = errors.New("catalog: invalid folder name")
)
