package registry

import "errors"

// Domain errors for the registry package.
//
//	if errors.Is(err, registry.ErrDefinitionNotFound) {
//	    // 404
//	}
var (
	// ErrDefinitionNotFound is returned when a definition ID or folder does not exist.
	ErrDefinitionNotFound = errors.New("registry: definition not found")

	// ErrDefinitionExists is returned when a folder name is already registered.
	ErrDefinitionExists = errors.New("registry: definition already exists")

	// ErrDefinitionInactive is returned when subscribing to a deactivated definition.
	ErrDefinitionInactive = errors.New("registry: definition inactive")

	// ErrInstanceNotFound is returned when an instance does not exist or
	// belongs to another user.
	ErrInstanceNotFound = errors.New("registry: instance not found")

	// ErrAlreadySubscribed is returned when the user already has an active
	// instance of the definition.
	ErrAlreadySubscribed = errors.New("registry: already subscribed")

	// ErrInvalidKind is returned for an unknown catalog kind.
	ErrInvalidKind = errors.New("registry: invalid kind")

	// ErrInvalidName is returned for an empty or overlong instance name.
	ErrInvalidName = errors.New("registry: invalid name")
)
