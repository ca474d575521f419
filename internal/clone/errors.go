package clone

import "errors"

var (
	// ErrTemplateNotFound is returned when the template has no workflow.json.
	ErrTemplateNotFound = errors.New("clone: template not found")

	// ErrAlreadyCloned is returned when the user already has an active clone
	// of the template.
	ErrAlreadyCloned = errors.New("clone: template already cloned")

	// ErrNotClone is returned when deleting an instance that does not
	// reference a cloned workflow.
	ErrNotClone = errors.New("clone: instance is not a clone")
)
