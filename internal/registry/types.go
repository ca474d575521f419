package registry

import (
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// ClonedCategory marks per-user clone definitions.
const ClonedCategory = "Cloned"

// ClonedDescription returns the description given to clones of template.
// It is also how an existing clone of the template is recognised.
func ClonedDescription(template string) string {
	return "Cloned from template " + template
}

// maxNameLength bounds instance display names.
const maxNameLength = 200

// Definition is a persisted automation definition (team or workflow).
type Definition struct {
	ID                  string         `json:"id"`
	Kind                catalog.Kind   `json:"kind"`
	FolderName          string         `json:"folder_name"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Category            string         `json:"category"`
	Tags                []string       `json:"tags"`
	Integrations        []string       `json:"integrations"`
	RequiredCredentials []string       `json:"required_credentials"`
	NodeCount           int            `json:"node_count"`
	Version             string         `json:"version,omitempty"`
	Author              string         `json:"author,omitempty"`
	ExternalID          string         `json:"external_id,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	IsActive            bool           `json:"is_active"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsClone reports whether d is a per-user clone.
func (d *Definition) IsClone() bool {
	return d.Category == ClonedCategory
}

// DefinitionFilter narrows ListDefinitions.
type DefinitionFilter struct {
	ActiveOnly    bool
	ExcludeClones bool
	Category      string
	Search        string // case-insensitive match on name and description
}

// Instance is a user's subscription to one definition.
type Instance struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	Kind           catalog.Kind `json:"kind"`
	DefinitionID   string       `json:"definition_id"`
	Name           string       `json:"name"`
	IsActive       bool         `json:"is_active"`
	IsEnabled      bool         `json:"is_enabled"`
	ExecutionCount int          `json:"execution_count"`
	SuccessCount   int          `json:"success_count"`
	ErrorCount     int          `json:"error_count"`
	LastExecuted   *time.Time   `json:"last_executed"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Subscription is an instance together with its definition.
type Subscription struct {
	Instance
	Definition *Definition `json:"definition"`
}

// Result aggregates one reconciliation pass. Total is the number of scanned
// entries, not the registry size.
type Result struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}
