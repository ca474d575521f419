package catalog

import "fmt"

// Kind distinguishes the two catalogs.
type Kind string

const (
	// KindTeam is a locally executed agent team.
	KindTeam Kind = "team"

	// KindWorkflow is a node graph executed by the remote workflow engine.
	KindWorkflow Kind = "workflow"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindTeam || k == KindWorkflow
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown catalog kind %q", s)
	}
	return k, nil
}

// Descriptor and entry-point file names.
const (
	TeamDescriptorFile     = "crew_meta.json"
	WorkflowDescriptorFile = "workflow_meta.json"
	WorkflowDocumentFile   = "workflow.json"

	// DependencyManifest is the optional per-team dependency list.
	DependencyManifest = "requirements.txt"

	// EntryFunction is the callable every team entry file must define.
	EntryFunction = "run_crew"

	// DefaultReservedPrefix marks directories that are not catalog entries.
	DefaultReservedPrefix = "__"
)

// DescriptorFile returns the descriptor file name for a kind.
func DescriptorFile(kind Kind) string {
	if kind == KindWorkflow {
		return WorkflowDescriptorFile
	}
	return TeamDescriptorFile
}

// EntryBase returns the entry file name, without extension, of a team folder.
func EntryBase(folder string) string {
	return folder + "_main"
}

// Entry is one scanned catalog entry. It is produced fresh on every scan
// and never persisted directly.
type Entry struct {
	FolderName          string         `json:"folder_name"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	Category            string         `json:"category"`
	Kind                Kind           `json:"kind"`
	Tags                []string       `json:"tags"`
	Integrations        []string       `json:"integrations"`
	RequiredCredentials []string       `json:"required_credentials"`
	RequiredServices    []string       `json:"required_services,omitempty"`
	NodeCount           int            `json:"node_count,omitempty"`
	Version             string         `json:"version,omitempty"`
	Author              string         `json:"author,omitempty"`
	ExternalID          string         `json:"external_id,omitempty"`
	RawMetadata         map[string]any `json:"raw_metadata,omitempty"`
}

// Warning records why an entry was skipped or degraded.
type Warning struct {
	Folder string `json:"folder"`
	Reason string `json:"reason"`
}

func (w Warning) String() string {
	if w.Folder == "" {
		return w.Reason
	}
	return w.Folder + ": " + w.Reason
}

// Result is the output of one scan.
type Result struct {
	Kind     Kind      `json:"kind"`
	Entries  []Entry   `json:"entries"`
	Warnings []Warning `json:"warnings"`
}
