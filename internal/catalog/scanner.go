package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Logger defines the logging interface used by the Scanner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scanner walks one catalog root.
//
// A Scanner holds no state between scans and is safe for concurrent use.
type Scanner struct {
	kind           Kind
	root           string
	reservedPrefix string
	logger         Logger
}

// NewScanner creates a scanner for the catalog of the given kind at root.
func NewScanner(kind Kind, root string) *Scanner {
	return &Scanner{
		kind:           kind,
		root:           root,
		reservedPrefix: DefaultReservedPrefix,
		logger:         noopLogger{},
	}
}

// NewTeamScanner creates a scanner for the agent-team catalog.
func NewTeamScanner(root string) *Scanner { return NewScanner(KindTeam, root) }

// NewWorkflowScanner creates a scanner for the workflow catalog.
func NewWorkflowScanner(root string) *Scanner { return NewScanner(KindWorkflow, root) }

// SetReservedPrefix changes the prefix of ignored directories.
// An empty prefix disables the filter.
func (s *Scanner) SetReservedPrefix(prefix string) {
	s.reservedPrefix = prefix
}

// SetLogger sets the logger for the scanner.
func (s *Scanner) SetLogger(logger Logger) {
	s.logger = logger
}

// Kind returns the catalog kind this scanner reads.
func (s *Scanner) Kind() Kind { return s.kind }

// Root returns the catalog root directory.
func (s *Scanner) Root() string { return s.root }

// Scan enumerates the immediate subdirectories of the root and returns the
// entries whose descriptors load. It never returns an error: per-entry
// failures become warnings. A cancelled context stops the walk early and
// returns what was collected.
func (s *Scanner) Scan(ctx context.Context) Result {
	result := Result{Kind: s.kind, Entries: []Entry{}, Warnings: []Warning{}}

	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.warn(&result, "", fmt.Sprintf("catalog root unreadable: %v", err))
		return result
	}

	for _, de := range dirEntries {
		if ctx.Err() != nil {
			s.warn(&result, "", fmt.Sprintf("scan interrupted: %v", ctx.Err()))
			break
		}

		name := de.Name()
		if !de.IsDir() {
			continue
		}
		if s.reservedPrefix != "" && strings.HasPrefix(name, s.reservedPrefix) {
			continue
		}

		entry, warnings, err := s.loadEntry(name)
		for _, w := range warnings {
			s.warn(&result, name, w)
		}
		if err != nil {
			s.warn(&result, name, err.Error())
			continue
		}

		result.Entries = append(result.Entries, entry)
		s.logger.Debug("catalog entry discovered", "kind", string(s.kind), "folder", name, "name", entry.Name)
	}

	s.logger.Info("catalog scanned",
		"kind", string(s.kind),
		"root", s.root,
		"entries", len(result.Entries),
		"warnings", len(result.Warnings),
	)
	return result
}

func (s *Scanner) warn(result *Result, folder, reason string) {
	result.Warnings = append(result.Warnings, Warning{Folder: folder, Reason: reason})
	s.logger.Warn("catalog entry skipped", "kind", string(s.kind), "folder", folder, "reason", reason)
}

// descriptor is the typed view of a validated descriptor.
type descriptor struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	Tags                []string `json:"tags"`
	Integrations        []string `json:"integrations"`
	RequiredCredentials []string `json:"required_credentials"`
	RequiredServices    []string `json:"required_services"`
	Version             string   `json:"version"`
	Author              string   `json:"author"`
	N8NWorkflowID       any      `json:"n8n_workflow_id"`
}

// loadEntry reads one entry directory. Soft problems are returned as
// warnings alongside a usable entry; a non-nil error means skip.
func (s *Scanner) loadEntry(folder string) (Entry, []string, error) {
	dir := filepath.Join(s.root, folder)
	descPath := filepath.Join(dir, DescriptorFile(s.kind))

	data, err := os.ReadFile(descPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, nil, fmt.Errorf("%s not found", DescriptorFile(s.kind))
		}
		return Entry{}, nil, fmt.Errorf("reading %s: %w", DescriptorFile(s.kind), err)
	}

	issues, err := ValidateDescriptor(data)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("%s: %w", DescriptorFile(s.kind), err)
	}
	if len(issues) > 0 {
		return Entry{}, nil, fmt.Errorf("%s: %s", DescriptorFile(s.kind), joinIssues(issues))
	}

	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Entry{}, nil, fmt.Errorf("%s: %w", DescriptorFile(s.kind), err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, nil, fmt.Errorf("%s: %w", DescriptorFile(s.kind), err)
	}

	entry := Entry{
		FolderName:          folder,
		Name:                desc.Name,
		Description:         desc.Description,
		Category:            desc.Category,
		Kind:                s.kind,
		Tags:                nonNil(desc.Tags),
		Integrations:        nonNil(desc.Integrations),
		RequiredCredentials: nonNil(desc.RequiredCredentials),
		RequiredServices:    desc.RequiredServices,
		Author:              desc.Author,
		ExternalID:          externalID(desc.N8NWorkflowID),
		RawMetadata:         raw,
	}

	var warnings []string
	if desc.Version != "" {
		v, err := NormaliseVersion(desc.Version)
		if err != nil {
			warnings = append(warnings, err.Error()+" (version ignored)")
		} else {
			entry.Version = v
		}
	}

	if s.kind == KindWorkflow {
		if err := loadGraph(dir, &entry); err != nil {
			return Entry{}, warnings, err
		}
	}

	return entry, warnings, nil
}

// loadGraph derives node count and integrations from workflow.json. Workflows
// without an explicit required_credentials list are gated on their
// required_services.
func loadGraph(dir string, entry *Entry) error {
	data, err := os.ReadFile(filepath.Join(dir, WorkflowDocumentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s not found", WorkflowDocumentFile)
		}
		return fmt.Errorf("reading %s: %w", WorkflowDocumentFile, err)
	}

	var graph WorkflowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return fmt.Errorf("%s: %w", WorkflowDocumentFile, err)
	}

	entry.NodeCount = len(graph.Nodes)
	entry.Integrations = IntegrationsFor(graph.Nodes)
	if len(entry.RequiredCredentials) == 0 && len(entry.RequiredServices) > 0 {
		entry.RequiredCredentials = append([]string(nil), entry.RequiredServices...)
	}
	return nil
}

func externalID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
