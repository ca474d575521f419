package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// Logger is the minimal logging interface used by the registry.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Reconciler brings the registry in line with a scan result.
//
// Each entry is its own unit of work: a failing entry is logged and skipped
// and the remaining entries are still applied. Rows are never deleted. Active
// catalog rows whose folder is absent from the scan are deactivated, which
// hides them from the store while keeping existing instances resolvable.
// Cloned definitions have no folder on disk and are left alone.
type Reconciler struct {
	repo   Repository
	logger Logger
}

// NewReconciler creates a reconciler over repo.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for reconciliation diagnostics.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// Reconcile applies entries to the definitions of kind.
//
// The result counts inserts, changed rows and rows deactivated because
// their folder is gone; unchanged rows are not counted. The error is non-nil
// only when the stage as a whole could not run (the existing rows could not
// be listed), in which case nothing was written and the result is zero.
func (r *Reconciler) Reconcile(ctx context.Context, kind catalog.Kind, entries []catalog.Entry) (Result, error) {
	existing, err := r.repo.ListDefinitions(ctx, kind, DefinitionFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("loading %s definitions: %w", kind, err)
	}
	result := Result{Total: len(entries)}
	byFolder := make(map[string]*Definition, len(existing))
	for i := range existing {
		byFolder[existing[i].FolderName] = &existing[i]
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("reconciliation interrupted", "kind", kind, "error", err)
			return result, nil
		}
		seen[entry.FolderName] = true

		current, ok := byFolder[entry.FolderName]
		if !ok {
			def := definitionFromEntry(kind, entry)
			if err := r.repo.CreateDefinition(ctx, def); err != nil {
				r.logger.Error("failed to add definition", "kind", kind, "folder", entry.FolderName, "error", err)
				continue
			}
			byFolder[entry.FolderName] = def
			result.Added++
			r.logger.Debug("definition added", "kind", kind, "folder", entry.FolderName, "id", def.ID)
			continue
		}

		if !applyEntry(current, entry) {
			continue
		}
		if err := r.repo.UpdateDefinition(ctx, current); err != nil {
			r.logger.Error("failed to update definition", "kind", kind, "folder", entry.FolderName, "error", err)
			continue
		}
		result.Updated++
		r.logger.Debug("definition updated", "kind", kind, "folder", entry.FolderName, "id", current.ID)
	}

	for i := range existing {
		def := &existing[i]
		if seen[def.FolderName] || !def.IsActive || def.IsClone() {
			continue
		}
		if err := r.repo.SetDefinitionActive(ctx, kind, def.ID, false); err != nil {
			r.logger.Error("failed to deactivate definition", "kind", kind, "folder", def.FolderName, "error", err)
			continue
		}
		result.Updated++
		r.logger.Info("definition no longer on disk, deactivated", "kind", kind, "folder", def.FolderName)
	}

	return result, nil
}

func definitionFromEntry(kind catalog.Kind, e catalog.Entry) *Definition {
	return &Definition{
		Kind:                kind,
		FolderName:          e.FolderName,
		Name:                e.Name,
		Description:         e.Description,
		Category:            e.Category,
		Tags:                cloneList(e.Tags),
		Integrations:        cloneList(e.Integrations),
		RequiredCredentials: cloneList(e.RequiredCredentials),
		NodeCount:           e.NodeCount,
		Version:             e.Version,
		Author:              e.Author,
		ExternalID:          e.ExternalID,
		Metadata:            e.RawMetadata,
		IsActive:            true,
	}
}

// applyEntry copies the descriptor fields of e onto def and reports whether
// anything changed. An external id already recorded by the engine is kept
// when the descriptor does not name one.
func applyEntry(def *Definition, e catalog.Entry) bool {
	changed := false
	setString := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setList := func(dst *[]string, v []string) {
		if !slices.Equal(*dst, normaliseList(v)) {
			*dst = cloneList(v)
			changed = true
		}
	}

	setString(&def.Name, e.Name)
	setString(&def.Description, e.Description)
	setString(&def.Category, e.Category)
	setString(&def.Version, e.Version)
	setString(&def.Author, e.Author)
	setList(&def.Tags, e.Tags)
	setList(&def.Integrations, e.Integrations)
	setList(&def.RequiredCredentials, e.RequiredCredentials)
	if e.ExternalID != "" {
		setString(&def.ExternalID, e.ExternalID)
	}
	if def.NodeCount != e.NodeCount {
		def.NodeCount = e.NodeCount
		changed = true
	}
	if !sameMetadata(def.Metadata, e.RawMetadata) {
		def.Metadata = e.RawMetadata
		changed = true
	}
	if !def.IsActive {
		def.IsActive = true
		changed = true
	}
	return changed
}

func sameMetadata(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(normaliseJSON(a), normaliseJSON(b))
}

func normaliseList(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func cloneList(items []string) []string {
	return append([]string{}, items...)
}

// normaliseJSON round-trips m through JSON so numbers and nested values
// compare the way they are stored.
func normaliseJSON(m map[string]any) any {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}
