package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EntryDir returns the directory of folder under root. The folder must be a
// single path element.
func EntryDir(root, folder string) (string, error) {
	if folder == "" || folder == "." || folder == ".." ||
		strings.ContainsAny(folder, `/\`) || filepath.Base(folder) != folder {
		return "", fmt.Errorf("%w: %q", ErrInvalidFolder, folder)
	}
	return filepath.Join(root, folder), nil
}

// ReadDescriptor returns the decoded descriptor of an entry.
func ReadDescriptor(root, folder string, kind Kind) (map[string]any, error) {
	dir, err := EntryDir(root, folder)
	if err != nil {
		return nil, err
	}
	return readJSONObject(filepath.Join(dir, DescriptorFile(kind)))
}

// ReadWorkflowDocument returns the decoded workflow.json of a workflow entry.
func ReadWorkflowDocument(root, folder string) (map[string]any, error) {
	dir, err := EntryDir(root, folder)
	if err != nil {
		return nil, err
	}
	return readJSONObject(filepath.Join(dir, WorkflowDocumentFile))
}

func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, filepath.Base(path), err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s is not an object", ErrInvalidDescriptor, filepath.Base(path))
	}
	return doc, nil
}

// StringList reads a list of strings from a decoded document field,
// skipping non-string items.
func StringList(doc map[string]any, key string) []string {
	items, _ := doc[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
