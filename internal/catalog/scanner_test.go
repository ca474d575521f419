package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeEntry creates root/folder/name with content.
func writeEntry(t *testing.T, root, folder, name, content string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func entryByFolder(entries []Entry, folder string) (Entry, bool) {
	for _, e := range entries {
		if e.FolderName == folder {
			return e, true
		}
	}
	return Entry{}, false
}

func warningFor(warnings []Warning, folder string) (Warning, bool) {
	for _, w := range warnings {
		if w.Folder == folder {
			return w, true
		}
	}
	return Warning{}, false
}

func TestTeamScanner(t *testing.T) {
	root := t.TempDir()

	writeEntry(t, root, "acme_pitch", TeamDescriptorFile,
		`{"name":"Acme Pitch","description":"Writes a sales pitch","category":"sales","tags":["b2b"],"version":"v1.2","folder_name":"ignored"}`)
	writeEntry(t, root, "no_meta", "README.md", "nothing here")
	writeEntry(t, root, "broken_json", TeamDescriptorFile, `{"name": `)
	writeEntry(t, root, "missing_category", TeamDescriptorFile, `{"name":"X","description":"Y"}`)
	writeEntry(t, root, "bad_version", TeamDescriptorFile,
		`{"name":"Bad Version","description":"d","category":"ops","version":"not-a-version"}`)
	writeEntry(t, root, "__pycache__", TeamDescriptorFile, `{"name":"hidden","description":"d","category":"c"}`)
	require.NoError(t, os.WriteFile(filepath.Join(root, "loose_file.json"), []byte("{}"), 0o600))

	result := NewTeamScanner(root).Scan(context.Background())

	assert.Equal(t, KindTeam, result.Kind)
	require.Len(t, result.Entries, 2)

	acme, ok := entryByFolder(result.Entries, "acme_pitch")
	require.True(t, ok)
	assert.Equal(t, "Acme Pitch", acme.Name)
	assert.Equal(t, "sales", acme.Category)
	assert.Equal(t, "acme_pitch", acme.FolderName, "folder name always comes from the directory")
	assert.Equal(t, []string{"b2b"}, acme.Tags)
	assert.Equal(t, "1.2.0", acme.Version)
	assert.Equal(t, KindTeam, acme.Kind)
	assert.Equal(t, "ignored", acme.RawMetadata["folder_name"])

	bad, ok := entryByFolder(result.Entries, "bad_version")
	require.True(t, ok, "an invalid version degrades the entry, it does not drop it")
	assert.Empty(t, bad.Version)

	for _, folder := range []string{"no_meta", "broken_json", "missing_category", "bad_version"} {
		_, ok := warningFor(result.Warnings, folder)
		assert.True(t, ok, "expected a warning for %s", folder)
	}
	_, ok = warningFor(result.Warnings, "__pycache__")
	assert.False(t, ok, "reserved directories are skipped silently")

	w, _ := warningFor(result.Warnings, "missing_category")
	assert.Contains(t, w.Reason, "category")
}

func TestWorkflowScanner(t *testing.T) {
	root := t.TempDir()

	writeEntry(t, root, "lead_router", WorkflowDescriptorFile,
		`{"name":"Lead Router","description":"Routes leads","category":"sales","required_services":["gmail","slack"],"n8n_workflow_id":42}`)
	writeEntry(t, root, "lead_router", WorkflowDocumentFile, `{
		"nodes": [
			{"type": "n8n-nodes-base.start"},
			{"type": "n8n-nodes-base.gmail"},
			{"type": "n8n-nodes-base.slack"},
			{"type": "n8n-nodes-base.slack"},
			{"type": "n8n-nodes-base.set"},
			{"type": "n8n-nodes-base.openAi"}
		],
		"connections": {}
	}`)

	writeEntry(t, root, "meta_only", WorkflowDescriptorFile, `{"name":"M","description":"d","category":"c"}`)
	writeEntry(t, root, "bad_graph", WorkflowDescriptorFile, `{"name":"B","description":"d","category":"c"}`)
	writeEntry(t, root, "bad_graph", WorkflowDocumentFile, `[not json`)

	result := NewWorkflowScanner(root).Scan(context.Background())

	require.Len(t, result.Entries, 1)
	wf := result.Entries[0]
	assert.Equal(t, "lead_router", wf.FolderName)
	assert.Equal(t, 6, wf.NodeCount)
	assert.Equal(t, []string{"gmail", "openai", "slack"}, wf.Integrations)
	assert.Equal(t, []string{"gmail", "slack"}, wf.RequiredServices)
	assert.Equal(t, []string{"gmail", "slack"}, wf.RequiredCredentials)
	assert.Equal(t, "42", wf.ExternalID)

	_, ok := warningFor(result.Warnings, "meta_only")
	assert.True(t, ok)
	_, ok = warningFor(result.Warnings, "bad_graph")
	assert.True(t, ok)
}

func TestScanner_MissingRoot(t *testing.T) {
	result := NewTeamScanner(filepath.Join(t.TempDir(), "absent")).Scan(context.Background())

	assert.Empty(t, result.Entries)
	require.Len(t, result.Warnings, 1)
	assert.Empty(t, result.Warnings[0].Folder)
}

func TestScanner_CustomReservedPrefix(t *testing.T) {
	root := t.TempDir()
	meta := `{"name":"N","description":"d","category":"c"}`
	writeEntry(t, root, "_draft", TeamDescriptorFile, meta)
	writeEntry(t, root, "__legacy", TeamDescriptorFile, meta)

	s := NewTeamScanner(root)
	s.SetReservedPrefix("_")
	result := s.Scan(context.Background())
	assert.Empty(t, result.Entries)

	s.SetReservedPrefix("")
	result = s.Scan(context.Background())
	assert.Len(t, result.Entries, 2)
}

func TestScanner_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "a", TeamDescriptorFile, `{"name":"A","description":"d","category":"c"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewTeamScanner(root).Scan(ctx)
	assert.Empty(t, result.Entries)
	assert.NotEmpty(t, result.Warnings)
}
