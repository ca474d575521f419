// Package catalog scans the on-disk automation catalogs.
//
// Each catalog root holds one directory per entry. A team directory carries a
// crew_meta.json descriptor; a workflow directory carries workflow_meta.json
// plus the workflow.json graph itself. Directories whose name starts with the
// reserved prefix ("__" by default) are ignored.
//
// Scanning never fails past its own boundary. Every problem with a single
// entry becomes a Warning and the entry is left out of the Result; a missing
// root yields an empty Result with one warning.
//
// Descriptors are validated against an embedded JSON Schema. Scan order is
// the directory listing order and must not be relied on; consumers key
// entries by FolderName.
package catalog
