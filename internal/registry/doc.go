// Package registry persists automation definitions and user instances and
// reconciles the catalog on disk into them.
//
// Definitions live in two tables, teams and workflows, selected by
// catalog.Kind. Their identity is the folder name. The Reconciler is the only
// writer for catalog definitions; clone definitions (category "Cloned") are
// written by the clone flow and left alone by reconciliation.
//
// Instances are a user's subscriptions. At most one active instance may exist
// per (user, definition): Instances.Add serialises its check-then-insert with a
// mutex, and partial unique indexes back it in storage.
package registry
