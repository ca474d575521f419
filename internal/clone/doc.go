// Package clone gives users their own standing copy of a workflow template.
//
// A clone is created on the remote engine from the template's workflow.json
// with per-user placeholders rendered in, then tracked locally as a Cloned
// workflow definition plus an instance owned by the user. At most one active
// clone exists per (user, template) pair.
//
// Rendering walks the parsed document rather than the serialised text, so a
// placeholder can only ever land inside a string value.
package clone
