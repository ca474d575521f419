// Package audit records and queries the audit_logs trail: catalog syncs,
// clone creation and deletion, and credential changes.
package audit
