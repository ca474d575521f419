// Package discovery keeps the registry in line with the on-disk catalogs.
//
// A sync pass scans and reconciles agent teams, then workflows. Each stage
// is isolated: a failure or panic in one is recorded in the Summary and the
// other still runs. SyncAll never returns an error. Passes are serialised,
// so startup, the cron schedule and the admin endpoint can all trigger one
// safely.
package discovery
