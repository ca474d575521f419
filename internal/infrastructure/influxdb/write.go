package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementExecution   = "execution"
	MeasurementCatalogSync = "catalog_sync"
)

// WriteExecution records one finished run.
//
// Parameters:
//   - kind: "team" or "workflow"
//   - status: terminal status ("success" or "failed")
//   - definitionID: registry definition ID (bounded cardinality: catalog size)
//   - duration: wall time from start to terminal state
func (c *Client) WriteExecution(kind, status, definitionID string, duration time.Duration) {
	c.WritePointWithTime(MeasurementExecution,
		map[string]string{
			"kind":       kind,
			"status":     status,
			"definition": definitionID,
		},
		map[string]any{
			"duration_ms": duration.Milliseconds(),
			"count":       1,
		},
		time.Now(),
	)
}

// WriteCatalogSync records the outcome of one reconciliation stage.
func (c *Client) WriteCatalogSync(kind string, added, updated, total, warnings int) {
	c.WritePointWithTime(MeasurementCatalogSync,
		map[string]string{"kind": kind},
		map[string]any{
			"added":    added,
			"updated":  updated,
			"total":    total,
			"warnings": warnings,
		},
		time.Now(),
	)
}

// WritePointWithTime writes a point with explicit tags, fields and time.
// Dropped silently when the client is not connected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
