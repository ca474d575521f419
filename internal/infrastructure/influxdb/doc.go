// Package influxdb records Divert Core operational metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - execution: one point per finished run, tagged kind/status/definition,
//     field duration_ms
//   - catalog_sync: one point per discovery pass, tagged kind, fields
//     added/updated/total/warnings
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteExecution("workflow", "success", "wf-1a2b", 840*time.Millisecond)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write errors are delivered asynchronously through SetOnError.
package influxdb
