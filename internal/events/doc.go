// Package events carries execution and discovery lifecycle events from the
// orchestrators to the outside world.
//
// Producers depend on the small Publisher interface. The Bus implementation
// is an in-process watermill gochannel pub/sub with a message router; each
// sink (websocket hub, MQTT export, InfluxDB metrics) is a router handler
// subscribed to the event types it cares about. Sinks never block or fail a
// producer: publishing only enqueues, and sink errors are logged and acked.
package events
