// Package mqtt exports Divert Core events to an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS validation and a payload size cap
//   - Last Will and Testament (LWT) so consumers see Core go offline
//   - Topic builders under a configurable prefix
//
// The broker is optional. Core never subscribes: it publishes execution
// lifecycle and discovery events for dashboards and external automations.
//
//	divert/executions/{execution_id}/{status}
//	divert/discovery/synced
//	divert/system/status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Events.TopicPrefix)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Execution("exec-123", "success")
//	err = client.Publish(topic, payload, 1, false)
package mqtt
