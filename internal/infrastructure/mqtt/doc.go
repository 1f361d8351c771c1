// Package mqtt provides the broker connection the VRM cloud bridge publishes
// through.
//
// This package manages:
//   - A single paho client per process
//   - Message publishing with QoS and retain flags
//   - The bridge status topic: Last Will "offline", "online" on every
//     connect, "offline" on graceful Close
//   - Connection health monitoring
//
// # Reconnection
//
// paho's automatic reconnect is disabled. Publish on a dead connection makes
// exactly one reconnect attempt and returns ErrNotConnected if it fails, so
// retry pacing stays with the scheduler's backoff.
//
// # Security Considerations
//
//   - Set mqtt.broker.tls for brokers outside the local host
//   - Credentials are validated against the broker ACL
//   - Payloads are plain metric strings; nothing secret is published
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	if err := client.Connect(); err != nil {
//	    logger.Warn("broker unavailable, will retry on publish", "error", err)
//	}
//	defer client.Close()
//
//	err := client.Publish("vrm/cloud/123456/gateway_0/firmware", []byte("v3.14"), 1, false)
package mqtt
