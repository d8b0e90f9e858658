// Package mqtt provides the broker session for i2c2mqtt.
//
// This package manages:
//   - One logical connection to the MQTT broker
//   - Last Will and Testament (LWT) for offline detection
//   - A retained presence beacon on every successful connect
//   - Reconnection with bounded exponential backoff
//   - Fire-and-forget publishing of contact state
//
// # Presence
//
//	tele/<base>/LWT  "Online"   retained, published on every connect
//	tele/<base>/LWT  "Offline"  retained, registered as last will and
//	                            published on graceful Close
//
// # Reconnection
//
// The paho client's own auto-reconnect is disabled. Connect and
// connection-lost callbacks only enqueue events; a supervisor goroutine
// owned by the Session handles them, so backoff sleeps never block paho's
// network goroutines.
//
// After a connection loss the supervisor waits 1s, 2s, 4s ... capped at
// 60s between attempts, for at most 12 attempts by default. When the
// budget is exhausted the session enters the Failed state and reports
// ErrReconnectExhausted on Failed(). The caller is expected to exit
// non-zero and let a process supervisor restart it.
//
// # Usage
//
//	session, err := mqtt.Open(ctx, cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	err = session.Publish("stat/Apartment/Window/Alarm/CONTACT1", "OPEN", false)
package mqtt
