// Package mqtt provides the broker session used by the CoreIOT gateway.
//
// This package manages:
//   - One transient connection to the CoreIOT broker, authenticated by the
//     device access token in the MQTT username
//   - A fixed set of subscriptions established on every connect
//   - Publishing with a locally acknowledged, context-bounded wait
//   - Ordered delivery of connection events and inbound messages to observers
//
// # Lifecycle
//
// A Session is Disconnected until Connect succeeds. Automatic reconnection is
// disabled: the gateway decides whether to connect per command or to keep the
// connection open, and an unexpected loss leaves the session Disconnected.
//
//	Disconnected → Connecting → Connected → Disconnecting → Disconnected
//
// # Delivery
//
// Run drains a single event queue on one goroutine. EventConnected is always
// delivered before any message received on that connection, and messages are
// delivered in arrival order.
//
// # Acknowledgments
//
// At QoS 0 the Ack returned by Publish only means the message left through
// the local transport. It is not proof that the broker or the platform
// received it.
//
// # Usage
//
//	session := mqtt.NewSession(cfg.MQTT, mqtt.Subscription{Topic: "v1/devices/me/rpc/request/+"})
//	session.AddObserver(gw)
//	go session.Run(ctx)
//
//	if err := session.Connect(ctx); err != nil {
//	    return err
//	}
//	defer session.Disconnect()
//
//	_, err := session.Publish(ctx, "v1/devices/me/telemetry", []byte(`{"temperature":21}`))
package mqtt
