package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic at the configured QoS, never retained.
//
// The wait for the local acknowledgment is bounded by ctx. At QoS 0 the
// acknowledgment means the local transport accepted the message for sending;
// callers must not treat it as broker delivery.
//
// Returns:
//   - Ack: local acknowledgment details
//   - error: ErrNotConnected unless Connected; ErrPublishFailed on transport
//     failure; ErrTimeout (wrapping the ctx error) when ctx ends first
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) (Ack, error) {
	if topic == "" {
		return Ack{}, ErrInvalidTopic
	}
	if s.cfg.QoS < 0 || s.cfg.QoS > maxQoS {
		return Ack{}, ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return Ack{}, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	s.publishMu.Lock()
	s.stateMu.RLock()
	state, client := s.state, s.client
	s.stateMu.RUnlock()
	if state != StateConnected || client == nil {
		s.publishMu.Unlock()
		return Ack{}, ErrNotConnected
	}
	token := client.Publish(topic, byte(s.cfg.QoS), false, payload)
	s.publishMu.Unlock()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("%w: publish to %s: %w", ErrTimeout, topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return Ack{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	ack := Ack{
		Topic:      topic,
		AcceptedAt: time.Now(),
	}
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		ack.MessageID = pt.MessageID()
	}
	return ack, nil
}
