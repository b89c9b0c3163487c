package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/nerrad567/coreiot-gateway/internal/device"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/coreiot-gateway/internal/protocol"
)

// HandleEvent implements mqtt.Observer.
//
// It runs on the session's delivery goroutine, so inbound messages are
// handled one at a time in arrival order. Decode and publish failures are
// logged and the message discarded.
func (g *Gateway) HandleEvent(ev mqtt.Event) {
	switch ev.Kind {
	case mqtt.EventConnected:
		g.requestSharedAttributes()

	case mqtt.EventDisconnected:
		if ev.Err == nil {
			g.logger.Debug("broker session closed")
			return
		}
		g.logger.Warn("broker connection lost", "error", ev.Err)
		if g.cfg.SessionPolicy == config.SessionPersistent {
			go g.reconnect()
		}

	case mqtt.EventMessage:
		g.handleMessage(ev.Topic, ev.Payload)
	}
}

// reconnect makes one bounded attempt to restore a persistent session.
// It runs off the delivery goroutine; a failure waits for the next command.
func (g *Gateway) reconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	if err := g.transport.Connect(ctx); err != nil {
		if errors.Is(err, mqtt.ErrClosed) {
			return
		}
		g.logger.Warn("broker reconnect failed, next command will retry", "error", err)
		return
	}
	g.logger.Info("broker session restored")
}

func (g *Gateway) handleMessage(topic string, payload []byte) {
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		g.logger.Warn("discarding inbound message", "topic", topic, "error", err)
		return
	}

	switch msg.Kind {
	case protocol.KindRPCRequest:
		g.handleRPC(msg.RPC)
	case protocol.KindAttributeResponse, protocol.KindAttributeUpdate:
		g.applySharedAttributes(msg.Kind, msg.Attributes)
	default:
		g.logger.Debug("ignoring message", "topic", topic)
	}
}

// handleRPC dispatches a request and answers it on its response topic.
func (g *Gateway) handleRPC(req protocol.RPCRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.AckTimeout)
	defer cancel()

	resp := g.correlator.Dispatch(ctx, req)

	if req.ID == "" {
		g.logger.Warn("rpc request without usable id, response suppressed",
			"method", req.Method,
			"success", resp.Success(),
		)
		return
	}

	if _, err := g.correlator.Respond(ctx, resp); err != nil {
		g.logger.Warn("rpc response not published",
			"method", req.Method,
			"request_id", req.ID,
			"error", err,
		)
		return
	}
	g.logger.Debug("rpc answered", "method", req.Method, "request_id", req.ID, "success", resp.Success())
}

// applySharedAttributes records platform-held values as unconfirmed.
func (g *Gateway) applySharedAttributes(kind protocol.Kind, attrs map[string]any) {
	for name, raw := range attrs {
		value := raw
		if k, ok := g.kinds[name]; ok {
			v, err := normalize(k, raw)
			if err != nil {
				g.logger.Warn("ignoring shared attribute", "attribute", name, "error", err)
				continue
			}
			value = v
		}
		g.store.Set(name, value, false)
	}
	g.logger.Debug("shared attributes applied", "kind", kind.String(), "count", len(attrs))
}

// requestSharedAttributes asks the platform for the configured shared keys.
func (g *Gateway) requestSharedAttributes() {
	if len(g.cfg.SharedKeys) == 0 {
		return
	}

	out, err := protocol.EncodeAttributeRequest(g.attrRequestSeq.Add(1), g.cfg.SharedKeys)
	if err != nil {
		g.logger.Error("encoding shared attribute request", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.AckTimeout)
	defer cancel()
	if _, err := g.transport.Publish(ctx, out.Topic, out.Payload); err != nil {
		// A per-command session may already be closing.
		g.logger.Debug("shared attribute request not published", "topic", out.Topic, "error", err)
		return
	}
	g.logger.Debug("shared attributes requested", "topic", out.Topic, "keys", g.cfg.SharedKeys)
}

// handleSetLED implements the setValueButtonLED RPC.
//
// The value is instructed by the platform, so it is stored confirmed. The
// confirmed state is then pushed on the attributes topic; a failed push is
// logged and does not fail the request.
func (g *Gateway) handleSetLED(ctx context.Context, req protocol.RPCRequest) (map[string]any, error) {
	raw, err := decodeParams(req.Params)
	if err != nil {
		return nil, err
	}
	on, err := NormalizeBool(raw)
	if err != nil {
		return nil, err
	}

	g.store.Set(AttributeLEDState, on, true)

	if out, err := protocol.EncodeAttributes(map[string]any{AttributeLEDState: on}); err == nil {
		if _, err := g.transport.Publish(ctx, out.Topic, out.Payload); err != nil {
			g.logger.Warn("pushing confirmed LED state failed", "error", err)
		}
	}

	return map[string]any{"success": true, AttributeLEDState: on}, nil
}

// handleGetLED implements the getValueButtonLED RPC.
func (g *Gateway) handleGetLED(_ context.Context, _ protocol.RPCRequest) (map[string]any, error) {
	rec, err := g.store.Get(AttributeLEDState)
	if errors.Is(err, device.ErrAttributeNotFound) {
		return map[string]any{"success": true, AttributeLEDState: nil}, nil
	}
	return map[string]any{
		"success":         true,
		AttributeLEDState: rec.Value,
		"confirmed":       rec.Confirmed,
	}, nil
}

// decodeParams decodes RPC params, keeping numbers as json.Number.
func decodeParams(params json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, ErrMissingParams
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
