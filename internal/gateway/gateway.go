package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/coreiot-gateway/internal/device"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/coreiot-gateway/internal/protocol"
	"github.com/nerrad567/coreiot-gateway/internal/rpc"
)

// Built-in attribute and RPC method names.
const (
	AttributeLEDState = "ledState"
	MethodSetLED      = "setValueButtonLED"
	MethodGetLED      = "getValueButtonLED"
)

// Command sources reported in results.
const (
	SourceAPI    = "api"
	SourceToggle = "toggle"
)

const defaultAckTimeout = 2 * time.Second

// reconnectTimeout bounds the attempt to restore a lost persistent session.
const reconnectTimeout = 15 * time.Second

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Transport is the broker session the gateway drives.
// *mqtt.Session satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte) (mqtt.Ack, error)
}

// Subscriptions returns the topic patterns the gateway's session must hold.
func Subscriptions(qos byte) []mqtt.Subscription {
	patterns := protocol.Topics{}.SubscriptionPatterns()
	subs := make([]mqtt.Subscription, 0, len(patterns))
	for _, p := range patterns {
		subs = append(subs, mqtt.Subscription{Topic: p, QoS: qos})
	}
	return subs
}

// Gateway is the single entry point for external callers.
//
// It owns the session policy, serialises outbound commands, keeps the
// attribute store consistent with what the transport accepted, and handles
// inbound session events as an mqtt.Observer.
//
// Every public operation returns a Result; none panics or returns an error.
//
// All public methods are thread-safe.
type Gateway struct {
	cfg        config.GatewayConfig
	transport  Transport
	store      *device.Store
	registry   *rpc.Registry
	correlator *rpc.Correlator
	kinds      map[string]string

	// cmdMu serialises facade commands so that connect, publish and
	// disconnect of one command never interleave with another's.
	cmdMu sync.Mutex

	attrRequestSeq atomic.Uint64

	logger Logger
}

// New creates a gateway over transport and store and registers the
// built-in RPC handlers.
func New(cfg config.GatewayConfig, transport Transport, store *device.Store) *Gateway {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.SessionPolicy == "" {
		cfg.SessionPolicy = config.SessionPerCommand
	}

	kinds := make(map[string]string, len(cfg.Attributes)+1)
	kinds[AttributeLEDState] = config.AttributeKindBool
	for _, a := range cfg.Attributes {
		kinds[a.Name] = a.Kind
	}

	registry := rpc.NewRegistry()
	g := &Gateway{
		cfg:        cfg,
		transport:  transport,
		store:      store,
		registry:   registry,
		correlator: rpc.NewCorrelator(registry, transport),
		kinds:      kinds,
		logger:     noopLogger{},
	}

	registry.Register(MethodSetLED, g.handleSetLED)
	registry.Register(MethodGetLED, g.handleGetLED)
	return g
}

// SetLogger sets the logger for the gateway and its correlator.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
	g.correlator.SetLogger(logger)
}

// Registry returns the RPC handler registry, for registering further methods.
func (g *Gateway) Registry() *rpc.Registry {
	return g.registry
}

// SetLedState sets the LED attribute from a raw boolean-like value.
func (g *Gateway) SetLedState(ctx context.Context, raw any) Result {
	return g.setAttribute(ctx, AttributeLEDState, raw, SourceAPI)
}

// GetLedState reads the LED attribute without touching the transport.
func (g *Gateway) GetLedState() Result {
	return g.GetAttribute(AttributeLEDState)
}

// ToggleLedState inverts the LED attribute. A never-set LED counts as off.
//
// The read and the write are separate steps: two concurrent toggles may
// both read the same value.
func (g *Gateway) ToggleLedState(ctx context.Context) Result {
	current := false
	if rec, err := g.store.Get(AttributeLEDState); err == nil {
		if v, err := NormalizeBool(rec.Value); err == nil {
			current = v
		}
	}
	return g.setAttribute(ctx, AttributeLEDState, !current, SourceToggle)
}

// SetAttribute sets a configured controllable attribute from a raw value.
func (g *Gateway) SetAttribute(ctx context.Context, name string, raw any) Result {
	return g.setAttribute(ctx, name, raw, SourceAPI)
}

// GetAttribute reads an attribute from the store without touching the
// transport. A configured attribute that was never set is a successful
// result whose value is null.
func (g *Gateway) GetAttribute(name string) Result {
	rec, err := g.store.Get(name)
	if err != nil {
		if _, configured := g.kinds[name]; !configured {
			return failure(fmt.Sprintf("Unknown attribute %q", name), fmt.Errorf("%w: %s", ErrUnknownAttribute, name))
		}
		return success(fmt.Sprintf("%s has never been set", name), map[string]any{
			name:         nil,
			"lastUpdate": nil,
			"confirmed":  false,
			"connected":  g.transport.IsConnected(),
			"note":       mirrorCaveat,
		})
	}

	var lastConfirmed any
	if !rec.LastConfirmed.IsZero() {
		lastConfirmed = formatTime(rec.LastConfirmed)
	}
	return success(fmt.Sprintf("Current %s", name), map[string]any{
		name:            rec.Value,
		"lastUpdate":    formatTime(rec.UpdatedAt),
		"lastConfirmed": lastConfirmed,
		"confirmed":     rec.Confirmed,
		"connected":     g.transport.IsConnected(),
		"note":          mirrorCaveat,
	})
}

// PublishTelemetry publishes sensor readings. Nothing is stored.
func (g *Gateway) PublishTelemetry(ctx context.Context, readings map[string]any) Result {
	out, err := protocol.EncodeTelemetry(readings)
	if err != nil {
		return failure("Invalid telemetry payload", err)
	}
	if err := g.publish(ctx, out); err != nil {
		return failure("Failed to publish telemetry to CoreIOT", err)
	}
	return success("Telemetry published", map[string]any{"keys": len(readings)})
}

// PublishAttributes publishes client attributes and records them as
// confirmed once the transport accepts them.
//
// Values for controllable attributes are normalised to their kind first;
// one that cannot be fails the whole call and nothing is published.
func (g *Gateway) PublishAttributes(ctx context.Context, attrs map[string]any) Result {
	values := make(map[string]any, len(attrs))
	for name, raw := range attrs {
		kind, controllable := g.kinds[name]
		if !controllable {
			values[name] = raw
			continue
		}
		v, err := normalize(kind, raw)
		if err != nil {
			return failure(invalidInputMessage(name, kind), err)
		}
		values[name] = v
	}

	out, err := protocol.EncodeAttributes(values)
	if err != nil {
		return failure("Invalid attributes payload", err)
	}
	if err := g.publish(ctx, out); err != nil {
		return failure("Failed to publish attributes to CoreIOT", err)
	}
	for name, value := range values {
		g.store.Set(name, value, true)
	}
	return success("Attributes published", map[string]any{"keys": len(values)})
}

// Status reports the gateway's connection and store state.
func (g *Gateway) Status() map[string]any {
	return map[string]any{
		"connected":        g.transport.IsConnected(),
		"session_policy":   g.cfg.SessionPolicy,
		"attributes":       g.store.Len(),
		"pending_commands": len(g.correlator.Pending()),
		"rpc_methods":      g.registry.Methods(),
	}
}

// setAttribute is the command path shared by every write.
func (g *Gateway) setAttribute(ctx context.Context, name string, raw any, source string) Result {
	kind, ok := g.kinds[name]
	if !ok {
		return failure(fmt.Sprintf("Unknown attribute %q", name), fmt.Errorf("%w: %s", ErrUnknownAttribute, name))
	}
	value, err := normalize(kind, raw)
	if err != nil {
		return failure(invalidInputMessage(name, kind), err)
	}

	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	release, err := g.acquire(ctx)
	defer release()
	if err != nil {
		return failure("Failed to connect to CoreIOT", err)
	}

	next, prev, hadPrev := g.store.Swap(name, value)
	if _, err := g.correlator.IssueCommand(ctx, name, value, g.cfg.AckTimeout); err != nil {
		g.store.Revert(next, prev, hadPrev)
		g.logger.Warn("attribute command failed, reverted",
			"attribute", name,
			"source", source,
			"error", err,
		)
		return failure("Failed to send command to CoreIOT", err)
	}
	rec, _ := g.store.Confirm(next)

	var previous any
	if hadPrev {
		previous = prev.Value
	}
	g.logger.Info("attribute command acknowledged", "attribute", name, "value", value, "source", source)

	data := map[string]any{
		name:        value,
		"timestamp": formatTime(rec.UpdatedAt),
		"source":    source,
	}
	if name == AttributeLEDState {
		data["previousState"] = previous
	} else {
		data["previousValue"] = previous
	}
	return success(setMessage(name, value), data)
}

// publish sends one message under the command lock and session policy.
func (g *Gateway) publish(ctx context.Context, out protocol.Outbound) error {
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	release, err := g.acquire(ctx)
	defer release()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.AckTimeout)
	defer cancel()
	_, err = g.transport.Publish(ctx, out.Topic, out.Payload)
	return err
}

// acquire connects the transport when needed. The returned release must
// always be called; under the per-command policy it disconnects, whether
// or not the connect or the command succeeded.
func (g *Gateway) acquire(ctx context.Context) (release func(), err error) {
	release = func() {}
	if g.cfg.SessionPolicy == config.SessionPerCommand {
		release = g.transport.Disconnect
	}
	if g.transport.IsConnected() {
		return release, nil
	}
	if err := g.transport.Connect(ctx); err != nil {
		g.logger.Warn("broker connect failed", "error", err)
		return release, err
	}
	return release, nil
}

func setMessage(name string, value any) string {
	if name == AttributeLEDState {
		if on, _ := value.(bool); on {
			return "LED turned ON"
		}
		return "LED turned OFF"
	}
	return fmt.Sprintf("%s set to %v", name, value)
}

func invalidInputMessage(name, kind string) string {
	if kind == config.AttributeKindBool {
		return fmt.Sprintf("Invalid %s value. Use boolean, 'on'/'off', or 1/0", name)
	}
	return fmt.Sprintf("Invalid %s value, expected %s", name, kind)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
