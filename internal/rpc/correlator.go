package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/coreiot-gateway/internal/protocol"
)

// Logger defines the logging interface used by the Correlator.
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

// Publisher is the transport capability the correlator needs.
// *mqtt.Session satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (mqtt.Ack, error)
}

// Response is the result of dispatching one request.
type Response struct {
	// RequestID is copied from the request; it is never generated.
	RequestID string
	Method    string
	Result    map[string]any
}

// Success reports the response's "success" flag.
func (r Response) Success() bool {
	ok, _ := r.Result["success"].(bool)
	return ok
}

// PendingCommand is an outbound command awaiting local acknowledgment.
type PendingCommand struct {
	ID        string    `json:"id"`
	Attribute string    `json:"attribute"`
	Value     any       `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	Deadline  time.Time `json:"deadline"`
}

// Correlator dispatches inbound requests to handlers, answers them on the
// matching response topic, and issues outbound attribute commands.
//
// Dispatch runs the handler on the caller's goroutine, which for inbound
// traffic is the session's delivery goroutine, so requests on one
// connection are handled one at a time in arrival order. IssueCommand is
// called from other goroutines and never touches that path.
//
// All public methods are thread-safe.
type Correlator struct {
	registry  *Registry
	publisher Publisher

	pendingMu sync.Mutex
	pending   map[string]PendingCommand

	logger Logger
	now    func() time.Time
}

// NewCorrelator creates a correlator over registry, publishing through p.
func NewCorrelator(registry *Registry, p Publisher) *Correlator {
	return &Correlator{
		registry:  registry,
		publisher: p,
		pending:   make(map[string]PendingCommand),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// Dispatch executes exactly one handler for req and returns its response.
//
// An unknown method yields {"success":false,"error":"unknown method"}; a
// handler error or panic yields {"success":false,"error":...}. Dispatch
// never returns an error and never panics.
func (c *Correlator) Dispatch(ctx context.Context, req protocol.RPCRequest) Response {
	resp := Response{RequestID: req.ID, Method: req.Method}

	handler, ok := c.registry.Lookup(req.Method)
	if !ok {
		c.logger.Warn("rpc method not registered", "method", req.Method, "request_id", req.ID)
		resp.Result = failure(req.Method, ErrUnknownMethod)
		return resp
	}

	result, err := c.invoke(ctx, handler, req)
	if err != nil {
		c.logger.Warn("rpc handler failed", "method", req.Method, "request_id", req.ID, "error", err)
		resp.Result = failure(req.Method, err)
		return resp
	}

	if result == nil {
		result = make(map[string]any, 1)
	}
	if _, set := result["success"]; !set {
		result["success"] = true
	}
	resp.Result = result
	return resp
}

// invoke runs h, converting a panic into ErrHandlerPanic.
func (c *Correlator) invoke(ctx context.Context, h Handler, req protocol.RPCRequest) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("rpc handler panic recovered", "method", req.Method, "panic", r)
			result, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, req)
}

// failure builds the structured failure payload.
func failure(method string, err error) map[string]any {
	msg := err.Error()
	if errors.Is(err, ErrUnknownMethod) {
		msg = "unknown method"
	}
	return map[string]any{
		"success": false,
		"error":   msg,
		"method":  method,
	}
}

// Respond publishes resp on the response topic of its request.
//
// Returns protocol.ErrMissingRequestID, without publishing, when the
// request identifier could not be parsed. Duplicate identifiers are
// answered again; nothing is deduplicated.
func (c *Correlator) Respond(ctx context.Context, resp Response) (mqtt.Ack, error) {
	out, err := protocol.EncodeRPCResponse(resp.RequestID, resp.Result)
	if err != nil {
		return mqtt.Ack{}, err
	}
	return c.publisher.Publish(ctx, out.Topic, out.Payload)
}

// IssueCommand publishes an attribute update and waits for the local
// transport to accept it.
//
// The wait is bounded by ackTimeout and by ctx. The pending entry is
// removed however the call ends, and a failed command is never retried.
//
// Returns:
//   - mqtt.Ack: local acknowledgment, not proof of platform delivery
//   - error: ErrCommandTimeout when the deadline passes first,
//     ErrCommandPublishFailed for any other failure
func (c *Correlator) IssueCommand(ctx context.Context, attribute string, value any, ackTimeout time.Duration) (mqtt.Ack, error) {
	out, err := protocol.EncodeAttributes(map[string]any{attribute: value})
	if err != nil {
		return mqtt.Ack{}, fmt.Errorf("%w: %w", ErrCommandPublishFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	cmd := PendingCommand{
		ID:        uuid.NewString(),
		Attribute: attribute,
		Value:     value,
		IssuedAt:  c.now(),
	}
	cmd.Deadline = cmd.IssuedAt.Add(ackTimeout)

	c.track(cmd)
	defer c.untrack(cmd.ID)

	ack, err := c.publisher.Publish(ctx, out.Topic, out.Payload)
	if err != nil {
		if errors.Is(err, mqtt.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("command acknowledgment timed out",
				"command_id", cmd.ID,
				"attribute", attribute,
				"timeout", ackTimeout,
			)
			return mqtt.Ack{}, fmt.Errorf("%w: %s after %s: %w", ErrCommandTimeout, attribute, ackTimeout, err)
		}
		return mqtt.Ack{}, fmt.Errorf("%w: %s: %w", ErrCommandPublishFailed, attribute, err)
	}

	c.logger.Debug("command acknowledged locally",
		"command_id", cmd.ID,
		"attribute", attribute,
		"message_id", ack.MessageID,
	)
	return ack, nil
}

// Pending returns the commands currently awaiting acknowledgment, oldest first.
func (c *Correlator) Pending() []PendingCommand {
	c.pendingMu.Lock()
	cmds := make([]PendingCommand, 0, len(c.pending))
	for _, cmd := range c.pending {
		cmds = append(cmds, cmd)
	}
	c.pendingMu.Unlock()

	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].IssuedAt.Before(cmds[j].IssuedAt)
	})
	return cmds
}

func (c *Correlator) track(cmd PendingCommand) {
	c.pendingMu.Lock()
	c.pending[cmd.ID] = cmd
	c.pendingMu.Unlock()
}

func (c *Correlator) untrack(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}
