package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
)

// eventBufferSize is the capacity of the inbound event queue.
const eventBufferSize = 256

// Logger is the logging interface used by the Session.
// Compatible with logging.Logger and slog.Logger.
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

// brokerClient is the part of pahomqtt.Client the session drives.
type brokerClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

func dialPaho(opts *pahomqtt.ClientOptions) brokerClient {
	return pahomqtt.NewClient(opts)
}

// Session owns one transient connection to the broker.
//
// A Session moves through Disconnected → Connecting → Connected →
// Disconnecting → Disconnected. Only one transition runs at a time; callers
// that race a transition wait for it and then observe the resulting state.
// Automatic reconnection is disabled: after an unexpected loss the session
// stays Disconnected until Connect is called again.
//
// Inbound messages and state changes are queued and handed to observers by
// Run, on a single goroutine, in arrival order.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	cfg      config.MQTTConfig
	clientID string
	subs     []Subscription
	dial     func(*pahomqtt.ClientOptions) brokerClient

	// transitionMu serialises Connect and Disconnect.
	transitionMu sync.Mutex

	stateMu sync.RWMutex
	state   State
	client  brokerClient
	gen     uint64 // incremented per connect attempt; stale callbacks are ignored
	lost    error  // connection loss reported while Connecting

	// inboundMu orders the Connected event before messages that arrive
	// while subscriptions are still being established.
	inboundMu sync.Mutex
	held      []Event

	// publishMu serialises access to the client's publish path.
	publishMu sync.Mutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	observers []Observer
	obsMu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a Disconnected session.
//
// Parameters:
//   - cfg: Broker address, token, QoS and timeouts
//   - subs: The fixed set of topic patterns subscribed on every connect
func NewSession(cfg config.MQTTConfig, subs ...Subscription) *Session {
	return &Session{
		cfg:      cfg,
		clientID: resolveClientID(cfg),
		subs:     append([]Subscription(nil), subs...),
		dial:     dialPaho,
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
		logger:   noopLogger{},
	}
}

// ClientID returns the MQTT client identifier used for every connection.
func (s *Session) ClientID() string {
	return s.clientID
}

// SetLogger sets the logger used for connection and delivery diagnostics.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// AddObserver registers an observer for connection and message events.
func (s *Session) AddObserver(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected reports whether the session is Connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Connect establishes the broker connection and the declared subscriptions.
//
// The handshake is bounded by the ctx deadline, or by the configured connect
// timeout when ctx has none. Calling Connect on a Connected session is a
// no-op. On any failure the session is left Disconnected.
//
// Returns:
//   - error: nil on success; otherwise wraps ErrConnect and one of
//     ErrConnectTimeout, ErrAuthFailure or ErrConnectionFailed
func (s *Session) Connect(ctx context.Context) error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	if s.State() == StateConnected {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.connectTimeout())
		defer cancel()
	}

	s.stateMu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.lost = nil
	s.stateMu.Unlock()

	opts := buildClientOptions(s.cfg, s.clientID)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(gen, err)
	})
	client := s.dial(opts)

	log := s.getLogger()
	log.Debug("connecting to broker", "broker", s.cfg.BrokerAddress(), "client_id", s.clientID)

	fail := func(err error) error {
		client.Disconnect(0)
		s.inboundMu.Lock()
		s.held = nil
		s.inboundMu.Unlock()
		s.stateMu.Lock()
		s.state = StateDisconnected
		s.client = nil
		s.lost = nil
		s.stateMu.Unlock()
		log.Warn("broker connect failed", "broker", s.cfg.BrokerAddress(), "error", err)
		return err
	}

	if err := s.handshake(ctx, client, gen); err != nil {
		return fail(err)
	}

	s.inboundMu.Lock()
	s.stateMu.Lock()
	if lost := s.lost; lost != nil {
		s.stateMu.Unlock()
		s.inboundMu.Unlock()
		return fail(fmt.Errorf("%w: %w: connection lost during handshake: %w", ErrConnect, ErrConnectionFailed, lost))
	}
	s.client = client
	s.state = StateConnected
	s.stateMu.Unlock()
	s.emit(Event{Kind: EventConnected, At: time.Now()})
	for _, ev := range s.held {
		s.emit(ev)
	}
	s.held = nil
	s.inboundMu.Unlock()

	log.Info("connected to broker", "broker", s.cfg.BrokerAddress(), "subscriptions", len(s.subs))
	return nil
}

// handshake waits for CONNACK and subscribes the declared topics.
func (s *Session) handshake(ctx context.Context, client brokerClient, gen uint64) error {
	if err := waitToken(ctx, client.Connect()); err != nil {
		return classifyConnectError(err)
	}

	for _, sub := range s.subs {
		token := client.Subscribe(sub.Topic, sub.QoS, s.messageHandler(gen))
		if err := waitToken(ctx, token); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return fmt.Errorf("%w: %w: subscribing %s: %w", ErrConnect, ErrConnectTimeout, sub.Topic, err)
			}
			return fmt.Errorf("%w: %w: %w: %s: %w", ErrConnect, ErrConnectionFailed, ErrSubscribeFailed, sub.Topic, err)
		}
	}
	return nil
}

// classifyConnectError maps a CONNACK wait failure to the connect taxonomy.
func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w: %w", ErrConnect, ErrConnectTimeout, err)
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %w: %w", ErrConnect, ErrAuthFailure, err)
	default:
		return fmt.Errorf("%w: %w: %w", ErrConnect, ErrConnectionFailed, err)
	}
}

// waitToken blocks until the token completes or ctx ends.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// messageHandler queues inbound publishes for the delivery goroutine.
func (s *Session) messageHandler(gen uint64) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		ev := Event{
			Kind:    EventMessage,
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
			At:      time.Now(),
		}

		s.inboundMu.Lock()
		defer s.inboundMu.Unlock()

		s.stateMu.RLock()
		current, state := s.gen, s.state
		s.stateMu.RUnlock()

		switch {
		case current != gen:
			return
		case state == StateConnecting:
			s.held = append(s.held, ev)
		default:
			s.emit(ev)
		}
	}
}

// handleConnectionLost is invoked by paho when the connection drops. A loss
// during the handshake is recorded for Connect to report.
func (s *Session) handleConnectionLost(gen uint64, err error) {
	s.stateMu.Lock()
	if gen != s.gen {
		s.stateMu.Unlock()
		return
	}
	if s.state == StateConnecting {
		if err == nil {
			err = ErrConnectionFailed
		}
		s.lost = err
		s.stateMu.Unlock()
		return
	}
	if s.state != StateConnected {
		s.stateMu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.client = nil
	s.stateMu.Unlock()

	s.getLogger().Warn("broker connection lost", "broker", s.cfg.BrokerAddress(), "error", err)
	s.emit(Event{Kind: EventDisconnected, Err: err, At: time.Now()})
}

// Disconnect releases the broker connection. It is idempotent.
//
// Once the session enters Disconnecting no further publishes are accepted.
func (s *Session) Disconnect() {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.stateMu.Lock()
	if s.state != StateConnected {
		s.stateMu.Unlock()
		return
	}
	client := s.client
	s.state = StateDisconnecting
	s.stateMu.Unlock()

	// Wait for a publish that passed its state check to finish issuing.
	s.publishMu.Lock()
	client.Disconnect(defaultDisconnectQuiesce)
	s.publishMu.Unlock()

	s.stateMu.Lock()
	s.state = StateDisconnected
	s.client = nil
	s.stateMu.Unlock()

	s.getLogger().Info("disconnected from broker", "broker", s.cfg.BrokerAddress())
	s.emit(Event{Kind: EventDisconnected, At: time.Now()})
}

// Close disconnects and stops event delivery. The session cannot be reused.
func (s *Session) Close() error {
	s.Disconnect()
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// HealthCheck verifies the session is Connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Run delivers queued events to observers until ctx is cancelled or the
// session is closed. It must run on exactly one goroutine.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// emit queues an event, giving up only once the session is closed.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// deliver hands one event to every observer, recovering observer panics.
func (s *Session) deliver(ev Event) {
	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()

	for _, o := range observers {
		s.deliverOne(o, ev)
	}
}

func (s *Session) deliverOne(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.getLogger().Error("MQTT observer panic recovered",
				"event", ev.Kind.String(),
				"topic", ev.Topic,
				"panic", r,
			)
		}
	}()
	o.HandleEvent(ev)
}

func (s *Session) connectTimeout() time.Duration {
	if s.cfg.ConnectTimeout > 0 {
		return s.cfg.ConnectTimeout
	}
	return defaultConnectTimeout
}
