package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockToken implements pahomqtt.Token.
type mockToken struct {
	done chan struct{}
	err  error
}

// completedToken returns a token that is already finished with err.
func completedToken(err error) *mockToken {
	t := &mockToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// pendingToken returns a token that never completes.
func pendingToken() *mockToken {
	return &mockToken{done: make(chan struct{})}
}

func (t *mockToken) Wait() bool {
	<-t.done
	return true
}

func (t *mockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *mockToken) Done() <-chan struct{} { return t.done }

func (t *mockToken) Error() error { return t.err }

// mockMessage implements pahomqtt.Message.
type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.payload }
func (m mockMessage) Ack()              {}

type mockPublish struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// MockBrokerClient implements brokerClient for testing.
type MockBrokerClient struct {
	mu sync.Mutex

	connectErr   error
	connectHang  bool
	subscribeErr error
	publishErr   error
	publishHang  bool

	// beforeSubscribe runs inside Subscribe, before the handler is recorded.
	beforeSubscribe func(topic string)

	opts          *pahomqtt.ClientOptions
	connects      int
	disconnects   int
	published     []mockPublish
	subscriptions []string
	handlers      map[string]pahomqtt.MessageHandler
}

func NewMockBrokerClient() *MockBrokerClient {
	return &MockBrokerClient{
		handlers: make(map[string]pahomqtt.MessageHandler),
	}
}

func (m *MockBrokerClient) Connect() pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectHang {
		return pendingToken()
	}
	return completedToken(m.connectErr)
}

func (m *MockBrokerClient) Disconnect(uint) {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}

func (m *MockBrokerClient) Publish(topic string, qos byte, _ bool, payload interface{}) pahomqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishHang {
		return pendingToken()
	}
	if m.publishErr != nil {
		return completedToken(m.publishErr)
	}
	data, _ := payload.([]byte)
	m.published = append(m.published, mockPublish{Topic: topic, QoS: qos, Payload: data})
	return completedToken(nil)
}

func (m *MockBrokerClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	if m.beforeSubscribe != nil {
		m.beforeSubscribe(topic)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return completedToken(m.subscribeErr)
	}
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = callback
	return completedToken(nil)
}

// deliver simulates an inbound publish on a subscribed pattern.
func (m *MockBrokerClient) deliver(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler := m.handlers[pattern]
	m.mu.Unlock()
	if handler != nil {
		handler(nil, mockMessage{topic: topic, payload: payload})
	}
}

func (m *MockBrokerClient) publishedMessages() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockBrokerClient) disconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}
