package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yk970217-wq/cleanbear/internal/config"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type mockClient struct {
	opts        *paho.ClientOptions
	connectErr  error
	publishErr  error
	published   []published
	disconnects int
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	return &dummyToken{err: m.connectErr}
}
func (m *mockClient) Disconnect(uint) { m.disconnects++ }
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	m.published = append(m.published, published{topic: topic, qos: qos, payload: b})
	return &dummyToken{err: m.publishErr}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type pendingToken struct{}

func (pendingToken) Wait() bool                     { return false }
func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (pendingToken) Error() error                   { return nil }

type stuckClient struct{ mockClient }

func (s *stuckClient) Publish(string, byte, bool, interface{}) paho.Token { return pendingToken{} }

func withClient(t *testing.T, c pahoClient) {
	t.Helper()
	orig := newMQTTClient
	newMQTTClient = func(*paho.ClientOptions) pahoClient { return c }
	t.Cleanup(func() { newMQTTClient = orig })
}

func mqttConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Enabled = true
	cfg.Broker = "tcp://localhost:1883"
	cfg.Timeout = 50 * time.Millisecond
	return cfg
}

func TestMQTTPublisher_Publish(t *testing.T) {
	mc := &mockClient{}
	withClient(t, mc)

	p, err := NewMQTTPublisher(mqttConfig())
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), map[string]string{"batch_id": "b1"}))
	require.Len(t, mc.published, 1)
	assert.Equal(t, "cleanbear/assignments", mc.published[0].topic)
	assert.Equal(t, byte(1), mc.published[0].qos)

	var got map[string]string
	require.NoError(t, json.Unmarshal(mc.published[0].payload, &got))
	assert.Equal(t, "b1", got["batch_id"])

	p.Close()
	assert.Equal(t, 1, mc.disconnects)
}

func TestMQTTPublisher_Errors(t *testing.T) {
	t.Run("连接失败", func(t *testing.T) {
		withClient(t, &mockClient{connectErr: errors.New("refused")})
		_, err := NewMQTTPublisher(mqttConfig())
		assert.Error(t, err)
	})

	t.Run("缺少broker", func(t *testing.T) {
		cfg := mqttConfig()
		cfg.Broker = ""
		_, err := NewMQTTPublisher(cfg)
		assert.Error(t, err)
	})

	t.Run("发布失败", func(t *testing.T) {
		withClient(t, &mockClient{publishErr: errors.New("not connected")})
		p, err := NewMQTTPublisher(mqttConfig())
		require.NoError(t, err)
		assert.Error(t, p.Publish(context.Background(), "x"))
	})

	t.Run("发布超时", func(t *testing.T) {
		withClient(t, &stuckClient{})
		p, err := NewMQTTPublisher(mqttConfig())
		require.NoError(t, err)
		assert.Error(t, p.Publish(context.Background(), "x"))
	})

	t.Run("无法序列化", func(t *testing.T) {
		withClient(t, &mockClient{})
		p, err := NewMQTTPublisher(mqttConfig())
		require.NoError(t, err)
		assert.Error(t, p.Publish(context.Background(), make(chan int)))
	})
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), "x"))
	p.Close()
}
