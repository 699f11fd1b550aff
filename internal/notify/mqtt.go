// Package notify 推送派单结果
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/yk970217-wq/cleanbear/internal/config"
	"github.com/yk970217-wq/cleanbear/pkg/logger"
)

// Publisher 结果推送
type Publisher interface {
	Publish(ctx context.Context, payload interface{}) error
	Close()
}

// Nop 不推送
type Nop struct{}

// Publish 什么都不做
func (Nop) Publish(context.Context, interface{}) error { return nil }

// Close 什么都不做
func (Nop) Close() {}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// MQTTPublisher 通过 MQTT 推送 JSON
type MQTTPublisher struct {
	cli     pahoClient
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTTPublisher 连接 broker
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker 和 topic 必填")
	}

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(paho.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("MQTT 已连接")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT 连接断开")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	c := newMQTTClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("连接 MQTT 超时: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("连接 MQTT 失败: %w", err)
	}

	return &MQTTPublisher{cli: c, topic: cfg.Topic, qos: cfg.QoS, timeout: timeout}, nil
}

// Publish 序列化并发布，等待确认或超时
func (p *MQTTPublisher) Publish(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}

	token := p.cli.Publish(p.topic, p.qos, false, body)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("发布到 %s 失败: %w", p.topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("发布到 %s 超时", p.topic)
	}
}

// Close 断开连接
func (p *MQTTPublisher) Close() {
	if p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
