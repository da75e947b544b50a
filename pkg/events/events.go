// Package events publishes read and clear outcomes to an MQTT broker
// (codes/start, codes/result, codes/error, codes/clear, codes/cleared),
// so dashboards or automations can follow the tool remotely.
package events

import (
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

var ErrConnectTimeout = errors.New("timed out connecting to MQTT broker")

const (
	DefaultBroker      = "tcp://localhost:1883"
	DefaultClientID    = "obdcan-dtctool"
	DefaultTopicPrefix = "codes"
)

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Publisher sends code events. A nil Publisher, or one that never
// connected, silently drops events so callers need no broker to run.
type Publisher struct {
	cfg    Config
	client mqtt.Client
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.Broker == "" {
		cfg.Broker = DefaultBroker
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	return &Publisher{cfg: cfg}
}

func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("lost connection to MQTT broker")
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.WithField("broker", p.cfg.Broker).Info("connected to MQTT broker")
	})
	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return ErrConnectTimeout
	}
	return token.Error()
}

func (p *Publisher) Disconnect() {
	if p != nil && p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Start signals a read has begun.
func (p *Publisher) Start() {
	p.publish("start", "")
}

// Result carries the comma-joined code rendering of a finished read.
func (p *Publisher) Result(payload string) {
	p.publish("result", payload)
}

// Error signals a failed read or clear.
func (p *Publisher) Error(stage string) {
	p.publish("error", stage)
}

// Clear signals a clear request going out.
func (p *Publisher) Clear() {
	p.publish("clear", "")
}

// Cleared signals the vehicle acknowledged the clear.
func (p *Publisher) Cleared() {
	p.publish("cleared", "")
}

func (p *Publisher) publish(event, payload string) {
	if p == nil || p.client == nil || !p.client.IsConnected() {
		return
	}
	topic := p.cfg.TopicPrefix + "/" + event
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.WithError(err).WithField("topic", topic).Warn("failed to publish event")
		}
	}()
}
