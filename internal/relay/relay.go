// Package relay receives push messages relayed through an MQTT broker.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/morrildl/providence/pkg/exchange"
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

type Relay struct {
	cfg      Config
	client   MQTT.Client
	sink     exchange.Sink
	messages chan MQTT.Message
	done     chan struct{}
}

func New(cfg Config, sink exchange.Sink) *Relay {
	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("providence/%s-%d", hostname, os.Getpid())
	}
	r := &Relay{
		cfg:      cfg,
		sink:     sink,
		messages: make(chan MQTT.Message, 16),
		done:     make(chan struct{}),
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(r.onConnect)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "err", err)
	})
	r.client = MQTT.NewClient(opts)
	return r
}

// Start connects to the broker and delivers relayed messages until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	if token := r.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to %s: %w", r.cfg.Broker, token.Error())
	}
	go r.run(ctx)
	return nil
}

func (r *Relay) Close() {
	r.client.Disconnect(250)
}

// onConnect (re)subscribes, since the session is not persistent.
func (r *Relay) onConnect(client MQTT.Client) {
	slog.Info("MQTT connected, subscribing", "broker", r.cfg.Broker, "topic", r.cfg.Topic)
	if token := client.Subscribe(r.cfg.Topic, 1, r.onMessage); token.Wait() && token.Error() != nil {
		slog.Error("Error subscribing", "topic", r.cfg.Topic, "err", token.Error())
	}
}

// onMessage runs on paho's router goroutine and must not block once run has
// stopped.
func (r *Relay) onMessage(_ MQTT.Client, msg MQTT.Message) {
	select {
	case r.messages <- msg:
	case <-r.done:
		slog.Warn("Relay stopped, dropping message", "topic", msg.Topic())
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.messages:
			if err := r.deliver(ctx, msg.Payload()); err != nil {
				slog.Error("Relayed message failed", "topic", msg.Topic(), "err", err)
			}
		}
	}
}

func (r *Relay) deliver(ctx context.Context, payload []byte) error {
	msg, err := exchange.DecodeJSON(payload)
	if err != nil {
		return err
	}
	return r.sink.Deliver(ctx, msg)
}
