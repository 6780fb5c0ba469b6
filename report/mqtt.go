// Package report mirrors engine events to an MQTT broker and accepts
// console commands from it.
//
// Topics hang off a configurable prefix:
//
//	<prefix>/events    engine events as JSON, published by the controller
//	<prefix>/commands  command text, subscribed by the controller
//	<prefix>/replies   JSON replies to commands
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"i4.energy/across/fieldctl/irrigation"
)

// Client is the subset of mqtt.Client the reporter uses.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Config configures the broker connection.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// NewClient returns a paho client with automatic reconnection.
func NewClient(cfg Config, logger *slog.Logger) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	return mqtt.NewClient(opts)
}

// Submitter runs a decoded command and returns the reply text.
// *irrigation.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, cmd irrigation.Command) (string, error)
}

// Reply is published on the replies topic for each command.
type Reply struct {
	Command string `json:"command"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	queueSize      = 64
	publishTimeout = 5 * time.Second
)

// Reporter publishes engine events. Report never blocks; events are
// dropped while the queue is full.
type Reporter struct {
	client Client
	topic  string
	logger *slog.Logger

	events  chan irrigation.Event
	dropped atomic.Uint64

	decoder   irrigation.Decoder
	submitter Submitter
}

// New returns a Reporter publishing under topic.
func New(client Client, topic string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reporter{
		client: client,
		topic:  topic,
		logger: logger.With("component", "report"),
		events: make(chan irrigation.Event, queueSize),
	}
}

// HandleCommands makes Run subscribe to the commands topic and pass each
// message through decoder to s. It must be called before Run.
func (r *Reporter) HandleCommands(decoder irrigation.Decoder, s Submitter) {
	r.decoder = decoder
	r.submitter = s
}

// Report queues e for publishing.
func (r *Reporter) Report(e irrigation.Event) {
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Run connects to the broker and publishes queued events until ctx is
// done.
func (r *Reporter) Run(ctx context.Context) error {
	if err := wait(r.client.Connect()); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer r.client.Disconnect(250)
	r.logger.Info("Connected to broker", "topic", r.topic)

	if r.decoder != nil && r.submitter != nil {
		token := r.client.Subscribe(r.topic+"/commands", 1, func(_ mqtt.Client, m mqtt.Message) {
			r.command(ctx, string(m.Payload()))
		})
		if err := wait(token); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-r.events:
			r.publish(r.topic+"/events", e)
		}
	}
}

func (r *Reporter) command(ctx context.Context, text string) {
	reply := Reply{Command: text}
	cmd, err := r.decoder(text)
	if err == nil {
		reply.Reply, err = r.submitter.Submit(ctx, cmd)
	}
	if err != nil {
		r.logger.Warn("Command failed", "command", text, "error", err)
		reply.Error = err.Error()
	}
	r.publish(r.topic+"/replies", reply)
}

func (r *Reporter) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("Failed to encode", "topic", topic, "error", err)
		return
	}
	if err := wait(r.client.Publish(topic, 1, false, payload)); err != nil {
		r.logger.Warn("Failed to publish", "topic", topic, "error", err)
	}
}

var errTokenTimeout = errors.New("broker did not acknowledge in time")

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(publishTimeout) {
		return errTokenTimeout
	}
	return t.Error()
}
