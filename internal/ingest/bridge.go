// Package ingest bridges MQTT agent traffic into the orchestrator.
// Edge agents announce themselves on <prefix>/agents/<id>/register and
// report task results on <prefix>/agents/<id>/outcome; the bridge
// turns both into registry operations.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flockmind/flockmind/internal/config"
)

// Core is the subset of orchestrator operations the bridge drives.
type Core interface {
	RegisterAgent(ctx context.Context, handle any, id string) (string, error)
	RecordOutcome(ctx context.Context, id string, success bool, responseSeconds float64) bool
}

// RemoteAgent is the registry handle stored for agents that joined
// over MQTT.
type RemoteAgent struct {
	Topic string `json:"topic"`
}

// Bridge subscribes to agent topics and feeds the orchestrator.
type Bridge struct {
	broker      string
	port        int
	clientID    string
	username    string
	password    string
	topicPrefix string

	core   Core
	logger *slog.Logger
	client Client

	clientFactory func(opts *mqtt.ClientOptions) Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an MQTT ingest bridge from config.
func New(cfg config.IngestConfig, core Core, logger *slog.Logger) *Bridge {
	return NewWithClient(cfg, core, logger, func(opts *mqtt.ClientOptions) Client {
		return &defaultClient{client: mqtt.NewClient(opts)}
	})
}

// NewWithClient creates a bridge with a custom client factory (for testing).
func NewWithClient(cfg config.IngestConfig, core Core, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) Client) *Bridge {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "flockmind"
	}
	return &Bridge{
		broker:        cfg.Broker,
		port:          cfg.Port,
		clientID:      fmt.Sprintf("flockmind-core-%d", time.Now().Unix()),
		username:      cfg.Username,
		password:      cfg.Password,
		topicPrefix:   prefix,
		core:          core,
		logger:        logger.With("component", "ingest"),
		clientFactory: clientFactory,
	}
}

// Start connects to the broker and subscribes to agent topics.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", b.broker, b.port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(b.clientID)

	if b.username != "" {
		opts.SetUsername(b.username)
		opts.SetPassword(b.password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		b.logger.Warn("mqtt connection lost", "error", err)
	})

	// Subscriptions are re-established on every (re)connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.logger.Info("mqtt connected, subscribing to agent topics")
		if err := b.subscribe(); err != nil {
			b.logger.Error("failed to subscribe", "error", err)
		}
	})

	b.client = b.clientFactory(opts)

	b.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}

	b.logger.Info("ingest bridge started")
	return nil
}

// Stop disconnects from the broker and waits for in-flight handlers.
func (b *Bridge) Stop() error {
	b.logger.Info("stopping ingest bridge")

	if b.cancel != nil {
		b.cancel()
	}
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.wg.Wait()
	return nil
}

func (b *Bridge) subscribe() error {
	registerPattern := b.topicPrefix + "/agents/+/register"
	token := b.client.Subscribe(registerPattern, 1, b.handleRegister)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", registerPattern, err)
	}
	b.logger.Info("subscribed", "topic", registerPattern)

	outcomePattern := b.topicPrefix + "/agents/+/outcome"
	token = b.client.Subscribe(outcomePattern, 1, b.handleOutcome)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", outcomePattern, err)
	}
	b.logger.Info("subscribed", "topic", outcomePattern)

	return nil
}

// handleRegister registers the agent named in the topic. Duplicate
// registrations are normal after a reconnect and are ignored.
func (b *Bridge) handleRegister(client mqtt.Client, msg mqtt.Message) {
	b.wg.Add(1)
	defer b.wg.Done()

	agentID := agentFromTopic(msg.Topic())
	if agentID == "" {
		b.logger.Warn("register on malformed topic", "topic", msg.Topic())
		return
	}

	_, err := b.core.RegisterAgent(b.ctx, RemoteAgent{Topic: msg.Topic()}, agentID)
	if err != nil {
		b.logger.Debug("agent already registered", "agent", agentID)
		return
	}
	b.logger.Info("remote agent registered", "agent", agentID)
}

// handleOutcome records a task outcome reported by an agent.
func (b *Bridge) handleOutcome(client mqtt.Client, msg mqtt.Message) {
	b.wg.Add(1)
	defer b.wg.Done()

	agentID := agentFromTopic(msg.Topic())
	if agentID == "" {
		b.logger.Warn("outcome on malformed topic", "topic", msg.Topic())
		return
	}

	var report struct {
		Success         bool    `json:"success"`
		ResponseSeconds float64 `json:"response_seconds"`
		TaskID          string  `json:"task_id,omitempty"`
	}
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		b.logger.Error("failed to parse outcome", "agent", agentID, "error", err)
		return
	}
	if report.ResponseSeconds < 0 {
		b.logger.Warn("dropping outcome with negative response time", "agent", agentID)
		return
	}

	if !b.core.RecordOutcome(b.ctx, agentID, report.Success, report.ResponseSeconds) {
		b.logger.Warn("outcome for unknown agent", "agent", agentID)
		return
	}
	b.logger.Debug("outcome recorded",
		"agent", agentID,
		"success", report.Success,
		"response_seconds", report.ResponseSeconds,
		"task", report.TaskID,
	)
}

// agentFromTopic extracts the agent id from
// <prefix>/agents/<id>/<leaf> topics.
func agentFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "agents" {
		return ""
	}
	return parts[2]
}
