// Package mqtt implements the harness's optional telemetry publisher: it
// pushes per-node stats(node_id) snapshots and season lifecycle events to
// an MQTT broker under topic "aodvsim/<node_id>/stats", for an external
// plotter to consume. The harness never renders anything itself — this
// package only publishes.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/aodvmesh/simnet/agent"
)

// DefaultTopicPrefix is the default MQTT topic prefix for telemetry.
const DefaultTopicPrefix = "aodvsim"

// Config holds the configuration for the telemetry publisher.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "aodvsim").
	TopicPrefix string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Publisher implements harness.Telemetry over MQTT.
type Publisher struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// New creates a new telemetry publisher with the given configuration.
func New(cfg Config) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// Start connects to the MQTT broker.
func (p *Publisher) Start(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("mqtt: broker URL is required")
	}

	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = "aodvsim-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnected).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}
	if p.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	p.client = paho.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt: connecting to broker: %w", token.Error())
	}
	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(1000)
		p.connected = false
	}
	return nil
}

// IsConnected reports whether the publisher is connected to the broker.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.client != nil && p.client.IsConnected()
}

type statsPayload struct {
	SentBytes     uint64  `json:"sent_bytes"`
	ReceivedBytes uint64  `json:"received_bytes"`
	Power         float64 `json:"power"`
	RouteCount    int     `json:"route_count"`
}

// PublishStats publishes a stats(node_id) snapshot to
// "<prefix>/<nodeID>/stats". Silently skipped if not connected.
func (p *Publisher) PublishStats(nodeID string, stats agent.CountersSnapshot, power float64, routeCount int) {
	if !p.IsConnected() {
		return
	}
	payload := statsPayload{
		SentBytes:     stats.SentBytes,
		ReceivedBytes: stats.ReceivedBytes,
		Power:         power,
		RouteCount:    routeCount,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("marshal stats payload failed", "error", err)
		return
	}
	topic := p.cfg.TopicPrefix + "/" + nodeID + "/stats"
	token := p.client.Publish(topic, 0, false, data)
	token.WaitTimeout(5 * time.Second)
}

type seasonEventPayload struct {
	Event string `json:"event"`
	Dest  string `json:"dest"`
}

// PublishSeasonEvent publishes a season_start/season_end lifecycle event
// to "<prefix>/<dest>/stats". Silently skipped if not connected.
func (p *Publisher) PublishSeasonEvent(event, dest string) {
	if !p.IsConnected() {
		return
	}
	data, err := json.Marshal(seasonEventPayload{Event: event, Dest: dest})
	if err != nil {
		p.log.Error("marshal season event payload failed", "error", err)
		return
	}
	topic := p.cfg.TopicPrefix + "/" + dest + "/stats"
	token := p.client.Publish(topic, 0, false, data)
	token.WaitTimeout(5 * time.Second)
}

func (p *Publisher) onConnected(_ paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.log.Info("connected to MQTT broker", "broker", p.cfg.Broker)
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Error("MQTT connection lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
