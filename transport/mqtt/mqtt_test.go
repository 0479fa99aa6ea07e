package mqtt

import (
	"context"
	"testing"

	"github.com/aodvmesh/simnet/agent"
)

func TestNew_Defaults(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})

	if p.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, p.cfg.TopicPrefix)
	}
	if p.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestNew_CustomConfig(t *testing.T) {
	p := New(Config{
		Broker:      "tcp://broker.example.com:1883",
		Username:    "user",
		Password:    "pass",
		TopicPrefix: "custom",
	})

	if p.cfg.TopicPrefix != "custom" {
		t.Errorf("expected topic prefix %q, got %q", "custom", p.cfg.TopicPrefix)
	}
}

func TestStart_MissingBroker(t *testing.T) {
	p := New(Config{})
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestIsConnected_Default(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})
	if p.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func TestPublishStats_NoopWhenNotConnected(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})
	// Must not panic even with a nil paho client, since IsConnected()
	// short-circuits before touching p.client.
	p.PublishStats("N1:9000", agent.CountersSnapshot{SentBytes: 10, ReceivedBytes: 5}, 3.5, 2)
}

func TestPublishSeasonEvent_NoopWhenNotConnected(t *testing.T) {
	p := New(Config{Broker: "tcp://localhost:1883"})
	p.PublishSeasonEvent("season_start", "N3:9002")
}
