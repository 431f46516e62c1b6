// Package kafka publishes anchor events to a Kafka topic. Records are keyed
// by DID so every identifier's events land on one partition in commit order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"didledger/internal/anchor"
)

// Config selects brokers and the destination topic.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
}

// Gateway produces anchor events with a franz-go client.
type Gateway struct {
	client            *kgo.Client
	topic             string
	partitions        int32
	replicationFactor int16
}

// New connects to the brokers. The topic is not created; call EnsureTopic
// when the deployment owns it.
func New(cfg Config, opts ...kgo.Opt) (*Gateway, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	g := &Gateway{
		client:            client,
		topic:             cfg.Topic,
		partitions:        cfg.Partitions,
		replicationFactor: cfg.ReplicationFactor,
	}
	if g.partitions <= 0 {
		g.partitions = 1
	}
	if g.replicationFactor <= 0 {
		g.replicationFactor = 1
	}
	return g, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (g *Gateway) EnsureTopic(ctx context.Context) error {
	adm := kadm.NewClient(g.client)
	resp, err := adm.CreateTopic(ctx, g.partitions, g.replicationFactor, nil, g.topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", g.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("kafka: create topic %s: %w", g.topic, resp.Err)
	}
	return nil
}

func (g *Gateway) Name() string { return "kafka" }

// Anchor produces ev synchronously and returns once the brokers acknowledge it.
func (g *Gateway) Anchor(ctx context.Context, ev anchor.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: g.topic,
		Key:   []byte(ev.DID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	}
	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce %s: %w", ev.ID, err)
	}
	return nil
}

// Close flushes pending records and closes the client.
func (g *Gateway) Close() {
	g.client.Close()
}
