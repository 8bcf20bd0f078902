package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-interview/internal/config"
)

// Kafka builds the writers and readers of the interview pipeline. Writers
// share one transport so a process keeps a single set of broker connections.
type Kafka struct {
	cfg       config.KafkaConfig
	transport *kafka.Transport
	dialer    *kafka.Dialer
}

// NewKafka initializes the Kafka helper.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Kafka{
		cfg: cfg,
		transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: 5 * time.Second,
		},
		dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
			Timeout:  10 * time.Second,
		},
	}, nil
}

// NewWriter creates a synchronous writer for topic. Messages are hashed by
// key so every message of a call lands on one partition in order. The batch
// timeout stays short because webhook handlers wait on the write.
func (k *Kafka) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: k.cfg.BatchTimeout,
		WriteTimeout: k.cfg.WriteTimeout,
		Transport:    k.transport,
	}
}

// NewReader creates a consumer-group reader for topic.
func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		Dialer:         k.dialer,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
	})
}

// Close drops idle broker connections held by the shared transport.
func (k *Kafka) Close() error {
	k.transport.CloseIdleConnections()
	return nil
}

// Topics lists every topic the interview pipeline writes to.
func (k *Kafka) Topics() []string {
	var out []string
	for _, t := range []string{k.cfg.EventTopic, k.cfg.TranscriptionTopic, k.cfg.DeadLetterTopic} {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// EnsureTopics creates the missing topics through the cluster controller.
func (k *Kafka) EnsureTopics(ctx context.Context, topics []string, partitions int, replicationFactor int) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	exists := make(map[string]bool, len(existing))
	for _, p := range existing {
		exists[p.Topic] = true
	}

	var missing []kafka.TopicConfig
	for _, topic := range topics {
		if exists[topic] {
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	if len(missing) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: find controller: %w", err)
	}
	ctrl, err := k.dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer ctrl.Close()

	if err := ctrl.CreateTopics(missing...); err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	return nil
}

func (k *Kafka) dial(ctx context.Context) (*kafka.Conn, error) {
	var lastErr error
	for _, broker := range k.cfg.Brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("kafka: dial: %w", lastErr)
}
