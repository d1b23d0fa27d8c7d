package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/diz-unimr/adt-to-fhir/internal/config"
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/pipeline"
)

// baseConfig holds the settings shared by consumer and producer.
func baseConfig(cfg config.Kafka) kafka.ConfigMap {
	m := kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"security.protocol": cfg.SecurityProtocol,
	}
	if strings.EqualFold(cfg.SecurityProtocol, "ssl") {
		set := func(key, value string) {
			if value != "" {
				m[key] = value
			}
		}
		set("ssl.ca.location", cfg.SSL.CALocation)
		set("ssl.key.location", cfg.SSL.KeyLocation)
		set("ssl.certificate.location", cfg.SSL.CertificateLocation)
		set("ssl.key.password", cfg.SSL.KeyPassword)
	}
	return m
}

// ConsumerConfig stores offsets only through StoreMessage and commits
// stored offsets in the background.
func ConsumerConfig(cfg config.Kafka) *kafka.ConfigMap {
	m := baseConfig(cfg)
	m["group.id"] = cfg.ConsumerGroup
	m["auto.offset.reset"] = cfg.OffsetReset
	m["enable.auto.commit"] = true
	m["enable.auto.offset.store"] = false
	m["session.timeout.ms"] = 45000
	return &m
}

func ProducerConfig(cfg config.Kafka) *kafka.ConfigMap {
	m := baseConfig(cfg)
	m["acks"] = "all"
	m["enable.idempotence"] = true
	m["compression.type"] = "gzip"
	m["message.max.bytes"] = 6291456
	return &m
}

// Consumer is a group member on the input topic.
type Consumer struct {
	c           *kafka.Consumer
	batchSize   int
	pollTimeout time.Duration
}

var _ pipeline.Source = (*Consumer)(nil)

func NewConsumer(cfg config.Kafka) (*Consumer, error) {
	c, err := kafka.NewConsumer(ConsumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{cfg.InputTopic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.InputTopic, err)
	}
	slog.Info("Kafka consumer subscribed", "topic", cfg.InputTopic, "group", cfg.ConsumerGroup)

	return &Consumer{c: c, batchSize: cfg.BatchSize, pollTimeout: cfg.PollTimeout}, nil
}

// Fetch waits up to the poll timeout for a first message, then takes what
// is already buffered up to the batch size.
func (c *Consumer) Fetch(ctx context.Context) ([]pipeline.Record, error) {
	var records []pipeline.Record
	timeout := c.pollTimeout
	for len(records) < c.batchSize {
		if err := ctx.Err(); err != nil {
			return records, nil
		}
		msg, err := c.c.ReadMessage(timeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) {
				if kerr.Code() == kafka.ErrTimedOut {
					break
				}
				if !kerr.IsFatal() {
					slog.Warn("Kafka consumer error", "error", kerr)
					break
				}
			}
			return records, fmt.Errorf("read message: %w", err)
		}
		records = append(records, toRecord(msg))
		timeout = 10 * time.Millisecond
	}
	return records, nil
}

// MarkProcessed stores the record's offset for the next auto commit.
func (c *Consumer) MarkProcessed(_ context.Context, r pipeline.Record) error {
	msg, ok := r.Handle.(*kafka.Message)
	if !ok {
		return fmt.Errorf("record at offset %d has no Kafka message", r.Offset)
	}
	if _, err := c.c.StoreMessage(msg); err != nil {
		return fmt.Errorf("store offset: %w", err)
	}
	return nil
}

// Close commits stored offsets and leaves the group.
func (c *Consumer) Close() error {
	if _, err := c.c.Commit(); err != nil {
		var kerr kafka.Error
		if !errors.As(err, &kerr) || kerr.Code() != kafka.ErrNoOffset {
			slog.Warn("Final offset commit failed", "error", err)
		}
	}
	return c.c.Close()
}

func toRecord(msg *kafka.Message) pipeline.Record {
	r := pipeline.Record{
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Key:       msg.Key,
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
		Handle:    msg,
	}
	if msg.TopicPartition.Topic != nil {
		r.Topic = *msg.TopicPartition.Topic
	}
	return r
}

// Producer writes to Kafka topics and waits for each delivery report.
type Producer struct {
	p *kafka.Producer
}

func NewProducer(cfg config.Kafka) (*Producer, error) {
	p, err := kafka.NewProducer(ProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}

	// delivery reports go to per-message channels, this only sees errors
	go func() {
		for e := range p.Events() {
			if kerr, ok := e.(kafka.Error); ok {
				slog.Error("Kafka producer error", "error", kerr, "fatal", kerr.IsFatal())
			}
		}
	}()

	return &Producer{p: p}, nil
}

func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	delivery := make(chan kafka.Event, 1)
	err := p.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	select {
	case e := <-delivery:
		msg, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if msg.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", topic, msg.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sink returns a pipeline sink writing to topic.
func (p *Producer) Sink(topic string) pipeline.Sink {
	return topicSink{p: p, topic: topic}
}

// Input returns a publish function for raw messages entering the pipeline.
func (p *Producer) Input(topic string) hl7.PublishFunc {
	return func(ctx context.Context, key string, raw []byte) error {
		return p.Produce(ctx, topic, []byte(key), raw)
	}
}

// Close flushes outstanding messages.
func (p *Producer) Close() {
	if n := p.p.Flush(10000); n > 0 {
		slog.Warn("Producer closed with undelivered messages", "count", n)
	}
	p.p.Close()
}

type topicSink struct {
	p     *Producer
	topic string
}

func (s topicSink) Publish(ctx context.Context, out pipeline.OutputRecord) error {
	return s.p.Produce(ctx, s.topic, out.Key, out.Value)
}
