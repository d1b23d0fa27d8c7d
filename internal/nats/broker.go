package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/pipeline"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// HeaderKey carries the record key, which JetStream messages lack.
const HeaderKey = "Adt-Key"

// Source pulls from a durable JetStream consumer. Acknowledging a message
// is the mark-processed operation.
type Source struct {
	consumer jetstream.Consumer
	batch    int
	wait     time.Duration
}

var _ pipeline.Source = (*Source)(nil)

func NewSource(ctx context.Context, js jetstream.JetStream, stream, durable string, batch int, wait time.Duration) (*Source, error) {
	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		Description:   "ADT to FHIR transformer",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxAckPending: batch,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s on %s: %w", durable, stream, err)
	}
	return &Source{consumer: consumer, batch: batch, wait: wait}, nil
}

func (s *Source) Fetch(ctx context.Context) ([]pipeline.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := s.consumer.Fetch(s.batch, jetstream.FetchMaxWait(s.wait))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var records []pipeline.Record
	for msg := range batch.Messages() {
		r := pipeline.Record{
			Topic:  msg.Subject(),
			Value:  msg.Data(),
			Handle: msg,
		}
		if key := msg.Headers().Get(HeaderKey); key != "" {
			r.Key = []byte(key)
		}
		if md, err := msg.Metadata(); err == nil {
			r.Offset = int64(md.Sequence.Stream)
			r.Timestamp = md.Timestamp
		}
		records = append(records, r)
	}
	if err := batch.Error(); err != nil {
		return records, fmt.Errorf("fetch: %w", err)
	}
	return records, nil
}

// MarkProcessed acks the message and waits for the server to confirm.
func (s *Source) MarkProcessed(ctx context.Context, r pipeline.Record) error {
	msg, ok := r.Handle.(jetstream.Msg)
	if !ok {
		return fmt.Errorf("record at %d has no JetStream message", r.Offset)
	}
	return msg.DoubleAck(ctx)
}

// Close leaves the durable consumer in place so the next run resumes.
func (s *Source) Close() error {
	return nil
}

// Publisher writes to JetStream subjects.
type Publisher struct {
	js jetstream.JetStream
}

func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// Produce publishes value with key in a header. A non-empty msgID lets the
// stream drop duplicates within its window.
func (p *Publisher) Produce(ctx context.Context, subject string, key, value []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = value
	if len(key) > 0 {
		msg.Header.Set(HeaderKey, string(key))
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := p.js.PublishMsg(ctx, msg, opts...); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Sink returns a pipeline sink writing to subject. The message id is the
// source record's coordinates, so a redelivered record publishes once.
func (p *Publisher) Sink(subject string) pipeline.Sink {
	return subjectSink{p: p, subject: subject}
}

// Input returns a publish function for raw messages entering the pipeline.
func (p *Publisher) Input(subject string) hl7.PublishFunc {
	return func(ctx context.Context, key string, raw []byte) error {
		return p.Produce(ctx, subject, []byte(key), raw, "")
	}
}

type subjectSink struct {
	p       *Publisher
	subject string
}

func (s subjectSink) Publish(ctx context.Context, out pipeline.OutputRecord) error {
	return s.p.Produce(ctx, s.subject, out.Key, out.Value, RecordID(out.Source))
}
