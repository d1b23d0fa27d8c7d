package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/db"
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/pipeline"
	"github.com/nats-io/nats.go/jetstream"
)

var ErrRejectionNotFound = errors.New("rejection not found")

const (
	keyPublished     = "published"
	keyRejected      = "rejected"
	keyRetried       = "retried"
	keyLastPublished = "last_published"
	keyLastRejected  = "last_rejected"

	maxUpdateAttempts = 50
)

// Audit keeps rejected records in the DLQ bucket and pipeline counters in
// the stats bucket. Counters are shared by all workers and updated with
// compare-and-set on the entry revision.
type Audit struct {
	stats jetstream.KeyValue
	dlq   jetstream.KeyValue
	now   func() time.Time
}

var _ pipeline.Auditor = (*Audit)(nil)

func NewAudit(ctx context.Context, js jetstream.JetStream) (*Audit, error) {
	stats, err := js.KeyValue(ctx, BucketStats)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", BucketStats, err)
	}
	dlq, err := js.KeyValue(ctx, BucketDLQ)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", BucketDLQ, err)
	}
	return &Audit{stats: stats, dlq: dlq, now: time.Now}, nil
}

// Rejected stores r with the reason it was rejected.
func (a *Audit) Rejected(ctx context.Context, r pipeline.Record, reason error) {
	rej := db.Rejection{
		ID:         RecordID(r),
		Topic:      r.Topic,
		Partition:  r.Partition,
		Offset:     r.Offset,
		Key:        string(r.Key),
		RawMessage: r.Value,
		Reason:     reason.Error(),
		Kind:       "mapping",
		ReceivedAt: r.Timestamp,
		RejectedAt: a.now().UTC(),
	}

	var parseErr *hl7.ParseError
	if errors.As(reason, &parseErr) {
		rej.Kind = "parse"
	} else if msg, err := hl7.Parse(r.Value); err == nil {
		rej.MessageType = msg.Type + "^" + msg.Trigger
		rej.MessageControlID = msg.ControlID
		rej.PatientID = msg.Segment("PID", 0).Field(2).Value()
	}

	data, err := json.Marshal(rej)
	if err != nil {
		slog.Error("Rejection encode failed", "id", rej.ID, "error", err)
		return
	}
	if _, err := a.dlq.Put(ctx, rej.ID, data); err != nil {
		slog.Error("Rejection store failed", "id", rej.ID, "error", err)
		return
	}

	a.increment(ctx, keyRejected)
	a.touch(ctx, keyLastRejected)
}

func (a *Audit) Published(ctx context.Context, _ pipeline.Record) {
	a.increment(ctx, keyPublished)
	a.touch(ctx, keyLastPublished)
}

// Retried counts a rejection sent back to the input topic.
func (a *Audit) Retried(ctx context.Context) {
	a.increment(ctx, keyRetried)
}

func (a *Audit) Stats(ctx context.Context) (db.Stats, error) {
	var stats db.Stats
	var err error
	if stats.Published, err = a.counter(ctx, keyPublished); err != nil {
		return stats, err
	}
	if stats.Rejected, err = a.counter(ctx, keyRejected); err != nil {
		return stats, err
	}
	if stats.Retried, err = a.counter(ctx, keyRetried); err != nil {
		return stats, err
	}
	stats.LastPublished = a.text(ctx, keyLastPublished)
	stats.LastRejected = a.text(ctx, keyLastRejected)
	return stats, nil
}

// Rejections lists stored rejections, newest first.
func (a *Audit) Rejections(ctx context.Context) ([]db.Rejection, error) {
	keys, err := a.dlq.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return []db.Rejection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}

	result := make([]db.Rejection, 0, len(keys))
	for _, key := range keys {
		rej, err := a.Rejection(ctx, key)
		if err != nil {
			// deleted or expired since listing
			continue
		}
		result = append(result, rej)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RejectedAt.After(result[j].RejectedAt)
	})
	return result, nil
}

func (a *Audit) Rejection(ctx context.Context, id string) (db.Rejection, error) {
	entry, err := a.dlq.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
		return db.Rejection{}, ErrRejectionNotFound
	}
	if err != nil {
		return db.Rejection{}, fmt.Errorf("get rejection %s: %w", id, err)
	}

	var rej db.Rejection
	if err := json.Unmarshal(entry.Value(), &rej); err != nil {
		return db.Rejection{}, fmt.Errorf("decode rejection %s: %w", id, err)
	}
	return rej, nil
}

func (a *Audit) DeleteRejection(ctx context.Context, id string) error {
	if _, err := a.Rejection(ctx, id); err != nil {
		return err
	}
	if err := a.dlq.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete rejection %s: %w", id, err)
	}
	return nil
}

func (a *Audit) increment(ctx context.Context, key string) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		entry, err := a.stats.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			if _, err = a.stats.Create(ctx, key, []byte("1")); err == nil {
				return
			}
		case err != nil:
			slog.Error("Counter read failed", "key", key, "error", err)
			return
		default:
			n, _ := strconv.ParseUint(string(entry.Value()), 10, 64)
			value := []byte(strconv.FormatUint(n+1, 10))
			if _, err = a.stats.Update(ctx, key, value, entry.Revision()); err == nil {
				return
			}
		}
		slog.Debug("Counter update conflict", "key", key, "attempt", attempt, "error", err)
	}
	slog.Error("Counter update gave up", "key", key)
}

func (a *Audit) touch(ctx context.Context, key string) {
	if _, err := a.stats.Put(ctx, key, []byte(a.now().UTC().Format(time.RFC3339))); err != nil {
		slog.Error("Stats update failed", "key", key, "error", err)
	}
}

func (a *Audit) counter(ctx context.Context, key string) (uint64, error) {
	entry, err := a.stats.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	n, _ := strconv.ParseUint(string(entry.Value()), 10, 64)
	return n, nil
}

func (a *Audit) text(ctx context.Context, key string) string {
	entry, err := a.stats.Get(ctx, key)
	if err != nil {
		return ""
	}
	return string(entry.Value())
}

// RecordID identifies a record by its coordinates, with characters
// outside the KV key alphabet replaced. It keys the DLQ and dedupes output.
func RecordID(r pipeline.Record) string {
	topic := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			return c
		}
		return '_'
	}, r.Topic)
	return fmt.Sprintf("%s-%d-%d", topic, r.Partition, r.Offset)
}
