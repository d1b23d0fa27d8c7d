package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/mapper"
)

// Record is one consumed broker message.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time

	// Handle is the broker client's own message, used by MarkProcessed.
	Handle any
}

// OutputRecord is a serialized bundle and the record it was mapped from.
type OutputRecord struct {
	Key    []byte
	Value  []byte
	Source Record
}

// Source delivers records and stores the position of handled ones. The
// client commits stored positions on its own schedule.
type Source interface {
	Fetch(ctx context.Context) ([]Record, error)
	MarkProcessed(ctx context.Context, r Record) error
	Close() error
}

// Sink publishes mapped records. Publish returns once the broker has
// acknowledged the write; client-side retries happen inside Publish.
type Sink interface {
	Publish(ctx context.Context, out OutputRecord) error
}

// Auditor receives per-record outcomes.
type Auditor interface {
	Rejected(ctx context.Context, r Record, reason error)
	Published(ctx context.Context, r Record)
}

// Transformer turns a parsed message into a serialized bundle.
type Transformer interface {
	Transform(msg *hl7.Message) ([]byte, error)
}

var _ Transformer = (*mapper.Mapper)(nil)

// IsRejectable reports whether err is a property of the record itself.
// Such records are audited and skipped instead of being retried.
func IsRejectable(err error) bool {
	var parseErr *hl7.ParseError
	var mappingErr *mapper.MappingError
	return errors.As(err, &parseErr) || errors.As(err, &mappingErr)
}

type nopAuditor struct{}

func (nopAuditor) Rejected(context.Context, Record, error) {}
func (nopAuditor) Published(context.Context, Record)       {}
