package db

import (
	"time"
)

// Rejection is a record that failed to parse or map. It is kept in the
// dead letter bucket until retried or deleted.
type Rejection struct {
	ID               string    `json:"id"`
	Topic            string    `json:"topic"`
	Partition        int32     `json:"partition"`
	Offset           int64     `json:"offset"`
	Key              string    `json:"key,omitempty"`
	MessageType      string    `json:"message_type,omitempty"`
	MessageControlID string    `json:"message_control_id,omitempty"`
	PatientID        string    `json:"patient_id,omitempty"`
	RawMessage       []byte    `json:"raw_message"`
	Reason           string    `json:"reason"`
	Kind             string    `json:"kind"` // "parse" or "mapping"
	RetryCount       int       `json:"retry_count"`
	ReceivedAt       time.Time `json:"received_at"`
	RejectedAt       time.Time `json:"rejected_at"`
}

// Stats are the pipeline counters kept in the stats bucket.
type Stats struct {
	Published     uint64 `json:"published"`
	Rejected      uint64 `json:"rejected"`
	Retried       uint64 `json:"retried"`
	LastPublished string `json:"last_published,omitempty"`
	LastRejected  string `json:"last_rejected,omitempty"`
}

type StreamInfo struct {
	Name          string `json:"name"`
	Messages      uint64 `json:"messages"`
	Bytes         uint64 `json:"bytes"`
	FirstSequence uint64 `json:"first_sequence"`
	LastSequence  uint64 `json:"last_sequence"`
}

type ConsumerInfo struct {
	Stream          string `json:"stream"`
	Name            string `json:"name"`
	Pending         uint64 `json:"pending"`
	Delivered       uint64 `json:"delivered"`
	AckPending      uint64 `json:"ack_pending"`
	RedeliveryCount uint64 `json:"redelivery_count"`
}
