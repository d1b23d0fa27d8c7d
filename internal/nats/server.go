package nats

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamInput   = "ADT_IN"
	SubjectInput  = "adt.in"
	StreamOutput  = "ADT_OUT"
	SubjectOutput = "adt.out"

	BucketStats = "HL7_STATS"
	BucketDLQ   = "HL7_DLQ"
)

type EmbeddedServer struct {
	server *server.Server
	nc     *nats.Conn
	js     jetstream.JetStream
}

// NewEmbeddedServer starts an in-process JetStream server storing under
// dataDir and creates the audit buckets.
func NewEmbeddedServer(dataDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		JetStream: true,
		StoreDir:  filepath.Join(dataDir, "nats-store"),
		Port:      -1, // internal use only
		HTTPPort:  -1,
		NoSigs:    true,
	}

	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready")
	}

	slog.Info("Embedded NATS server started", "clientURL", ns.ClientURL())

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	es := &EmbeddedServer{
		server: ns,
		nc:     nc,
		js:     js,
	}

	if err := es.createKVStore(context.Background()); err != nil {
		es.Shutdown()
		return nil, err
	}

	return es, nil
}

// CreateStreams creates the input and output streams used when NATS is
// the pipeline broker.
func (es *EmbeddedServer) CreateStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        StreamInput,
			Description: "Raw HL7v2 ADT messages",
			Subjects:    []string{SubjectInput},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			MaxMsgs:     1000000,
			MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		},
		{
			Name:        StreamOutput,
			Description: "FHIR transaction bundles",
			Subjects:    []string{SubjectOutput},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			MaxMsgs:     1000000,
			MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
			Duplicates:  10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := es.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		slog.Info("Stream created", "stream", cfg.Name, "subject", cfg.Subjects[0])
	}
	return nil
}

func (es *EmbeddedServer) createKVStore(ctx context.Context) error {
	_, err := es.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketStats,
		Description: "Pipeline counters",
		History:     10,
		MaxBytes:    1024 * 1024, // 1MB
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stats bucket: %w", err)
	}
	slog.Info("KV bucket created", "bucket", BucketStats)

	_, err = es.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketDLQ,
		Description: "Rejected ADT messages",
		History:     1,
		TTL:         7 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024, // 100MB
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create DLQ bucket: %w", err)
	}
	slog.Info("KV bucket created", "bucket", BucketDLQ)

	return nil
}

func (es *EmbeddedServer) JetStream() jetstream.JetStream {
	return es.js
}

func (es *EmbeddedServer) Connection() *nats.Conn {
	return es.nc
}

func (es *EmbeddedServer) Shutdown() {
	if es.nc != nil {
		es.nc.Close()
	}
	if es.server != nil {
		es.server.Shutdown()
		es.server.WaitForShutdown()
	}
	slog.Info("NATS server stopped")
}
