package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/config"
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/kafka"
	"github.com/diz-unimr/adt-to-fhir/internal/mapper"
	"github.com/diz-unimr/adt-to-fhir/internal/nats"
	"github.com/diz-unimr/adt-to-fhir/internal/pipeline"
	"github.com/diz-unimr/adt-to-fhir/internal/web"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "adt-to-fhir",
		Short:        "Transforms HL7v2 ADT messages into FHIR Patient and Encounter bundles",
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the streaming pipeline (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
	root.AddCommand(newMapCmd(), newSendCmd())
	return root
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	mcfg, err := mapper.Resolve(cfg.Fhir)
	if err != nil {
		slog.Error("Invalid FHIR configuration", "error", err)
		return err
	}
	m := mapper.New(mcfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsServer, err := nats.NewEmbeddedServer(cfg.NATS.DataDir)
	if err != nil {
		slog.Error("NATS server failed to start", "error", err)
		return err
	}
	defer natsServer.Shutdown()
	js := natsServer.JetStream()

	audit, err := nats.NewAudit(ctx, js)
	if err != nil {
		return err
	}

	var (
		sink    pipeline.Sink
		input   hl7.PublishFunc
		open    pipeline.SourceFactory
		workers = cfg.Workers
		streams []string
	)
	switch cfg.Broker {
	case config.BrokerKafka:
		producer, err := kafka.NewProducer(cfg.Kafka)
		if err != nil {
			return err
		}
		defer producer.Close()

		sink = producer.Sink(cfg.Kafka.OutputTopic)
		input = producer.Input(cfg.Kafka.InputTopic)
		open = func(int) (pipeline.Source, error) {
			c, err := kafka.NewConsumer(cfg.Kafka)
			if err != nil {
				return nil, err
			}
			return c, nil
		}

	case config.BrokerNATS:
		if err := natsServer.CreateStreams(ctx); err != nil {
			return err
		}
		pub := nats.NewPublisher(js)
		sink = pub.Sink(nats.SubjectOutput)
		input = pub.Input(nats.SubjectInput)
		open = func(int) (pipeline.Source, error) {
			s, err := nats.NewSource(ctx, js, nats.StreamInput, cfg.Kafka.ConsumerGroup, cfg.Kafka.BatchSize, cfg.Kafka.PollTimeout)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		// one durable consumer has one delivery order
		if workers > 1 {
			slog.Warn("NATS broker runs a single worker", "configured", workers)
			workers = 1
		}
		streams = []string{nats.StreamInput, nats.StreamOutput}

	default:
		return fmt.Errorf("unknown broker %q", cfg.Broker)
	}

	driver, err := pipeline.NewDriver(workers, open, sink, m, audit)
	if err != nil {
		slog.Error("Pipeline failed to start", "error", err)
		return err
	}

	if cfg.MLLPPort > 0 {
		mllp := hl7.NewMLLPServer(cfg.MLLPPort, input)
		if err := mllp.Start(ctx); err != nil {
			slog.Error("MLLP server failed to start", "error", err)
			return err
		}
		defer mllp.Stop()
	}

	var wg sync.WaitGroup
	if cfg.WebPort > 0 {
		webServer := web.NewServer(web.Options{
			Port:        cfg.WebPort,
			Audit:       audit,
			Workers:     driver.Status,
			Requeue:     input,
			Transformer: m,
			JetStream:   js,
			Streams:     streams,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := webServer.Start(ctx); err != nil {
				slog.Error("Web server error", "error", err)
			}
		}()
	}

	printStartupInfo(cfg, workers)

	err = driver.Run(ctx)
	if err != nil {
		slog.Error("Pipeline failed", "error", err)
	}
	stop()
	wg.Wait()

	slog.Info("adt-to-fhir stopped")
	return err
}

func printStartupInfo(cfg *config.Config, workers int) {
	input, output := cfg.Kafka.InputTopic, cfg.Kafka.OutputTopic
	if cfg.Broker == config.BrokerNATS {
		input, output = nats.SubjectInput, nats.SubjectOutput
	}
	info := `
╔═══════════════════════════════════════════════════════════════╗
║                     adt-to-fhir started                       ║
╠═══════════════════════════════════════════════════════════════╣
║ Broker               : %-39s ║
║ Input                : %-39s ║
║ Output               : %-39s ║
║ Workers              : %-39d ║
║ MLLP Port            : %-39d ║
║ Web API              : http://localhost:%-22d ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Printf(info, cfg.Broker, input, output, workers, cfg.MLLPPort, cfg.WebPort)
}

func newMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map [file]",
		Short: "Map one HL7 message from a file or stdin and print the bundle",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			cfg, err := config.Read()
			if err != nil {
				return err
			}
			mcfg, err := mapper.Resolve(cfg.Fhir)
			if err != nil {
				return err
			}

			msg, err := hl7.Parse(raw)
			if err != nil {
				return err
			}
			bundle, err := mapper.New(mcfg).Transform(msg)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bundle))
			return err
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		host    string
		port    int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [file]",
		Short: "Send one HL7 message over MLLP and print the ACK code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			code, err := hl7.NewMLLPClient(host, port).Send(ctx, raw)
			if code != "" {
				fmt.Fprintln(cmd.OutOrStdout(), code)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "MLLP host")
	cmd.Flags().IntVar(&port, "port", 2575, "MLLP port")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall send timeout")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}
