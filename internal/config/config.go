package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BrokerKafka = "kafka"
	BrokerNATS  = "nats"
)

type Config struct {
	Broker   string
	Workers  int
	Kafka    Kafka
	NATS     NATS
	Fhir     Fhir
	WebPort  int
	MLLPPort int
	LogLevel string
}

type Kafka struct {
	Brokers          string
	SecurityProtocol string
	ConsumerGroup    string
	InputTopic       string
	OutputTopic      string
	OffsetReset      string
	BatchSize        int
	PollTimeout      time.Duration
	SSL              SSL
}

type SSL struct {
	CALocation          string
	KeyLocation         string
	CertificateLocation string
	KeyPassword         string
}

type NATS struct {
	DataDir string
}

// Fhir holds the raw profile and identifier system values. They are validated
// by mapper.Resolve, not here.
type Fhir struct {
	Person                    ResourceConfig
	Fall                      ResourceConfig
	Einrichtungskontakt       string
	Abteilungskontakt         string
	Versorgungsstellenkontakt string
	OrganizationSystem        string
	TimeZone                  string
	DepartmentMap             string
}

type ResourceConfig struct {
	Profile string
	System  string
}

// Load reads the configuration and installs the default logger.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}

	setupLogger(cfg.LogLevel)

	slog.Info("Configuration loaded",
		"broker", cfg.Broker,
		"workers", cfg.Workers,
		"inputTopic", cfg.Kafka.InputTopic,
		"outputTopic", cfg.Kafka.OutputTopic,
		"consumerGroup", cfg.Kafka.ConsumerGroup,
	)

	return cfg, nil
}

// Read loads .env and the environment without touching the logger.
func Read() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Broker:  strings.ToLower(getEnv("BROKER", BrokerKafka)),
		Workers: getEnvAsInt("WORKERS", 3),
		Kafka: Kafka{
			Brokers:          getEnv("KAFKA_BROKERS", "localhost:9092"),
			SecurityProtocol: getEnv("KAFKA_SECURITY_PROTOCOL", "plaintext"),
			ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "adt-to-fhir"),
			InputTopic:       getEnv("KAFKA_INPUT_TOPIC", "adt-hl7"),
			OutputTopic:      getEnv("KAFKA_OUTPUT_TOPIC", "adt-fhir"),
			OffsetReset:      getEnv("KAFKA_OFFSET_RESET", "earliest"),
			BatchSize:        getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			PollTimeout:      getEnvAsDuration("KAFKA_POLL_TIMEOUT", time.Second),
			SSL: SSL{
				CALocation:          os.Getenv("KAFKA_SSL_CA_LOCATION"),
				KeyLocation:         os.Getenv("KAFKA_SSL_KEY_LOCATION"),
				CertificateLocation: os.Getenv("KAFKA_SSL_CERTIFICATE_LOCATION"),
				KeyPassword:         os.Getenv("KAFKA_SSL_KEY_PASSWORD"),
			},
		},
		NATS: NATS{
			DataDir: getEnv("NATS_DATA_DIR", "/data"),
		},
		Fhir: Fhir{
			Person: ResourceConfig{
				Profile: os.Getenv("FHIR_PERSON_PROFILE"),
				System:  os.Getenv("FHIR_PERSON_SYSTEM"),
			},
			Fall: ResourceConfig{
				Profile: os.Getenv("FHIR_FALL_PROFILE"),
				System:  os.Getenv("FHIR_FALL_SYSTEM"),
			},
			Einrichtungskontakt:       os.Getenv("FHIR_FALL_EINRICHTUNGSKONTAKT_SYSTEM"),
			Abteilungskontakt:         os.Getenv("FHIR_FALL_ABTEILUNGSKONTAKT_SYSTEM"),
			Versorgungsstellenkontakt: os.Getenv("FHIR_FALL_VERSORGUNGSSTELLENKONTAKT_SYSTEM"),
			OrganizationSystem:        os.Getenv("FHIR_ORGANIZATION_SYSTEM"),
			TimeZone:                  getEnv("FHIR_TIMEZONE", "Europe/Berlin"),
			DepartmentMap:             os.Getenv("FHIR_DEPARTMENT_MAP"),
		},
		WebPort:  getEnvAsInt("WEB_PORT", 5678),
		MLLPPort: getEnvAsInt("MLLP_PORT", 0),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Kafka.BatchSize < 1 {
		cfg.Kafka.BatchSize = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
}
