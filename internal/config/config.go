// Package config loads runtime settings from the environment. A .env file in
// the working directory is read first when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"salesfact/internal/logger"
	"salesfact/internal/manifest"
)

type Config struct {
	// Source is "sqlite" or "file".
	Source     string
	SourcePath string

	// Store is "memory" or "pebble".
	Store       string
	PebbleDir   string
	SnapshotDir string

	// OutputDir holds the JSONL fact and report logs and the manifest.
	OutputDir string

	Kafka KafkaConfig

	HTTPAddr      string
	Interval      time.Duration
	FailOnInvalid bool

	Log logger.Config
}

// KafkaConfig is empty-bootstrap when Kafka publication is disabled.
type KafkaConfig struct {
	Bootstrap     string
	TopicFacts    string
	TopicReports  string
	TopicManifest string
	ManifestKey   string
	TxID          string
	// Transactional publishes each fact set in one Kafka transaction. When
	// false, facts are appended one by one with kafka-go.
	Transactional bool
}

func (k KafkaConfig) Enabled() bool { return strings.TrimSpace(k.Bootstrap) != "" }

// Load reads .env (optional) and the environment.
func Load() *Config {
	_ = godotenv.Load() // .env is optional
	return FromEnv()
}

// FromEnv reads the environment without touching .env.
func FromEnv() *Config {
	def := logger.DefaultConfig()
	return &Config{
		Source:      getEnv("SALESFACT_SOURCE", "sqlite"),
		SourcePath:  getEnv("SALESFACT_SOURCE_PATH", "testdb.db"),
		Store:       getEnv("SALESFACT_STORE", "pebble"),
		PebbleDir:   getEnv("SALESFACT_PEBBLE_DIR", "./data/pebble"),
		SnapshotDir: getEnv("SALESFACT_SNAPSHOT_DIR", "./data/snapshots"),
		OutputDir:   getEnv("SALESFACT_OUTPUT_DIR", "./data/out"),
		Kafka: KafkaConfig{
			Bootstrap:     getEnv("SALESFACT_KAFKA_BOOTSTRAP", ""),
			TopicFacts:    getEnv("SALESFACT_TOPIC_FACTS", "fact_sales"),
			TopicReports:  getEnv("SALESFACT_TOPIC_REPORTS", "fact_sales_reports"),
			TopicManifest: getEnv("SALESFACT_TOPIC_MANIFEST", "fact_sales_manifest"),
			ManifestKey:   getEnv("SALESFACT_MANIFEST_KEY", manifest.DefaultKey),
			TxID:          getEnv("SALESFACT_TX_ID", "salesfact-loader"),
			Transactional: getEnvBool("SALESFACT_KAFKA_TX", true),
		},
		HTTPAddr:      getEnv("SALESFACT_HTTP_ADDR", ":9090"),
		Interval:      getEnvDuration("SALESFACT_INTERVAL", 0),
		FailOnInvalid: getEnvBool("SALESFACT_FAIL_ON_INVALID", false),
		Log: logger.Config{
			Level:      getEnv("LOG_LEVEL", def.Level),
			Format:     getEnv("LOG_FORMAT", def.Format),
			Output:     getEnv("LOG_OUTPUT", def.Output),
			TimeFormat: def.TimeFormat,
		},
	}
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
