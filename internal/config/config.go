// Package config carries the run configuration as an explicit value. The
// enrichment pipeline and its adapters receive already-validated settings
// and do no parsing of their own.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingDatabaseURL is returned when no database connection string
	// is configured.
	ErrMissingDatabaseURL = errors.New("database URL required")

	// ErrMissingInputPath is returned when the input file path is empty.
	ErrMissingInputPath = errors.New("input file path required")

	// ErrMissingOutputPath is returned when the output file path is empty.
	ErrMissingOutputPath = errors.New("output file path required")

	// ErrMissingQueryTemplate is returned when a query template is empty.
	ErrMissingQueryTemplate = errors.New("query template required")

	// ErrMissingQueryParameter is returned when a query template does not
	// bind the $1 key parameter.
	ErrMissingQueryParameter = errors.New("query template must reference the $1 parameter")

	// ErrInvalidWorkerCount is returned when the worker count is zero or
	// negative.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")

	// ErrIncompleteKafkaConfig is returned when only one of broker and
	// topic is set.
	ErrIncompleteKafkaConfig = errors.New("kafka broker and topic must be set together")
)

// Config holds everything a run needs, supplied at process startup.
type Config struct {
	DatabaseURL string
	InputPath   string
	OutputPath  string
	GIDQuery    string
	EIDQuery    string
	Workers     int

	// KafkaBroker and KafkaTopic enable publishing per-row failure events.
	// Both are optional but must be set together.
	KafkaBroker string
	KafkaTopic  string

	// ArchiveBucket enables uploading the output file to S3 after a
	// successful run. Optional.
	ArchiveBucket string
}

// Validate checks the configuration before any I/O happens.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.InputPath == "" {
		return ErrMissingInputPath
	}
	if c.OutputPath == "" {
		return ErrMissingOutputPath
	}
	for _, query := range []struct {
		name string
		text string
	}{
		{"GID", c.GIDQuery},
		{"EID", c.EIDQuery},
	} {
		if query.text == "" {
			return fmt.Errorf("%w: %s", ErrMissingQueryTemplate, query.name)
		}
		if !strings.Contains(query.text, "$1") {
			return fmt.Errorf("%w: %s", ErrMissingQueryParameter, query.name)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkerCount, c.Workers)
	}
	if (c.KafkaBroker == "") != (c.KafkaTopic == "") {
		return ErrIncompleteKafkaConfig
	}
	return nil
}

// LoadEnv loads variables from a .env file when one is present.
// This is typically used in a development environment.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set directly.")
	}
}
