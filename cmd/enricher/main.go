package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"enricher/internal/config"
	"enricher/internal/csvio"
	"enricher/internal/enrich"
	"enricher/internal/keys"
	"enricher/internal/report"
	"enricher/internal/storage"
	"enricher/internal/store"
	"enricher/pkg/graceful"
)

func main() {
	config.LoadEnv()

	app := &cli.App{
		Name:  "enricher",
		Usage: "Enrich CSV rows with gid/eid lookups against PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Path to the input CSV file",
				EnvVars:  []string{"INPUT_CSV_FILE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Path to the output CSV file",
				EnvVars:  []string{"OUTPUT_CSV_FILE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL connection string",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "gid-query",
				Usage:    "Parameterized query resolving input_gid to gid ($1 = key)",
				EnvVars:  []string{"GID_QUERY"},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "eid-query",
				Usage:    "Parameterized query resolving input_eid to eid ($1 = key)",
				EnvVars:  []string{"EID_QUERY"},
				Required: true,
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Number of concurrent enrichment workers",
				EnvVars: []string{"MAX_WORKERS"},
				Value:   5,
			},
			&cli.StringFlag{
				Name:    "kafka-broker",
				Usage:   "Kafka broker for failure events (optional)",
				EnvVars: []string{"KAFKA_BROKER"},
			},
			&cli.StringFlag{
				Name:    "kafka-topic",
				Usage:   "Kafka topic for failure events (optional)",
				EnvVars: []string{"KAFKA_TOPIC"},
			},
			&cli.StringFlag{
				Name:    "archive-bucket",
				Usage:   "S3 bucket to archive the output file to (optional)",
				EnvVars: []string{"ARCHIVE_BUCKET"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		DatabaseURL:   c.String("database-url"),
		InputPath:     c.String("input"),
		OutputPath:    c.String("output"),
		GIDQuery:      c.String("gid-query"),
		EIDQuery:      c.String("eid-query"),
		Workers:       c.Int("workers"),
		KafkaBroker:   c.String("kafka-broker"),
		KafkaTopic:    c.String("kafka-topic"),
		ArchiveBucket: c.String("archive-bucket"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := graceful.Context(context.Background())
	defer cancel()

	pg, err := store.Connect(ctx, cfg.DatabaseURL, cfg.GIDQuery, cfg.EIDQuery)
	if err != nil {
		return err
	}
	// The connection is released on every exit path, also when reading the
	// input or running the pipeline fails.
	defer func() {
		if err := pg.Close(context.Background()); err != nil {
			log.Printf("Failed to close database connection: %v", err)
		}
	}()

	source, err := csvio.Open(cfg.InputPath)
	if err != nil {
		return err
	}
	defer source.Close()

	opts := []enrich.Option{enrich.WithWorkers(cfg.Workers)}
	if cfg.KafkaBroker != "" {
		reporter := report.NewKafkaReporter(cfg.KafkaBroker, cfg.KafkaTopic)
		defer func() {
			if err := reporter.Close(); err != nil {
				log.Printf("Failed to close failure reporter: %v", err)
			}
		}()
		opts = append(opts, enrich.WithReporter(reporter))
	}

	pipeline, err := enrich.NewPipeline(source, pg, csvio.NewSink(cfg.OutputPath), opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	log.Printf("Processing complete in %s: %d records, %d succeeded, %d failed. Output saved to %s",
		time.Since(start).Round(time.Millisecond), summary.Total, summary.Succeeded, summary.Failed, cfg.OutputPath)

	if cfg.ArchiveBucket != "" && summary.Succeeded > 0 {
		if err := archiveOutput(ctx, cfg); err != nil {
			return fmt.Errorf("archive output: %w", err)
		}
	}
	return nil
}

// archiveOutput uploads the finished output file to the configured bucket.
func archiveOutput(ctx context.Context, cfg config.Config) error {
	s3Service, err := storage.NewS3Service()
	if err != nil {
		return err
	}
	if err := s3Service.EnsureBucket(ctx, cfg.ArchiveBucket); err != nil {
		return err
	}
	data, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		return err
	}
	return s3Service.StoreCSV(ctx, cfg.ArchiveBucket, keys.Output(time.Now(), cfg.OutputPath), data)
}
