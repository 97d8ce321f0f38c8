// Package enrich drives records through two-fold keyed enrichment: for each
// record it resolves the gid and eid lookups against the store, fans the
// work out over a bounded pool of workers, and hands the successful subset
// to the sink in one batch. Per-record failures are isolated: they are
// reported and excluded from the output without affecting sibling records.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/panjf2000/ants/v2"

	"enricher/internal/record"
	"enricher/internal/store"
)

// Field names the pipeline consumes and produces.
const (
	FieldInputGID = "input_gid"
	FieldInputEID = "input_eid"
	FieldGID      = "gid"
	FieldEID      = "eid"
)

// Source produces a finite, forward-only sequence of records.
// Next returns io.EOF when the sequence is exhausted.
type Source interface {
	Next() (*record.Record, error)
}

// Sink persists a finite batch of enriched records in one call.
type Sink interface {
	Write(records []*record.Record) error
}

// Reporter receives each per-record failure exactly once, after all workers
// have finished.
type Reporter interface {
	Report(ctx context.Context, f Failure) error
}

// Failure pairs a record with the error that prevented its enrichment.
type Failure struct {
	// Row is the record's zero-based position in the input sequence.
	Row    int
	Record *record.Record
	Err    error
}

// Summary describes a completed run. Succeeded plus Failed always equals
// Total.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []Failure
}

type outcome struct {
	rec *record.Record
	err error
}

// Pipeline orchestrates concurrent per-record enrichment.
type Pipeline struct {
	source   Source
	store    store.Store
	sink     Sink
	reporter Reporter
	workers  int
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithWorkers sets the worker pool size. Values below one are invalid.
func WithWorkers(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidWorkerCount, n)
		}
		p.workers = n
		return nil
	}
}

// WithReporter routes per-record failures to r instead of the process log.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) error {
		if r != nil {
			p.reporter = r
		}
		return nil
	}
}

// NewPipeline constructs a pipeline over the given source, store and sink.
// The default is a single worker and log-based failure reporting.
func NewPipeline(source Source, st store.Store, sink Sink, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if st == nil {
		return nil, ErrStoreRequired
	}
	if sink == nil {
		return nil, ErrSinkRequired
	}

	p := &Pipeline{
		source:   source,
		store:    st,
		sink:     sink,
		reporter: logReporter{},
		workers:  1,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run drains the source, enriches every record and writes the successful
// subset to the sink in input order. It blocks until all dispatched work has
// completed; one record's failure never cancels its siblings. The sink is
// invoked also when no record succeeded. A source or sink error is fatal to
// the run, a lookup error only to its record.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	// Materialize the input before dispatch so a malformed source aborts
	// the run before any lookup is issued.
	var records []*record.Record
	for {
		rec, err := p.source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		records = append(records, rec)
	}

	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	// Each worker writes only its own slot, so no lock is needed around the
	// outcome slice.
	outcomes := make([]outcome, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = p.enrichOne(ctx, rec)
		}
		if err := pool.Submit(task); err != nil {
			// Account for the record anyway: every input yields exactly one
			// outcome.
			outcomes[i] = outcome{rec: rec, err: fmt.Errorf("submit task: %w", err)}
			wg.Done()
		}
	}
	wg.Wait()

	summary := &Summary{Total: len(records)}
	successes := make([]*record.Record, 0, len(records))
	for i, o := range outcomes {
		if o.err != nil {
			f := Failure{Row: i, Record: o.rec, Err: o.err}
			summary.Failed++
			summary.Failures = append(summary.Failures, f)
			if err := p.reporter.Report(ctx, f); err != nil {
				log.Printf("Failed to report failure for row %d: %v", i, err)
			}
			continue
		}
		summary.Succeeded++
		successes = append(successes, o.rec)
	}

	if err := p.sink.Write(successes); err != nil {
		return summary, fmt.Errorf("write output: %w", err)
	}
	return summary, nil
}

func (p *Pipeline) enrichOne(ctx context.Context, rec *record.Record) outcome {
	if err := p.lookupInto(ctx, rec, store.KindGID, FieldInputGID, FieldGID); err != nil {
		return outcome{rec: rec, err: err}
	}
	if err := p.lookupInto(ctx, rec, store.KindEID, FieldInputEID, FieldEID); err != nil {
		return outcome{rec: rec, err: err}
	}
	return outcome{rec: rec}
}

// lookupInto resolves one lookup and attaches the result to the record. A
// missing or empty source field skips the lookup entirely; skipped and
// not-found both leave the target field absent.
func (p *Pipeline) lookupInto(ctx context.Context, rec *record.Record, kind store.QueryKind, from, to string) error {
	key, ok := rec.Get(from)
	if !ok || key == "" {
		rec.SetAbsent(to)
		return nil
	}

	value, found, err := p.store.Lookup(ctx, kind, key)
	if err != nil {
		return err
	}
	if !found {
		rec.SetAbsent(to)
		return nil
	}
	rec.Set(to, value)
	return nil
}

// logReporter is the default failure reporter.
type logReporter struct{}

func (logReporter) Report(_ context.Context, f Failure) error {
	log.Printf("Row %d failed: %v", f.Row, f.Err)
	return nil
}
