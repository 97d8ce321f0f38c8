package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enricher/internal/record"
	"enricher/internal/store"
)

// fakeSource serves a fixed slice of records.
type fakeSource struct {
	records []*record.Record
	err     error // returned after the records are exhausted, instead of io.EOF
	pos     int
}

func (s *fakeSource) Next() (*record.Record, error) {
	if s.pos >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// fakeStore answers lookups from per-kind maps and can fail selected keys.
// It is safe for concurrent use and counts every call.
type fakeStore struct {
	mu      sync.Mutex
	gid     map[string]string
	eid     map[string]string
	failing map[string]error
	calls   int
}

func (f *fakeStore) Lookup(_ context.Context, kind store.QueryKind, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err, ok := f.failing[key]; ok {
		return "", false, err
	}
	var table map[string]string
	switch kind {
	case store.KindGID:
		table = f.gid
	case store.KindEID:
		table = f.eid
	default:
		return "", false, fmt.Errorf("unknown kind %v", kind)
	}
	value, ok := table[key]
	return value, ok, nil
}

func (f *fakeStore) Close(context.Context) error { return nil }

// fakeSink captures what it was asked to write.
type fakeSink struct {
	batches [][]*record.Record
	err     error
}

func (s *fakeSink) Write(records []*record.Record) error {
	s.batches = append(s.batches, records)
	return s.err
}

// fakeReporter captures reported failures.
type fakeReporter struct {
	failures []Failure
}

func (r *fakeReporter) Report(_ context.Context, f Failure) error {
	r.failures = append(r.failures, f)
	return nil
}

func newRecord(pairs ...string) *record.Record {
	rec := record.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Set(pairs[i], pairs[i+1])
	}
	return rec
}

func TestNewPipeline_Validation(t *testing.T) {
	src := &fakeSource{}
	st := &fakeStore{}
	sink := &fakeSink{}

	tests := []struct {
		name    string
		build   func() (*Pipeline, error)
		wantErr error
	}{
		{
			name:    "nil source",
			build:   func() (*Pipeline, error) { return NewPipeline(nil, st, sink) },
			wantErr: ErrSourceRequired,
		},
		{
			name:    "nil store",
			build:   func() (*Pipeline, error) { return NewPipeline(src, nil, sink) },
			wantErr: ErrStoreRequired,
		},
		{
			name:    "nil sink",
			build:   func() (*Pipeline, error) { return NewPipeline(src, st, nil) },
			wantErr: ErrSinkRequired,
		},
		{
			name:    "zero workers",
			build:   func() (*Pipeline, error) { return NewPipeline(src, st, sink, WithWorkers(0)) },
			wantErr: ErrInvalidWorkerCount,
		},
		{
			name:    "negative workers",
			build:   func() (*Pipeline, error) { return NewPipeline(src, st, sink, WithWorkers(-3)) },
			wantErr: ErrInvalidWorkerCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestRun_ThreeRowScenario is the reference behavior: row 1 resolves both
// lookups, row 2 has only input_gid and it is not found, row 3 has neither
// input field. All three succeed; absence is never an error.
func TestRun_ThreeRowScenario(t *testing.T) {
	row1 := newRecord("name", "one", FieldInputGID, "g-key", FieldInputEID, "e-key")
	row2 := newRecord("name", "two", FieldInputGID, "unknown")
	row2.SetAbsent(FieldInputEID)
	row3 := newRecord("name", "three")
	row3.SetAbsent(FieldInputGID)
	row3.SetAbsent(FieldInputEID)

	st := &fakeStore{
		gid: map[string]string{"g-key": "G-1"},
		eid: map[string]string{"e-key": "E-1"},
	}
	sink := &fakeSink{}

	p, err := NewPipeline(&fakeSource{records: []*record.Record{row1, row2, row3}}, st, sink, WithWorkers(2))
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	require.Len(t, sink.batches, 1)
	out := sink.batches[0]
	require.Len(t, out, 3)

	gid, ok := out[0].Get(FieldGID)
	assert.True(t, ok)
	assert.Equal(t, "G-1", gid)
	eid, ok := out[0].Get(FieldEID)
	assert.True(t, ok)
	assert.Equal(t, "E-1", eid)

	_, ok = out[1].Get(FieldGID)
	assert.False(t, ok, "not-found lookup must leave gid absent")
	_, ok = out[1].Get(FieldEID)
	assert.False(t, ok, "skipped lookup must leave eid absent")

	_, ok = out[2].Get(FieldGID)
	assert.False(t, ok)
	_, ok = out[2].Get(FieldEID)
	assert.False(t, ok)
	// Row 3 still carries the appended columns for the output schema.
	assert.True(t, out[2].Has(FieldGID))
	assert.True(t, out[2].Has(FieldEID))
}

// TestRun_StoreErrorIsolatesRow verifies that a failing lookup removes only
// its own record from the output and is reported exactly once.
func TestRun_StoreErrorIsolatesRow(t *testing.T) {
	row1 := newRecord("name", "one", FieldInputGID, "g-key", FieldInputEID, "e-key")
	row2 := newRecord("name", "two", FieldInputGID, "bad-key")
	row3 := newRecord("name", "three")

	st := &fakeStore{
		gid:     map[string]string{"g-key": "G-1"},
		eid:     map[string]string{"e-key": "E-1"},
		failing: map[string]error{"bad-key": errors.New("connection reset")},
	}
	sink := &fakeSink{}
	reporter := &fakeReporter{}

	p, err := NewPipeline(&fakeSource{records: []*record.Record{row1, row2, row3}}, st, sink,
		WithWorkers(3), WithReporter(reporter))
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, sink.batches, 1)
	out := sink.batches[0]
	require.Len(t, out, 2)
	for _, rec := range out {
		name, _ := rec.Get("name")
		assert.NotEqual(t, "two", name, "failed record must not reach the sink")
	}

	require.Len(t, reporter.failures, 1)
	assert.Equal(t, 1, reporter.failures[0].Row)
	assert.ErrorContains(t, reporter.failures[0].Err, "connection reset")
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, summary.Failures[0].Row, reporter.failures[0].Row)
}

func TestRun_EmptyInputStillInvokesSink(t *testing.T) {
	sink := &fakeSink{}
	p, err := NewPipeline(&fakeSource{}, &fakeStore{}, sink, WithWorkers(4))
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Total)
	require.Len(t, sink.batches, 1, "sink must be invoked for an empty run")
	assert.Empty(t, sink.batches[0])
}

func TestRun_NoLookupForAbsentFields(t *testing.T) {
	row := newRecord("name", "no keys")
	st := &fakeStore{}
	sink := &fakeSink{}

	p, err := NewPipeline(&fakeSource{records: []*record.Record{row}}, st, sink, WithWorkers(1))
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, st.calls, "no lookup may be issued when both input fields are absent")
}

// TestRun_WorkerCountDoesNotChangeResults runs the same input with one
// worker and with several and expects the same set of successful records.
func TestRun_WorkerCountDoesNotChangeResults(t *testing.T) {
	build := func() []*record.Record {
		var records []*record.Record
		for i := 0; i < 20; i++ {
			rec := newRecord("id", fmt.Sprintf("row-%02d", i), FieldInputGID, fmt.Sprintf("g%d", i))
			if i%3 == 0 {
				rec.Set(FieldInputEID, fmt.Sprintf("e%d", i))
			}
			records = append(records, rec)
		}
		return records
	}
	newStore := func() *fakeStore {
		st := &fakeStore{gid: map[string]string{}, eid: map[string]string{}, failing: map[string]error{}}
		for i := 0; i < 20; i++ {
			st.gid[fmt.Sprintf("g%d", i)] = fmt.Sprintf("G-%d", i)
			st.eid[fmt.Sprintf("e%d", i)] = fmt.Sprintf("E-%d", i)
		}
		st.failing["g7"] = errors.New("boom")
		st.failing["g13"] = errors.New("boom")
		return st
	}

	ids := func(records []*record.Record) []string {
		var out []string
		for _, rec := range records {
			id, _ := rec.Get("id")
			out = append(out, id)
		}
		sort.Strings(out)
		return out
	}

	var got [][]string
	for _, workers := range []int{1, 4, 16} {
		sink := &fakeSink{}
		p, err := NewPipeline(&fakeSource{records: build()}, newStore(), sink, WithWorkers(workers))
		require.NoError(t, err)

		summary, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, summary.Total, summary.Succeeded+summary.Failed)
		assert.Equal(t, 2, summary.Failed)

		require.Len(t, sink.batches, 1)
		got = append(got, ids(sink.batches[0]))
	}

	assert.Equal(t, got[0], got[1])
	assert.Equal(t, got[0], got[2])
}

func TestRun_SuccessfulRecordsKeepInputOrder(t *testing.T) {
	var records []*record.Record
	for i := 0; i < 10; i++ {
		records = append(records, newRecord("id", fmt.Sprintf("%d", i)))
	}
	sink := &fakeSink{}
	p, err := NewPipeline(&fakeSource{records: records}, &fakeStore{}, sink, WithWorkers(8))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.batches, 1)
	for i, rec := range sink.batches[0] {
		id, _ := rec.Get("id")
		assert.Equal(t, fmt.Sprintf("%d", i), id)
	}
}

func TestRun_SourceErrorAbortsBeforeLookups(t *testing.T) {
	src := &fakeSource{
		records: []*record.Record{newRecord("name", "ok", FieldInputGID, "g")},
		err:     errors.New("malformed row"),
	}
	st := &fakeStore{gid: map[string]string{"g": "G"}}
	sink := &fakeSink{}

	p, err := NewPipeline(src, st, sink, WithWorkers(2))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorContains(t, err, "malformed row")
	assert.Equal(t, 0, st.calls, "no lookup may run when the input cannot be fully read")
	assert.Empty(t, sink.batches, "sink must not be invoked on a fatal source error")
}

func TestRun_SinkErrorIsFatal(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	p, err := NewPipeline(&fakeSource{records: []*record.Record{newRecord("a", "1")}}, &fakeStore{}, sink, WithWorkers(1))
	require.NoError(t, err)

	summary, err := p.Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	// Enrichment had completed; the summary still accounts for every record.
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Succeeded)
}
