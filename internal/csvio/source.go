// Package csvio provides the CSV adapters at the edges of the enrichment
// pipeline: a Source that streams records out of a header-delimited CSV
// input, and a Sink that persists enriched records in one batch.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"enricher/internal/record"
)

// Source streams records from header-delimited CSV input. The first line
// defines the field names; every following line maps positionally onto them.
// A short row yields absent trailing fields, and fields beyond the header
// are dropped.
type Source struct {
	file   *os.File // nil when reading from a caller-supplied reader
	reader *csv.Reader
	header []string
}

// Open opens the CSV file at path and reads its header. The returned Source
// holds the file handle until Close is called.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	s, err := NewSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

// NewSource reads the header line from r and returns a Source over the
// remaining rows. It fails when the input is empty or the header carries no
// field names.
func NewSource(r io.Reader) (*Source, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // rows may be shorter or longer than the header

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	named := false
	for _, name := range header {
		if name != "" {
			named = true
			break
		}
	}
	if !named {
		return nil, fmt.Errorf("read header: no field names")
	}
	return &Source{reader: cr, header: header}, nil
}

// Next returns the next record, or io.EOF when the input is exhausted.
func (s *Source) Next() (*record.Record, error) {
	row, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read row: %w", err)
	}

	rec := record.New()
	for i, name := range s.header {
		if i < len(row) {
			rec.Set(name, row[i])
		} else {
			rec.SetAbsent(name)
		}
	}
	return rec, nil
}

// Close releases the underlying file handle, if any.
func (s *Source) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
