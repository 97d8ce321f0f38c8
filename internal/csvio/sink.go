package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"

	"enricher/internal/record"
)

// Sink persists a finite batch of records as CSV. The output schema is the
// union of the columns across all records, ordered by first appearance, so a
// failed first record cannot change which fields make it into the header.
// Absent values render as empty fields.
type Sink struct {
	path string
}

func NewSink(path string) *Sink {
	return &Sink{path: path}
}

// Write creates (or truncates) the output file and writes a header line
// followed by one line per record, in the order given. An empty batch is a
// no-op: it is logged and no file is created. A failure mid-stream can leave
// a partial file behind.
func (s *Sink) Write(records []*record.Record) error {
	if len(records) == 0 {
		log.Println("No records to write, skipping output file.")
		return nil
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create output %s: %w", s.path, err)
	}
	defer f.Close()

	if err := writeAll(f, records); err != nil {
		return fmt.Errorf("write output %s: %w", s.path, err)
	}
	return nil
}

func writeAll(w io.Writer, records []*record.Record) error {
	header := unionColumns(records)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, name := range header {
			row[i] = rec.Value(name)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// unionColumns merges the column sets of all records, keeping first-seen
// order.
func unionColumns(records []*record.Record) []string {
	var header []string
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, name := range rec.Columns() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			header = append(header, name)
		}
	}
	return header
}
