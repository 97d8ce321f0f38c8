// Package store provides the keyed-lookup capability the enrichment
// pipeline queries for each record, backed by a single PostgreSQL
// connection.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// QueryKind selects which of the two configured query templates a lookup
// runs.
type QueryKind int

const (
	KindGID QueryKind = iota
	KindEID
)

func (k QueryKind) String() string {
	switch k {
	case KindGID:
		return "gid"
	case KindEID:
		return "eid"
	default:
		return fmt.Sprintf("QueryKind(%d)", int(k))
	}
}

// Store is the lookup capability used by the enrichment pipeline. Lookup
// runs the template selected by kind with key as its single parameter and
// returns the first column of the first row; found is false when the query
// matches no row or the column is NULL. Errors are returned to the caller
// and never retried here.
type Store interface {
	Lookup(ctx context.Context, kind QueryKind, key string) (value string, found bool, err error)
	Close(ctx context.Context) error
}

// rowQuerier is the subset of *pgx.Conn the store uses. It exists so tests
// can substitute a fake connection.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Postgres performs lookups over one live connection. A single connection
// cannot run queries concurrently, so every lookup is serialized behind the
// mutex; callers may share one Postgres across any number of goroutines.
type Postgres struct {
	mu       sync.Mutex
	conn     rowQuerier
	gidQuery string
	eidQuery string
}

// Connect establishes the database connection and returns a ready store.
// The query templates must each take exactly one $1 string parameter.
func Connect(ctx context.Context, dsn, gidQuery, eidQuery string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Postgres{conn: conn, gidQuery: gidQuery, eidQuery: eidQuery}, nil
}

func (p *Postgres) Lookup(ctx context.Context, kind QueryKind, key string) (string, bool, error) {
	var query string
	switch kind {
	case KindGID:
		query = p.gidQuery
	case KindEID:
		query = p.eidQuery
	default:
		return "", false, fmt.Errorf("unknown query kind %v", kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var value any
	err := p.conn.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s lookup for %q: %w", kind, key, err)
	}
	if value == nil {
		return "", false, nil
	}
	return fmt.Sprint(value), true, nil
}

// Close releases the connection. Call it exactly once, after all lookups
// have completed.
func (p *Postgres) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}
