package enrich

import "errors"

var (
	// ErrSourceRequired is returned when a record source is not provided.
	ErrSourceRequired = errors.New("record source required")

	// ErrStoreRequired is returned when a lookup store is not provided.
	ErrStoreRequired = errors.New("lookup store required")

	// ErrSinkRequired is returned when a record sink is not provided.
	ErrSinkRequired = errors.New("record sink required")

	// ErrInvalidWorkerCount is returned when the worker count is zero or
	// negative.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
)
