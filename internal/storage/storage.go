package storage

import "context"

// Storage defines the persistence interface for the facade.
type Storage interface {
	// Performance records (append-only)
	InsertPerformanceRecord(ctx context.Context, rec *StoredRecord) error
	ListPerformanceRecords(ctx context.Context, filter RecordFilter, limit, offset int) (*PaginatedRecords, error)

	// Account registry
	SaveAccount(ctx context.Context, acct *AccountRecord) error
	GetAccount(ctx context.Context, address string) (*AccountRecord, error)
	ListAccountsByDni(ctx context.Context, dni string) ([]AccountRecord, error)

	// Lifecycle
	Close() error
}
