// Package storage provides persistence for performance records and registered accounts.
package storage

import (
	"time"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// StoredRecord is a persisted performance record with its row id.
// JSON tags use camelCase to match the performance log format.
type StoredRecord struct {
	ID int64 `json:"id"`
	types.PerformanceRecord
}

// PaginatedRecords represents a paginated list of performance records.
type PaginatedRecords struct {
	Records []StoredRecord `json:"records"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// RecordFilter narrows a performance record listing. Empty fields match everything.
type RecordFilter struct {
	GroupID  string
	Route    string
	TestType string
}

// AccountRecord is an identity registered through the facade.
type AccountRecord struct {
	Address   string    `json:"address"`
	Dni       string    `json:"dni"`
	Role      uint8     `json:"role"`
	TxHash    string    `json:"txHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
