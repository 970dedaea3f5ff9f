package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the perf sink append while /performance reads
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS performance_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at DATETIME NOT NULL,
		request_number TEXT NOT NULL DEFAULT 'N/A',
		group_id TEXT NOT NULL DEFAULT 'N/A',
		total_transactions TEXT NOT NULL DEFAULT 'N/A',
		route TEXT NOT NULL,
		method TEXT NOT NULL,
		status INTEGER NOT NULL,
		ref_time INTEGER,
		proof_size INTEGER,
		tip INTEGER,
		duration_ms INTEGER NOT NULL,
		cpu_usage_start REAL DEFAULT 0,
		cpu_usage_end REAL DEFAULT 0,
		ram_usage_start REAL DEFAULT 0,
		ram_usage_end REAL DEFAULT 0,
		transaction_success TEXT NOT NULL DEFAULT 'No',
		parameters_length INTEGER DEFAULT 0,
		test_type TEXT NOT NULL DEFAULT 'N/A'
	);

	CREATE INDEX IF NOT EXISTS idx_perf_group ON performance_records(group_id);

	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		dni TEXT NOT NULL,
		role INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_dni ON accounts(dni);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"performance_records", "transaction_count", "ALTER TABLE performance_records ADD COLUMN transaction_count INTEGER"},
		{"accounts", "tx_hash", "ALTER TABLE accounts ADD COLUMN tx_hash TEXT"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.ddl); err != nil {
				// Log but don't fail - migration might have already been applied
				slog.Warn("migration failed", "table", m.table, "column", m.column, "error", err)
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
// Table and column names are validated before being formatted into the query.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
// Only allows alphanumeric characters and underscore.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// InsertPerformanceRecord appends a record and sets rec.ID.
func (s *SQLiteStorage) InsertPerformanceRecord(ctx context.Context, rec *StoredRecord) error {
	r := rec.PerformanceRecord
	recordedAt := r.Time
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_records (recorded_at, request_number, group_id, total_transactions, route, method, status,
			ref_time, proof_size, tip, transaction_count, duration_ms,
			cpu_usage_start, cpu_usage_end, ram_usage_start, ram_usage_end,
			transaction_success, parameters_length, test_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordedAt.UTC(), orNA(r.RequestNumber), orNA(r.GroupID), orNA(r.TotalTransactions), r.Route, r.Method, r.Status,
		nullUint64(r.RefTime), nullUint64(r.ProofSize), nullUint64(r.Tip), nullInt64Ptr(r.TransactionCount), r.DurationMs,
		r.CPUUsageStart, r.CPUUsageEnd, r.RAMUsageStart, r.RAMUsageEnd,
		r.TransactionSuccess, r.ParametersLength, orNA(r.TestType))
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// ListPerformanceRecords returns a paginated list of records, newest first.
func (s *SQLiteStorage) ListPerformanceRecords(ctx context.Context, filter RecordFilter, limit, offset int) (*PaginatedRecords, error) {
	var where []string
	var args []interface{}
	if filter.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, filter.GroupID)
	}
	if filter.Route != "" {
		where = append(where, "route = ?")
		args = append(args, filter.Route)
	}
	if filter.TestType != "" {
		where = append(where, "test_type = ?")
		args = append(args, filter.TestType)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + joinStrings(where, " AND ")
	}

	// Get total count
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM performance_records"+clause, args...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recorded_at, request_number, group_id, total_transactions, route, method, status,
			ref_time, proof_size, tip, transaction_count, duration_ms,
			cpu_usage_start, cpu_usage_end, ram_usage_start, ram_usage_end,
			transaction_success, parameters_length, test_type
		FROM performance_records`+clause+`
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []StoredRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRecords{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

func scanRecord(rows *sql.Rows) (*StoredRecord, error) {
	var rec StoredRecord
	var refTime, proofSize, tip, txCount sql.NullInt64

	err := rows.Scan(
		&rec.ID, &rec.Time, &rec.RequestNumber, &rec.GroupID, &rec.TotalTransactions, &rec.Route, &rec.Method, &rec.Status,
		&refTime, &proofSize, &tip, &txCount, &rec.DurationMs,
		&rec.CPUUsageStart, &rec.CPUUsageEnd, &rec.RAMUsageStart, &rec.RAMUsageEnd,
		&rec.TransactionSuccess, &rec.ParametersLength, &rec.TestType,
	)
	if err != nil {
		return nil, err
	}

	rec.RefTime = uint64Ptr(refTime)
	rec.ProofSize = uint64Ptr(proofSize)
	rec.Tip = uint64Ptr(tip)
	if txCount.Valid {
		v := txCount.Int64
		rec.TransactionCount = &v
	}
	return &rec, nil
}

// SaveAccount inserts or replaces an account registry entry.
func (s *SQLiteStorage) SaveAccount(ctx context.Context, acct *AccountRecord) error {
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (address, dni, role, tx_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET dni = excluded.dni, role = excluded.role, tx_hash = excluded.tx_hash
	`, acct.Address, acct.Dni, acct.Role, nullString(acct.TxHash), acct.CreatedAt.UTC())
	return err
}

// GetAccount returns the account for address, or nil if it was never saved.
func (s *SQLiteStorage) GetAccount(ctx context.Context, address string) (*AccountRecord, error) {
	var acct AccountRecord
	var txHash sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT address, dni, role, tx_hash, created_at FROM accounts WHERE address = ?
	`, address).Scan(&acct.Address, &acct.Dni, &acct.Role, &txHash, &acct.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	acct.TxHash = txHash.String
	return &acct, nil
}

// ListAccountsByDni returns the accounts registered for dni in creation order.
func (s *SQLiteStorage) ListAccountsByDni(ctx context.Context, dni string) ([]AccountRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, dni, role, tx_hash, created_at FROM accounts WHERE dni = ? ORDER BY created_at, address
	`, dni)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountRecord
	for rows.Next() {
		var acct AccountRecord
		var txHash sql.NullString
		if err := rows.Scan(&acct.Address, &acct.Dni, &acct.Role, &txHash, &acct.CreatedAt); err != nil {
			return nil, err
		}
		acct.TxHash = txHash.String
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// joinStrings joins strings with a separator.
func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for i := 1; i < len(strs); i++ {
		result += sep + strs[i]
	}
	return result
}

func orNA(v string) string {
	if v == "" {
		return types.NotAvailable
	}
	return v
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func uint64Ptr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
