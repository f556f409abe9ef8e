// Package devbackend is a local stand-in for the pentest backend: it stores
// contracts, agent events and reports in SQLite and serves them over the
// same HTTP API the dashboard consumes.
package devbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RecentLimit caps the recent-contracts listing.
const RecentLimit = 5

// Contract is a stored contract under test.
type Contract struct {
	ContractID string
	Name       string
	Address    string
	SourceCode string
	CreatedAt  time.Time
}

// Event is a stored agent event.
type Event struct {
	EventID    string
	ContractID string
	AgentID    string
	Action     string
	CreatedAt  time.Time
}

// Report is the accumulated markdown report of one contract.
type Report struct {
	ContractID   string
	ContractName string
	Results      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SQLiteStore persists dev backend data in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS contracts (
			contract_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			addr TEXT NOT NULL,
			source_code TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contracts_created ON contracts(created_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			contract_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (contract_id) REFERENCES contracts(contract_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract ON events(contract_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS reports (
			contract_id TEXT PRIMARY KEY,
			results TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME,
			FOREIGN KEY (contract_id) REFERENCES contracts(contract_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateContract stores a new contract.
func (s *SQLiteStore) CreateContract(ctx context.Context, c *Contract) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (contract_id, name, addr, source_code, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ContractID, c.Name, c.Address, c.SourceCode, c.CreatedAt)
	return err
}

// GetContract retrieves a contract by ID. It returns nil if none exists.
func (s *SQLiteStore) GetContract(ctx context.Context, contractID string) (*Contract, error) {
	var c Contract
	err := s.db.QueryRowContext(ctx,
		`SELECT contract_id, name, addr, source_code, created_at FROM contracts WHERE contract_id = ?`,
		contractID).Scan(&c.ContractID, &c.Name, &c.Address, &c.SourceCode, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListRecentContracts returns up to limit contracts, newest first.
func (s *SQLiteStore) ListRecentContracts(ctx context.Context, limit int) ([]Contract, error) {
	if limit <= 0 || limit > RecentLimit {
		limit = RecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT contract_id, name, addr, source_code, created_at FROM contracts
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []Contract
	for rows.Next() {
		var c Contract
		if err := rows.Scan(&c.ContractID, &c.Name, &c.Address, &c.SourceCode, &c.CreatedAt); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// CreateEvent appends an event to a contract's timeline.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, contract_id, agent_id, action, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.EventID, e.ContractID, e.AgentID, e.Action, e.CreatedAt)
	return err
}

// ListEvents returns a contract's events in chronological order.
func (s *SQLiteStore) ListEvents(ctx context.Context, contractID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, contract_id, agent_id, action, created_at FROM events
		WHERE contract_id = ? ORDER BY created_at ASC, rowid ASC`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.EventID, &e.ContractID, &e.AgentID, &e.Action, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AppendReport appends markdown to a contract's report, creating the report
// on first use.
func (s *SQLiteStore) AppendReport(ctx context.Context, contractID, results string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (contract_id, results, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(contract_id) DO UPDATE SET
			results = reports.results || char(10) || excluded.results,
			updated_at = excluded.updated_at`,
		contractID, results, at, at)
	return err
}

// GetReport retrieves a contract's report. It returns nil if none exists.
func (s *SQLiteStore) GetReport(ctx context.Context, contractID string) (*Report, error) {
	var r Report
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT r.contract_id, c.name, r.results, r.created_at, r.updated_at
		FROM reports r JOIN contracts c ON c.contract_id = r.contract_id
		WHERE r.contract_id = ?`,
		contractID).Scan(&r.ContractID, &r.ContractName, &r.Results, &r.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		r.UpdatedAt = updatedAt.Time
	}
	return &r, nil
}

// ListReports returns every report, newest first, without its body.
func (s *SQLiteStore) ListReports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.contract_id, c.name, r.created_at
		FROM reports r JOIN contracts c ON c.contract_id = r.contract_id
		ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ContractID, &r.ContractName, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
