// Package sqlite implements the repository on an embedded SQLite file so
// records survive restarts and offline periods on the shop device.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"lapakku/backend/internal/domain"
	"lapakku/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and runs the idempotent
// schema setup. WAL mode keeps readers unblocked during sync writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under concurrent API calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{}
	for _, table := range domain.Collections() {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id      TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`, table))
	}
	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS change_log (
			id         TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('create','update','delete')),
			record_id  TEXT NOT NULL,
			version    INTEGER NOT NULL,
			payload    TEXT,
			queued_at  TEXT NOT NULL,
			acked_at   TEXT,
			attempts   INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_change_log_pending ON change_log (queued_at) WHERE acked_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS device_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profile (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username   TEXT PRIMARY KEY,
			password   TEXT NOT NULL,
			role       TEXT NOT NULL,
			active     INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		)`,
	)

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func listRecords[T any](ctx context.Context, db *sql.DB, table string) ([]T, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT payload FROM %s`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]T, 0, 32)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		var record T
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", table, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func getRecord[T any](ctx context.Context, db *sql.DB, table string, id string) (*T, error) {
	var payload []byte
	err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, table), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	var record T
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", table, err)
	}
	return &record, nil
}

func createRecord(ctx context.Context, db *sql.DB, table string, id string, record any) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES (?, ?)`, table), id, payload)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	return nil
}

// putRecord upserts by id inside a transaction, rejecting version
// regressions against the stored copy.
func putRecord(ctx context.Context, db *sql.DB, table string, id string, version int64, record any) error {
	if id == "" {
		return store.ErrInvalidRecord
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put %s: %w", table, err)
	}
	defer tx.Rollback()

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT json_extract(payload, '$.version') FROM %s WHERE id = ?`, table), id,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read %s version: %w", table, err)
	}
	if current.Valid && current.Int64 > version {
		return store.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, payload) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, table),
		id, payload,
	); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, id, err)
	}
	return tx.Commit()
}

func deleteRecord(ctx context.Context, db *sql.DB, table string, id string) error {
	// No-op when absent, by contract.
	_, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return listRecords[domain.Sale](ctx, s.db, domain.CollectionSales)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getRecord[domain.Sale](ctx, s.db, domain.CollectionSales, id)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) error {
	return createRecord(ctx, s.db, domain.CollectionSales, sale.ID, sale)
}

func (s *Store) PutSale(ctx context.Context, sale domain.Sale) error {
	return putRecord(ctx, s.db, domain.CollectionSales, sale.ID, sale.Version, sale)
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, domain.CollectionSales, id)
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	return listRecords[domain.Expense](ctx, s.db, domain.CollectionExpenses)
}

func (s *Store) GetExpense(ctx context.Context, id string) (*domain.Expense, error) {
	return getRecord[domain.Expense](ctx, s.db, domain.CollectionExpenses, id)
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) error {
	return createRecord(ctx, s.db, domain.CollectionExpenses, expense.ID, expense)
}

func (s *Store) PutExpense(ctx context.Context, expense domain.Expense) error {
	return putRecord(ctx, s.db, domain.CollectionExpenses, expense.ID, expense.Version, expense)
}

func (s *Store) DeleteExpense(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, domain.CollectionExpenses, id)
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return listRecords[domain.InventoryItem](ctx, s.db, domain.CollectionInventory)
}

func (s *Store) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getRecord[domain.InventoryItem](ctx, s.db, domain.CollectionInventory, id)
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem) error {
	return createRecord(ctx, s.db, domain.CollectionInventory, item.ID, item)
}

func (s *Store) PutItem(ctx context.Context, item domain.InventoryItem) error {
	return putRecord(ctx, s.db, domain.CollectionInventory, item.ID, item.Version, item)
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, domain.CollectionInventory, id)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return listRecords[domain.Customer](ctx, s.db, domain.CollectionCustomers)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return getRecord[domain.Customer](ctx, s.db, domain.CollectionCustomers, id)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) error {
	return createRecord(ctx, s.db, domain.CollectionCustomers, customer.ID, customer)
}

func (s *Store) PutCustomer(ctx context.Context, customer domain.Customer) error {
	return putRecord(ctx, s.db, domain.CollectionCustomers, customer.ID, customer.Version, customer)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, domain.CollectionCustomers, id)
}

func (s *Store) ListDebts(ctx context.Context) ([]domain.DebtRecord, error) {
	return listRecords[domain.DebtRecord](ctx, s.db, domain.CollectionDebts)
}

func (s *Store) ListDebtsByCustomer(ctx context.Context, customerID string) ([]domain.DebtRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM debts WHERE json_extract(payload, '$.customer_id') = ?`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list debts by customer: %w", err)
	}
	defer rows.Close()

	debts := make([]domain.DebtRecord, 0, 8)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		var debt domain.DebtRecord
		if err := json.Unmarshal(payload, &debt); err != nil {
			return nil, fmt.Errorf("decode debt: %w", err)
		}
		debts = append(debts, debt)
	}
	return debts, rows.Err()
}

func (s *Store) GetDebt(ctx context.Context, id string) (*domain.DebtRecord, error) {
	return getRecord[domain.DebtRecord](ctx, s.db, domain.CollectionDebts, id)
}

func (s *Store) CreateDebt(ctx context.Context, debt domain.DebtRecord) error {
	return createRecord(ctx, s.db, domain.CollectionDebts, debt.ID, debt)
}

func (s *Store) PutDebt(ctx context.Context, debt domain.DebtRecord) error {
	return putRecord(ctx, s.db, domain.CollectionDebts, debt.ID, debt.Version, debt)
}

func (s *Store) DeleteDebt(ctx context.Context, id string) error {
	return deleteRecord(ctx, s.db, domain.CollectionDebts, id)
}

func (s *Store) GetProfile(ctx context.Context) (*domain.Profile, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM profile WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var profile domain.Profile
	if err := json.Unmarshal(payload, &profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

func (s *Store) PutProfile(ctx context.Context, profile domain.Profile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profile (id, payload) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, payload)
	if err != nil {
		return fmt.Errorf("put profile: %w", err)
	}
	return nil
}

func (s *Store) AppendChange(ctx context.Context, entry domain.ChangeEntry) error {
	if entry.ID == "" {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_log (id, collection, op, record_id, version, payload, queued_at, attempts, last_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Collection, entry.Op, entry.RecordID, entry.Version,
		string(entry.Payload), entry.QueuedAt.UTC().Format(time.RFC3339Nano),
		entry.Attempts, entry.LastError,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

func (s *Store) ListPendingChanges(ctx context.Context, limit int) ([]domain.ChangeEntry, error) {
	query := `SELECT id, collection, op, record_id, version, payload, queued_at, attempts, last_error
		FROM change_log WHERE acked_at IS NULL ORDER BY queued_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ChangeEntry, 0, 32)
	for rows.Next() {
		var entry domain.ChangeEntry
		var payload, queuedAt string
		if err := rows.Scan(&entry.ID, &entry.Collection, &entry.Op, &entry.RecordID,
			&entry.Version, &payload, &queuedAt, &entry.Attempts, &entry.LastError); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if payload != "" {
			entry.Payload = json.RawMessage(payload)
		}
		at, err := time.Parse(time.RFC3339Nano, queuedAt)
		if err != nil {
			return nil, fmt.Errorf("parse queued_at: %w", err)
		}
		entry.QueuedAt = at
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) AckChange(ctx context.Context, changeID string, ackedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE change_log SET acked_at = ? WHERE id = ?`,
		ackedAt.UTC().Format(time.RFC3339Nano), changeID)
	if err != nil {
		return fmt.Errorf("ack change %s: %w", changeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) BumpChangeAttempt(ctx context.Context, changeID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE change_log SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, changeID)
	if err != nil {
		return fmt.Errorf("bump change %s: %w", changeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PurgeAckedChanges(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM change_log WHERE acked_at IS NOT NULL AND acked_at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge acked changes: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) GetDeviceID(ctx context.Context) (string, error) {
	return s.getState(ctx, "device_id")
}

func (s *Store) SetDeviceID(ctx context.Context, deviceID string) error {
	return s.setState(ctx, "device_id", deviceID)
}

func (s *Store) GetLastSyncedAt(ctx context.Context) (*time.Time, error) {
	value, err := s.getState(ctx, "last_synced_at")
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}
	return &at, nil
}

func (s *Store) SetLastSyncedAt(ctx context.Context, at time.Time) error {
	return s.setState(ctx, "last_synced_at", at.UTC().Format(time.RFC3339Nano))
}

func (s *Store) getState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM device_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setState(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_state (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" {
		return store.ErrInvalidRecord
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password, role, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.Username, user.Password, user.Role, boolToInt(user.Active),
		user.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var active int
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password, role, active, created_at FROM users WHERE username = ?`,
		username).Scan(&user.Username, &user.Password, &user.Role, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	user.Active = active != 0
	at, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse user created_at: %w", err)
	}
	user.CreatedAt = at
	return &user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
