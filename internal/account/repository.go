package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the persistence operations for config entries.
type Repository interface {
	// List returns every entry ordered by creation time.
	List(ctx context.Context) ([]Entry, error)

	// Get returns an entry by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByUniqueID returns the entry with the given unique ID, or ErrNotFound.
	GetByUniqueID(ctx context.Context, uniqueID string) (*Entry, error)

	// Create inserts a new entry. A duplicate unique ID yields ErrAlreadyConfigured.
	Create(ctx context.Context, e *Entry) error

	// Update replaces every stored field of an existing entry.
	Update(ctx context.Context, e *Entry) error

	// UpdateState records the lifecycle state and last error of an entry.
	UpdateState(ctx context.Context, id string, state State, lastError string) error

	// Delete removes an entry, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed account repository.
// The accounts table must already exist (see the migrations package).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const selectColumns = `SELECT id, version, title, email, username, password,
	unique_id, state, last_error, created_at, updated_at FROM accounts`

// List returns every entry ordered by creation time.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return entries, nil
}

// Get returns an entry by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by id: %w", err)
	}
	return e, nil
}

// GetByUniqueID returns the entry registered for uniqueID.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*Entry, error) {
	if uniqueID == "" {
		return nil, ErrNotFound
	}
	e, err := scanEntry(r.db.QueryRowContext(ctx, selectColumns+" WHERE unique_id = ?", uniqueID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account by unique id: %w", err)
	}
	return e, nil
}

// Create inserts a new entry. Timestamps are set when zero.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := r.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.State == "" {
		e.State = StateNotLoaded
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts
		(id, version, title, email, username, password, unique_id, state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Version, e.Title, e.Email, e.Username, e.Password, nullString(e.UniqueID),
		string(e.State), e.LastError, formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrAlreadyConfigured, err)
		}
		return fmt.Errorf("inserting account: %w", err)
	}
	return nil
}

// Update replaces every stored field of an existing entry.
func (r *SQLiteRepository) Update(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	e.UpdatedAt = r.now().UTC()

	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET
		version = ?, title = ?, email = ?, username = ?, password = ?, unique_id = ?,
		state = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		e.Version, e.Title, e.Email, e.Username, e.Password, nullString(e.UniqueID),
		string(e.State), e.LastError, formatTime(e.UpdatedAt), e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrAlreadyConfigured, err)
		}
		return fmt.Errorf("updating account: %w", err)
	}
	return checkAffected(res)
}

// UpdateState records the lifecycle state and last error of an entry.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State, lastError string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(state), lastError, formatTime(r.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating account state: %w", err)
	}
	return checkAffected(res)
}

// Delete removes an entry.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return checkAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                    Entry
		state                string
		uniqueID             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&e.ID, &e.Version, &e.Title, &e.Email, &e.Username, &e.Password,
		&uniqueID, &state, &e.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.UniqueID = uniqueID.String
	e.State = State(state)

	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for account %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for account %s: %w", e.ID, err)
	}
	return &e, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// nullString stores empty unique IDs as NULL so legacy entries do not collide.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
