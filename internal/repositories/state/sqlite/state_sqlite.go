package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	stateRepo "github.com/quipper/poc/stockproxy/pkg/repositories/state"
	_ "modernc.org/sqlite"
)

// SQLiteRepo persists OAuth state nonces so that an install started before a
// restart can still complete.
type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dsn string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	// Pragmas safe for simple single-process usage
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteRepo{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS oauth_states (
    nonce TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    issued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oauth_states_issued_at ON oauth_states(issued_at);
`)
	return err
}

func (r *SQLiteRepo) Disconnect() { _ = r.db.Close() }

// Ensure interface compliance
var _ stateRepo.Repository = (*SQLiteRepo)(nil)

func (r *SQLiteRepo) Health(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// issued_at is stored as unix milliseconds to keep comparisons driver independent.
func (r *SQLiteRepo) Save(ctx context.Context, rec stateRepo.Record) error {
	if rec.Nonce == "" {
		return errors.New("empty nonce")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (nonce, subject_id, issued_at) VALUES (?, ?, ?)
		 ON CONFLICT(nonce) DO UPDATE SET subject_id = excluded.subject_id, issued_at = excluded.issued_at`,
		rec.Nonce, rec.SubjectID, rec.IssuedAt.UnixMilli())
	return err
}

func (r *SQLiteRepo) Lookup(ctx context.Context, nonce string) (stateRepo.Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT subject_id, issued_at FROM oauth_states WHERE nonce = ?`, nonce)
	var (
		subject  string
		issuedMs int64
	)
	if err := row.Scan(&subject, &issuedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stateRepo.Record{}, false, nil
		}
		return stateRepo.Record{}, false, err
	}
	return stateRepo.Record{Nonce: nonce, SubjectID: subject, IssuedAt: time.UnixMilli(issuedMs)}, true, nil
}

// Consume deletes the row and reads it back in one statement, so two callbacks
// racing on the same nonce cannot both see it.
func (r *SQLiteRepo) Consume(ctx context.Context, nonce string) (stateRepo.Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM oauth_states WHERE nonce = ? RETURNING subject_id, issued_at`, nonce)
	var (
		subject  string
		issuedMs int64
	)
	if err := row.Scan(&subject, &issuedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stateRepo.Record{}, false, nil
		}
		return stateRepo.Record{}, false, err
	}
	return stateRepo.Record{Nonce: nonce, SubjectID: subject, IssuedAt: time.UnixMilli(issuedMs)}, true, nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, nonce string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE nonce = ?`, nonce)
	return err
}

func (r *SQLiteRepo) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE issued_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
