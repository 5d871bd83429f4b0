package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wablast/internal/dispatch"
	logx "wablast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the persistence API for pass history.
type Store interface {
	RecordPass(ctx context.Context, summary dispatch.Summary, recipients []dispatch.Recipient) error
	History(ctx context.Context, limit int) ([]PassRecord, error)
	Pass(ctx context.Context, id int64) (PassRecord, error)
	Close() error
}

var ErrNotFound = errors.New("storage: pass not found")

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

// Open initializes the store. It returns (nil, nil) when no path is
// configured, which callers treat as history disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordPass writes the summary and all recipient outcomes atomically.
func (s *sqliteStore) RecordPass(ctx context.Context, summary dispatch.Summary, recipients []dispatch.Recipient) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO passes(at, sent, errors, total, success_rate) VALUES(?,?,?,?,?)`,
		s.now().UTC().Format(time.RFC3339Nano),
		summary.Sent, summary.Errors, summary.Total, summary.SuccessRate,
	)
	if err != nil {
		return err
	}
	passID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes(pass_id, name, phone, code, expiry, status, reason) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range recipients {
		if _, err := stmt.ExecContext(ctx,
			passID, r.Name, r.Phone, r.Code, r.Expiry, string(r.Status), nullStr(r.Reason)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the most recent passes, newest first, without outcomes.
func (s *sqliteStore) History(ctx context.Context, limit int) ([]PassRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, sent, errors, total, success_rate FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		rec, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Pass returns one pass with its full outcome list.
func (s *sqliteStore) Pass(ctx context.Context, id int64) (PassRecord, error) {
	if s == nil || s.db == nil {
		return PassRecord{}, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, at, sent, errors, total, success_rate FROM passes WHERE id = ?`, id)
	rec, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PassRecord{}, ErrNotFound
	}
	if err != nil {
		return PassRecord{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phone, code, expiry, status, reason FROM outcomes WHERE pass_id = ? ORDER BY id`, id)
	if err != nil {
		return PassRecord{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var o OutcomeRecord
		var status string
		var reason sql.NullString
		if err := rows.Scan(&o.Name, &o.Phone, &o.Code, &o.Expiry, &status, &reason); err != nil {
			return PassRecord{}, err
		}
		o.Status = dispatch.Status(status)
		o.Reason = reason.String
		rec.Outcomes = append(rec.Outcomes, o)
	}
	return rec, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(r rowScanner) (PassRecord, error) {
	var rec PassRecord
	var at string
	if err := r.Scan(&rec.ID, &at, &rec.Sent, &rec.Errors, &rec.Total, &rec.SuccessRate); err != nil {
		return PassRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return PassRecord{}, fmt.Errorf("storage: bad timestamp %q: %w", at, err)
	}
	rec.At = t
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
