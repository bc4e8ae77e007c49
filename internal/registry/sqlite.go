package registry

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "predictbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	b := &sqliteBackend{db: db, log: log}
	if err := b.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return b, nil
}

func (b *sqliteBackend) migrate(ctx context.Context) error {
	q, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, string(q))
	return err
}

func (b *sqliteBackend) Read(ctx context.Context) (Registry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, first_name, last_name, username FROM known_users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := Registry{}
	for rows.Next() {
		var (
			id                    int64
			first, last, username sql.NullString
		)
		if err := rows.Scan(&id, &first, &last, &username); err != nil {
			return nil, err
		}
		out[id] = UserProfile{
			ID:        id,
			FirstName: fromNull(first),
			LastName:  fromNull(last),
			Username:  fromNull(username),
		}
	}
	return out, rows.Err()
}

// Write replaces the table contents in one transaction.
func (b *sqliteBackend) Write(ctx context.Context, r Registry) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM known_users`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO known_users(id, first_name, last_name, username, updated_at) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for id, p := range r {
		if _, err = stmt.ExecContext(ctx, id, toNull(p.FirstName), toNull(p.LastName), toNull(p.Username), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *sqliteBackend) AppendRun(ctx context.Context, rec RunRecord) error {
	ids, err := json.Marshal(rec.SentIDs)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO dispatch_runs(run_id, source, started_at, finished_at, outcome, candidates, sent, pruned, failed, sent_ids)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.Trigger,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.Outcome, rec.Candidates, rec.Sent, rec.Pruned, rec.Failed, string(ids),
	)
	return err
}

func (b *sqliteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func toNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
