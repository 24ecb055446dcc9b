package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadstorm/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	place_id   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL,
	phone      TEXT,
	website    TEXT,
	address    TEXT,
	city       TEXT NOT NULL DEFAULT '',
	keyword    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	city          TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	leads_added   INTEGER NOT NULL DEFAULT 0,
	duplicates    INTEGER NOT NULL DEFAULT 0,
	no_email      INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at  DATETIME,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_place_id ON leads(place_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone) WHERE phone IS NOT NULL AND phone <> '';
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Leads ---

func (s *SQLiteStore) LeadExists(ctx context.Context, externalID, phone string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE place_id = ? OR (? <> '' AND phone = ?))`,
		externalID, phone, phone,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: lead exists")
	}
	return exists, nil
}

func (s *SQLiteStore) InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error) {
	lead.ID = uuid.New().String()
	lead.CreatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		lead.ID, lead.ExternalID, lead.Name, lead.Email,
		nullIfEmpty(lead.Phone), nullIfEmpty(lead.Website), nullIfEmpty(lead.Address),
		lead.City, lead.Keyword, lead.CreatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert lead %s", lead.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert lead rows affected")
	}
	if n == 0 {
		return nil, false, nil
	}
	return &lead, true, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.City != "" {
		query += ` AND city = ?`
		args = append(args, filter.City)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) CountLeads(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= ?`
		args = append(args, since.UTC())
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count leads")
	}
	return n, nil
}

func (s *SQLiteStore) ClearLeads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear leads")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: clear leads rows affected")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, city, keyword string) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		City:      city,
		Keyword:   keyword,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, city, keyword, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.City, r.Keyword, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, runID string, u model.RunUpdate) (*model.Run, error) {
	set, args := runUpdateSet(u, 1, func(int) string { return "?" })
	if set == "" {
		return s.runningRun(ctx, runID)
	}

	args = append(args, runID, string(model.RunStatusRunning))
	row := s.db.QueryRowContext(ctx,
		`UPDATE runs SET `+set+` WHERE id = ? AND status = ? RETURNING `+runColumns,
		args...,
	)
	r, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		if _, err := s.runningRun(ctx, runID); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrRunFinished, "sqlite: update run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	return r, nil
}

// runningRun loads a run and reports ErrRunFinished when it is terminal.
func (s *SQLiteStore) runningRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, eris.Wrapf(ErrRunFinished, "sqlite: run %s is %s", runID, r.Status)
	}
	return r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.City != "" {
		query += ` AND city = ?`
		args = append(args, filter.City)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

const runTotalsQuery = `SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'stopped' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(leads_added), 0),
	COALESCE(SUM(duplicates), 0),
	COALESCE(SUM(no_email), 0),
	COALESCE(SUM(CASE WHEN status = 'completed' THEN leads_added ELSE 0 END), 0)
FROM runs`

func (s *SQLiteStore) RunTotals(ctx context.Context, since time.Time) (model.RunTotals, error) {
	query := runTotalsQuery
	var args []any
	if !since.IsZero() {
		query += ` WHERE started_at >= ?`
		args = append(args, since.UTC())
	}

	var t model.RunTotals
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&t.Total, &t.Running, &t.Completed, &t.Stopped, &t.Failed,
		&t.LeadsAdded, &t.Duplicates, &t.NoEmail, &t.CompletedLeads,
	)
	if err != nil {
		return model.RunTotals{}, eris.Wrap(err, "sqlite: run totals")
	}
	return t, nil
}

func (s *SQLiteStore) ClearRuns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: clear runs rows affected")
}

func (s *SQLiteStore) MarkStaleRuns(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error_message = ? WHERE status = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), reason, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark stale runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: mark stale runs rows affected")
}

func (s *SQLiteStore) ClearHistory(ctx context.Context) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: clear history begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var counts [2]int64
	for i, table := range []string{"leads", "runs"} {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: clear %s", table)
		}
		if counts[i], err = res.RowsAffected(); err != nil {
			return 0, 0, eris.Wrapf(err, "sqlite: clear %s rows affected", table)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: clear history commit")
	}
	return counts[0], counts[1], nil
}

// --- Settings ---

func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	return decodeSettings([]byte(data))
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	data, err := encodeSettings(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: save settings")
}

// --- Scanning ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r           model.Run
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&r.ID, &r.City, &r.Keyword, &status,
		&r.LeadsAdded, &r.Duplicates, &r.NoEmail,
		&r.StartedAt, &completedAt, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	r.ErrorMessage = errMsg.String
	r.StartedAt = r.StartedAt.UTC()
	return &r, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var (
		l                       model.Lead
		phone, website, address sql.NullString
	)
	err := row.Scan(&l.ID, &l.ExternalID, &l.Name, &l.Email,
		&phone, &website, &address, &l.City, &l.Keyword, &l.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}
	l.Phone = phone.String
	l.Website = website.String
	l.Address = address.String
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}
