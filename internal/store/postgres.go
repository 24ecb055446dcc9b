package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/db"
	"github.com/sells-group/leadstorm/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. They
// run once per candidate in every active run.
var preparedStatements = map[string]string{
	"lead_exists": leadExistsSQL,
	"insert_lead": insertLeadSQL,
	"get_run":     `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
}

const (
	leadExistsSQL = `SELECT EXISTS (SELECT 1 FROM leads WHERE place_id = $1 OR ($2 <> '' AND phone = $2))`
	insertLeadSQL = `INSERT INTO leads (` + leadColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ON CONFLICT DO NOTHING`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	place_id   TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL,
	phone      TEXT,
	website    TEXT,
	address    TEXT,
	city       TEXT NOT NULL DEFAULT '',
	keyword    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	city          TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	leads_added   INTEGER NOT NULL DEFAULT 0,
	duplicates    INTEGER NOT NULL DEFAULT 0,
	no_email      INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_place_id ON leads(place_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_leads_phone ON leads(phone) WHERE phone IS NOT NULL AND phone <> '';
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Leads ---

func (s *PostgresStore) LeadExists(ctx context.Context, externalID, phone string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, leadExistsSQL, externalID, phone).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: lead exists")
	}
	return exists, nil
}

func (s *PostgresStore) InsertLead(ctx context.Context, lead model.Lead) (*model.Lead, bool, error) {
	lead.ID = uuid.New().String()
	lead.CreatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx, insertLeadSQL,
		lead.ID, lead.ExternalID, lead.Name, lead.Email,
		nullIfEmpty(lead.Phone), nullIfEmpty(lead.Website), nullIfEmpty(lead.Address),
		lead.City, lead.Keyword, lead.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert lead %s", lead.ExternalID)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}
	return &lead, true, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.City != "" {
		query += fmt.Sprintf(` AND city = $%d`, argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, argIdx)
		args = append(args, filter.Keyword)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		var (
			l                       model.Lead
			phone, website, address *string
		)
		if err := rows.Scan(&l.ID, &l.ExternalID, &l.Name, &l.Email,
			&phone, &website, &address, &l.City, &l.Keyword, &l.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		l.Phone = deref(phone)
		l.Website = deref(website)
		l.Address = deref(address)
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) CountLeads(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM leads`
	var args []any
	if !since.IsZero() {
		query += ` WHERE created_at >= $1`
		args = append(args, since.UTC())
	}
	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count leads")
	}
	return n, nil
}

func (s *PostgresStore) ClearLeads(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear leads")
	}
	return tag.RowsAffected(), nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, city, keyword string) (*model.Run, error) {
	r := &model.Run{
		ID:        uuid.New().String(),
		City:      city,
		Keyword:   keyword,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, city, keyword, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.City, r.Keyword, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, runID string, u model.RunUpdate) (*model.Run, error) {
	set, args := runUpdateSet(u, 1, func(n int) string { return fmt.Sprintf("$%d", n) })
	if set == "" {
		return s.runningRun(ctx, runID)
	}

	n := len(args)
	args = append(args, runID, string(model.RunStatusRunning))
	query := fmt.Sprintf(`UPDATE runs SET %s WHERE id = $%d AND status = $%d RETURNING %s`,
		set, n+1, n+2, runColumns)

	r, err := scanPgRun(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, ErrNotFound) {
		if _, err := s.runningRun(ctx, runID); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(ErrRunFinished, "postgres: update run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) runningRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, eris.Wrapf(ErrRunFinished, "postgres: run %s is %s", runID, r.Status)
	}
	return r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.City != "" {
		query += fmt.Sprintf(` AND city = $%d`, argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, argIdx)
		args = append(args, filter.Keyword)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RunTotals(ctx context.Context, since time.Time) (model.RunTotals, error) {
	query := runTotalsQuery
	var args []any
	if !since.IsZero() {
		query += ` WHERE started_at >= $1`
		args = append(args, since.UTC())
	}

	var t model.RunTotals
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&t.Total, &t.Running, &t.Completed, &t.Stopped, &t.Failed,
		&t.LeadsAdded, &t.Duplicates, &t.NoEmail, &t.CompletedLeads,
	)
	if err != nil {
		return model.RunTotals{}, eris.Wrap(err, "postgres: run totals")
	}
	return t, nil
}

func (s *PostgresStore) ClearRuns(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear runs")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ClearHistory(ctx context.Context) (int64, int64, error) {
	var leads, runs int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM leads`)
		if err != nil {
			return eris.Wrap(err, "postgres: clear leads")
		}
		leads = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM runs`)
		if err != nil {
			return eris.Wrap(err, "postgres: clear runs")
		}
		runs = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return leads, runs, nil
}

func (s *PostgresStore) MarkStaleRuns(ctx context.Context, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, error_message = $3 WHERE status = $4`,
		string(model.RunStatusFailed), time.Now().UTC(), reason, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark stale runs")
	}
	return tag.RowsAffected(), nil
}

// --- Settings ---

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	return decodeSettings(data)
}

func (s *PostgresStore) SaveSettings(ctx context.Context, settings model.Settings) error {
	data, err := encodeSettings(settings)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (id, data, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		data, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: save settings")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r      model.Run
		status string
		errMsg *string
	)
	err := row.Scan(&r.ID, &r.City, &r.Keyword, &status,
		&r.LeadsAdded, &r.Duplicates, &r.NoEmail,
		&r.StartedAt, &r.CompletedAt, &errMsg,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	r.ErrorMessage = deref(errMsg)
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
