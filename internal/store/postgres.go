package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgTx{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	return pgCreateEvent(ctx, s.pool, ev)
}

func (s *PostgresStore) ListEvents(ctx context.Context, incidentID int64, limit int) ([]*models.Event, error) {
	query := `SELECT id, ts, ip, method, path, user_agent, correlation_id, auth_present, honeypot_key_used, incident_id
		 FROM events WHERE incident_id = $1 ORDER BY ts DESC, id DESC`
	args := []any{incidentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.SourceIP, &ev.Method, &ev.Path, &ev.UserAgent,
			&ev.CorrelationID, &ev.AuthPresent, &ev.HoneypotKeyUsed, &ev.IncidentID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- Incidents ---

func (s *PostgresStore) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents ORDER BY last_seen DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.Incident{}
	for rows.Next() {
		inc, err := scanPgIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *PostgresStore) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	inc, err := scanPgIncident(s.pool.QueryRow(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// --- AI Reports ---

func (s *PostgresStore) CreateAIReport(ctx context.Context, report *models.AIReport) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ai_reports (incident_id, created_at, provider, model, report_json, parse_ok, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		report.IncidentID, report.CreatedAt, report.Provider, report.Model,
		report.ReportJSON, report.ParseOK, report.Error,
	).Scan(&report.ID)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create ai report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestAIReport(ctx context.Context, incidentID int64) (*models.AIReport, error) {
	report, err := scanPgAIReport(s.pool.QueryRow(ctx,
		`SELECT id, incident_id, created_at, provider, model, report_json, parse_ok, error
		 FROM ai_reports WHERE incident_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, incidentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest ai report: %w", err)
	}
	return report, nil
}

func (s *PostgresStore) ListAIReports(ctx context.Context, incidentID int64) ([]*models.AIReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, incident_id, created_at, provider, model, report_json, parse_ok, error
		 FROM ai_reports WHERE incident_id = $1 ORDER BY created_at DESC, id DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list ai reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.AIReport{}
	for rows.Next() {
		r, err := scanPgAIReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ai report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Transaction ---

type pgTx struct {
	q pgQuerier
}

// LockSource takes a transaction-scoped advisory lock on the (key id, source IP) pair.
func (t *pgTx) LockSource(ctx context.Context, keyID, sourceIP string) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, keyID+"|"+sourceIP); err != nil {
		return fmt.Errorf("lock source: %w", err)
	}
	return nil
}

func (t *pgTx) FindOpenIncident(ctx context.Context, keyID, sourceIP string, since time.Time) (*models.Incident, error) {
	inc, err := scanPgIncident(t.q.QueryRow(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents WHERE source_ip = $1 AND key_id = $2 AND last_seen >= $3
		 ORDER BY last_seen DESC, id DESC LIMIT 1`,
		sourceIP, keyID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	return inc, nil
}

func (t *pgTx) TouchIncident(ctx context.Context, id int64, seenAt time.Time) (*models.Incident, error) {
	inc, err := scanPgIncident(t.q.QueryRow(ctx,
		`UPDATE incidents SET last_seen = GREATEST(last_seen, $1), event_count = event_count + 1 WHERE id = $2
		 RETURNING id, key_id, source_ip, first_seen, last_seen, event_count`,
		seenAt, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("touch incident: %w", err)
	}
	return inc, nil
}

func (t *pgTx) CreateIncident(ctx context.Context, inc *models.Incident) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO incidents (key_id, source_ip, first_seen, last_seen, event_count)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		inc.KeyID, inc.SourceIP, inc.FirstSeen, inc.LastSeen, inc.EventCount,
	).Scan(&inc.ID)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

func (t *pgTx) CreateEvent(ctx context.Context, ev *models.Event) error {
	return pgCreateEvent(ctx, t.q, ev)
}

// --- helpers ---

func pgCreateEvent(ctx context.Context, q pgQuerier, ev *models.Event) error {
	err := q.QueryRow(ctx,
		`INSERT INTO events (ts, ip, method, path, user_agent, correlation_id, auth_present, honeypot_key_used, incident_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		ev.Timestamp, ev.SourceIP, ev.Method, ev.Path, ev.UserAgent,
		ev.CorrelationID, ev.AuthPresent, ev.HoneypotKeyUsed, ev.IncidentID,
	).Scan(&ev.ID)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func scanPgIncident(row pgx.Row) (*models.Incident, error) {
	var inc models.Incident
	if err := row.Scan(&inc.ID, &inc.KeyID, &inc.SourceIP, &inc.FirstSeen, &inc.LastSeen, &inc.EventCount); err != nil {
		return nil, err
	}
	inc.FirstSeen = inc.FirstSeen.UTC()
	inc.LastSeen = inc.LastSeen.UTC()
	return &inc, nil
}

func scanPgAIReport(row pgx.Row) (*models.AIReport, error) {
	var r models.AIReport
	if err := row.Scan(&r.ID, &r.IncidentID, &r.CreatedAt, &r.Provider, &r.Model,
		&r.ReportJSON, &r.ParseOK, &r.Error); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
