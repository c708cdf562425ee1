package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// sqliteTimeLayout is fixed width so that string comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements the Store interface on database/sql with the modernc driver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a transaction. The DSN sets _txlock=immediate, so the
// write lock is held from BEGIN and concurrent correlations queue up.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- Events ---

func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	return sqliteCreateEvent(ctx, s.db, ev)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, incidentID int64, limit int) ([]*models.Event, error) {
	query := `SELECT id, ts, ip, method, path, user_agent, correlation_id, auth_present, honeypot_key_used, incident_id
		 FROM events WHERE incident_id = ? ORDER BY ts DESC, id DESC`
	args := []any{incidentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Incidents ---

func (s *SQLiteStore) ListIncidents(ctx context.Context) ([]*models.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents ORDER BY last_seen DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.Incident{}
	for rows.Next() {
		inc, err := scanSQLiteIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents WHERE id = ?`, id)
	inc, err := scanSQLiteIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

// --- AI Reports ---

func (s *SQLiteStore) CreateAIReport(ctx context.Context, report *models.AIReport) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_reports (incident_id, created_at, provider, model, report_json, parse_ok, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.IncidentID, formatSQLiteTime(report.CreatedAt), report.Provider, report.Model,
		nullString(report.ReportJSON), report.ParseOK, nullString(report.Error))
	if err != nil {
		return fmt.Errorf("create ai report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create ai report: %w", err)
	}
	report.ID = id
	return nil
}

func (s *SQLiteStore) GetLatestAIReport(ctx context.Context, incidentID int64) (*models.AIReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, incident_id, created_at, provider, model, report_json, parse_ok, error
		 FROM ai_reports WHERE incident_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, incidentID)
	report, err := scanSQLiteAIReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest ai report: %w", err)
	}
	return report, nil
}

func (s *SQLiteStore) ListAIReports(ctx context.Context, incidentID int64) ([]*models.AIReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident_id, created_at, provider, model, report_json, parse_ok, error
		 FROM ai_reports WHERE incident_id = ? ORDER BY created_at DESC, id DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list ai reports: %w", err)
	}
	defer rows.Close()

	reports := []*models.AIReport{}
	for rows.Next() {
		r, err := scanSQLiteAIReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Transaction ---

type sqliteTx struct {
	q sqlQuerier
}

// LockSource is a no-op: BEGIN IMMEDIATE already holds the database write lock.
func (t *sqliteTx) LockSource(ctx context.Context, keyID, sourceIP string) error {
	return nil
}

func (t *sqliteTx) FindOpenIncident(ctx context.Context, keyID, sourceIP string, since time.Time) (*models.Incident, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count
		 FROM incidents WHERE source_ip = ? AND key_id = ? AND last_seen >= ?
		 ORDER BY last_seen DESC, id DESC LIMIT 1`,
		sourceIP, keyID, formatSQLiteTime(since))
	inc, err := scanSQLiteIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	return inc, nil
}

func (t *sqliteTx) TouchIncident(ctx context.Context, id int64, seenAt time.Time) (*models.Incident, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE incidents SET last_seen = MAX(last_seen, ?), event_count = event_count + 1 WHERE id = ?`,
		formatSQLiteTime(seenAt), id)
	if err != nil {
		return nil, fmt.Errorf("touch incident: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	row := t.q.QueryRowContext(ctx,
		`SELECT id, key_id, source_ip, first_seen, last_seen, event_count FROM incidents WHERE id = ?`, id)
	inc, err := scanSQLiteIncident(row)
	if err != nil {
		return nil, fmt.Errorf("touch incident: %w", err)
	}
	return inc, nil
}

func (t *sqliteTx) CreateIncident(ctx context.Context, inc *models.Incident) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO incidents (key_id, source_ip, first_seen, last_seen, event_count)
		 VALUES (?, ?, ?, ?, ?)`,
		inc.KeyID, inc.SourceIP, formatSQLiteTime(inc.FirstSeen), formatSQLiteTime(inc.LastSeen), inc.EventCount)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	inc.ID = id
	return nil
}

func (t *sqliteTx) CreateEvent(ctx context.Context, ev *models.Event) error {
	return sqliteCreateEvent(ctx, t.q, ev)
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func sqliteCreateEvent(ctx context.Context, q sqlQuerier, ev *models.Event) error {
	var incidentID sql.NullInt64
	if ev.IncidentID != nil {
		incidentID = sql.NullInt64{Int64: *ev.IncidentID, Valid: true}
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO events (ts, ip, method, path, user_agent, correlation_id, auth_present, honeypot_key_used, incident_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatSQLiteTime(ev.Timestamp), nullString(ev.SourceIP), ev.Method, ev.Path, nullString(ev.UserAgent),
		ev.CorrelationID, ev.AuthPresent, ev.HoneypotKeyUsed, incidentID)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	ev.ID = id
	return nil
}

func scanSQLiteIncident(row rowScanner) (*models.Incident, error) {
	var (
		inc                 models.Incident
		firstSeen, lastSeen string
	)
	if err := row.Scan(&inc.ID, &inc.KeyID, &inc.SourceIP, &firstSeen, &lastSeen, &inc.EventCount); err != nil {
		return nil, err
	}

	var err error
	if inc.FirstSeen, err = parseSQLiteTime(firstSeen); err != nil {
		return nil, err
	}
	if inc.LastSeen, err = parseSQLiteTime(lastSeen); err != nil {
		return nil, err
	}
	return &inc, nil
}

func scanSQLiteEvent(row rowScanner) (*models.Event, error) {
	var (
		ev         models.Event
		ts         string
		ip, ua     sql.NullString
		incidentID sql.NullInt64
	)
	if err := row.Scan(&ev.ID, &ts, &ip, &ev.Method, &ev.Path, &ua, &ev.CorrelationID,
		&ev.AuthPresent, &ev.HoneypotKeyUsed, &incidentID); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	var err error
	if ev.Timestamp, err = parseSQLiteTime(ts); err != nil {
		return nil, err
	}
	ev.SourceIP = stringPtr(ip)
	ev.UserAgent = stringPtr(ua)
	if incidentID.Valid {
		id := incidentID.Int64
		ev.IncidentID = &id
	}
	return &ev, nil
}

func scanSQLiteAIReport(row rowScanner) (*models.AIReport, error) {
	var (
		r          models.AIReport
		createdAt  string
		payload    sql.NullString
		errMessage sql.NullString
	)
	if err := row.Scan(&r.ID, &r.IncidentID, &createdAt, &r.Provider, &r.Model,
		&payload, &r.ParseOK, &errMessage); err != nil {
		return nil, err
	}

	var err error
	if r.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	r.ReportJSON = stringPtr(payload)
	r.Error = stringPtr(errMessage)
	return &r, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
