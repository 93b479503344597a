package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/storage"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite3"
)

var tracer = otel.Tracer("heatmap/storage/sqlstore")

// Store implements analytics.EventStore and analytics.ModuleRegistry on
// PostgreSQL or SQLite.
type Store struct {
	db      *sqlx.DB
	backend string
	metrics *observability.Metrics
	now     func() time.Time
}

var (
	_ analytics.EventStore     = (*Store)(nil)
	_ analytics.ModuleRegistry = (*Store)(nil)
)

// Open connects to the configured backend, verifies the connection and
// applies the schema.
func Open(ctx context.Context, config storage.Config, metrics *observability.Metrics) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch config.Type {
	case storage.TypePostgres:
		db, err = sqlx.Open(driverPostgres, config.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		db.SetMaxOpenConns(config.PostgresMaxConns)
		db.SetMaxIdleConns(config.PostgresMinConns)
		db.SetConnMaxLifetime(1 * time.Hour)
		db.SetConnMaxIdleTime(10 * time.Minute)
	case storage.TypeSQLite:
		db, err = sqlx.Open(driverSQLite, sqliteDSN(config.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// A single writer avoids SQLITE_BUSY under concurrent ingestion.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedType, config.Type)
	}

	timeout := config.PostgresTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Type, err)
	}

	s := New(db, metrics)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// New wraps an existing connection. The dialect is taken from the sqlx
// driver name.
func New(db *sqlx.DB, metrics *observability.Metrics) *Store {
	backend := storage.TypeSQLite
	if db.DriverName() == driverPostgres {
		backend = storage.TypePostgres
	}
	return &Store{db: db, backend: backend, metrics: metrics, now: time.Now}
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	driver := driverSQLite
	if s.backend == storage.TypePostgres {
		driver = driverPostgres
	}
	for _, stmt := range schemas[driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// Backend returns "postgres" or "sqlite".
func (s *Store) Backend() string {
	return s.backend
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type eventRow struct {
	ID            string         `db:"id"`
	ApplicationID string         `db:"application_id"`
	UserID        string         `db:"user_id"`
	ModuleName    string         `db:"module_name"`
	ModuleURL     string         `db:"module_url"`
	AccessType    int            `db:"access_type"`
	AccessedAt    time.Time      `db:"accessed_at"`
	DurationMs    int64          `db:"duration_ms"`
	UserAgent     sql.NullString `db:"user_agent"`
	IPAddress     sql.NullString `db:"ip_address"`
	Metadata      sql.NullString `db:"metadata"`
}

func toEventRow(e *analytics.AccessEvent) (eventRow, error) {
	row := eventRow{
		ID:            e.ID,
		ApplicationID: e.ApplicationID,
		UserID:        e.UserID,
		ModuleName:    e.ModuleName,
		ModuleURL:     e.ModuleURL,
		AccessType:    int(e.AccessType),
		AccessedAt:    e.AccessedAt.UTC(),
		DurationMs:    e.Duration.Milliseconds(),
		UserAgent:     nullString(e.UserAgent),
		IPAddress:     nullString(e.IPAddress),
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return row, fmt.Errorf("failed to encode metadata: %w", err)
		}
		row.Metadata = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func (r eventRow) toAccessEvent() (analytics.AccessEvent, error) {
	e := analytics.AccessEvent{
		ID:            r.ID,
		ApplicationID: r.ApplicationID,
		UserID:        r.UserID,
		ModuleName:    r.ModuleName,
		ModuleURL:     r.ModuleURL,
		AccessType:    analytics.AccessType(r.AccessType),
		AccessedAt:    r.AccessedAt.UTC(),
		Duration:      time.Duration(r.DurationMs) * time.Millisecond,
		UserAgent:     r.UserAgent.String,
		IPAddress:     r.IPAddress.String,
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata of event %s: %w", r.ID, err)
		}
	}
	return e, nil
}

const insertEventQuery = `
	INSERT INTO module_accesses (
		id, application_id, user_id, module_name, module_url,
		access_type, accessed_at, duration_ms, user_agent, ip_address, metadata
	) VALUES (
		:id, :application_id, :user_id, :module_name, :module_url,
		:access_type, :accessed_at, :duration_ms, :user_agent, :ip_address, :metadata
	)`

// RecordEvent inserts a single event.
func (s *Store) RecordEvent(ctx context.Context, event *analytics.AccessEvent) (err error) {
	ctx, span, done := s.start(ctx, "RecordEvent", "record_event")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("application_id", event.ApplicationID))

	row, err := toEventRow(event)
	if err != nil {
		return err
	}
	if _, err = s.db.NamedExecContext(ctx, insertEventQuery, row); err != nil {
		return fmt.Errorf("failed to insert access event: %w", err)
	}
	return nil
}

// RecordEvents inserts events in a single transaction.
func (s *Store) RecordEvents(ctx context.Context, events []*analytics.AccessEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	ctx, span, done := s.start(ctx, "RecordEvents", "record_events")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int("events", len(events)))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, insertEventQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		row, rowErr := toEventRow(event)
		if rowErr != nil {
			err = rowErr
			return err
		}
		if _, err = stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("failed to insert access event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit access events: %w", err)
	}
	return nil
}

// FetchEvents returns events matching filter, newest first.
func (s *Store) FetchEvents(ctx context.Context, filter analytics.EventFilter) (events []analytics.AccessEvent, err error) {
	ctx, span, done := s.start(ctx, "FetchEvents", "fetch_events")
	defer func() { done(err) }()

	var (
		where []string
		args  []interface{}
	)
	if filter.ApplicationID != "" {
		where = append(where, "application_id = ?")
		args = append(args, filter.ApplicationID)
	}
	if filter.ModuleName != "" {
		where = append(where, "module_name = ?")
		args = append(args, filter.ModuleName)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Start != nil {
		where = append(where, "accessed_at >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		where = append(where, "accessed_at <= ?")
		args = append(args, filter.End.UTC())
	}

	query := `SELECT id, application_id, user_id, module_name, module_url, access_type,
		accessed_at, duration_ms, user_agent, ip_address, metadata
		FROM module_accesses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY accessed_at DESC, id"

	var rows []eventRow
	if err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}

	events = make([]analytics.AccessEvent, 0, len(rows))
	for _, r := range rows {
		e, convErr := r.toAccessEvent()
		if convErr != nil {
			err = convErr
			return nil, err
		}
		events = append(events, e)
	}
	span.SetAttributes(attribute.Int("events", len(events)))
	return events, nil
}

// ModuleNames returns distinct module names of an application, optionally
// restricted to events at or after since.
func (s *Store) ModuleNames(ctx context.Context, applicationID string, since *time.Time) (names []string, err error) {
	ctx, _, done := s.start(ctx, "ModuleNames", "module_names")
	defer func() { done(err) }()

	query := `SELECT DISTINCT module_name FROM module_accesses WHERE application_id = ?`
	args := []interface{}{applicationID}
	if since != nil {
		query += ` AND accessed_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY module_name`

	names = []string{}
	if err = s.db.SelectContext(ctx, &names, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query module names: %w", err)
	}
	return names, nil
}

// Applications returns every application ID with recorded events.
func (s *Store) Applications(ctx context.Context) (apps []string, err error) {
	ctx, _, done := s.start(ctx, "Applications", "applications")
	defer func() { done(err) }()

	apps = []string{}
	query := `SELECT DISTINCT application_id FROM module_accesses ORDER BY application_id`
	if err = s.db.SelectContext(ctx, &apps, query); err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	return apps, nil
}

// start opens a span and returns a completion func recording metrics.
func (s *Store) start(ctx context.Context, spanName, operation string) (context.Context, trace.Span, func(error)) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("db.system", s.backend),
	))
	return ctx, span, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, operation+" failed")
		}
		span.End()
		s.metrics.ObserveStorage(operation, s.backend, started, err)
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
