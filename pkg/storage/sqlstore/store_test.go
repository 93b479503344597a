package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
	"github.com/debjordan/ModuleHeatmap/pkg/observability"
	"github.com/debjordan/ModuleHeatmap/pkg/storage"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open(driverSQLite, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := New(db, observability.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, driverPostgres), nil), mock
}

func event(id, app, module, user string, ts time.Time) *analytics.AccessEvent {
	return &analytics.AccessEvent{
		ID:            id,
		ApplicationID: app,
		UserID:        user,
		ModuleName:    module,
		ModuleURL:     "/" + module,
		AccessType:    analytics.AccessView,
		AccessedAt:    ts,
	}
}

func TestStore_SQLiteRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	assert.Equal(t, storage.TypeSQLite, s.Backend())

	first := event("e1", "crm", "reports", "alice", t0)
	first.Duration = 1500 * time.Millisecond
	first.AccessType = analytics.AccessExport
	first.UserAgent = "sdk/1.0"
	first.IPAddress = "10.0.0.1"
	first.Metadata = map[string]interface{}{"tab": "monthly", "rows": float64(20)}
	require.NoError(t, s.RecordEvent(ctx, first))

	require.NoError(t, s.RecordEvents(ctx, []*analytics.AccessEvent{
		event("e2", "crm", "reports", "bob", t0.Add(time.Hour)),
		event("e3", "crm", "billing", "alice", t0.Add(48*time.Hour)),
		event("e4", "erp", "inventory", "carol", t0.Add(2*time.Hour)),
	}))

	t.Run("fetch by application newest first", func(t *testing.T) {
		events, err := s.FetchEvents(ctx, analytics.EventFilter{ApplicationID: "crm"})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, []string{"e3", "e2", "e1"}, []string{events[0].ID, events[1].ID, events[2].ID})

		got := events[2]
		assert.Equal(t, analytics.AccessExport, got.AccessType)
		assert.Equal(t, 1500*time.Millisecond, got.Duration)
		assert.True(t, got.AccessedAt.Equal(t0))
		assert.Equal(t, time.UTC, got.AccessedAt.Location())
		assert.Equal(t, "sdk/1.0", got.UserAgent)
		assert.Equal(t, "10.0.0.1", got.IPAddress)
		assert.Equal(t, map[string]interface{}{"tab": "monthly", "rows": float64(20)}, got.Metadata)
		assert.Nil(t, events[1].Metadata)
	})

	t.Run("fetch with window is inclusive", func(t *testing.T) {
		start, end := t0, t0.Add(time.Hour)
		events, err := s.FetchEvents(ctx, analytics.EventFilter{ApplicationID: "crm", Start: &start, End: &end})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("fetch by module and user", func(t *testing.T) {
		events, err := s.FetchEvents(ctx, analytics.EventFilter{ApplicationID: "crm", ModuleName: "reports", UserID: "bob"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "e2", events[0].ID)
	})

	t.Run("module names", func(t *testing.T) {
		all, err := s.ModuleNames(ctx, "crm", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"billing", "reports"}, all)

		since := t0.Add(24 * time.Hour)
		recent, err := s.ModuleNames(ctx, "crm", &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"billing"}, recent)

		none, err := s.ModuleNames(ctx, "unknown", nil)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("applications", func(t *testing.T) {
		apps, err := s.Applications(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"crm", "erp"}, apps)
	})

	t.Run("duplicate id rolls back batch", func(t *testing.T) {
		err := s.RecordEvents(ctx, []*analytics.AccessEvent{
			event("e5", "crm", "audit", "dave", t0),
			event("e1", "crm", "audit", "dave", t0),
		})
		require.Error(t, err)

		events, err := s.FetchEvents(ctx, analytics.EventFilter{ModuleName: "audit"})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	assert.Greater(t, testutil.CollectAndCount(s.metrics.StorageOperationsTotal), 0)
}

func TestStore_RegistrySQLite(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return t0 }

	missing, err := s.FetchModuleDescriptor(ctx, "crm", "reports")
	require.NoError(t, err)
	assert.Nil(t, missing)

	d := &analytics.ModuleDescriptor{
		ApplicationID: "crm",
		Name:          "reports",
		DisplayName:   "Reports",
		Category:      "Analytics",
		Path:          "/reports",
		IsActive:      true,
	}
	require.NoError(t, s.UpsertModuleDescriptor(ctx, d))

	got, err := s.FetchModuleDescriptor(ctx, "crm", "reports")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Reports", got.DisplayName)
	assert.Equal(t, "Analytics", got.Category)
	assert.True(t, got.IsActive)
	assert.True(t, got.CreatedAt.Equal(t0))

	s.now = func() time.Time { return t0.Add(time.Hour) }
	require.NoError(t, s.UpsertModuleDescriptor(ctx, &analytics.ModuleDescriptor{
		ApplicationID: "crm",
		Name:          "reports",
		DisplayName:   "Monthly Reports",
		Category:      "Analytics",
	}))

	got, err = s.FetchModuleDescriptor(ctx, "crm", "reports")
	require.NoError(t, err)
	assert.Equal(t, "Monthly Reports", got.DisplayName)
	assert.False(t, got.IsActive)
	assert.True(t, got.CreatedAt.Equal(t0), "created_at survives updates")
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	require.NoError(t, s.UpsertModuleDescriptor(ctx, &analytics.ModuleDescriptor{ApplicationID: "crm", Name: "billing"}))
	require.NoError(t, s.UpsertModuleDescriptor(ctx, &analytics.ModuleDescriptor{ApplicationID: "erp", Name: "stock"}))

	list, err := s.ListModuleDescriptors(ctx, "crm")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "billing", list[0].Name)
	assert.Equal(t, "reports", list[1].Name)
}

func TestStore_PostgresQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("module names rebinds placeholders", func(t *testing.T) {
		s, mock := newMockStore(t)
		since := t0

		mock.ExpectQuery(regexp.QuoteMeta(
			`SELECT DISTINCT module_name FROM module_accesses WHERE application_id = $1 AND accessed_at >= $2 ORDER BY module_name`)).
			WithArgs("crm", t0).
			WillReturnRows(sqlmock.NewRows([]string{"module_name"}).AddRow("billing").AddRow("reports"))

		names, err := s.ModuleNames(ctx, "crm", &since)
		require.NoError(t, err)
		assert.Equal(t, []string{"billing", "reports"}, names)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fetch events builds filter", func(t *testing.T) {
		s, mock := newMockStore(t)
		start, end := t0, t0.Add(24*time.Hour)

		rows := sqlmock.NewRows([]string{
			"id", "application_id", "user_id", "module_name", "module_url", "access_type",
			"accessed_at", "duration_ms", "user_agent", "ip_address", "metadata",
		}).AddRow("e1", "crm", "alice", "reports", "/reports", 2, t0, int64(250), nil, "10.0.0.1", `{"k":"v"}`)

		mock.ExpectQuery(`FROM module_accesses WHERE application_id = \$1 AND module_name = \$2 AND accessed_at >= \$3 AND accessed_at <= \$4 ORDER BY accessed_at DESC, id`).
			WithArgs("crm", "reports", start, end).
			WillReturnRows(rows)

		events, err := s.FetchEvents(ctx, analytics.EventFilter{
			ApplicationID: "crm", ModuleName: "reports", Start: &start, End: &end,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, analytics.AccessClick, events[0].AccessType)
		assert.Equal(t, 250*time.Millisecond, events[0].Duration)
		assert.Equal(t, "", events[0].UserAgent)
		assert.Equal(t, "v", events[0].Metadata["k"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure is wrapped", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery("SELECT DISTINCT application_id").WillReturnError(boom)

		_, err := s.Applications(ctx)
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, "failed to query applications")
	})

	t.Run("insert uses positional parameters", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(`(?s)INSERT INTO module_accesses .* VALUES \(\s*\$1, \$2, \$3, \$4, \$5,\s*\$6, \$7, \$8, \$9, \$10, \$11\s*\)`).
			WithArgs("e1", "crm", "alice", "reports", "/reports", 1, t0, int64(0), nil, nil, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.RecordEvent(ctx, event("e1", "crm", "reports", "alice", t0)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("batch rolls back on failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		prep := mock.ExpectPrepare("INSERT INTO module_accesses")
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WillReturnError(errors.New("unique violation"))
		mock.ExpectRollback()

		err := s.RecordEvents(ctx, []*analytics.AccessEvent{
			event("e1", "crm", "reports", "alice", t0),
			event("e1", "crm", "reports", "alice", t0),
		})
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing descriptor is not an error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM modules WHERE application_id = \$1 AND name = \$2`).
			WithArgs("crm", "reports").
			WillReturnRows(sqlmock.NewRows([]string{"application_id"}))

		d, err := s.FetchModuleDescriptor(ctx, "crm", "reports")
		require.NoError(t, err)
		assert.Nil(t, d)
	})
}

func TestOpen(t *testing.T) {
	t.Run("sqlite in memory", func(t *testing.T) {
		cfg := storage.DefaultConfig()
		cfg.SQLitePath = ":memory:"

		s, err := Open(context.Background(), cfg, nil)
		require.NoError(t, err)
		defer s.Close()

		assert.NoError(t, s.Ping(context.Background()))
		assert.NotNil(t, s.DB())
		apps, err := s.Applications(context.Background())
		require.NoError(t, err)
		assert.Empty(t, apps)
	})

	t.Run("unsupported type", func(t *testing.T) {
		cfg := storage.DefaultConfig()
		cfg.Type = "filesystem"
		_, err := Open(context.Background(), cfg, nil)
		assert.ErrorIs(t, err, storage.ErrUnsupportedType)
	})
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(""))
	assert.Equal(t, "data.db?_journal_mode=WAL&_busy_timeout=5000", sqliteDSN("data.db"))
	assert.Equal(t, "data.db?mode=ro", sqliteDSN("data.db?mode=ro"))
}
