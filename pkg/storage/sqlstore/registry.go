package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
)

type moduleRow struct {
	ApplicationID string    `db:"application_id"`
	Name          string    `db:"name"`
	DisplayName   string    `db:"display_name"`
	Path          string    `db:"path"`
	Description   string    `db:"description"`
	Category      string    `db:"category"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r moduleRow) toDescriptor() analytics.ModuleDescriptor {
	return analytics.ModuleDescriptor{
		ApplicationID: r.ApplicationID,
		Name:          r.Name,
		DisplayName:   r.DisplayName,
		Path:          r.Path,
		Description:   r.Description,
		Category:      r.Category,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

const selectModuleColumns = `SELECT application_id, name, display_name, path, description,
	category, is_active, created_at, updated_at FROM modules`

// FetchModuleDescriptor returns nil, nil when the module is not registered.
func (s *Store) FetchModuleDescriptor(ctx context.Context, applicationID, name string) (d *analytics.ModuleDescriptor, err error) {
	ctx, span, done := s.start(ctx, "FetchModuleDescriptor", "fetch_descriptor")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("module", name))

	var row moduleRow
	query := s.db.Rebind(selectModuleColumns + ` WHERE application_id = ? AND name = ?`)
	if err = s.db.GetContext(ctx, &row, query, applicationID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query module %s/%s: %w", applicationID, name, err)
	}
	desc := row.toDescriptor()
	return &desc, nil
}

// UpsertModuleDescriptor registers a module or updates its metadata.
// CreatedAt is preserved on update.
func (s *Store) UpsertModuleDescriptor(ctx context.Context, d *analytics.ModuleDescriptor) (err error) {
	ctx, _, done := s.start(ctx, "UpsertModuleDescriptor", "upsert_descriptor")
	defer func() { done(err) }()

	now := s.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `INSERT INTO modules (
			application_id, name, display_name, path, description,
			category, is_active, created_at, updated_at
		) VALUES (
			:application_id, :name, :display_name, :path, :description,
			:category, :is_active, :created_at, :updated_at
		)
		ON CONFLICT (application_id, name) DO UPDATE SET
			display_name = excluded.display_name,
			path = excluded.path,
			description = excluded.description,
			category = excluded.category,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`

	row := moduleRow{
		ApplicationID: d.ApplicationID,
		Name:          d.Name,
		DisplayName:   d.DisplayName,
		Path:          d.Path,
		Description:   d.Description,
		Category:      d.Category,
		IsActive:      d.IsActive,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt,
	}
	if _, err = s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to upsert module %s/%s: %w", d.ApplicationID, d.Name, err)
	}
	return nil
}

// ListModuleDescriptors returns the registered modules of an application
// ordered by name.
func (s *Store) ListModuleDescriptors(ctx context.Context, applicationID string) (list []analytics.ModuleDescriptor, err error) {
	ctx, _, done := s.start(ctx, "ListModuleDescriptors", "list_descriptors")
	defer func() { done(err) }()

	var rows []moduleRow
	query := s.db.Rebind(selectModuleColumns + ` WHERE application_id = ? ORDER BY name`)
	if err = s.db.SelectContext(ctx, &rows, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to list modules of %s: %w", applicationID, err)
	}

	list = make([]analytics.ModuleDescriptor, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.toDescriptor())
	}
	return list, nil
}
