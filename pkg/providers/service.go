package providers

import (
	"context"
	"database/sql"
	"time"

	"github.com/ariamusic/aria/pkg/errcodes"
	"github.com/ariamusic/aria/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveProviderOptions struct {
	ID   *int
	Name *string
}

type ListProvidersOptions struct {
	Kind *string
}

type UpdateProviderOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateProvider(ctx context.Context, provider *models.Provider) error {
	now := time.Now()
	if provider.CreatedAt.IsZero() {
		provider.CreatedAt = now
	}
	provider.UpdatedAt = provider.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(provider).
		Returning("*").
		Exec(ctx)

	return errors.WithStack(err)
}

func (svc *Service) RetrieveProvider(ctx context.Context, opts RetrieveProviderOptions) (*models.Provider, error) {
	provider := &models.Provider{}

	q := svc.db.
		NewSelect().
		Model(provider).
		Where("p.deleted_at IS NULL")

	if opts.ID != nil {
		q = q.Where("p.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		q = q.Where("p.name = ? COLLATE NOCASE", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Provider")
		}
		return nil, errors.WithStack(err)
	}

	return provider, nil
}

func (svc *Service) ListProviders(ctx context.Context, opts ListProvidersOptions) ([]*models.Provider, error) {
	providers := []*models.Provider{}

	q := svc.db.
		NewSelect().
		Model(&providers).
		Where("p.deleted_at IS NULL").
		Order("p.name ASC")

	if opts.Kind != nil {
		q = q.Where("p.kind = ?", *opts.Kind)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return providers, nil
}

func (svc *Service) UpdateProvider(ctx context.Context, provider *models.Provider, opts UpdateProviderOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	provider.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(provider).
		Column(columns...).
		WherePK().
		Exec(ctx)

	return errors.WithStack(err)
}

// RecordSyncCursor mirrors a completed run's cursor onto the provider so the
// resume point survives job-history pruning.
func (svc *Service) RecordSyncCursor(ctx context.Context, provider *models.Provider, cursor *string, syncedAt time.Time) error {
	provider.LastCursor = cursor
	provider.LastSyncedAt = &syncedAt

	err := svc.UpdateProvider(ctx, provider, UpdateProviderOptions{
		Columns: []string{"last_cursor", "last_synced_at"},
	})

	return errors.WithStack(err)
}

func (svc *Service) DeleteProvider(ctx context.Context, provider *models.Provider) error {
	now := time.Now()
	provider.DeletedAt = &now

	err := svc.UpdateProvider(ctx, provider, UpdateProviderOptions{
		Columns: []string{"deleted_at"},
	})

	return errors.WithStack(err)
}
