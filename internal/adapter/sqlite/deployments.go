package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Compile-time check: DeploymentStore implements domain.DeploymentStore.
var _ domain.DeploymentStore = (*DeploymentStore)(nil)

// DeploymentStore is the tenant mapping store backed by the deployments table.
type DeploymentStore struct {
	db *sql.DB
}

// NewDeploymentStore uses a database already migrated by New or NewFromDB.
func NewDeploymentStore(db *sql.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

func (s *DeploymentStore) Put(ctx context.Context, d domain.Deployment) error {
	wave := d.WaveNumber
	if wave == "" {
		wave = domain.DefaultWaveNumber
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := conn(ctx, s.db).ExecContext(ctx,
		`INSERT INTO deployments (tenant_id, stack_name, commit_id, wave_number, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   stack_name = excluded.stack_name,
		   commit_id = excluded.commit_id,
		   wave_number = excluded.wave_number,
		   updated_at = excluded.updated_at`,
		d.TenantID, d.StackName, d.CommitID, wave, updatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting deployment: %w", err)
	}
	return nil
}

func (s *DeploymentStore) Get(ctx context.Context, tenantID string) (domain.Deployment, error) {
	var d domain.Deployment
	var updatedAt string

	err := conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT tenant_id, stack_name, commit_id, wave_number, updated_at
		 FROM deployments WHERE tenant_id = ?`, tenantID,
	).Scan(&d.TenantID, &d.StackName, &d.CommitID, &d.WaveNumber, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Deployment{}, domain.ErrDeploymentNotFound
		}
		return domain.Deployment{}, fmt.Errorf("scanning deployment: %w", err)
	}

	d.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return d, nil
}

func (s *DeploymentStore) Delete(ctx context.Context, tenantID string) error {
	if _, err := conn(ctx, s.db).ExecContext(ctx, `DELETE FROM deployments WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("deleting deployment: %w", err)
	}
	return nil
}
