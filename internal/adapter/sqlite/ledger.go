package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Compile-time check: Ledger implements domain.Ledger.
var _ domain.Ledger = (*Ledger)(nil)

// Ledger stores step outcomes and handled delivery keys.
type Ledger struct {
	db *sql.DB
}

// NewLedger uses a database already migrated by New or NewFromDB.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Step(ctx context.Context, tenantID, step string) (domain.StepRecord, error) {
	var rec domain.StepRecord
	var state, updatedAt string

	err := conn(ctx, l.db).QueryRowContext(ctx,
		`SELECT tenant_id, step, version, state, output, error, updated_at
		 FROM step_runs WHERE tenant_id = ? AND step = ?`, tenantID, step,
	).Scan(&rec.TenantID, &rec.Step, &rec.Version, &state, &rec.Output, &rec.Error, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StepRecord{}, fmt.Errorf("step %s for tenant %s: %w", step, tenantID, domain.ErrNotFound)
		}
		return domain.StepRecord{}, fmt.Errorf("scanning step: %w", err)
	}

	rec.State = domain.StepState(state)
	rec.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return rec, nil
}

func (l *Ledger) RecordStep(ctx context.Context, rec domain.StepRecord) error {
	_, err := conn(ctx, l.db).ExecContext(ctx,
		`INSERT INTO step_runs (tenant_id, step, version, state, output, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, step) DO UPDATE SET
		   version = excluded.version,
		   state = excluded.state,
		   output = excluded.output,
		   error = excluded.error,
		   updated_at = excluded.updated_at`,
		rec.TenantID, rec.Step, rec.Version, string(rec.State), rec.Output, rec.Error,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording step: %w", err)
	}
	return nil
}

func (l *Ledger) Processed(ctx context.Context, key domain.DeliveryKey) (bool, error) {
	var n int
	err := conn(ctx, l.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE tenant_id = ? AND event_type = ? AND version = ?`,
		key.TenantID, string(key.Type), key.Version,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking delivery: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) MarkProcessed(ctx context.Context, key domain.DeliveryKey) error {
	_, err := conn(ctx, l.db).ExecContext(ctx,
		`INSERT INTO processed_events (tenant_id, event_type, version, processed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		key.TenantID, string(key.Type), key.Version, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("marking delivery: %w", err)
	}
	return nil
}
