package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Compile-time check: Inbox implements domain.Inbox.
var _ domain.Inbox = (*Inbox)(nil)

// Inbox holds control-plane events between their River job and the end of
// their handling.
type Inbox struct {
	db *sql.DB
}

// NewInbox uses a database already migrated by New or NewFromDB.
func NewInbox(db *sql.DB) *Inbox {
	return &Inbox{db: db}
}

func (i *Inbox) Hold(ctx context.Context, jobID int64, env domain.Envelope) (int64, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encoding held event: %w", err)
	}

	var seq int64
	err = conn(ctx, i.db).QueryRowContext(ctx,
		`INSERT INTO inbox (job_id, event_id, tenant_id, envelope, held_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, event_id) DO UPDATE SET job_id = excluded.job_id
		 RETURNING seq`,
		jobID, env.ID, env.TenantID, body, time.Now().UTC().Format(timeFormat),
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("holding event: %w", err)
	}
	return seq, nil
}

func (i *Inbox) Release(ctx context.Context, seq int64) error {
	if _, err := conn(ctx, i.db).ExecContext(ctx, `DELETE FROM inbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("releasing event: %w", err)
	}
	return nil
}

func (i *Inbox) Pending(ctx context.Context) ([]domain.Delivery, error) {
	rows, err := conn(ctx, i.db).QueryContext(ctx, `SELECT seq, envelope FROM inbox ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing held events: %w", err)
	}
	defer rows.Close()

	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var body []byte
		if err := rows.Scan(&d.Seq, &body); err != nil {
			return nil, fmt.Errorf("scanning held event: %w", err)
		}
		if err := json.Unmarshal(body, &d.Envelope); err != nil {
			return nil, fmt.Errorf("decoding held event %d: %w", d.Seq, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
