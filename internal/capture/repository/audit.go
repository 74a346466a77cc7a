package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/database"
	"github.com/medflow/intake-capture/pkg/errors"
	"github.com/medflow/intake-capture/pkg/logger"
)

// schema holds the audit table. Rows carry no image bytes and no
// extracted values, only the names of the fields that came back.
const schema = `
CREATE TABLE IF NOT EXISTS capture_audit (
	id                  BIGSERIAL PRIMARY KEY,
	session_id          UUID NOT NULL,
	surface_id          TEXT NOT NULL,
	outcome             TEXT NOT NULL,
	error_class         TEXT,
	error_kind          TEXT,
	fields_extracted    TEXT[] NOT NULL DEFAULT '{}',
	duration_ms         BIGINT NOT NULL,
	images_discarded_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT capture_audit_session_id_key UNIQUE (session_id),
	CONSTRAINT capture_audit_outcome_valid CHECK (outcome IN ('succeeded', 'failed', 'cancelled')),
	CONSTRAINT capture_audit_error_class_valid CHECK (error_class IS NULL OR error_class IN ('device', 'capture', 'extraction'))
);
CREATE INDEX IF NOT EXISTS capture_audit_surface_created_idx ON capture_audit (surface_id, created_at DESC);
`

// AuditEntry is a stored capture outcome
type AuditEntry struct {
	ID                int64          `db:"id" json:"id"`
	SessionID         string         `db:"session_id" json:"session_id"`
	SurfaceID         string         `db:"surface_id" json:"surface_id"`
	Outcome           string         `db:"outcome" json:"outcome"`
	ErrorClass        sql.NullString `db:"error_class" json:"-"`
	ErrorKind         sql.NullString `db:"error_kind" json:"-"`
	FieldsExtracted   pq.StringArray `db:"fields_extracted" json:"fields_extracted"`
	DurationMs        int64          `db:"duration_ms" json:"duration_ms"`
	ImagesDiscardedAt sql.NullTime   `db:"images_discarded_at" json:"-"`
	CreatedAt         sql.NullTime   `db:"created_at" json:"created_at"`
}

// AuditRepository persists capture outcomes
type AuditRepository struct {
	db  *database.DB
	log *logger.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB, log *logger.Logger) *AuditRepository {
	return &AuditRepository{db: db, log: log.WithComponent("capture-audit")}
}

// EnsureSchema creates the audit table when missing
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create capture_audit: %w", err)
	}
	return nil
}

// Record stores o. A second record for the same session is ignored.
func (r *AuditRepository) Record(ctx context.Context, o domain.Outcome) error {
	query := `
		INSERT INTO capture_audit (
			session_id, surface_id, outcome, error_class, error_kind,
			fields_extracted, duration_ms, images_discarded_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	fields := o.FieldsExtracted
	if fields == nil {
		fields = []string{}
	}

	_, err := r.db.ExecContext(ctx, query,
		o.SessionID,
		o.SurfaceID,
		string(o.State),
		nullString(string(o.ErrorClass)),
		nullString(string(o.ErrorKind)),
		pq.Array(fields),
		o.DurationMs,
		sql.NullTime{Time: o.ImagesDiscardedAt, Valid: !o.ImagesDiscardedAt.IsZero()},
		o.CreatedAt,
	)
	if err != nil {
		if appErr := database.MapPQError(err); appErr != nil {
			if errors.Is(appErr, errors.ErrConflict) {
				r.log.Debug().Str("session_id", o.SessionID).Msg("capture outcome already recorded")
				return nil
			}
			return appErr
		}
		return fmt.Errorf("failed to record capture outcome: %w", err)
	}

	r.log.Debug().
		Str("session_id", o.SessionID).
		Str("outcome", string(o.State)).
		Msg("capture outcome recorded")
	return nil
}

// ListBySurface returns the latest outcomes of a surface, newest first
func (r *AuditRepository) ListBySurface(ctx context.Context, surfaceID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, session_id, surface_id, outcome, error_class, error_kind,
			fields_extracted, duration_ms, images_discarded_at, created_at
		FROM capture_audit
		WHERE surface_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var entries []*AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, surfaceID, limit); err != nil {
		return nil, fmt.Errorf("failed to list capture outcomes: %w", err)
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
