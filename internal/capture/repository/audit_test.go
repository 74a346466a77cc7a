package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/medflow/intake-capture/internal/capture/domain"
	"github.com/medflow/intake-capture/pkg/database"
	apperrors "github.com/medflow/intake-capture/pkg/errors"
	"github.com/medflow/intake-capture/pkg/logger"
	"github.com/medflow/intake-capture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*AuditRepository, *testutil.MockDB) {
	t.Helper()
	mockDB := testutil.NewMockDB(t)
	t.Cleanup(func() { mockDB.Close() })
	return NewAuditRepository(database.Wrap(mockDB.DB, logger.Nop()), logger.Nop()), mockDB
}

func succeededOutcome() domain.Outcome {
	now := time.Now().UTC()
	return domain.Outcome{
		SessionID:         uuid.NewString(),
		SurfaceID:         "reception-1",
		State:             domain.StateSucceeded,
		FieldsExtracted:   []string{"cin", "nom", "prenom"},
		DurationMs:        4200,
		ImagesDiscardedAt: now,
		CreatedAt:         now,
	}
}

func TestAuditRepository_Record(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	o := succeededOutcome()

	mockDB.ExpectExec("INSERT INTO capture_audit").
		WithArgs(
			o.SessionID,
			"reception-1",
			"succeeded",
			nil,
			nil,
			"{\"cin\",\"nom\",\"prenom\"}",
			int64(4200),
			testutil.AnyTime{},
			testutil.AnyTime{},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Record(context.Background(), o))
	mockDB.ExpectationsWereMet(t)
}

func TestAuditRepository_RecordFailure(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	o := domain.Outcome{
		SessionID:  uuid.NewString(),
		SurfaceID:  "reception-1",
		State:      domain.StateFailed,
		ErrorClass: domain.ClassDevice,
		ErrorKind:  domain.KindPermissionDenied,
		CreatedAt:  time.Now().UTC(),
	}

	mockDB.ExpectExec("INSERT INTO capture_audit").
		WithArgs(
			testutil.AnyUUID{},
			"reception-1",
			"failed",
			"device",
			"permission_denied",
			"{}",
			int64(0),
			nil,
			testutil.AnyTime{},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Record(context.Background(), o))
	mockDB.ExpectationsWereMet(t)
}

func TestAuditRepository_RecordErrors(t *testing.T) {
	tests := []struct {
		name     string
		dbErr    error
		wantNil  bool
		wantCode string
	}{
		{
			name:    "duplicate session ignored",
			dbErr:   &pq.Error{Code: "23505", Constraint: "capture_audit_session_id_key"},
			wantNil: true,
		},
		{
			name:     "invalid outcome",
			dbErr:    &pq.Error{Code: "23514", Constraint: "capture_audit_outcome_valid"},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "invalid error class",
			dbErr:    &pq.Error{Code: "23514", Constraint: "capture_audit_error_class_valid"},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:  "connection error",
			dbErr: errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mockDB := newMockRepo(t)
			mockDB.ExpectExec("INSERT INTO capture_audit").WillReturnError(tt.dbErr)

			err := repo.Record(context.Background(), succeededOutcome())
			if tt.wantNil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var appErr *apperrors.AppError
			if tt.wantCode == "" {
				assert.False(t, errors.As(err, &appErr))
				return
			}
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestAuditRepository_EnsureSchema(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	mockDB.ExpectExec("CREATE TABLE IF NOT EXISTS capture_audit").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	mockDB.ExpectationsWereMet(t)
}

func TestAuditRepository_ListBySurface(t *testing.T) {
	repo, mockDB := newMockRepo(t)
	now := time.Now().UTC()

	rows := testutil.MockRows("id", "session_id", "surface_id", "outcome", "error_class", "error_kind",
		"fields_extracted", "duration_ms", "images_discarded_at", "created_at").
		AddRow(2, "s-2", "reception-1", "failed", "extraction", "no_data_extracted", "{}", 900, now, now).
		AddRow(1, "s-1", "reception-1", "succeeded", nil, nil, "{cin,nom}", 3100, now, now)

	mockDB.ExpectQuery("FROM capture_audit").
		WithArgs("reception-1", 20).
		WillReturnRows(rows)

	entries, err := repo.ListBySurface(context.Background(), "reception-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "failed", entries[0].Outcome)
	assert.Equal(t, "extraction", entries[0].ErrorClass.String)
	assert.False(t, entries[1].ErrorClass.Valid)
	assert.Equal(t, []string{"cin", "nom"}, []string(entries[1].FieldsExtracted))
	mockDB.ExpectationsWereMet(t)
}
