package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newMockStore wires gorm onto sqlmock and checks expectations on cleanup.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return New(gdb), mock
}

var claimColumns = []string{"id", "session_id", "item_type", "item_id", "claimed_by", "status", "claimed_at"}

func TestCreateClaim_Inserted(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO "session_claims" .* ON CONFLICT .* DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))

	winner, created, err := s.CreateClaim(context.Background(), &models.ClaimRecord{
		SessionID: 1, ItemType: models.ItemTypeTask, ItemID: "t-1",
		ClaimedBy: 42, Status: models.ClaimStatusClaimed, ClaimedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint(5), winner.ID)
	assert.Equal(t, uint(42), winner.ClaimedBy)
}

func TestCreateClaim_ConflictReturnsWinner(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO "session_claims"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "session_claims" WHERE session_id = .* AND item_type = .* AND item_id = .*`).
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(3, 1, "task", "t-1", 7, "claimed", now))

	winner, created, err := s.CreateClaim(context.Background(), &models.ClaimRecord{
		SessionID: 1, ItemType: models.ItemTypeTask, ItemID: "t-1",
		ClaimedBy: 42, Status: models.ClaimStatusClaimed, ClaimedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint(7), winner.ClaimedBy)
}

func TestTransitionSession_StatusChangedUnderneath(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "planning_sessions" SET .* WHERE id = .* AND status = .*`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "status" FROM "planning_sessions" WHERE id = .*`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.SessionStatusCompleted))

	_, err := s.TransitionSession(context.Background(), 9, models.SessionStatusActive, models.SessionStatusPaused,
		store.Stamp{PausedAt: time.Now()})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestTransitionSession_Missing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "planning_sessions"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT "status" FROM "planning_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := s.TransitionSession(context.Background(), 9, models.SessionStatusActive, models.SessionStatusCancelled, store.Stamp{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSaveProgress_OnlyNewerWritesApplied(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "phase_progress" SET .* WHERE session_id = .* AND phase = .* AND written_at <= .*`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "phase_progress" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "planning_sessions" SET .*last_saved_at.*phase_cursor.*GREATEST\(phase_cursor`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := s.SaveProgress(context.Background(), 1, []models.PhaseProgress{
		{Phase: models.PhaseReview, Fraction: 1, WrittenAt: now},
		{Phase: models.PhaseInbox, Fraction: 0.2, WrittenAt: now.Add(-time.Hour)},
	}, 1, now)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, models.PhaseReview, applied[0].Phase)
	assert.Equal(t, uint(1), applied[0].SessionID)
}

func TestSaveProgress_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "phase_progress"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.SaveProgress(context.Background(), 1, []models.PhaseProgress{
		{Phase: models.PhaseReview, Fraction: 1, WrittenAt: time.Now()},
	}, 0, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrPersistenceUnavailable)
}

func TestGetProgress_SortedByPhaseOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT \* FROM "phase_progress" WHERE session_id = .*`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "phase", "fraction", "payload", "written_at", "updated_by"}).
			AddRow(1, "actions", 0.0, nil, now, 0).
			AddRow(1, "review", 1.0, []byte(`{"notes":"ok"}`), now, 3).
			AddRow(1, "inbox", 0.4, nil, now, 3))

	rows, err := s.GetProgress(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"review", "inbox", "actions"}, []string{rows[0].Phase, rows[1].Phase, rows[2].Phase})
	assert.JSONEq(t, `{"notes":"ok"}`, string(rows[0].Payload))
}

func TestGetSession_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "planning_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSession(context.Background(), 404)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindOpenSession_DriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "planning_sessions" WHERE family_id = .* AND status IN`).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, err := s.FindOpenSession(context.Background(), 2)
	assert.ErrorIs(t, err, apperrors.ErrPersistenceUnavailable)
	assert.False(t, errors.Is(err, apperrors.ErrNotFound))
}
