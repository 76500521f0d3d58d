// Package gormstore implements store.Store on PostgreSQL through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/store"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// translate maps driver errors onto the application sentinels. Anything that
// is not a recognised domain outcome is reported as the store being unavailable.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, err)
	default:
		return fmt.Errorf("%s: %w: %v", what, apperrors.ErrPersistenceUnavailable, err)
	}
}

func (s *Store) CreateSession(ctx context.Context, sess *models.PlanningSession) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		rows := make([]models.PhaseProgress, 0, len(models.Phases))
		for _, phase := range models.Phases {
			rows = append(rows, models.PhaseProgress{SessionID: sess.ID, Phase: phase})
		}
		return tx.Create(&rows).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.ErrActiveSessionExists
	}
	return translate(err, "create session")
}

func (s *Store) GetSession(ctx context.Context, id uint) (*models.PlanningSession, error) {
	var sess models.PlanningSession
	err := s.db.WithContext(ctx).Preload("Participants").First(&sess, id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("session %d", id))
	}
	return &sess, nil
}

func (s *Store) FindOpenSession(ctx context.Context, familyID uint) (*models.PlanningSession, error) {
	var sess models.PlanningSession
	err := s.db.WithContext(ctx).
		Where("family_id = ? AND status IN ?", familyID, []string{models.SessionStatusActive, models.SessionStatusPaused}).
		Preload("Participants").
		First(&sess).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("open session for family %d", familyID))
	}
	return &sess, nil
}

func (s *Store) LatestSession(ctx context.Context, familyID uint) (*models.PlanningSession, error) {
	var sess models.PlanningSession
	err := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("start_time DESC, id DESC").
		Preload("Participants").
		First(&sess).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("sessions for family %d", familyID))
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, familyID uint, limit, offset int) ([]models.PlanningSession, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.PlanningSession{}).
		Where("family_id = ?", familyID).
		Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count sessions")
	}

	var sessions []models.PlanningSession
	q := s.db.WithContext(ctx).
		Where("family_id = ?", familyID).
		Order("start_time DESC, id DESC").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Preload("Participants").Find(&sessions).Error; err != nil {
		return nil, 0, translate(err, "list sessions")
	}
	return sessions, total, nil
}

func (s *Store) TransitionSession(ctx context.Context, id uint, from, to string, stamp store.Stamp) (*models.PlanningSession, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if !stamp.EndTime.IsZero() {
		updates["end_time"] = stamp.EndTime
	}
	if !stamp.PausedAt.IsZero() {
		updates["paused_at"] = stamp.PausedAt
	}
	if !stamp.ResumedAt.IsZero() {
		updates["resumed_at"] = stamp.ResumedAt
	}

	res := s.db.WithContext(ctx).Model(&models.PlanningSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error, "transition session")
	}

	if res.RowsAffected == 0 {
		var statuses []string
		if err := s.db.WithContext(ctx).Model(&models.PlanningSession{}).
			Where("id = ?", id).
			Pluck("status", &statuses).Error; err != nil {
			return nil, translate(err, "transition session")
		}
		if len(statuses) == 0 {
			return nil, fmt.Errorf("session %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("session %d is %s, not %s: %w", id, statuses[0], from, apperrors.ErrInvalidTransition)
	}

	return s.GetSession(ctx, id)
}

func (s *Store) AdvancePhaseCursor(ctx context.Context, id uint, cursor int) error {
	err := s.db.WithContext(ctx).Model(&models.PlanningSession{}).
		Where("id = ? AND phase_cursor < ?", id, cursor).
		Update("phase_cursor", cursor).Error
	return translate(err, "advance phase cursor")
}

func (s *Store) SaveProgress(ctx context.Context, sessionID uint, rows []models.PhaseProgress, cursor int, savedAt time.Time) ([]models.PhaseProgress, error) {
	var applied []models.PhaseProgress
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			res := tx.Model(&models.PhaseProgress{}).
				Where("session_id = ? AND phase = ? AND written_at <= ?", sessionID, row.Phase, row.WrittenAt).
				Updates(map[string]interface{}{
					"fraction":   row.Fraction,
					"payload":    []byte(row.Payload),
					"written_at": row.WrittenAt,
					"updated_by": row.UpdatedBy,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				row.SessionID = sessionID
				applied = append(applied, row)
			}
		}
		return tx.Model(&models.PlanningSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"last_saved_at": savedAt,
				"phase_cursor":  gorm.Expr("GREATEST(phase_cursor, ?)", cursor),
			}).Error
	})
	if err != nil {
		return nil, translate(err, "save progress")
	}
	return applied, nil
}

func (s *Store) GetProgress(ctx context.Context, sessionID uint) ([]models.PhaseProgress, error) {
	var rows []models.PhaseProgress
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, translate(err, "get progress")
	}
	sort.Slice(rows, func(i, j int) bool {
		return models.PhaseIndex(rows[i].Phase) < models.PhaseIndex(rows[j].Phase)
	})
	return rows, nil
}

func (s *Store) CreateClaim(ctx context.Context, c *models.ClaimRecord) (*models.ClaimRecord, bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "item_type"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return nil, false, translate(res.Error, "create claim")
	}
	if res.RowsAffected > 0 {
		return c, true, nil
	}

	winner, err := s.GetClaim(ctx, c.SessionID, c.ItemType, c.ItemID)
	if err != nil {
		return nil, false, err
	}
	return winner, false, nil
}

func (s *Store) GetClaim(ctx context.Context, sessionID uint, itemType, itemID string) (*models.ClaimRecord, error) {
	var c models.ClaimRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND item_type = ? AND item_id = ?", sessionID, itemType, itemID).
		First(&c).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("claim %s/%s", itemType, itemID))
	}
	return &c, nil
}

func (s *Store) ListClaims(ctx context.Context, sessionID uint) ([]models.ClaimRecord, error) {
	claims := []models.ClaimRecord{}
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&claims).Error; err != nil {
		return nil, translate(err, "list claims")
	}
	return claims, nil
}

func (s *Store) RecordAction(ctx context.Context, a *models.SessionAction) error {
	return translate(s.db.WithContext(ctx).Create(a).Error, "record action")
}

func (s *Store) RecordMetric(ctx context.Context, m *models.SessionMetric) error {
	return translate(s.db.WithContext(ctx).Create(m).Error, "record metric")
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
