package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"
	"family-planner-backend/internal/tasks"
	"family-planner-backend/internal/ws"
)

// TaskService is the household task and event CRUD service.
type TaskService interface {
	CreateTask(ctx context.Context, familyID uint, t tasks.NewTask) (tasks.Item, error)
	UpdateItem(ctx context.Context, itemType, itemID string, fields map[string]interface{}) (tasks.Item, error)
}

// ClaimResult is returned for won and lost claims alike; a lost claim is not
// an error.
type ClaimResult struct {
	ItemType  string    `json:"item_type"`
	ItemID    string    `json:"item_id"`
	ClaimedBy uint      `json:"claimed_by"`
	Claimed   bool      `json:"claimed"`
	Conflict  bool      `json:"conflict"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type ClaimService struct {
	Deps
	tasks TaskService
}

func NewClaimService(d Deps, taskService TaskService) *ClaimService {
	return &ClaimService{Deps: d.withDefaults(), tasks: taskService}
}

// Claim gives userID exclusive ownership of an item for the rest of the
// session. Claims are never released or reassigned.
func (s *ClaimService) Claim(ctx context.Context, sessionID uint, itemType, itemID string, userID uint) (*ClaimResult, error) {
	itemID = strings.TrimSpace(itemID)
	if !models.ValidItemType(itemType) {
		return nil, fmt.Errorf("unknown item type %q: %w", itemType, apperrors.ErrInvalidInput)
	}
	if itemID == "" {
		return nil, fmt.Errorf("item id is required: %w", apperrors.ErrInvalidInput)
	}

	unlock := s.Locks.Lock(sessionKey(sessionID))
	defer unlock()

	sess, err := s.participantSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("cannot claim in a %s session: %w", sess.Status, apperrors.ErrInvalidTransition)
	}

	winner, created, err := s.Store.CreateClaim(ctx, &models.ClaimRecord{
		SessionID: sessionID,
		ItemType:  itemType,
		ItemID:    itemID,
		ClaimedBy: userID,
		Status:    models.ClaimStatusClaimed,
		ClaimedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	res := &ClaimResult{
		ItemType:  itemType,
		ItemID:    itemID,
		ClaimedBy: winner.ClaimedBy,
		Claimed:   winner.ClaimedBy == userID,
		Conflict:  winner.ClaimedBy != userID,
		ClaimedAt: winner.ClaimedAt,
	}
	if !created {
		if res.Conflict {
			slog.Debug("claim lost", "session_id", sessionID, "item_type", itemType, "item_id", itemID,
				"user_id", userID, "claimed_by", winner.ClaimedBy)
		}
		return res, nil
	}

	s.Cache.Invalidate(sessionID)
	s.logAction(ctx, sessionID, userID, models.ActionClaim, itemType, itemID)
	s.publish(sessionID, userID, ws.EventItemClaimed, res)
	return res, nil
}

func (s *ClaimService) List(ctx context.Context, sessionID, caller uint) ([]models.ClaimRecord, error) {
	if _, err := s.participantSession(ctx, sessionID, caller); err != nil {
		return nil, err
	}
	return s.Store.ListClaims(ctx, sessionID)
}

// UpdateItem forwards an edit to the task service when the item is free or
// held by the caller.
func (s *ClaimService) UpdateItem(ctx context.Context, sessionID uint, itemType, itemID string, caller uint,
	fields map[string]interface{}) (tasks.Item, error) {
	if itemType != models.ItemTypeTask && itemType != models.ItemTypeEvent {
		return nil, fmt.Errorf("cannot update items of type %q: %w", itemType, apperrors.ErrInvalidInput)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update: %w", apperrors.ErrInvalidInput)
	}

	sess, err := s.participantSession(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if !sess.IsOpen() {
		return nil, fmt.Errorf("session is %s: %w", sess.Status, apperrors.ErrInvalidTransition)
	}

	// claims are permanent, so the check cannot go stale before the call
	claim, err := s.Store.GetClaim(ctx, sessionID, itemType, itemID)
	switch {
	case err == nil && claim.ClaimedBy != caller:
		return nil, &apperrors.ConflictError{ClaimedBy: claim.ClaimedBy}
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	if s.tasks == nil {
		return nil, fmt.Errorf("task service not configured: %w", apperrors.ErrCollaboratorUnavailable)
	}
	item, err := s.tasks.UpdateItem(ctx, itemType, itemID, fields)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", itemType, itemID, err)
	}
	s.logAction(ctx, sessionID, caller, models.ActionUpdateItem, itemType, itemID)
	return item, nil
}

// CommitTasks creates the tasks agreed on during the commitment phase.
func (s *ClaimService) CommitTasks(ctx context.Context, sessionID, caller uint, newTasks []tasks.NewTask) ([]tasks.Item, error) {
	if len(newTasks) == 0 {
		return nil, fmt.Errorf("no tasks to commit: %w", apperrors.ErrInvalidInput)
	}
	for i, t := range newTasks {
		if strings.TrimSpace(t.Title) == "" {
			return nil, fmt.Errorf("task %d has no title: %w", i, apperrors.ErrInvalidInput)
		}
	}

	sess, err := s.participantSession(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("cannot commit in a %s session: %w", sess.Status, apperrors.ErrInvalidTransition)
	}
	if s.tasks == nil {
		return nil, fmt.Errorf("task service not configured: %w", apperrors.ErrCollaboratorUnavailable)
	}

	for _, t := range newTasks {
		if t.AssignedTo != 0 && !sess.IsParticipant(t.AssignedTo) {
			return nil, fmt.Errorf("user %d is not in this session: %w", t.AssignedTo, apperrors.ErrInvalidInput)
		}
	}

	created := make([]tasks.Item, 0, len(newTasks))
	for _, t := range newTasks {
		item, err := s.tasks.CreateTask(ctx, sess.FamilyID, t)
		if err != nil {
			return created, fmt.Errorf("create task %q: %w", t.Title, err)
		}
		created = append(created, item)
		s.logAction(ctx, sessionID, caller, models.ActionCommit, models.ItemTypeTask, itemIDOf(item))
	}
	return created, nil
}

func itemIDOf(item tasks.Item) string {
	if v, ok := item["id"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
