// Package notify tells family members about session milestones outside the
// live room.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"family-planner-backend/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, members []models.FamilyMember, text string) error
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, []models.FamilyMember, string) error { return nil }

// TelegramNotifier messages every member with a linked chat.
type TelegramNotifier struct {
	client *TelegramClient
}

func NewTelegramNotifier(client *TelegramClient) *TelegramNotifier {
	return &TelegramNotifier{client: client}
}

func (n *TelegramNotifier) Notify(ctx context.Context, members []models.FamilyMember, text string) error {
	var errs []error
	for _, m := range members {
		if m.TelegramChatID == 0 {
			continue
		}
		if err := n.client.SendMessage(ctx, m.TelegramChatID, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", m.TelegramChatID, err))
		}
	}
	return errors.Join(errs...)
}

func displayName(members []models.FamilyMember, userID uint) string {
	for _, m := range members {
		if m.UserID == userID && m.DisplayName != "" {
			return html.EscapeString(m.DisplayName)
		}
	}
	return fmt.Sprintf("member #%d", userID)
}

func StartedText(sess *models.PlanningSession, members []models.FamilyMember) string {
	return fmt.Sprintf("🗓 <b>%s</b> started the weekly planning session (%d min). Join in!",
		displayName(members, sess.OrganizerID), sess.DurationMinutes)
}

func CompletedText(sess *models.PlanningSession, completionRate float64) string {
	return fmt.Sprintf("✅ Weekly planning finished: %.0f%% of phases completed.", completionRate)
}

func CancelledText(sess *models.PlanningSession, members []models.FamilyMember) string {
	return fmt.Sprintf("✖️ <b>%s</b> cancelled this week's planning session.",
		displayName(members, sess.OrganizerID))
}
