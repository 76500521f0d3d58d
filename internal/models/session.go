package models

import "time"

type PlanningSession struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	FamilyID        uint                 `gorm:"not null;index" json:"family_id"`
	OrganizerID     uint                 `gorm:"not null" json:"organizer_id"`
	Status          string               `gorm:"size:20;not null;default:'active'" json:"status"`
	StartTime       time.Time            `gorm:"not null" json:"start_time"`
	EndTime         *time.Time           `json:"end_time,omitempty"`
	DurationMinutes int                  `gorm:"not null;default:90" json:"duration_minutes"`
	Settings        Settings             `gorm:"serializer:json;type:jsonb" json:"settings"`
	PhaseCursor     int                  `gorm:"not null;default:0" json:"phase_cursor"`
	LastSavedAt     *time.Time           `json:"last_saved_at,omitempty"`
	PausedAt        *time.Time           `json:"paused_at,omitempty"`
	ResumedAt       *time.Time           `json:"resumed_at,omitempty"`
	Participants    []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func (PlanningSession) TableName() string { return "planning_sessions" }

// Settings is fixed at session start.
type Settings struct {
	DurationMinutes int  `json:"duration_minutes"`
	AutoSave        bool `json:"auto_save"`
	Notifications   bool `json:"notifications"`
	PartnerSync     bool `json:"partner_sync"`
}

func DefaultSettings() Settings {
	return Settings{
		DurationMinutes: 90,
		AutoSave:        true,
		Notifications:   true,
		PartnerSync:     true,
	}
}

const (
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// IsOpen reports whether the session still accepts lifecycle changes.
func (s *PlanningSession) IsOpen() bool {
	return s.Status == SessionStatusActive || s.Status == SessionStatusPaused
}

func (s *PlanningSession) IsOrganizer(userID uint) bool {
	return s.OrganizerID == userID
}

// IsParticipant is true for the organizer as well.
func (s *PlanningSession) IsParticipant(userID uint) bool {
	if s.OrganizerID == userID {
		return true
	}
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (s *PlanningSession) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
