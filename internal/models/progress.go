package models

import (
	"encoding/json"
	"time"
)

const (
	PhaseReview     = "review"
	PhaseInbox      = "inbox"
	PhaseCommitment = "commitment"
	PhaseCalendar   = "calendar"
	PhaseActions    = "actions"
)

// Phases is the fixed planning order.
var Phases = []string{PhaseReview, PhaseInbox, PhaseCommitment, PhaseCalendar, PhaseActions}

// PhaseIndex returns -1 for unknown phases.
func PhaseIndex(phase string) int {
	for i, p := range Phases {
		if p == phase {
			return i
		}
	}
	return -1
}

type PhaseProgress struct {
	SessionID uint            `gorm:"primaryKey" json:"session_id"`
	Phase     string          `gorm:"primaryKey;size:20" json:"phase"`
	Fraction  float64         `gorm:"not null;default:0" json:"fraction"`
	Payload   json.RawMessage `gorm:"type:jsonb" json:"payload,omitempty"`
	WrittenAt time.Time       `gorm:"not null" json:"written_at"`
	UpdatedBy uint            `gorm:"default:0" json:"updated_by,omitempty"`
}

func (PhaseProgress) TableName() string { return "phase_progress" }

// Complete is true once the phase reached its full fraction.
func (p PhaseProgress) Complete() bool {
	return p.Fraction >= 1
}

// OverallFraction is the equal-weight mean over all phases; missing phases count as zero.
func OverallFraction(rows []PhaseProgress) float64 {
	byPhase := make(map[string]float64, len(rows))
	for _, r := range rows {
		byPhase[r.Phase] = r.Fraction
	}
	var sum float64
	for _, p := range Phases {
		sum += byPhase[p]
	}
	return sum / float64(len(Phases))
}
