package models

import (
	"encoding/json"
	"time"
)

const (
	ItemTypeTask      = "task"
	ItemTypeEvent     = "event"
	ItemTypeInboxItem = "inbox_item"
)

func ValidItemType(t string) bool {
	switch t {
	case ItemTypeTask, ItemTypeEvent, ItemTypeInboxItem:
		return true
	}
	return false
}

type ClaimRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;uniqueIndex:idx_claim_item" json:"session_id"`
	ItemType  string    `gorm:"size:20;not null;uniqueIndex:idx_claim_item" json:"item_type"`
	ItemID    string    `gorm:"size:64;not null;uniqueIndex:idx_claim_item" json:"item_id"`
	ClaimedBy uint      `gorm:"not null" json:"claimed_by"`
	Status    string    `gorm:"size:20;not null;default:'claimed'" json:"status"`
	ClaimedAt time.Time `gorm:"not null" json:"claimed_at"`
}

func (ClaimRecord) TableName() string { return "session_claims" }

const ClaimStatusClaimed = "claimed"

const (
	ActionStart      = "start"
	ActionResumeJoin = "resume_join"
	ActionPause      = "pause"
	ActionResume     = "resume"
	ActionCancel     = "cancel"
	ActionComplete   = "complete"
	ActionClaim      = "claim"
	ActionCommit     = "commit"
	ActionUpdateItem = "update_item"
)

type SessionAction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SessionID   uint      `gorm:"not null;index" json:"session_id"`
	UserID      uint      `gorm:"not null" json:"user_id"`
	ActionType  string    `gorm:"size:30;not null" json:"action_type"`
	ItemType    string    `gorm:"size:20" json:"item_type,omitempty"`
	ItemID      string    `gorm:"size:64" json:"item_id,omitempty"`
	PerformedAt time.Time `gorm:"not null" json:"performed_at"`
}

func (SessionAction) TableName() string { return "session_actions" }

type SessionMetric struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SessionID   uint            `gorm:"not null;index" json:"session_id"`
	Scope       string          `gorm:"size:20;not null" json:"scope"`
	MetricName  string          `gorm:"size:50;not null" json:"metric_name"`
	MetricValue float64         `gorm:"not null" json:"metric_value"`
	Metadata    json.RawMessage `gorm:"type:jsonb" json:"metadata,omitempty"`
	RecordedAt  time.Time       `gorm:"not null" json:"recorded_at"`
}

func (SessionMetric) TableName() string { return "session_analytics" }
