package models

import "time"

type SessionParticipant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;uniqueIndex:idx_session_participant" json:"session_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_session_participant" json:"user_id"`
	IsHost    bool      `gorm:"not null;default:false" json:"is_host"`
	JoinedAt  time.Time `json:"joined_at"`
}

func (SessionParticipant) TableName() string { return "session_participants" }

// FamilyMember is owned by the wider application; the coordinator only reads it.
type FamilyMember struct {
	FamilyID       uint   `gorm:"primaryKey" json:"family_id"`
	UserID         uint   `gorm:"primaryKey" json:"user_id"`
	Role           string `gorm:"size:20" json:"role"`
	DisplayName    string `gorm:"size:100" json:"display_name"`
	TelegramChatID int64  `gorm:"default:0" json:"telegram_chat_id,omitempty"`
}

func (FamilyMember) TableName() string { return "family_members" }
