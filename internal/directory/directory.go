// Package directory resolves family membership. The coordinator never writes
// to it.
package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Member = models.FamilyMember

type Directory interface {
	Members(ctx context.Context, familyID uint) ([]Member, error)
}

// IsMember reports whether userID belongs to the family.
func IsMember(ctx context.Context, d Directory, familyID, userID uint) (bool, error) {
	members, err := d.Members(ctx, familyID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Members(ctx context.Context, familyID uint) ([]Member, error) {
	var members []Member
	if err := d.db.WithContext(ctx).Where("family_id = ?", familyID).Order("user_id").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("family %d members: %w: %v", familyID, apperrors.ErrCollaboratorUnavailable, err)
	}
	return members, nil
}

// Static serves a fixed membership list, loaded from YAML in development.
type Static struct {
	mu       sync.RWMutex
	families map[uint][]Member
}

type staticFile struct {
	Families []struct {
		ID      uint `yaml:"id"`
		Members []struct {
			UserID         uint   `yaml:"user_id"`
			Role           string `yaml:"role"`
			DisplayName    string `yaml:"display_name"`
			TelegramChatID int64  `yaml:"telegram_chat_id"`
		} `yaml:"members"`
	} `yaml:"families"`
}

func NewStatic() *Static {
	return &Static{families: make(map[uint][]Member)}
}

func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	return ParseStatic(data)
}

func ParseStatic(data []byte) (*Static, error) {
	var raw staticFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse directory file: %w", err)
	}

	d := NewStatic()
	for _, f := range raw.Families {
		for _, m := range f.Members {
			d.Add(Member{
				FamilyID:       f.ID,
				UserID:         m.UserID,
				Role:           m.Role,
				DisplayName:    m.DisplayName,
				TelegramChatID: m.TelegramChatID,
			})
		}
	}
	return d, nil
}

func (d *Static) Add(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.families[m.FamilyID] = append(d.families[m.FamilyID], m)
}

func (d *Static) Members(_ context.Context, familyID uint) ([]Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Member(nil), d.families[familyID]...), nil
}
