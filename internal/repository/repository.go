package repository

import (
	"context"

	"devgroup-bot/internal/domain"
)

// WhitelistRepository persists the set of group chats the bot serves.
type WhitelistRepository interface {
	Init(ctx context.Context) error
	Add(ctx context.Context, chatID int64) error
	Remove(ctx context.Context, chatID int64) (bool, error)
	Contains(ctx context.Context, chatID int64) (bool, error)
	List(ctx context.Context) ([]domain.WhitelistEntry, error)
}

// ScoreRepository persists per-chat challenge scores.
type ScoreRepository interface {
	Init(ctx context.Context) error
	AddPoints(ctx context.Context, chatID, userID int64, displayName string, points int) error
	Ranking(ctx context.Context, chatID int64, limit int) ([]domain.ChallengeScore, error)
}

// AdminRepository persists admin accounts for the management API.
type AdminRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, admin *domain.AdminUser) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.AdminUser, error)
	GetByID(ctx context.Context, id int64) (*domain.AdminUser, error)
}
