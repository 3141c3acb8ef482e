package service

import (
	"context"
	"errors"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

// ErrChatNotWhitelisted indicates a group chat the bot has not been enabled for.
var ErrChatNotWhitelisted = errors.New("chat is not whitelisted")

// WhitelistService controls which group chats the bot serves.
type WhitelistService interface {
	Enable(ctx context.Context, chatID int64) error
	Disable(ctx context.Context, chatID int64) (bool, error)
	Allowed(ctx context.Context, chatID int64) (bool, error)
	List(ctx context.Context) ([]domain.WhitelistEntry, error)
}

type whitelistService struct {
	repo repository.WhitelistRepository
}

func NewWhitelistService(repo repository.WhitelistRepository) WhitelistService {
	return &whitelistService{repo: repo}
}

func (s *whitelistService) Enable(ctx context.Context, chatID int64) error {
	return s.repo.Add(ctx, chatID)
}

func (s *whitelistService) Disable(ctx context.Context, chatID int64) (bool, error) {
	return s.repo.Remove(ctx, chatID)
}

func (s *whitelistService) Allowed(ctx context.Context, chatID int64) (bool, error) {
	return s.repo.Contains(ctx, chatID)
}

func (s *whitelistService) List(ctx context.Context) ([]domain.WhitelistEntry, error) {
	return s.repo.List(ctx)
}
