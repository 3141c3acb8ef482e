package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

// ErrInvalidCredentials indicates that provided login credentials are incorrect.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminService handles admin accounts for the management API.
type AdminService interface {
	// Bootstrap ensures the default admin account exists, creating it
	// from the configured password on first start.
	Bootstrap(ctx context.Context, username, password string) error
	Authenticate(ctx context.Context, username, password string) (*domain.AdminUser, error)
	GetByID(ctx context.Context, id int64) (*domain.AdminUser, error)
}

type adminService struct {
	admins repository.AdminRepository
}

func NewAdminService(admins repository.AdminRepository) AdminService {
	return &adminService{admins: admins}
}

func (s *adminService) Bootstrap(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil // management API stays locked until configured
	}

	existing, err := s.admins.GetByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("look up admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := &domain.AdminUser{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if _, err := s.admins.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	return nil
}

func (s *adminService) Authenticate(ctx context.Context, username, password string) (*domain.AdminUser, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	admin, err := s.admins.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return admin, nil
}

func (s *adminService) GetByID(ctx context.Context, id int64) (*domain.AdminUser, error) {
	return s.admins.GetByID(ctx, id)
}
