package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

const createAdminsTable = `
CREATE TABLE IF NOT EXISTS admins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type AdminRepository struct {
	db *sql.DB
}

func NewAdminRepository(db *sql.DB) repository.AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAdminsTable); err != nil {
		return fmt.Errorf("create admins table: %w", err)
	}
	return nil
}

func (r *AdminRepository) Create(ctx context.Context, admin *domain.AdminUser) (int64, error) {
	now := time.Now().UTC()
	admin.CreatedAt = now
	admin.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO admins (username, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?)`,
		admin.Username,
		admin.PasswordHash,
		admin.CreatedAt,
		admin.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, fmt.Errorf("admin already exists: %w", err)
		}
		return 0, fmt.Errorf("insert admin: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("admin last insert id: %w", err)
	}
	admin.ID = id
	return id, nil
}

func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*domain.AdminUser, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at, updated_at
FROM admins
WHERE username = ?`,
		username,
	)
	return scanAdmin(row)
}

func (r *AdminRepository) GetByID(ctx context.Context, id int64) (*domain.AdminUser, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at, updated_at
FROM admins
WHERE id = ?`,
		id,
	)
	return scanAdmin(row)
}

func scanAdmin(row *sql.Row) (*domain.AdminUser, error) {
	var admin domain.AdminUser
	err := row.Scan(
		&admin.ID,
		&admin.Username,
		&admin.PasswordHash,
		&admin.CreatedAt,
		&admin.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan admin: %w", err)
	}
	return &admin, nil
}
