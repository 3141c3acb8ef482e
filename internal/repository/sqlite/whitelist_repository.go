package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

const createWhitelistTable = `
CREATE TABLE IF NOT EXISTS whitelist (
	chat_id INTEGER PRIMARY KEY,
	added_at DATETIME NOT NULL
);
`

type WhitelistRepository struct {
	db *sql.DB
}

func NewWhitelistRepository(db *sql.DB) repository.WhitelistRepository {
	return &WhitelistRepository{db: db}
}

func (r *WhitelistRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createWhitelistTable); err != nil {
		return fmt.Errorf("create whitelist table: %w", err)
	}
	return nil
}

func (r *WhitelistRepository) Add(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO whitelist (chat_id, added_at)
VALUES (?, ?)
ON CONFLICT(chat_id) DO NOTHING`,
		chatID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert whitelist entry: %w", err)
	}
	return nil
}

func (r *WhitelistRepository) Remove(ctx context.Context, chatID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM whitelist WHERE chat_id = ?`, chatID)
	if err != nil {
		return false, fmt.Errorf("delete whitelist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("whitelist rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *WhitelistRepository) Contains(ctx context.Context, chatID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM whitelist WHERE chat_id = ?`, chatID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query whitelist entry: %w", err)
	}
	return true, nil
}

func (r *WhitelistRepository) List(ctx context.Context) ([]domain.WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT chat_id, added_at
FROM whitelist
ORDER BY added_at`)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var entries []domain.WhitelistEntry
	for rows.Next() {
		var e domain.WhitelistEntry
		if err := rows.Scan(&e.ChatID, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return entries, nil
}
