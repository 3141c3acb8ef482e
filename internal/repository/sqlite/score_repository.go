package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

const createScoresTable = `
CREATE TABLE IF NOT EXISTS challenge_scores (
	chat_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	display_name TEXT NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
`

type ScoreRepository struct {
	db *sql.DB
}

func NewScoreRepository(db *sql.DB) repository.ScoreRepository {
	return &ScoreRepository{db: db}
}

func (r *ScoreRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createScoresTable); err != nil {
		return fmt.Errorf("create challenge_scores table: %w", err)
	}
	return nil
}

func (r *ScoreRepository) AddPoints(ctx context.Context, chatID, userID int64, displayName string, points int) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO challenge_scores (chat_id, user_id, display_name, points, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(chat_id, user_id) DO UPDATE SET
	points = points + excluded.points,
	display_name = excluded.display_name,
	updated_at = excluded.updated_at`,
		chatID,
		userID,
		displayName,
		points,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert challenge score: %w", err)
	}
	return nil
}

func (r *ScoreRepository) Ranking(ctx context.Context, chatID int64, limit int) ([]domain.ChallengeScore, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT chat_id, user_id, display_name, points, updated_at
FROM challenge_scores
WHERE chat_id = ?
ORDER BY points DESC, updated_at ASC
LIMIT ?`,
		chatID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ranking: %w", err)
	}
	defer rows.Close()

	var scores []domain.ChallengeScore
	for rows.Next() {
		var s domain.ChallengeScore
		if err := rows.Scan(&s.ChatID, &s.UserID, &s.DisplayName, &s.Points, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan challenge score: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ranking: %w", err)
	}
	return scores, nil
}

var _ repository.ScoreRepository = (*ScoreRepository)(nil)
