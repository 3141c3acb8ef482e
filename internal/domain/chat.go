package domain

import "time"

// ChatMessage is one turn of a group conversation relayed to the text model.
type ChatMessage struct {
	Role    string
	Content string
}

// WhitelistEntry records a group chat allowed to use the bot.
type WhitelistEntry struct {
	ChatID  int64
	AddedAt time.Time
}

// ChallengeScore is a user's accumulated points within one chat.
type ChallengeScore struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Points      int64
	UpdatedAt   time.Time
}

// AdminUser represents an operator of the admin HTTP API.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
