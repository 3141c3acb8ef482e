package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/repository"
)

var (
	// ErrNoActiveChallenge indicates an answer arrived with no question pending.
	ErrNoActiveChallenge = errors.New("no active challenge in this chat")
	// ErrChallengePending indicates a new challenge was requested while one is open.
	ErrChallengePending = errors.New("a challenge is already open in this chat")
)

// TextGenerator produces completions for challenge questions and grading.
// Satisfied by ai.Client.
type TextGenerator interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// ChallengeService runs the coding game: one open exercise per chat,
// model-graded submissions, points accumulated per user.
type ChallengeService interface {
	Open(ctx context.Context, chatID int64, language, difficulty string) (string, error)
	Answer(ctx context.Context, chatID, userID int64, displayName, answer string) (int, string, error)
	Ranking(ctx context.Context, chatID int64, limit int) ([]domain.ChallengeScore, error)
}

const (
	challengeMaxPoints = 3

	exercisePrompt = "Create one %s-level programming exercise in %s. Give a clear problem statement and one short input/output example. Do not include the solution, no preamble."
	gradingPrompt  = "You are grading a submitted solution to a programming exercise.\nExercise: %s\nSubmission: %s\n" +
		"Reply with a single line: a score from 0 to 3, then a dash, then one short sentence of feedback. Example: 2 - close, but the edge case is wrong."
)

var scorePattern = regexp.MustCompile(`^\s*([0-3])\b`)

type challengeService struct {
	generator TextGenerator
	scores    repository.ScoreRepository

	mu   sync.Mutex
	open map[int64]string // chatID -> pending question
}

func NewChallengeService(generator TextGenerator, scores repository.ScoreRepository) ChallengeService {
	return &challengeService{
		generator: generator,
		scores:    scores,
		open:      make(map[int64]string),
	}
}

func (s *challengeService) Open(ctx context.Context, chatID int64, language, difficulty string) (string, error) {
	s.mu.Lock()
	if _, pending := s.open[chatID]; pending {
		s.mu.Unlock()
		return "", ErrChallengePending
	}
	s.mu.Unlock()

	if language = strings.TrimSpace(language); language == "" {
		language = "python"
	}
	if difficulty = strings.TrimSpace(difficulty); difficulty == "" {
		difficulty = "easy"
	}

	question, err := s.generator.Chat(ctx, []domain.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(exercisePrompt, difficulty, language)},
	})
	if err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}

	s.mu.Lock()
	s.open[chatID] = question
	s.mu.Unlock()
	return question, nil
}

func (s *challengeService) Answer(ctx context.Context, chatID, userID int64, displayName, answer string) (int, string, error) {
	s.mu.Lock()
	question, ok := s.open[chatID]
	s.mu.Unlock()
	if !ok {
		return 0, "", ErrNoActiveChallenge
	}

	verdict, err := s.generator.Chat(ctx, []domain.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(gradingPrompt, question, answer)},
	})
	if err != nil {
		return 0, "", fmt.Errorf("grade answer: %w", err)
	}

	points, feedback := parseVerdict(verdict)

	// The question is consumed by the first graded answer.
	s.mu.Lock()
	delete(s.open, chatID)
	s.mu.Unlock()

	if points > 0 {
		if err := s.scores.AddPoints(ctx, chatID, userID, displayName, points); err != nil {
			return 0, "", fmt.Errorf("record points: %w", err)
		}
	}
	return points, feedback, nil
}

func (s *challengeService) Ranking(ctx context.Context, chatID int64, limit int) ([]domain.ChallengeScore, error) {
	return s.scores.Ranking(ctx, chatID, limit)
}

// parseVerdict pulls the leading score out of the grader's reply. Replies
// that do not start with a digit count as zero points with the raw text as
// feedback.
func parseVerdict(verdict string) (int, string) {
	verdict = strings.TrimSpace(verdict)

	m := scorePattern.FindStringSubmatch(verdict)
	if m == nil {
		return 0, verdict
	}
	points, _ := strconv.Atoi(m[1])
	if points > challengeMaxPoints {
		points = challengeMaxPoints
	}

	feedback := strings.TrimSpace(verdict[len(m[0]):])
	feedback = strings.TrimLeft(feedback, "-: ")
	if feedback == "" {
		feedback = verdict
	}
	return points, feedback
}
