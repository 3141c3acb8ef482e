package telegram

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	maxSendAttempts = 4
	retryJitterMax  = 500 * time.Millisecond
)

// api is the slice of tgbotapi.BotAPI the publisher needs. Kept narrow so
// tests can substitute a fake.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Publisher funnels all status-message traffic through per-chat locks so a
// chat's status edits never race each other, and absorbs Telegram flood
// limits with bounded retries.
type Publisher struct {
	api    api
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewPublisher(bot *tgbotapi.BotAPI, logger *logrus.Logger) *Publisher {
	return newPublisher(bot, logger)
}

func newPublisher(a api, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{
		api:    a,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (p *Publisher) chatLock(chatID int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[chatID] = l
	}
	return l
}

// Send posts a new message and returns its ID.
func (p *Publisher) Send(ctx context.Context, chatID int64, text string) (int, error) {
	l := p.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	var messageID int
	err := p.withRetry(ctx, chatID, func() error {
		msg, err := p.api.Send(tgbotapi.NewMessage(chatID, text))
		if err != nil {
			return err
		}
		messageID = msg.MessageID
		return nil
	})
	return messageID, err
}

// Reply posts a new message referencing another one.
func (p *Publisher) Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	l := p.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	var messageID int
	err := p.withRetry(ctx, chatID, func() error {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		sent, err := p.api.Send(msg)
		if err != nil {
			return err
		}
		messageID = sent.MessageID
		return nil
	})
	return messageID, err
}

// Edit rewrites an existing message in place. Editing to identical content
// is treated as success.
func (p *Publisher) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	l := p.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	return p.withRetry(ctx, chatID, func() error {
		_, err := p.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
		if err != nil && strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return err
	})
}

// Delete removes a message, ignoring the error when it is already gone.
func (p *Publisher) Delete(ctx context.Context, chatID int64, messageID int) error {
	l := p.chatLock(chatID)
	l.Lock()
	defer l.Unlock()

	return p.withRetry(ctx, chatID, func() error {
		_, err := p.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
		if err != nil && strings.Contains(err.Error(), "message to delete not found") {
			return nil
		}
		return err
	})
}

// withRetry runs fn, sleeping out Telegram flood-control waits up to
// maxSendAttempts times. Non-flood errors fail immediately.
func (p *Publisher) withRetry(ctx context.Context, chatID int64, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		wait, ok := retryAfter(lastErr)
		if !ok {
			return lastErr
		}

		wait += time.Duration(rand.Int63n(int64(retryJitterMax)))
		p.logger.WithFields(logrus.Fields{
			"chat_id": chatID,
			"attempt": attempt,
			"wait":    wait,
		}).Warn("telegram flood limit, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// retryAfter extracts the flood-control wait from a Telegram API error.
func retryAfter(err error) (time.Duration, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second, true
	}
	return 0, false
}
