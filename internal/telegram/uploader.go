package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Document describes one file delivery into a chat.
type Document struct {
	ChatID   int64
	ReplyTo  int
	Path     string
	Filename string
	Caption  string
}

// Audio is a Document with player metadata.
type Audio struct {
	Document
	Title     string
	Performer string
	Duration  time.Duration
}

// Uploader pushes payload files into chats. Upload progress is observed by
// the caller through a counting reader wrapped around the file, not here.
type Uploader struct {
	api    api
	logger *logrus.Logger
}

func NewUploader(bot *tgbotapi.BotAPI, logger *logrus.Logger) *Uploader {
	return newUploader(bot, logger)
}

func newUploader(a api, logger *logrus.Logger) *Uploader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Uploader{api: a, logger: logger}
}

// SendDocument uploads a local file as a document. file may be any
// tgbotapi.RequestFileData; callers pass a counting reader to observe bytes
// leaving the process.
func (u *Uploader) SendDocument(ctx context.Context, doc Document, file tgbotapi.RequestFileData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewDocument(doc.ChatID, file)
	cfg.ReplyToMessageID = doc.ReplyTo
	cfg.Caption = doc.Caption

	if _, err := u.api.Send(cfg); err != nil {
		return fmt.Errorf("send document %q: %w", doc.Filename, err)
	}
	return nil
}

// SendAudio uploads a local file as a playable audio message.
func (u *Uploader) SendAudio(ctx context.Context, audio Audio, file tgbotapi.RequestFileData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewAudio(audio.ChatID, file)
	cfg.ReplyToMessageID = audio.ReplyTo
	cfg.Caption = audio.Caption
	cfg.Title = audio.Title
	cfg.Performer = audio.Performer
	cfg.Duration = int(audio.Duration.Seconds())

	if _, err := u.api.Send(cfg); err != nil {
		return fmt.Errorf("send audio %q: %w", audio.Filename, err)
	}
	return nil
}

// SendDocumentByURL asks Telegram to fetch the payload itself. Used as the
// fallback when a direct upload is refused for size.
func (u *Uploader) SendDocumentByURL(ctx context.Context, doc Document, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := tgbotapi.NewDocument(doc.ChatID, tgbotapi.FileURL(rawURL))
	cfg.ReplyToMessageID = doc.ReplyTo
	cfg.Caption = doc.Caption

	if _, err := u.api.Send(cfg); err != nil {
		return fmt.Errorf("send document by url: %w", err)
	}
	return nil
}

// IsEntityTooLarge reports whether Telegram refused an upload for its size.
func IsEntityTooLarge(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Request Entity Too Large") ||
		strings.Contains(msg, "file is too big")
}
