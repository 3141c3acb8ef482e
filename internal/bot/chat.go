package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/markdown"
	"devgroup-bot/internal/service"
)

// handleMessage deals with plain messages: answers to an open challenge
// first, then the chat relay when the bot is addressed.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Text == "" {
		return
	}

	if b.isChallengeAnswer(msg) {
		b.gradeAnswer(ctx, msg)
		return
	}

	addressed, text := b.addressedText(msg)
	if !addressed {
		return
	}
	b.relayChat(ctx, msg, text)
}

func (b *Bot) isChallengeAnswer(msg *tgbotapi.Message) bool {
	if msg.ReplyToMessage == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.challengeMsgs[msg.Chat.ID] == msg.ReplyToMessage.MessageID
}

func (b *Bot) gradeAnswer(ctx context.Context, msg *tgbotapi.Message) {
	points, feedback, err := b.challenges.Answer(ctx, msg.Chat.ID, msg.From.ID, displayName(msg.From), msg.Text)
	if errors.Is(err, service.ErrNoActiveChallenge) {
		b.replyPlain(msg, "That question was already answered.")
		return
	}
	if err != nil {
		b.logger.WithError(err).Warn("answer grading failed")
		b.replyPlain(msg, "❌ Could not grade that answer.")
		return
	}

	b.mu.Lock()
	delete(b.challengeMsgs, msg.Chat.ID)
	b.mu.Unlock()

	switch {
	case points > 0:
		b.replyPlain(msg, fmt.Sprintf("🎉 +%d point(s)! %s", points, feedback))
	default:
		b.replyPlain(msg, "❌ "+feedback)
	}
}

// addressedText reports whether the message is directed at the bot, either
// by replying to one of its messages or by mentioning it, and returns the
// text with the mention removed.
func (b *Bot) addressedText(msg *tgbotapi.Message) (bool, string) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil &&
		msg.ReplyToMessage.From.UserName == b.username && b.username != "" {
		return true, strings.TrimSpace(msg.Text)
	}

	mention := "@" + b.username
	if b.username != "" && strings.Contains(msg.Text, mention) {
		return true, strings.TrimSpace(strings.ReplaceAll(msg.Text, mention, ""))
	}

	// Private chats need no addressing.
	if msg.Chat.IsPrivate() {
		return true, strings.TrimSpace(msg.Text)
	}
	return false, ""
}

func (b *Bot) relayChat(ctx context.Context, msg *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	if !b.limiter.Allow(msg.From.ID) {
		b.replyPlain(msg, "🐢 Slow down a little, try again in a minute.")
		return
	}

	history := b.convo.Append(msg.Chat.ID, domain.ChatMessage{Role: "user", Content: text})

	messages := make([]domain.ChatMessage, 0, len(history)+1)
	if b.systemPrompt != "" {
		messages = append(messages, domain.ChatMessage{Role: "system", Content: b.systemPrompt})
	}
	messages = append(messages, history...)

	reply, err := b.generate.Chat(ctx, messages)
	if err != nil {
		b.logger.WithError(err).Warn("chat relay failed")
		b.replyPlain(msg, "❌ I could not think of an answer right now.")
		return
	}

	reply = markdown.CleanResponse(reply)
	if reply == "" {
		b.replyPlain(msg, "🤐 The model returned an empty answer.")
		return
	}
	b.convo.Append(msg.Chat.ID, domain.ChatMessage{Role: "assistant", Content: reply})

	b.replyFormatted(msg, reply)
}

// replyFormatted tries MarkdownV2 first and falls back to plain text, since
// model output can defeat the escaper with unbalanced markup.
func (b *Bot) replyFormatted(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, markdown.FormatV2(text))
	out.ReplyToMessageID = msg.MessageID
	out.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := b.api.Send(out); err != nil {
		b.logger.WithError(err).Debug("markdown reply refused, sending plain")
		b.replyPlain(msg, text)
	}
}
