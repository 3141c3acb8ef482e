package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/service"
	"devgroup-bot/internal/transfer"
)

const helpText = `Commands:
/mirror <url> - mirror a file into this chat (direct, Google Drive and Pixeldrain links)
/cancel_dl - cancel your running mirror transfers
/music <url> - fetch a track as audio
/cancel_music - cancel your running audio transfers
/image <prompt> - generate a picture
/challenge - open a coding exercise, pick language and difficulty
/ranking - challenge scoreboard for this chat
/clear - forget the current conversation
/whitelist [add|remove|list] - manage which groups may use the bot

Mention me or reply to one of my messages to chat.`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.replyPlain(msg, "Hi! I mirror files, fetch music and chat. Send /help for the full list.")
	case "help":
		b.replyPlain(msg, helpText)
	case "clear":
		if b.convo.Clear(msg.Chat.ID) {
			b.replyPlain(msg, "🧹 Conversation forgotten.")
		} else {
			b.replyPlain(msg, "Nothing to forget.")
		}
	case "mirror":
		b.startTransfer(ctx, msg, domain.TransferKindMirror)
	case "music":
		b.startTransfer(ctx, msg, domain.TransferKindAudio)
	case "cancel_dl":
		b.cancelTransfers(msg, domain.TransferKindMirror)
	case "cancel_music":
		b.cancelTransfers(msg, domain.TransferKindAudio)
	case "image":
		b.generateImage(ctx, msg)
	case "whitelist":
		b.manageWhitelist(ctx, msg)
	case "challenge":
		b.openChallenge(ctx, msg)
	case "ranking":
		b.showRanking(ctx, msg)
	default:
		// Unknown commands are ignored; other bots in the group have
		// their own namespaces.
	}
}

func (b *Bot) startTransfer(ctx context.Context, msg *tgbotapi.Message, kind domain.TransferKind) {
	rawURL := strings.TrimSpace(msg.CommandArguments())
	if !isHTTPURL(rawURL) {
		if kind == domain.TransferKindAudio {
			b.replyPlain(msg, "Usage: /music <link to the track>")
		} else {
			b.replyPlain(msg, "Usage: /mirror <direct, Google Drive or Pixeldrain link>")
		}
		return
	}

	err := b.runner.Start(ctx, transfer.Request{
		Kind:         kind,
		ChatID:       msg.Chat.ID,
		UserID:       msg.From.ID,
		ReplyTo:      msg.MessageID,
		UserDisplay:  displayName(msg.From),
		GroupDisplay: msg.Chat.Title,
		RawURL:       rawURL,
	})
	if errors.Is(err, transfer.ErrUserBusy) {
		b.replyPlain(msg, "⏳ You already have the maximum number of transfers running. Wait for one to finish or cancel it.")
		return
	}
	if err != nil {
		b.logger.WithError(err).Warn("transfer start failed")
		b.replyPlain(msg, "❌ Could not start the transfer, please try again.")
	}
}

func (b *Bot) cancelTransfers(msg *tgbotapi.Message, kind domain.TransferKind) {
	n := b.runner.Cancel(kind, msg.Chat.ID, msg.From.ID)
	if n == 0 {
		b.replyPlain(msg, "You have no running transfers.")
		return
	}
	b.replyPlain(msg, fmt.Sprintf("🛑 Cancelling %d transfer(s).", n))
}

func (b *Bot) generateImage(ctx context.Context, msg *tgbotapi.Message) {
	prompt := strings.TrimSpace(msg.CommandArguments())
	if prompt == "" {
		b.replyPlain(msg, "Usage: /image <what to draw>")
		return
	}
	if !b.limiter.Allow(msg.From.ID) {
		b.replyPlain(msg, "🐢 Slow down a little, try again in a minute.")
		return
	}

	img, err := b.generate.GenerateImage(ctx, prompt)
	if err != nil {
		b.logger.WithError(err).Warn("image generation failed")
		b.replyPlain(msg, "❌ Could not generate that image.")
		return
	}

	var photo tgbotapi.PhotoConfig
	if img.URL != "" {
		photo = tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileURL(img.URL))
	} else {
		photo = tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileBytes{Name: "image.png", Bytes: img.Data})
	}
	photo.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(photo); err != nil {
		b.logger.WithError(err).Warn("photo delivery failed")
		b.replyPlain(msg, "❌ Generated the image but could not deliver it.")
	}
}

func (b *Bot) manageWhitelist(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat.IsPrivate() {
		b.replyPlain(msg, "Run /whitelist inside the group you want to manage.")
		return
	}

	switch strings.ToLower(strings.TrimSpace(msg.CommandArguments())) {
	case "", "add":
		if err := b.whitelist.Enable(ctx, msg.Chat.ID); err != nil {
			b.logger.WithError(err).Warn("whitelist enable failed")
			b.replyPlain(msg, "❌ Could not enable this chat.")
			return
		}
		b.replyPlain(msg, "✅ This group is now enabled.")
	case "remove":
		removed, err := b.whitelist.Disable(ctx, msg.Chat.ID)
		if err != nil {
			b.logger.WithError(err).Warn("whitelist disable failed")
			b.replyPlain(msg, "❌ Could not disable this chat.")
			return
		}
		if !removed {
			b.replyPlain(msg, "This group was not enabled.")
			return
		}
		b.replyPlain(msg, "🚫 This group is now disabled.")
	case "list":
		entries, err := b.whitelist.List(ctx)
		if err != nil {
			b.logger.WithError(err).Warn("whitelist list failed")
			b.replyPlain(msg, "❌ Could not load the whitelist.")
			return
		}
		if len(entries) == 0 {
			b.replyPlain(msg, "No groups enabled yet.")
			return
		}
		var sb strings.Builder
		sb.WriteString("Enabled groups:\n")
		for _, e := range entries {
			fmt.Fprintf(&sb, "• %d\n", e.ChatID)
		}
		b.replyPlain(msg, strings.TrimRight(sb.String(), "\n"))
	default:
		b.replyPlain(msg, "Usage: /whitelist [add|remove|list]")
	}
}

var challengeLanguages = []struct{ label, value string }{
	{"Python", "python"},
	{"Rust", "rust"},
	{"C++", "cpp"},
}

var challengeDifficulties = []struct{ label, value string }{
	{"Easy", "easy"},
	{"Medium", "medium"},
	{"Hard", "hard"},
}

// openChallenge starts the two-step selection: a language keyboard whose
// buttons lead to the difficulty keyboard.
func (b *Bot) openChallenge(_ context.Context, msg *tgbotapi.Message) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(challengeLanguages))
	for _, lang := range challengeLanguages {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(lang.label, "challenge_lang:"+lang.value),
		))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, "Choose a language for the challenge:")
	out.ReplyToMessageID = msg.MessageID
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(out); err != nil {
		b.logger.WithError(err).Warn("challenge keyboard delivery failed")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	switch {
	case strings.HasPrefix(cq.Data, "challenge_lang:"):
		b.chooseDifficulty(cq, strings.TrimPrefix(cq.Data, "challenge_lang:"))
	case strings.HasPrefix(cq.Data, "challenge_diff:"):
		b.startChallenge(ctx, cq, strings.TrimPrefix(cq.Data, "challenge_diff:"))
	}
}

func (b *Bot) chooseDifficulty(cq *tgbotapi.CallbackQuery, language string) {
	defer b.answerCallback(cq)

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(challengeDifficulties))
	for _, diff := range challengeDifficulties {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(diff.label, "challenge_diff:"+language+":"+diff.value),
		))
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cq.Message.Chat.ID,
		cq.Message.MessageID,
		"Language: "+language+"\nChoose a difficulty:",
		tgbotapi.NewInlineKeyboardMarkup(rows...),
	)
	if _, err := b.api.Send(edit); err != nil {
		b.logger.WithError(err).Debug("difficulty keyboard edit failed")
	}
}

func (b *Bot) startChallenge(ctx context.Context, cq *tgbotapi.CallbackQuery, selection string) {
	b.answerCallback(cq)

	language, difficulty, ok := strings.Cut(selection, ":")
	if !ok {
		return
	}
	chatID := cq.Message.Chat.ID

	b.editPlain(chatID, cq.Message.MessageID, fmt.Sprintf("Language: %s\nDifficulty: %s\nGenerating...", language, difficulty))

	question, err := b.challenges.Open(ctx, chatID, language, difficulty)
	if errors.Is(err, service.ErrChallengePending) {
		b.editPlain(chatID, cq.Message.MessageID, "A challenge is already open, answer it first!")
		return
	}
	if err != nil {
		b.logger.WithError(err).Warn("challenge generation failed")
		b.editPlain(chatID, cq.Message.MessageID, "❌ Could not come up with an exercise right now.")
		return
	}

	out := tgbotapi.NewMessage(chatID, "🧠 "+question+"\n\nReply to this message with your solution.")
	sent, err := b.api.Send(out)
	if err != nil {
		b.logger.WithError(err).Warn("challenge delivery failed")
		return
	}

	b.mu.Lock()
	b.challengeMsgs[chatID] = sent.MessageID
	b.mu.Unlock()
}

func (b *Bot) answerCallback(cq *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.WithError(err).Debug("callback ack failed")
	}
}

func (b *Bot) editPlain(chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.logger.WithError(err).Debug("message edit failed")
	}
}

func (b *Bot) showRanking(ctx context.Context, msg *tgbotapi.Message) {
	scores, err := b.challenges.Ranking(ctx, msg.Chat.ID, 10)
	if err != nil {
		b.logger.WithError(err).Warn("ranking query failed")
		b.replyPlain(msg, "❌ Could not load the scoreboard.")
		return
	}
	if len(scores) == 0 {
		b.replyPlain(msg, "No points scored yet. Open a question with /challenge!")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 Scoreboard\n")
	medals := []string{"🥇", "🥈", "🥉"}
	for i, s := range scores {
		marker := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			marker = medals[i]
		}
		fmt.Fprintf(&sb, "%s %s: %d\n", marker, s.DisplayName, s.Points)
	}
	b.replyPlain(msg, strings.TrimRight(sb.String(), "\n"))
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
