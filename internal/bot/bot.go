package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"devgroup-bot/internal/ai"
	"devgroup-bot/internal/convo"
	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/ratelimit"
	"devgroup-bot/internal/service"
	"devgroup-bot/internal/transfer"
)

// chatAPI is the outbound slice of tgbotapi.BotAPI the handlers use.
type chatAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// transferRunner starts and cancels mirror and audio transfers.
// Satisfied by transfer.Runner.
type transferRunner interface {
	Start(ctx context.Context, req transfer.Request) error
	Cancel(kind domain.TransferKind, chatID, userID int64) int
}

// generator is the model client surface. Satisfied by ai.Client.
type generator interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
	GenerateImage(ctx context.Context, prompt string) (*ai.Image, error)
}

// Options collects the bot's collaborators.
type Options struct {
	API          *tgbotapi.BotAPI
	Runner       *transfer.Runner
	AI           *ai.Client
	Convo        *convo.Store
	Limiter      *ratelimit.Limiter
	Whitelist    service.WhitelistService
	Challenges   service.ChallengeService
	GroupOnly    bool
	SystemPrompt string
	Logger       *logrus.Logger
}

// Bot routes incoming Telegram updates to command and chat handlers. Each
// update is handled on its own goroutine; shared state lives behind the
// collaborators' own locks.
type Bot struct {
	api      chatAPI
	updates  *tgbotapi.BotAPI
	username string

	runner     transferRunner
	generate   generator
	convo      *convo.Store
	limiter    *ratelimit.Limiter
	whitelist  service.WhitelistService
	challenges service.ChallengeService

	groupOnly    bool
	systemPrompt string
	logger       *logrus.Logger

	mu            sync.Mutex
	challengeMsgs map[int64]int // chatID -> message holding the open question
	wg            sync.WaitGroup
}

func New(opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	b := &Bot{
		api:           opts.API,
		updates:       opts.API,
		runner:        opts.Runner,
		generate:      opts.AI,
		convo:         opts.Convo,
		limiter:       opts.Limiter,
		whitelist:     opts.Whitelist,
		challenges:    opts.Challenges,
		groupOnly:     opts.GroupOnly,
		systemPrompt:  opts.SystemPrompt,
		logger:        opts.Logger,
		challengeMsgs: make(map[int64]int),
	}
	if opts.API != nil {
		b.username = opts.API.Self.UserName
	}
	return b
}

// Run consumes the long-poll update stream until ctx is cancelled, then
// waits for in-flight handlers to drain.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.updates.GetUpdatesChan(cfg)

	b.logger.WithField("username", b.username).Info("bot update loop started")

	for {
		select {
		case <-ctx.Done():
			b.updates.StopReceivingUpdates()
			b.wg.Wait()
			return
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("handler panic: %v", r)
		}
	}()

	if cq := update.CallbackQuery; cq != nil {
		if b.callbackAdmitted(ctx, cq) {
			b.handleCallback(ctx, cq)
		}
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.admitted(ctx, msg) {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleMessage(ctx, msg)
}

// callbackAdmitted applies the whitelist gate to button presses, which
// arrive without a command context of their own.
func (b *Bot) callbackAdmitted(ctx context.Context, cq *tgbotapi.CallbackQuery) bool {
	if cq.Message == nil || cq.From == nil {
		return false
	}
	if cq.Message.Chat.IsPrivate() {
		return !b.groupOnly
	}
	allowed, err := b.whitelist.Allowed(ctx, cq.Message.Chat.ID)
	if err != nil {
		b.logger.WithError(err).Warn("whitelist lookup failed")
		return false
	}
	return allowed
}

// admitted applies the group-only and whitelist gates. The /start, /help
// and /whitelist commands pass regardless so a chat can be introduced and
// enabled.
func (b *Bot) admitted(ctx context.Context, msg *tgbotapi.Message) bool {
	command := ""
	if msg.IsCommand() {
		command = msg.Command()
	}
	if command == "start" || command == "help" || command == "whitelist" {
		return true
	}

	if b.groupOnly && msg.Chat.IsPrivate() {
		b.replyPlain(msg, "This bot only works inside group chats.")
		return false
	}
	if msg.Chat.IsPrivate() {
		return true
	}

	allowed, err := b.whitelist.Allowed(ctx, msg.Chat.ID)
	if err != nil {
		b.logger.WithError(err).Warn("whitelist lookup failed")
		return false
	}
	if !allowed {
		// Stay silent in chats the bot was dragged into.
		return false
	}
	return true
}

// displayName is how a user shows up in status messages and rankings.
func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return "anonymous"
	}
	return name
}

func (b *Bot) replyPlain(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(out); err != nil {
		b.logger.WithError(err).Debug("reply not delivered")
	}
}
