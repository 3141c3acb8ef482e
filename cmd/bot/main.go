package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"devgroup-bot/internal/ai"
	"devgroup-bot/internal/bot"
	"devgroup-bot/internal/config"
	"devgroup-bot/internal/convo"
	apphttp "devgroup-bot/internal/http"
	"devgroup-bot/internal/ratelimit"
	"devgroup-bot/internal/repository/sqlite"
	"devgroup-bot/internal/service"
	"devgroup-bot/internal/source"
	"devgroup-bot/internal/storage"
	"devgroup-bot/internal/telegram"
	"devgroup-bot/internal/tracker"
	"devgroup-bot/internal/transfer"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	whitelistRepo := sqlite.NewWhitelistRepository(db)
	scoreRepo := sqlite.NewScoreRepository(db)
	adminRepo := sqlite.NewAdminRepository(db)

	if err := whitelistRepo.Init(ctx); err != nil {
		logger.Fatalf("init whitelist repository: %v", err)
	}
	if err := scoreRepo.Init(ctx); err != nil {
		logger.Fatalf("init score repository: %v", err)
	}
	if err := adminRepo.Init(ctx); err != nil {
		logger.Fatalf("init admin repository: %v", err)
	}

	whitelistSvc := service.NewWhitelistService(whitelistRepo)
	adminSvc := service.NewAdminService(adminRepo)
	if err := adminSvc.Bootstrap(ctx, "admin", cfg.Auth.AdminPassword); err != nil {
		logger.Fatalf("bootstrap admin: %v", err)
	}

	aiClient := ai.NewClient(ai.Options{
		TextURL:     cfg.AI.TextURL,
		ImageURL:    cfg.AI.ImageURL,
		APIKey:      cfg.AI.APIKey,
		Timeout:     cfg.AI.Timeout,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
		Logger:      logger,
	})
	challengeSvc := service.NewChallengeService(aiClient, scoreRepo)

	api, err := buildBotAPI(cfg)
	if err != nil {
		logger.Fatalf("connect to telegram: %v", err)
	}
	logger.Infof("authorized as @%s", api.Self.UserName)

	publisher := telegram.NewPublisher(api, logger)
	uploader := telegram.NewUploader(api, logger)

	mirrorReg := tracker.NewRegistry("Mirror", cfg.Download.MirrorSlots, publisher, logger)
	audioReg := tracker.NewRegistry("Music", cfg.Download.MusicSlots, publisher, logger)

	httpClient := &http.Client{Timeout: 0} // long downloads, cancellation via context
	scratch := cfg.Download.ScratchDir
	maxSize := cfg.Download.MaxFileSize

	archive := buildArchive(ctx, cfg, logger)

	runner := transfer.NewRunner(transfer.Config{
		Mirror:      mirrorReg,
		Audio:       audioReg,
		Direct:      source.NewDirect(httpClient, scratch, maxSize, logger),
		GDrive:      source.NewGDrive(httpClient, scratch, maxSize, logger),
		Pixel:       source.NewPixeldrain(httpClient, scratch, maxSize, logger),
		Resolver:    source.NewYTDLP(scratch, maxSize, cfg.Download.CookiesFile, logger),
		Messenger:   publisher,
		Uploader:    uploader,
		Archiver:    archive,
		TaskTimeout: cfg.Download.Timeout,
		Logger:      logger,
	})

	b := bot.New(bot.Options{
		API:          api,
		Runner:       runner,
		AI:           aiClient,
		Convo:        convo.NewStore(convo.DefaultTTL, convo.DefaultMaxMessages),
		Limiter:      ratelimit.NewLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window),
		Whitelist:    whitelistSvc,
		Challenges:   challengeSvc,
		GroupOnly:    cfg.Telegram.GroupOnly,
		SystemPrompt: cfg.AI.SystemPrompt,
		Logger:       logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		mirrorReg,
		audioReg,
		whitelistSvc,
		adminSvc,
		archive,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	go b.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	runner.Wait()

	logger.Info("bye")
}

func buildBotAPI(cfg config.Config) (*tgbotapi.BotAPI, error) {
	if base := strings.TrimSpace(cfg.Telegram.APIBaseURL); base != "" {
		return tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Telegram.Token, base)
	}
	return tgbotapi.NewBotAPI(cfg.Telegram.Token)
}

// buildArchive returns nil when no bucket is configured; archival is
// strictly optional.
func buildArchive(ctx context.Context, cfg config.Config, logger *logrus.Logger) storage.Archive {
	if cfg.Archive.Bucket == "" {
		return nil
	}
	archive, err := storage.NewS3Archive(ctx, storage.Options{
		Bucket:    cfg.Archive.Bucket,
		KeyPrefix: cfg.Archive.KeyPrefix,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		Profile:   cfg.AWS.Profile,
	})
	if err != nil {
		logger.Warnf("archive storage disabled: %v", err)
		return nil
	}
	return archive
}
