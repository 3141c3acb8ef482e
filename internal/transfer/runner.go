package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/source"
	"devgroup-bot/internal/telegram"
	"devgroup-bot/internal/tracker"
)

// ErrUserBusy is returned when a user already runs the maximum number of
// concurrent transfers of the requested kind.
var ErrUserBusy = errors.New("transfer: user at concurrency limit")

// Messenger is the message-sending surface the runner needs. Satisfied by
// telegram.Publisher.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
}

// Uploader is the payload-delivery surface. Satisfied by telegram.Uploader.
type Uploader interface {
	SendDocument(ctx context.Context, doc telegram.Document, file tgbotapi.RequestFileData) error
	SendAudio(ctx context.Context, audio telegram.Audio, file tgbotapi.RequestFileData) error
	SendDocumentByURL(ctx context.Context, doc telegram.Document, rawURL string) error
}

// Archiver persists successfully mirrored payloads to long-term storage.
// Optional; a nil archiver disables archival.
type Archiver interface {
	Archive(ctx context.Context, localPath, filename string) (string, error)
}

// Request describes one user-initiated transfer.
type Request struct {
	Kind         domain.TransferKind
	ChatID       int64
	UserID       int64
	ReplyTo      int
	UserDisplay  string
	GroupDisplay string
	RawURL       string
}

// Config wires a Runner. Mirror requests route by URL shape to Drive,
// Pixeldrain or the direct fetcher; audio requests always go to the
// resolver.
type Config struct {
	Mirror   *tracker.Registry
	Audio    *tracker.Registry
	Direct   source.Adapter
	GDrive   source.Adapter
	Pixel    source.Adapter
	Resolver source.Adapter

	Messenger Messenger
	Uploader  Uploader
	Archiver  Archiver

	TaskTimeout time.Duration
	Logger      *logrus.Logger
}

// Runner executes transfers end to end: pick a source adapter, stream the
// payload to scratch space, re-upload it into the chat, clean up. Each task
// runs on its own goroutine with its own cancellable context.
type Runner struct {
	cfg    Config
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 24 * time.Hour
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}
}

// Start validates the request, claims a task slot and kicks off the
// transfer goroutine. ErrUserBusy means the user must wait for a running
// transfer to finish.
func (r *Runner) Start(ctx context.Context, req Request) error {
	reg := r.registryFor(req.Kind)
	tr := reg.Ensure(req.ChatID, req.UserID, req.UserDisplay, req.GroupDisplay)

	task, needsMessage, ok := reg.ClaimTask(tr, req.RawURL)
	if !ok {
		return ErrUserBusy
	}

	if needsMessage {
		messageID, err := r.cfg.Messenger.Send(ctx, req.ChatID, "⏳ Preparing transfer...")
		if err != nil {
			reg.ReleaseTask(tr, task.ID)
			return fmt.Errorf("create status message: %w", err)
		}
		reg.SetMessageID(tr, messageID)
	}

	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.TaskTimeout)
	reg.BindHandle(tr, task.ID, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.run(taskCtx, reg, tr, task, req)
	}()
	return nil
}

// Cancel aborts every running transfer of the given kind for (chat, user).
func (r *Runner) Cancel(kind domain.TransferKind, chatID, userID int64) int {
	reg := r.registryFor(kind)
	tr := reg.Ensure(chatID, userID, "", "")
	return reg.CancelAll(tr)
}

// Wait blocks until all in-flight transfers have finished. Used during
// shutdown after the task contexts have been cancelled.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) registryFor(kind domain.TransferKind) *tracker.Registry {
	if kind == domain.TransferKindAudio {
		return r.cfg.Audio
	}
	return r.cfg.Mirror
}

func (r *Runner) adapterFor(req Request) source.Adapter {
	if req.Kind == domain.TransferKindAudio {
		return r.cfg.Resolver
	}
	switch {
	case source.IsGDriveURL(req.RawURL) && r.cfg.GDrive != nil:
		return r.cfg.GDrive
	case source.IsPixeldrainURL(req.RawURL) && r.cfg.Pixel != nil:
		return r.cfg.Pixel
	default:
		return r.cfg.Direct
	}
}

func (r *Runner) run(ctx context.Context, reg *tracker.Registry, tr *tracker.UserTracker, task *tracker.Task, req Request) {
	log := r.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"chat_id": req.ChatID,
		"user_id": req.UserID,
		"kind":    req.Kind,
	})

	res, err := r.download(ctx, reg, tr, task, req)
	if err != nil {
		log.WithError(err).Warn("download failed")
		reg.FinishTask(ctx, tr, task.ID, false)
		r.notifyFailure(req, err)
		return
	}
	defer os.RemoveAll(filepath.Dir(res.Path))

	if err := r.upload(ctx, reg, tr, task, req, res); err != nil {
		log.WithError(err).Warn("upload failed")
		reg.FinishTask(ctx, tr, task.ID, false)
		r.notifyFailure(req, err)
		return
	}

	reg.FinishTask(ctx, tr, task.ID, true)
	r.archive(ctx, req, res, log)
	log.WithField("size", res.Size).Info("transfer complete")
}

func (r *Runner) download(ctx context.Context, reg *tracker.Registry, tr *tracker.UserTracker, task *tracker.Task, req Request) (*source.Result, error) {
	adapter := r.adapterFor(req)

	progress := func(downloaded, total int64, speedBps float64, _ time.Duration) {
		reg.UpdateTask(ctx, tr, task.ID, tracker.TaskUpdate{
			Stage:      domain.StageDownload,
			Downloaded: &downloaded,
			Total:      &total,
			SpeedBps:   &speedBps,
		})
	}

	res, err := adapter.Download(ctx, req.RawURL, progress)
	if err != nil {
		return nil, err
	}

	reg.UpdateTask(ctx, tr, task.ID, tracker.TaskUpdate{
		Stage:      domain.StageUpload,
		Label:      res.Filename,
		Downloaded: &res.Size,
		Total:      &res.Size,
	})
	return res, nil
}

func (r *Runner) upload(ctx context.Context, reg *tracker.Registry, tr *tracker.UserTracker, task *tracker.Task, req Request, res *source.Result) error {
	f, err := os.Open(res.Path)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}
	defer f.Close()

	cr := newCountingReader(f)
	stop := make(chan struct{})
	var samplerDone sync.WaitGroup
	samplerDone.Add(1)
	go func() {
		defer samplerDone.Done()
		sampleUpload(cr, res.Size, stop, func(sent, total int64, speedBps float64) {
			reg.UpdateTask(ctx, tr, task.ID, tracker.TaskUpdate{
				Stage:      domain.StageUpload,
				Downloaded: &sent,
				Total:      &total,
				SpeedBps:   &speedBps,
			})
		})
	}()
	defer func() {
		close(stop)
		samplerDone.Wait()
	}()

	file := tgbotapi.FileReader{Name: res.Filename, Reader: cr}
	doc := telegram.Document{
		ChatID:   req.ChatID,
		ReplyTo:  req.ReplyTo,
		Path:     res.Path,
		Filename: res.Filename,
	}

	if req.Kind == domain.TransferKindAudio {
		meta := res.Meta
		if meta == nil {
			meta = &source.Metadata{}
		}
		return r.cfg.Uploader.SendAudio(ctx, telegram.Audio{
			Document:  doc,
			Title:     meta.Title,
			Performer: meta.Performer,
			Duration:  meta.Duration,
		}, file)
	}

	err = r.cfg.Uploader.SendDocument(ctx, doc, file)
	if err != nil && telegram.IsEntityTooLarge(err) {
		// Telegram refused the upload for size. Hand it the original URL
		// instead and let it fetch the payload server side.
		r.logger.WithField("filename", res.Filename).Info("payload too large, falling back to url delivery")
		return r.cfg.Uploader.SendDocumentByURL(ctx, doc, req.RawURL)
	}
	return err
}

func (r *Runner) archive(ctx context.Context, req Request, res *source.Result, log *logrus.Entry) {
	if r.cfg.Archiver == nil || req.Kind != domain.TransferKindMirror {
		return
	}
	key, err := r.cfg.Archiver.Archive(ctx, res.Path, res.Filename)
	if err != nil {
		log.WithError(err).Warn("archive upload failed")
		return
	}
	log.WithField("key", key).Info("payload archived")
}

// notifyFailure tells the requesting user why the transfer stopped, in
// plain language. Delivery uses a short-lived context because the task
// context may already be cancelled.
func (r *Runner) notifyFailure(req Request, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	text := failureText(cause)
	if _, err := r.cfg.Messenger.Reply(ctx, req.ChatID, req.ReplyTo, text); err != nil {
		r.logger.WithError(err).Debug("failure notice not delivered")
	}
}

func failureText(err error) string {
	var sizeErr *source.SizeLimitError
	var resErr *source.ResolverError

	switch {
	case errors.Is(err, context.Canceled):
		return "🛑 Transfer cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "⌛ Transfer timed out and was stopped."
	case errors.As(err, &sizeErr):
		return fmt.Sprintf("🚫 File is too large: %s exceeds the %s limit.",
			formatSize(sizeErr.Size), formatSize(sizeErr.Limit))
	case errors.As(err, &resErr):
		switch resErr.Reason {
		case source.ReasonMissingTool:
			return "⚠️ Audio conversion is unavailable right now, try again later."
		case source.ReasonRestricted:
			return "🔒 That media is restricted and cannot be fetched."
		}
		return "❌ Could not fetch that media: " + resErr.Detail
	case errors.Is(err, source.ErrContentInvalid):
		return "❌ The link did not resolve to a downloadable file."
	case errors.Is(err, source.ErrUnavailable):
		return "❌ The source refused the download, the link may be dead."
	default:
		return "❌ Transfer failed, please try again."
	}
}

func formatSize(n int64) string {
	const unit = int64(1024)
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%.1f GiB", float64(n)/float64(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%.1f MiB", float64(n)/float64(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%.1f KiB", float64(n)/float64(unit))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
