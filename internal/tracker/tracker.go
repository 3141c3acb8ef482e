package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"devgroup-bot/internal/domain"
)

// renderThrottle is the minimum interval between outbound status edits per
// tracker. Updates arriving faster are coalesced, last write wins.
const renderThrottle = 400 * time.Millisecond

// Publisher serializes edits of a tracker's status message. Implementations
// must be safe for concurrent use and must never propagate delivery errors
// beyond their own bounded retries.
type Publisher interface {
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// Task is one in-flight download-then-upload operation. It is owned
// exclusively by its UserTracker and mutated only through the Registry's
// update API.
type Task struct {
	ID         string
	Label      string
	Stage      domain.Stage
	Percent    float64
	Downloaded int64
	Total      int64 // 0 until the source discloses it, possibly never
	SpeedBps   float64
}

// TaskUpdate carries the fields of a progress sample. Zero-valued fields are
// left unchanged; byte counters and speed use pointers so an explicit zero
// can still be applied.
type TaskUpdate struct {
	Stage      domain.Stage
	Label      string
	Downloaded *int64
	Total      *int64
	SpeedBps   *float64
}

// UserTracker aggregates the concurrent transfers of one (chat, user) pair
// behind a single periodically edited status message.
type UserTracker struct {
	chatID       int64
	userID       int64
	userDisplay  string
	groupDisplay string

	mu         sync.Mutex
	messageID  int
	tasks      map[string]*Task
	order      []string // insertion order, drives stable rendering
	handles    map[string]context.CancelFunc
	lastRender time.Time
}

// ChatID returns the chat this tracker publishes into.
func (t *UserTracker) ChatID() int64 { return t.chatID }

type key struct {
	chatID int64
	userID int64
}

// Registry is the process-wide map from (chat, user) to UserTracker. One
// registry exists per transfer family so mirror and audio tasks get their own
// concurrency ceilings. Trackers are created lazily and kept for the process
// lifetime.
type Registry struct {
	name      string // rendered in the status header, e.g. "Mirror"
	limit     int
	publisher Publisher
	logger    *logrus.Logger

	mu       sync.Mutex
	trackers map[key]*UserTracker
}

func NewRegistry(name string, perUserLimit int, publisher Publisher, logger *logrus.Logger) *Registry {
	if perUserLimit <= 0 {
		perUserLimit = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		name:      name,
		limit:     perUserLimit,
		publisher: publisher,
		logger:    logger,
		trackers:  make(map[key]*UserTracker),
	}
}

// CanStart reports whether (chat, user) is below its concurrency ceiling.
func (r *Registry) CanStart(chatID, userID int64) bool {
	r.mu.Lock()
	tr, ok := r.trackers[key{chatID, userID}]
	r.mu.Unlock()
	if !ok {
		return true
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	active := 0
	for _, task := range tr.tasks {
		if !task.Stage.Terminal() {
			active++
		}
	}
	return active < r.limit
}

// Ensure returns the tracker for (chat, user), creating it on first use and
// refreshing the cached display strings otherwise.
func (r *Registry) Ensure(chatID, userID int64, userDisplay, groupDisplay string) *UserTracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{chatID, userID}
	tr, ok := r.trackers[k]
	if !ok {
		tr = &UserTracker{
			chatID:       chatID,
			userID:       userID,
			userDisplay:  userDisplay,
			groupDisplay: groupDisplay,
			tasks:        make(map[string]*Task),
			handles:      make(map[string]context.CancelFunc),
		}
		r.trackers[k] = tr
		return tr
	}

	tr.mu.Lock()
	if userDisplay != "" {
		tr.userDisplay = userDisplay
	}
	if groupDisplay != "" {
		tr.groupDisplay = groupDisplay
	}
	tr.mu.Unlock()
	return tr
}

// StartTask allocates a transfer in the download stage. Pure state change,
// no I/O. The concurrency ceiling is not checked; callers that need
// admission use ClaimTask.
func (r *Registry) StartTask(tr *UserTracker, label string) *Task {
	task := &Task{
		ID:    uuid.NewString(),
		Label: label,
		Stage: domain.StageDownload,
	}

	tr.mu.Lock()
	tr.tasks[task.ID] = task
	tr.order = append(tr.order, task.ID)
	tr.mu.Unlock()
	return task
}

// ClaimTask admits a transfer against the per-user ceiling and allocates it
// in the download stage, both under the tracker lock, so concurrent claims
// can never overshoot the limit. needsMessage reports that no status message
// covers the new batch yet; a caller that then fails to create one must
// release the claim with ReleaseTask.
func (r *Registry) ClaimTask(tr *UserTracker, label string) (task *Task, needsMessage, ok bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	active := 0
	for _, t := range tr.tasks {
		if !t.Stage.Terminal() {
			active++
		}
	}
	if active >= r.limit {
		return nil, false, false
	}

	needsMessage = tr.messageID == 0 || len(tr.tasks) == 0
	task = &Task{
		ID:    uuid.NewString(),
		Label: label,
		Stage: domain.StageDownload,
	}
	tr.tasks[task.ID] = task
	tr.order = append(tr.order, task.ID)
	return task, needsMessage, true
}

// ReleaseTask drops a claimed task without publishing a render. Used when
// the claim's status message could not be created and the job never ran.
func (r *Registry) ReleaseTask(tr *UserTracker, taskID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.tasks, taskID)
	delete(tr.handles, taskID)
	for i, id := range tr.order {
		if id == taskID {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}
}

// BindHandle registers the cancellation handle of the task's running job.
func (r *Registry) BindHandle(tr *UserTracker, taskID string, cancel context.CancelFunc) {
	tr.mu.Lock()
	tr.handles[taskID] = cancel
	tr.mu.Unlock()
}

// SetMessageID records the chat message this tracker owns.
func (r *Registry) SetMessageID(tr *UserTracker, messageID int) {
	tr.mu.Lock()
	tr.messageID = messageID
	tr.mu.Unlock()
}

// UpdateTask merges a progress sample into the task, recomputes the percent
// and publishes a throttled render. Unknown-total tasks hold their last
// percent until completion.
func (r *Registry) UpdateTask(ctx context.Context, tr *UserTracker, taskID string, upd TaskUpdate) {
	tr.mu.Lock()
	task, ok := tr.tasks[taskID]
	if !ok {
		tr.mu.Unlock()
		return
	}

	if upd.Stage != "" {
		task.Stage = upd.Stage
	}
	if upd.Label != "" {
		task.Label = upd.Label
	}
	if upd.Downloaded != nil {
		task.Downloaded = *upd.Downloaded
	}
	if upd.Total != nil {
		task.Total = *upd.Total
	}
	if upd.SpeedBps != nil {
		task.SpeedBps = *upd.SpeedBps
	}

	if task.Total > 0 {
		task.Percent = clampPercent(float64(task.Downloaded) / float64(task.Total) * 100)
	} else if task.Stage == domain.StageDone {
		task.Percent = 100
	}

	chatID, messageID, text, due := r.renderLocked(tr, false)
	tr.mu.Unlock()

	if due {
		r.publish(ctx, chatID, messageID, text)
	}
}

// FinishTask moves the task to its terminal stage, removes it and publishes
// one final render that bypasses the throttle, so the user always sees the
// terminal state.
func (r *Registry) FinishTask(ctx context.Context, tr *UserTracker, taskID string, success bool) {
	tr.mu.Lock()
	task, ok := tr.tasks[taskID]
	if !ok {
		tr.mu.Unlock()
		return
	}

	if success {
		task.Stage = domain.StageDone
		task.Percent = 100
	} else {
		task.Stage = domain.StageError
	}

	delete(tr.tasks, taskID)
	delete(tr.handles, taskID)
	for i, id := range tr.order {
		if id == taskID {
			tr.order = append(tr.order[:i], tr.order[i+1:]...)
			break
		}
	}

	chatID, messageID, text, due := r.renderLocked(tr, true)
	tr.mu.Unlock()

	if due {
		r.publish(ctx, chatID, messageID, text)
	}
}

// CancelAll signals cancellation to every running job of the tracker. Task
// state is not touched here; each job's failure path reaches FinishTask on
// its own. Returns the number of jobs signalled.
func (r *Registry) CancelAll(tr *UserTracker) int {
	tr.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(tr.handles))
	for id, cancel := range tr.handles {
		if task, ok := tr.tasks[id]; ok && !task.Stage.Terminal() {
			cancels = append(cancels, cancel)
		}
	}
	tr.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// ActiveTasks returns the number of non-terminal tasks.
func (r *Registry) ActiveTasks(tr *UserTracker) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	active := 0
	for _, task := range tr.tasks {
		if !task.Stage.Terminal() {
			active++
		}
	}
	return active
}

// TaskSnapshot returns a copy of the task, or ok=false if it was removed.
func (r *Registry) TaskSnapshot(tr *UserTracker, taskID string) (Task, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	task, ok := tr.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Snapshot lists every in-flight transfer across all trackers, for the
// admin API.
func (r *Registry) Snapshot() []domain.TransferSnapshot {
	r.mu.Lock()
	trackers := make([]*UserTracker, 0, len(r.trackers))
	for _, tr := range r.trackers {
		trackers = append(trackers, tr)
	}
	r.mu.Unlock()

	var out []domain.TransferSnapshot
	for _, tr := range trackers {
		tr.mu.Lock()
		for _, id := range tr.order {
			task := tr.tasks[id]
			out = append(out, domain.TransferSnapshot{
				ID:          task.ID,
				ChatID:      tr.chatID,
				UserID:      tr.userID,
				Label:       task.Label,
				Stage:       task.Stage,
				Percent:     task.Percent,
				Downloaded:  task.Downloaded,
				Total:       task.Total,
				SpeedBps:    task.SpeedBps,
				UserDisplay: tr.userDisplay,
			})
		}
		tr.mu.Unlock()
	}
	return out
}

// renderLocked decides whether a publish is due and, if so, snapshots the
// rendered text. Callers hold tr.mu.
func (r *Registry) renderLocked(tr *UserTracker, force bool) (chatID int64, messageID int, text string, due bool) {
	if tr.messageID == 0 {
		return 0, 0, "", false
	}
	now := time.Now()
	if !force && now.Sub(tr.lastRender) < renderThrottle {
		return 0, 0, "", false
	}
	tr.lastRender = now

	tasks := make([]*Task, 0, len(tr.order))
	for _, id := range tr.order {
		tasks = append(tasks, tr.tasks[id])
	}
	return tr.chatID, tr.messageID, Render(r.name, tr.userDisplay, tr.groupDisplay, tasks), true
}

func (r *Registry) publish(ctx context.Context, chatID int64, messageID int, text string) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Edit(ctx, chatID, messageID, text); err != nil {
		// The next throttled update will try again.
		r.logger.WithField("chat_id", chatID).Debugf("status edit dropped: %v", err)
	}
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
