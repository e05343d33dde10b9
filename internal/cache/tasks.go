package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"slotbook/internal/store"
)

const (
	TypeRefreshGroup = "availability:refresh"
	TypeRefreshAll   = "availability:refresh_all"
)

type refreshPayload struct {
	GroupID string `json:"group_id"`
}

func NewRefreshGroupTask(groupID string) (*asynq.Task, error) {
	if groupID == "" {
		return nil, errors.New("group_id is required")
	}
	payload, err := json.Marshal(refreshPayload{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefreshGroup, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

func NewRefreshAllTask() *asynq.Task {
	return asynq.NewTask(TypeRefreshAll, nil, asynq.MaxRetry(1), asynq.Timeout(30*time.Minute))
}

// Enqueuer is the slice of *asynq.Client used to request refreshes.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueRefresh queues a refresh of one group for the worker.
func EnqueueRefresh(ctx context.Context, q Enqueuer, groupID string) (string, error) {
	task, err := NewRefreshGroupTask(groupID)
	if err != nil {
		return "", err
	}
	info, err := q.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue refresh for %s: %w", groupID, err)
	}
	return info.ID, nil
}

// RefreshQueue binds an Enqueuer for callers that only know group ids.
type RefreshQueue struct {
	q Enqueuer
}

func NewRefreshQueue(q Enqueuer) *RefreshQueue {
	return &RefreshQueue{q: q}
}

func (r *RefreshQueue) EnqueueRefresh(ctx context.Context, groupID string) (string, error) {
	return EnqueueRefresh(ctx, r.q, groupID)
}

type TaskHandlers struct {
	refresher *Refresher
	groups    store.GroupStore
	log       *slog.Logger
}

func NewTaskHandlers(refresher *Refresher, groups store.GroupStore, log *slog.Logger) *TaskHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandlers{refresher: refresher, groups: groups, log: log.With(slog.String("component", "cache.tasks"))}
}

func (h *TaskHandlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRefreshGroup, h.handleRefreshGroup)
	mux.HandleFunc(TypeRefreshAll, h.handleRefreshAll)
}

func (h *TaskHandlers) handleRefreshGroup(ctx context.Context, t *asynq.Task) error {
	var p refreshPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if p.GroupID == "" {
		return fmt.Errorf("group_id is required: %w", asynq.SkipRetry)
	}
	_, err := h.refresher.Refresh(ctx, p.GroupID)
	return err
}

func (h *TaskHandlers) handleRefreshAll(ctx context.Context, _ *asynq.Task) error {
	ids, err := h.groups.ListGroupIDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if _, err := h.refresher.Refresh(ctx, id); err != nil {
			h.log.Warn("group refresh failed", slog.Any("err", err), slog.String("group_id", id))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RegisterSchedule adds the periodic refresh_all entry. An empty spec disables it.
func RegisterSchedule(s *asynq.Scheduler, cronspec string) error {
	if cronspec == "" {
		return nil
	}
	if _, err := s.Register(cronspec, NewRefreshAllTask()); err != nil {
		return fmt.Errorf("register refresh schedule %q: %w", cronspec, err)
	}
	return nil
}

// TaskLogger routes asynq's own logging into slog.
type TaskLogger struct {
	log *slog.Logger
}

func NewTaskLogger(log *slog.Logger) *TaskLogger {
	if log == nil {
		log = slog.Default()
	}
	return &TaskLogger{log: log.With(slog.String("component", "asynq"))}
}

func (l *TaskLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l *TaskLogger) Info(args ...any) { l.log.Info(fmt.Sprint(args...)) }
func (l *TaskLogger) Warn(args ...any) { l.log.Warn(fmt.Sprint(args...)) }
func (l *TaskLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l *TaskLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...), slog.Bool("fatal", true)) }
