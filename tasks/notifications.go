package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campushub/campushub/notify"
	"github.com/campushub/campushub/types"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Task types.
const (
	TaskTypeEmitNotification = "notification:emit"
	TaskTypeRetention        = "notification:retention"
)

// Queues.
const (
	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

// RetentionSchedule runs the retention sweep daily.
const RetentionSchedule = "@daily"

// EmitPayload is the payload of notification:emit.
type EmitPayload = notify.EmitRequest

// RetentionPayload is the payload of notification:retention. A zero
// ReadAfter uses the worker's configured retention.
type RetentionPayload struct {
	ReadAfter time.Duration `json:"read_after,omitempty"`
}

// Emitter creates notifications.
type Emitter interface {
	Emit(ctx context.Context, req notify.EmitRequest) (*types.Notification, error)
}

// Pruner deletes old read notifications.
type Pruner interface {
	DeleteReadNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EnqueueEmit validates req and enqueues it for the worker. opts may delay
// or deduplicate the task.
func (c *Client) EnqueueEmit(ctx context.Context, req EmitPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{
		asynq.Queue(QueueNotifications),
		asynq.MaxRetry(5),
	}, opts...)
	return c.Enqueue(ctx, TaskTypeEmitNotification, req, opts...)
}

// EmitHandler turns notification:emit tasks into notifications. Invalid
// requests are dropped without retry.
func EmitHandler(emitter Emitter) *TaskHandler[EmitPayload] {
	return NewTaskHandler(func(ctx context.Context, req EmitPayload) error {
		n, err := emitter.Emit(ctx, req)
		if errors.Is(err, types.ErrBadRequest) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		log.Info().
			Str("user_id", n.UserID.String()).
			Str("notification_id", n.ID.String()).
			Str("type", string(n.Type)).
			Msg("Notification emitted from task")
		return nil
	})
}

// RetentionHandler deletes read notifications older than the payload's
// ReadAfter, or readAfter when the payload leaves it unset.
func RetentionHandler(pruner Pruner, readAfter time.Duration, now func() time.Time) *TaskHandler[RetentionPayload] {
	if now == nil {
		now = time.Now
	}
	return NewTaskHandler(func(ctx context.Context, p RetentionPayload) error {
		age := p.ReadAfter
		if age <= 0 {
			age = readAfter
		}
		if age <= 0 {
			return fmt.Errorf("retention disabled: %w", asynq.SkipRetry)
		}

		cutoff := now().Add(-age)
		deleted, err := pruner.DeleteReadNotificationsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		log.Info().
			Time("cutoff", cutoff).
			Int64("deleted", deleted).
			Msg("Retention sweep finished")
		return nil
	})
}

// NewRetentionScheduler registers the periodic retention sweep.
func NewRetentionScheduler(opt asynq.RedisClientOpt) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	task, err := newTask(TaskTypeRetention, RetentionPayload{})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(RetentionSchedule, task, asynq.Queue(QueueMaintenance)); err != nil {
		return nil, fmt.Errorf("registering retention schedule: %w", err)
	}
	return scheduler, nil
}

// RegisterNotificationHandlers wires the notification task handlers into s.
func RegisterNotificationHandlers(s *Server, emitter Emitter, pruner Pruner, readAfter time.Duration) {
	s.Handle(TaskTypeEmitNotification, EmitHandler(emitter))
	s.Handle(TaskTypeRetention, RetentionHandler(pruner, readAfter, nil))
}
