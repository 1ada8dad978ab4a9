package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// TaskSend is the asynq task type carrying one notification.
const TaskSend = "notify:send"

// QueueName is the asynq queue notifications are enqueued on.
const QueueName = "notifications"

// Payload is the queued form of a notification.
type Payload struct {
	Key        string         `json:"key"`
	Vars       map[string]any `json:"vars"`
	Recipients []string       `json:"recipients"`
}

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is a Sender that defers delivery to the worker process.
type Queue struct {
	Client    Enqueuer
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// Send enqueues the notification. The same payload is enqueued at most once
// while it is retained, so retried checkouts do not mail twice.
func (q Queue) Send(ctx context.Context, key string, vars map[string]any, recipients []string) error {
	if q.Client == nil {
		return errors.New("notify: queue client not configured")
	}
	recipients = cleanRecipients(recipients)
	if len(recipients) == 0 {
		return nil
	}
	body, err := json.Marshal(Payload{Key: key, Vars: vars, Recipients: recipients})
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	maxRetry := q.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 8
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retention := q.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	task := asynq.NewTask(TaskSend, body)
	_, err = q.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(retention),
		asynq.TaskID(key+":"+common.Digest(string(body))),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", key, err)
	}
	return nil
}

// TaskHandler processes TaskSend on the worker. A Redis marker set after a
// successful send stops an asynq retry from mailing twice.
type TaskHandler struct {
	Sender  Sender
	Sent    *redis.Client
	SentTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if h.Sender == nil {
		return errors.New("notify: sender not configured")
	}
	var p Payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("notify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	marker := "notify:sent:" + common.Digest(string(t.Payload()))
	if h.Sent != nil {
		n, err := h.Sent.Exists(ctx, marker).Result()
		if err == nil && n > 0 {
			h.Logger.Info().Str("template", p.Key).Msg("notification already sent")
			return nil
		}
	}
	err := h.Sender.Send(ctx, p.Key, p.Vars, p.Recipients)
	if errors.Is(err, ErrUnknownTemplate) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		h.Logger.Warn().Err(err).Str("template", p.Key).Msg("notification delivery failed")
		return err
	}
	if h.Sent != nil {
		ttl := h.SentTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		if err := h.Sent.Set(ctx, marker, "1", ttl).Err(); err != nil {
			h.Logger.Warn().Err(err).Msg("record sent notification")
		}
	}
	return nil
}
