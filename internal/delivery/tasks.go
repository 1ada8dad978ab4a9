package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-eushop/internal/obs"
)

// TaskPickupSync refreshes one delivery type's pickup points.
const TaskPickupSync = "delivery:pickup_sync"

// PickupSyncPayload names the delivery type and the carrier feed.
type PickupSyncPayload struct {
	DeliveryTypeID int64  `json:"deliveryTypeId"`
	Feed           string `json:"feed"`
}

// NewPickupSyncTask builds the task for payload.
func NewPickupSyncTask(p PickupSyncPayload) (*asynq.Task, error) {
	if _, ok := FeedByName(p.Feed); !ok {
		return nil, fmt.Errorf("pickup sync: unknown feed %q", p.Feed)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPickupSync, body, asynq.MaxRetry(3)), nil
}

// ProcessTask implements asynq.Handler for TaskPickupSync.
func (s PickupSync) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PickupSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("pickup sync: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	feed, ok := FeedByName(p.Feed)
	if !ok {
		return fmt.Errorf("pickup sync: unknown feed %q: %w", p.Feed, asynq.SkipRetry)
	}
	n, err := s.Sync(ctx, p.DeliveryTypeID, feed)
	if err != nil {
		return err
	}
	if obs.PickupSyncPoints != nil {
		obs.PickupSyncPoints.WithLabelValues(feed.Name()).Set(float64(n))
	}
	return nil
}
