package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"office-hours-queue/models"
	"office-hours-queue/monitoring"

	"github.com/redis/go-redis/v9"
)

const pendingHistoryKey = "history:pending"

// HistoryRetrier drains history records that could not be written when the
// entry left the queue.
type HistoryRetrier struct {
	Redis    redis.Cmdable
	history  HistoryStore
	interval time.Duration
	batch    int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHistoryRetrier(redisClient redis.Cmdable, history HistoryStore, interval time.Duration, batch int) *HistoryRetrier {
	if batch <= 0 {
		batch = 50
	}
	return &HistoryRetrier{
		Redis:    redisClient,
		history:  history,
		interval: interval,
		batch:    batch,
		stopChan: make(chan struct{}),
	}
}

func (r *HistoryRetrier) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := r.RetryOnce(ctx); err != nil {
					slog.Warn("history retry stopped early", "written", n, "error", err)
				} else if n > 0 {
					slog.Info("history records recovered", "written", n)
				}
			case <-r.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RetryOnce writes up to one batch of parked records and reports how many
// made it. A failed write is pushed back and ends the pass.
func (r *HistoryRetrier) RetryOnce(ctx context.Context) (int, error) {
	written := 0
	for written < r.batch {
		data, err := r.Redis.LPop(ctx, pendingHistoryKey).Result()
		if errors.Is(err, redis.Nil) {
			return written, nil
		}
		if err != nil {
			return written, err
		}

		var rec models.HistoryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			slog.Error("dropping unreadable history record", "error", err)
			continue
		}

		if err := r.history.Record(ctx, rec); err != nil {
			monitoring.TrackHistoryFailure("retry")
			if pushErr := r.Redis.LPush(ctx, pendingHistoryKey, data).Err(); pushErr != nil {
				slog.Error("lost history record", "requester_id", rec.RequesterID, "error", pushErr)
			}
			return written, err
		}
		written++
	}
	return written, nil
}

func (r *HistoryRetrier) Shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}
