package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"office-hours-queue/config"
	"office-hours-queue/internal/queue"
	"office-hours-queue/models"
	"office-hours-queue/monitoring"

	"github.com/redis/go-redis/v9"
)

type SettingsProvider interface {
	Get(ctx context.Context) (models.CourseSettings, error)
}

type ChangeNotifier interface {
	Notify(change *queue.Change, data models.QueueData)
}

type JoinRequest struct {
	RequesterID string
	DisplayName string
	Content     models.Content
	Override    bool
}

// WithdrawResult carries the final state of a removed entry. The removal is
// committed even when HistoryErr is set; the record was parked for retry.
type WithdrawResult struct {
	Entry      *models.Entry
	HistoryErr error
}

// QueueService ties the in-memory engine to settings, history and broadcast.
// The engine is the source of truth; everything here happens around it.
type QueueService struct {
	Engine   *queue.Engine
	Redis    redis.Cmdable
	Config   *config.Config
	history  HistoryStore
	settings SettingsProvider
	notifier ChangeNotifier
	wait     *waitEstimator
	now      func() time.Time
}

func NewQueueService(engine *queue.Engine, redisClient redis.Cmdable, history HistoryStore, settings SettingsProvider, notifier ChangeNotifier, cfg *config.Config) *QueueService {
	return &QueueService{
		Engine:   engine,
		Redis:    redisClient,
		Config:   cfg,
		history:  history,
		settings: settings,
		notifier: notifier,
		wait:     newWaitEstimator(history, cfg.WaitEstimateWindow, cfg.WaitEstimateRefresh),
		now:      time.Now,
	}
}

// Join admits a requester. A cooldown block comes back as a result with
// Blocked set, not as an error.
func (s *QueueService) Join(ctx context.Context, req JoinRequest) (queue.AdmitResult, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		slog.Warn("using default course settings", "error", err)
	}

	var lastExit *time.Time
	if settings.RejoinMinutes > 0 {
		lookback := s.now().Add(-time.Duration(settings.RejoinMinutes) * time.Minute)
		lastExit, err = s.history.LastServedExit(ctx, req.RequesterID, lookback)
		if err != nil {
			slog.Warn("cooldown lookup failed, admitting without it", "requester_id", req.RequesterID, "error", err)
			lastExit = nil
		}
	}

	result, err := s.Engine.Admit(queue.AdmitRequest{
		RequesterID:       req.RequesterID,
		DisplayName:       req.DisplayName,
		Content:           req.Content,
		OverrideRequested: req.Override,
		Now:               s.now(),
		RejoinMinutes:     settings.RejoinMinutes,
		AllowOverride:     settings.AllowOverride,
		LastServedExit:    lastExit,
	})
	monitoring.TrackQueueOperation(string(queue.OpAdmit), err)
	if err != nil {
		return queue.AdmitResult{}, err
	}
	if result.Blocked {
		monitoring.TrackCooldownBlock()
		slog.Info("admission blocked by cooldown",
			"requester_id", req.RequesterID,
			"minutes_since_exit", result.MinutesSinceExit,
			"override_allowed", result.OverrideAllowed,
		)
		return result, nil
	}

	slog.Info("requester joined", "requester_id", req.RequesterID, "status", result.Status, "position", result.Position)
	s.notify(ctx, result.Change)
	return result, nil
}

func (s *QueueService) Leave(ctx context.Context, requesterID string) (WithdrawResult, error) {
	return s.withdraw(ctx, requesterID, models.ExitWithdrawn)
}

func (s *QueueService) Remove(ctx context.Context, requesterID string) (WithdrawResult, error) {
	return s.withdraw(ctx, requesterID, models.ExitRemoved)
}

// Finish ends a session in progress; the entry must be being helped.
func (s *QueueService) Finish(ctx context.Context, requesterID string) (WithdrawResult, error) {
	return s.withdraw(ctx, requesterID, models.ExitHelped)
}

func (s *QueueService) withdraw(ctx context.Context, requesterID string, reason models.ExitReason) (WithdrawResult, error) {
	change, err := s.Engine.Withdraw(requesterID, reason, s.now())
	monitoring.TrackQueueOperation(string(queue.OpWithdraw)+"_"+string(reason), err)
	if err != nil {
		return WithdrawResult{}, err
	}

	rec := models.NewHistoryRecord(change.Removed, reason, change.At)
	histErr := s.recordHistory(ctx, rec)
	if rec.Served && histErr == nil {
		s.wait.invalidate()
	}

	slog.Info("requester left queue", "requester_id", requesterID, "reason", reason, "served", rec.Served)
	s.notify(ctx, change)
	return WithdrawResult{Entry: change.Removed, HistoryErr: histErr}, nil
}

func (s *QueueService) Claim(ctx context.Context, requesterID string, helper models.HelperInfo) (*models.EntrySnapshot, error) {
	snap, err := s.apply(ctx, queue.OpClaim, func(now time.Time) (*queue.Change, error) {
		return s.Engine.Claim(requesterID, helper, now)
	})
	if err == nil && snap.HelpTime != nil {
		monitoring.TrackWait(snap.HelpTime.Sub(snap.EntryTime))
	}
	return snap, err
}

func (s *QueueService) Release(ctx context.Context, requesterID string) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpRelease, func(now time.Time) (*queue.Change, error) {
		return s.Engine.Release(requesterID, now)
	})
}

func (s *QueueService) RequestRevision(ctx context.Context, requesterID string) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpRequestFix, func(now time.Time) (*queue.Change, error) {
		return s.Engine.RequestRevision(requesterID, now)
	})
}

func (s *QueueService) SubmitRevision(ctx context.Context, requesterID string, content models.Content) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpSubmitRevision, func(now time.Time) (*queue.Change, error) {
		return s.Engine.SubmitRevision(requesterID, content, now)
	})
}

func (s *QueueService) SendMessage(ctx context.Context, requesterID string, helper models.HelperInfo, text string) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpMessage, func(now time.Time) (*queue.Change, error) {
		return s.Engine.SendMessage(requesterID, helper, text, now)
	})
}

func (s *QueueService) DismissMessage(ctx context.Context, requesterID string) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpDismiss, func(now time.Time) (*queue.Change, error) {
		return s.Engine.DismissMessage(requesterID, now)
	})
}

func (s *QueueService) ApproveOverride(ctx context.Context, requesterID string) (*models.EntrySnapshot, error) {
	return s.apply(ctx, queue.OpApprove, func(now time.Time) (*queue.Change, error) {
		return s.Engine.ApproveCooldownOverride(requesterID, now)
	})
}

func (s *QueueService) SetFrozen(ctx context.Context, frozen bool) models.QueueData {
	change := s.Engine.SetFrozen(frozen, s.now())
	monitoring.TrackQueueOperation(string(queue.OpFreeze), nil)
	slog.Info("queue freeze toggled", "frozen", frozen)
	data := s.queueData(ctx, change.Counts())
	if s.notifier != nil {
		s.notifier.Notify(change, data)
	}
	return data
}

func (s *QueueService) Entry(requesterID string) (*models.EntrySnapshot, error) {
	return s.Engine.Snapshot(requesterID)
}

func (s *QueueService) Entries() []models.EntrySnapshot {
	return s.Engine.SnapshotAll()
}

// QueueData is the public summary. Settings fall back to defaults when Redis
// is unavailable.
func (s *QueueService) QueueData(ctx context.Context) models.QueueData {
	return s.queueData(ctx, s.Engine.Counts())
}

// queueData builds the summary from counts taken under the engine lock, so
// the figures match the change they are broadcast with.
func (s *QueueService) queueData(ctx context.Context, counts queue.Counts) models.QueueData {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		slog.Warn("queue data using default settings", "error", err)
	}
	avgHelp := s.wait.avgHelpMinutes(ctx, s.now())
	return models.QueueData{
		Seq:           counts.Seq,
		NumStudents:   counts.Size,
		NumHelping:    counts.Helping,
		WaitMinutes:   EstimateWaitMinutes(avgHelp, counts.Size, counts.Helping),
		QueueFrozen:   counts.Frozen,
		RejoinMinutes: settings.RejoinMinutes,
		AllowOverride: settings.AllowOverride,
	}
}

func (s *QueueService) Stats(ctx context.Context, since time.Time) (models.QueueStats, error) {
	return s.history.Stats(ctx, since)
}

func (s *QueueService) apply(ctx context.Context, op queue.Op, fn func(now time.Time) (*queue.Change, error)) (*models.EntrySnapshot, error) {
	change, err := fn(s.now())
	monitoring.TrackQueueOperation(string(op), err)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, change)
	return change.Entry, nil
}

func (s *QueueService) notify(ctx context.Context, change *queue.Change) {
	if s.notifier == nil || change == nil {
		return
	}
	s.notifier.Notify(change, s.queueData(ctx, change.Counts()))
}

// recordHistory writes rec with a bounded wait. On failure the record is
// parked in Redis for the retrier and the write error is returned.
func (s *QueueService) recordHistory(ctx context.Context, rec models.HistoryRecord) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.Config.HistoryWriteTimeout)
	defer cancel()

	err := s.history.Record(writeCtx, rec)
	if err == nil {
		return nil
	}
	monitoring.TrackHistoryFailure("write")
	slog.Error("history write failed, parking for retry", "requester_id", rec.RequesterID, "error", err)

	if parkErr := parkHistory(context.WithoutCancel(ctx), s.Redis, rec); parkErr != nil {
		slog.Error("failed to park history record", "requester_id", rec.RequesterID, "error", parkErr)
		return errors.Join(err, parkErr)
	}
	return fmt.Errorf("history not yet persisted: %w", err)
}

func parkHistory(ctx context.Context, rdb redis.Cmdable, rec models.HistoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, pendingHistoryKey, data).Err()
}
