package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"office-hours-queue/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// QuestionsCollection holds one row per entry that left the live queue.
const QuestionsCollection = "questions"

// HistoryStore is the durable side of the queue. The live queue never reads
// it except to find a requester's last served exit for the cooldown check.
type HistoryStore interface {
	Record(ctx context.Context, rec models.HistoryRecord) error
	LastServedExit(ctx context.Context, requesterID string, since time.Time) (*time.Time, error)
	Stats(ctx context.Context, since time.Time) (models.QueueStats, error)
}

type PocketBaseHistory struct {
	app core.App
}

func NewPocketBaseHistory(app core.App) *PocketBaseHistory {
	return &PocketBaseHistory{app: app}
}

func (h *PocketBaseHistory) Record(ctx context.Context, rec models.HistoryRecord) error {
	collection, err := h.app.FindCachedCollectionByNameOrId(QuestionsCollection)
	if err != nil {
		return fmt.Errorf("find %s collection: %w", QuestionsCollection, err)
	}

	record := core.NewRecord(collection)
	record.Set("requester_id", rec.RequesterID)
	record.Set("display_name", rec.DisplayName)
	record.Set("question", rec.Question)
	record.Set("location", rec.Location)
	record.Set("topic", rec.Topic)
	record.Set("helper_id", rec.HelperID)
	record.Set("helper_name", rec.HelperName)
	record.Set("entry_time", rec.EntryTime)
	if rec.HelpTime != nil {
		record.Set("help_time", *rec.HelpTime)
	}
	record.Set("exit_time", rec.ExitTime)
	record.Set("exit_reason", string(rec.ExitReason))
	record.Set("served", rec.Served)
	record.Set("num_fix_requests", rec.NumFixRequests)
	record.Set("num_messages", rec.NumMessages)

	if err := h.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("save history for %s: %w", rec.RequesterID, err)
	}
	return nil
}

// LastServedExit returns the exit time of the requester's most recent served
// question that ended at or after since, or nil if there is none.
func (h *PocketBaseHistory) LastServedExit(ctx context.Context, requesterID string, since time.Time) (*time.Time, error) {
	var row struct {
		ExitTime types.DateTime `db:"exit_time"`
	}
	err := h.app.DB().
		Select("exit_time").
		From(QuestionsCollection).
		Where(dbx.HashExp{"requester_id": requesterID, "served": true}).
		AndWhere(dbx.NewExp("exit_time >= {:since}", dbx.Params{"since": formatDate(since)})).
		OrderBy("exit_time DESC").
		Limit(1).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last served exit for %s: %w", requesterID, err)
	}
	if row.ExitTime.IsZero() {
		return nil, nil
	}
	t := row.ExitTime.Time()
	return &t, nil
}

type statsRow struct {
	EntryTime      types.DateTime `db:"entry_time"`
	HelpTime       types.DateTime `db:"help_time"`
	ExitTime       types.DateTime `db:"exit_time"`
	Served         bool           `db:"served"`
	NumFixRequests int            `db:"num_fix_requests"`
}

// Stats summarizes every question that left the queue at or after since.
func (h *PocketBaseHistory) Stats(ctx context.Context, since time.Time) (models.QueueStats, error) {
	var rows []statsRow
	err := h.app.DB().
		Select("entry_time", "help_time", "exit_time", "served", "num_fix_requests").
		From(QuestionsCollection).
		Where(dbx.NewExp("exit_time >= {:since}", dbx.Params{
			"since": formatDate(since),
		})).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("load stats since %s: %w", since, err)
	}
	return summarize(rows, since), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(types.DefaultDateLayout)
}

func summarize(rows []statsRow, since time.Time) models.QueueStats {
	stats := models.QueueStats{
		Since:          since,
		QuestionsAsked: len(rows),
		AvgWaitMinutes: decimal.Zero,
		AvgHelpMinutes: decimal.Zero,
		LastUpdated:    time.Now(),
	}

	wait := decimal.Zero
	help := decimal.Zero
	for _, r := range rows {
		if r.NumFixRequests > 0 {
			stats.QuestionsRevised++
		}
		if !r.Served || r.HelpTime.IsZero() {
			continue
		}
		stats.QuestionsServed++
		wait = wait.Add(minutesBetween(r.EntryTime.Time(), r.HelpTime.Time()))
		help = help.Add(minutesBetween(r.HelpTime.Time(), r.ExitTime.Time()))
	}

	if stats.QuestionsServed > 0 {
		n := decimal.NewFromInt(int64(stats.QuestionsServed))
		stats.AvgWaitMinutes = wait.Div(n).Round(1)
		stats.AvgHelpMinutes = help.Div(n).Round(1)
	}
	return stats
}

func minutesBetween(from, to time.Time) decimal.Decimal {
	if to.Before(from) {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(to.Sub(from) / time.Second)).Div(decimal.NewFromInt(60))
}
