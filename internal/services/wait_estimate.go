package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// waitEstimator caches the recent average help time so that building queue
// data does not hit the history store on every mutation.
type waitEstimator struct {
	history HistoryStore
	window  time.Duration
	refresh time.Duration

	mu        sync.Mutex
	avgHelp   decimal.Decimal
	refreshed time.Time
}

func newWaitEstimator(history HistoryStore, window, refresh time.Duration) *waitEstimator {
	return &waitEstimator{history: history, window: window, refresh: refresh, avgHelp: decimal.Zero}
}

// avgHelpMinutes returns the cached average, refreshing it once it is older
// than the refresh interval. A failed refresh keeps the previous value.
func (w *waitEstimator) avgHelpMinutes(ctx context.Context, now time.Time) decimal.Decimal {
	if w == nil || w.window <= 0 {
		return decimal.Zero
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.refreshed.IsZero() && now.Sub(w.refreshed) < w.refresh {
		return w.avgHelp
	}
	stats, err := w.history.Stats(ctx, now.Add(-w.window))
	w.refreshed = now
	if err != nil {
		slog.Warn("wait estimate refresh failed", "error", err)
		return w.avgHelp
	}
	w.avgHelp = stats.AvgHelpMinutes
	return w.avgHelp
}

// invalidate forces the next read to refresh, after a session finishes.
func (w *waitEstimator) invalidate() {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.refreshed = time.Time{}
	w.mu.Unlock()
}

// EstimateWaitMinutes spreads the entries not yet being helped across the
// helpers currently busy, at least one, and rounds up to whole minutes.
func EstimateWaitMinutes(avgHelp decimal.Decimal, size, helping int) int {
	waiting := size - helping
	if waiting <= 0 || !avgHelp.IsPositive() {
		return 0
	}
	helpers := max(helping, 1)
	return int(avgHelp.Mul(decimal.NewFromInt(int64(waiting))).
		Div(decimal.NewFromInt(int64(helpers))).
		Ceil().IntPart())
}
