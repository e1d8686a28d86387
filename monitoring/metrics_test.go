package monitoring

import (
	"errors"
	"testing"
	"time"

	"office-hours-queue/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	entries []models.EntrySnapshot
	frozen  bool
}

func (f *fakeSource) SnapshotAll() []models.EntrySnapshot { return f.entries }
func (f *fakeSource) Frozen() bool                        { return f.frozen }

func snap(id string, s models.Status) models.EntrySnapshot {
	return models.EntrySnapshot{Entry: &models.Entry{RequesterID: id, Status: s}}
}

func TestMonitor_Collect(t *testing.T) {
	source := &fakeSource{
		entries: []models.EntrySnapshot{
			snap("a", models.StatusWaiting),
			snap("b", models.StatusWaiting),
			snap("c", models.StatusBeingHelped),
		},
		frozen: true,
	}
	m := NewMonitor(source, time.Minute)

	m.Collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(queueLength.WithLabelValues("waiting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(queueLength.WithLabelValues("being_helped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(queueLength.WithLabelValues("fixing_question")))
	assert.Equal(t, 1.0, testutil.ToFloat64(queueFrozen))

	source.entries = source.entries[:1]
	source.frozen = false
	m.Collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(queueLength.WithLabelValues("waiting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(queueLength.WithLabelValues("being_helped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(queueFrozen))
}

func TestMonitor_StartStop(t *testing.T) {
	m := NewMonitor(&fakeSource{}, 10*time.Millisecond)
	m.Start()
	time.Sleep(30 * time.Millisecond)

	assert.NotPanics(t, m.Stop)
	assert.NotPanics(t, m.Stop)
}

func TestTrackQueueOperation(t *testing.T) {
	before := testutil.ToFloat64(queueOperations.WithLabelValues("claim", "error"))

	TrackQueueOperation("claim", errors.New("not queued"))
	TrackQueueOperation("claim", nil)

	assert.Equal(t, before+1, testutil.ToFloat64(queueOperations.WithLabelValues("claim", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(queueOperations.WithLabelValues("claim", "ok")), 1.0)
}

func TestTrackHistoryFailure(t *testing.T) {
	before := testutil.ToFloat64(historyFailures.WithLabelValues("retry"))
	TrackHistoryFailure("retry")
	assert.Equal(t, before+1, testutil.ToFloat64(historyFailures.WithLabelValues("retry")))
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	m := NewMonitor(&fakeSource{}, time.Minute)

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a monitor that never started")
	}
}
