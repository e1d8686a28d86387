package monitoring

import (
	"sync"
	"sync/atomic"
	"time"

	"office-hours-queue/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "office_hours_queue_length",
			Help: "Current number of live entries per status",
		},
		[]string{"status"},
	)

	queueFrozen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "office_hours_queue_frozen",
			Help: "1 while the queue is closed to new admissions",
		},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "office_hours_queue_operations_total",
			Help: "Total queue operations by outcome",
		},
		[]string{"operation", "result"},
	)

	cooldownBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "office_hours_cooldown_blocks_total",
			Help: "Admissions refused by the rejoin cooldown",
		},
	)

	historyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "office_hours_history_failures_total",
			Help: "History writes that failed, by stage",
		},
		[]string{"stage"},
	)

	broadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "office_hours_broadcast_failures_total",
			Help: "Change broadcasts that could not be published",
		},
	)

	waitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "office_hours_wait_duration_seconds",
			Help:    "Time from joining to being claimed by a helper",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		},
	)
)

var trackedStatuses = []models.Status{
	models.StatusWaiting,
	models.StatusBeingHelped,
	models.StatusFixingQuestion,
	models.StatusReceivedMessage,
	models.StatusCooldownViolation,
}

// QueueSource is what the monitor samples. *queue.Engine satisfies it.
type QueueSource interface {
	SnapshotAll() []models.EntrySnapshot
	Frozen() bool
}

type Monitor struct {
	source   QueueSource
	interval time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewMonitor(source QueueSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples the queue on a ticker until Stop is called.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Collect()
		for {
			select {
			case <-ticker.C:
				m.Collect()
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.started.Load() {
		<-m.done
	}
}

// Collect refreshes the per-status gauges from a snapshot of the queue.
func (m *Monitor) Collect() {
	counts := make(map[models.Status]int, len(trackedStatuses))
	for _, snap := range m.source.SnapshotAll() {
		counts[snap.Status]++
	}
	for _, s := range trackedStatuses {
		queueLength.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	if m.source.Frozen() {
		queueFrozen.Set(1)
	} else {
		queueFrozen.Set(0)
	}
}

// TrackQueueOperation counts an operation under "ok" or "error".
func TrackQueueOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	queueOperations.WithLabelValues(operation, result).Inc()
}

func TrackCooldownBlock() {
	cooldownBlocks.Inc()
}

// TrackHistoryFailure counts a failed history write. stage is "write" for the
// first attempt and "retry" for the background retrier.
func TrackHistoryFailure(stage string) {
	historyFailures.WithLabelValues(stage).Inc()
}

func TrackBroadcastFailure() {
	broadcastFailures.Inc()
}

func TrackWait(d time.Duration) {
	waitDuration.Observe(d.Seconds())
}
