package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"office-hours-queue/config"
	"office-hours-queue/internal/queue"
	"office-hours-queue/internal/status"
	"office-hours-queue/models"
	"office-hours-queue/utils"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) Record(ctx context.Context, rec models.HistoryRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockHistory) LastServedExit(ctx context.Context, requesterID string, since time.Time) (*time.Time, error) {
	args := m.Called(ctx, requesterID, since)
	t, _ := args.Get(0).(*time.Time)
	return t, args.Error(1)
}

func (m *mockHistory) Stats(ctx context.Context, since time.Time) (models.QueueStats, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(models.QueueStats), args.Error(1)
}

type staticSettings struct {
	settings models.CourseSettings
	err      error
}

func (s *staticSettings) Get(context.Context) (models.CourseSettings, error) {
	return s.settings, s.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []*queue.Change
	data    []models.QueueData
}

func (n *recordingNotifier) Notify(change *queue.Change, data models.QueueData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	n.data = append(n.data, data)
}

func (n *recordingNotifier) ops() []queue.Op {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]queue.Op, 0, len(n.changes))
	for _, c := range n.changes {
		out = append(out, c.Op)
	}
	return out
}

// gatedSettings blocks the first Get after arm until the returned gate is
// closed.
type gatedSettings struct {
	settings models.CourseSettings

	mu      sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSettings) arm() (gate, entered chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	g.entered = make(chan struct{})
	return g.gate, g.entered
}

func (g *gatedSettings) Get(context.Context) (models.CourseSettings, error) {
	g.mu.Lock()
	gate, entered := g.gate, g.entered
	g.gate, g.entered = nil, nil
	g.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return g.settings, nil
}

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type serviceFixture struct {
	svc      *QueueService
	history  *mockHistory
	settings *staticSettings
	notifier *recordingNotifier
	redis    redismock.ClientMock
}

func setupTestQueueService() *serviceFixture {
	db, redisMock := redismock.NewClientMock()
	history := &mockHistory{}
	settings := &staticSettings{settings: models.CourseSettings{RejoinMinutes: 15}}
	notifier := &recordingNotifier{}
	cfg := &config.Config{HistoryWriteTimeout: time.Second}

	svc := NewQueueService(queue.NewEngine(), db, history, settings, notifier, cfg)
	svc.now = func() time.Time { return testNow }

	return &serviceFixture{svc: svc, history: history, settings: settings, notifier: notifier, redis: redisMock}
}

func (f *serviceFixture) join(t *testing.T, id string) {
	t.Helper()
	f.history.On("LastServedExit", mock.Anything, id, mock.Anything).Return(nil, nil).Once()
	res, err := f.svc.Join(context.Background(), JoinRequest{
		RequesterID: id,
		DisplayName: id,
		Content:     models.Content{Question: "help with " + id, Location: "Lab 1"},
	})
	require.NoError(t, err)
	require.False(t, res.Blocked)
}

func TestQueueService_Join(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")
	f.join(t, "bob")

	snap, err := f.svc.Entry("bob")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Position)
	assert.Equal(t, models.StatusWaiting, snap.Status)

	assert.Equal(t, []queue.Op{queue.OpAdmit, queue.OpAdmit}, f.notifier.ops())
	assert.Equal(t, 2, f.notifier.data[1].NumStudents)
	assert.Equal(t, 15, f.notifier.data[1].RejoinMinutes)
	f.history.AssertExpectations(t)
}

func TestQueueService_JoinCooldown(t *testing.T) {
	recent := testNow.Add(-10 * time.Minute)

	tests := []struct {
		name          string
		allowOverride bool
		override      bool
		blocked       bool
		status        models.Status
	}{
		{"blocked", false, false, true, models.StatusOffQueue},
		{"override requested but disabled", false, true, true, models.StatusOffQueue},
		{"override offered", true, false, true, models.StatusOffQueue},
		{"override accepted", true, true, false, models.StatusCooldownViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestQueueService()
			f.settings.settings.AllowOverride = tt.allowOverride
			f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).Return(&recent, nil)

			res, err := f.svc.Join(context.Background(), JoinRequest{
				RequesterID: "alice",
				Content:     models.Content{Question: "again"},
				Override:    tt.override,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.blocked, res.Blocked)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, 10, res.MinutesSinceExit)
			assert.Equal(t, tt.allowOverride, res.OverrideAllowed)
			if tt.blocked {
				assert.Equal(t, 0, f.svc.Engine.Size())
				assert.Empty(t, f.notifier.ops())
			} else {
				assert.Equal(t, 1, f.svc.Engine.Size())
			}
		})
	}
}

func TestQueueService_JoinHistoryDown(t *testing.T) {
	f := setupTestQueueService()
	f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).Return(nil, errors.New("db locked"))

	res, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, res.Status)
}

func TestQueueService_JoinLooksBackOneWindow(t *testing.T) {
	f := setupTestQueueService()
	f.history.On("LastServedExit", mock.Anything, "alice", testNow.Add(-15*time.Minute)).Return(nil, nil).Once()

	_, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	require.NoError(t, err)
	f.history.AssertExpectations(t)
}

func TestQueueService_JoinSkipsLookupWhenCooldownOff(t *testing.T) {
	f := setupTestQueueService()
	f.settings.settings.RejoinMinutes = 0

	_, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	require.NoError(t, err)
	f.history.AssertNotCalled(t, "LastServedExit", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueService_JoinTwice(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")
	f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).Return(nil, nil).Once()

	_, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	assert.ErrorIs(t, err, status.ErrAlreadyQueued)
	assert.Equal(t, 1, f.svc.Engine.Size())
}

// A session that finishes while the rejoin is looking up history must still
// count toward the cooldown.
func TestQueueService_JoinWhileSessionFinishes(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")
	_, err := f.svc.Claim(context.Background(), "alice", models.HelperInfo{ID: "h1"})
	require.NoError(t, err)

	exit := testNow
	f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).
		Run(func(mock.Arguments) {
			_, err := f.svc.Engine.Withdraw("alice", models.ExitHelped, exit)
			require.NoError(t, err)
		}).
		Return(&exit, nil).Once()

	res, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, 0, f.svc.Engine.Size())
}

func TestQueueService_JoinFrozen(t *testing.T) {
	f := setupTestQueueService()
	data := f.svc.SetFrozen(context.Background(), true)
	assert.True(t, data.QueueFrozen)

	f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).Return(nil, nil)
	_, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice"})
	assert.ErrorIs(t, err, status.ErrQueueFrozen)

	data = f.svc.SetFrozen(context.Background(), false)
	assert.False(t, data.QueueFrozen)
	assert.Equal(t, []queue.Op{queue.OpFreeze, queue.OpFreeze}, f.notifier.ops())
}

func TestQueueService_FinishRecordsServedHistory(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")
	helper := models.HelperInfo{ID: "h1", Name: "Helper One"}

	_, err := f.svc.Claim(context.Background(), "alice", helper)
	require.NoError(t, err)

	f.history.On("Record", mock.Anything, mock.MatchedBy(func(rec models.HistoryRecord) bool {
		return rec.RequesterID == "alice" &&
			rec.Served &&
			rec.ExitReason == models.ExitHelped &&
			rec.HelperID == "h1" &&
			rec.ExitTime.Equal(testNow)
	})).Return(nil).Once()

	res, err := f.svc.Finish(context.Background(), "alice")
	require.NoError(t, err)
	assert.NoError(t, res.HistoryErr)
	assert.Equal(t, "alice", res.Entry.RequesterID)
	assert.Equal(t, 0, f.svc.Engine.Size())
	f.history.AssertExpectations(t)

	ops := f.notifier.ops()
	assert.Equal(t, queue.OpWithdraw, ops[len(ops)-1])
}

func TestQueueService_FinishRequiresService(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")

	_, err := f.svc.Finish(context.Background(), "alice")
	assert.ErrorIs(t, err, status.ErrNotBeingHelped)
	assert.Equal(t, 1, f.svc.Engine.Size())
	f.history.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestQueueService_LeaveNotQueued(t *testing.T) {
	f := setupTestQueueService()

	_, err := f.svc.Leave(context.Background(), "ghost")
	assert.ErrorIs(t, err, status.ErrNotQueued)
}

func TestQueueService_RemoveParksHistoryOnFailure(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")

	before, err := f.svc.Entry("alice")
	require.NoError(t, err)
	expected, err := json.Marshal(models.NewHistoryRecord(before.Entry, models.ExitRemoved, testNow))
	require.NoError(t, err)

	f.history.On("Record", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	f.redis.ExpectRPush(pendingHistoryKey, expected).SetVal(1)

	res, err := f.svc.Remove(context.Background(), "alice")
	require.NoError(t, err)
	assert.Error(t, res.HistoryErr)
	assert.Contains(t, res.HistoryErr.Error(), "disk full")
	assert.Equal(t, 0, f.svc.Engine.Size())
	assert.NoError(t, f.redis.ExpectationsWereMet())
}

func TestQueueService_HelperFlow(t *testing.T) {
	f := setupTestQueueService()
	ctx := context.Background()
	f.join(t, "alice")
	helper := models.HelperInfo{ID: "h1", Name: "Helper One"}

	snap, err := f.svc.SendMessage(ctx, "alice", helper, "please add your error output")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReceivedMessage, snap.Status)
	assert.Len(t, snap.MessageBuffer, 1)

	snap, err = f.svc.DismissMessage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)

	snap, err = f.svc.RequestRevision(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFixingQuestion, snap.Status)

	snap, err = f.svc.SubmitRevision(ctx, "alice", models.Content{Question: "segfault in list.c line 40", Location: "Lab 1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.Equal(t, 1, snap.NumFixRequests)

	snap, err = f.svc.Claim(ctx, "alice", helper)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBeingHelped, snap.Status)

	snap, err = f.svc.Release(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.Nil(t, snap.Helper)

	assert.Equal(t, []queue.Op{
		queue.OpAdmit,
		queue.OpMessage,
		queue.OpDismiss,
		queue.OpRequestFix,
		queue.OpSubmitRevision,
		queue.OpClaim,
		queue.OpRelease,
	}, f.notifier.ops())
}

func TestQueueService_FailedOperationDoesNotNotify(t *testing.T) {
	f := setupTestQueueService()
	f.join(t, "alice")

	_, err := f.svc.Release(context.Background(), "alice")
	assert.ErrorIs(t, err, status.ErrNotBeingHelped)
	_, err = f.svc.ApproveOverride(context.Background(), "alice")
	assert.ErrorIs(t, err, status.ErrNotInCooldownViolation)

	assert.Equal(t, []queue.Op{queue.OpAdmit}, f.notifier.ops())
}

func TestQueueService_ApproveOverride(t *testing.T) {
	f := setupTestQueueService()
	f.settings.settings.AllowOverride = true
	recent := testNow.Add(-time.Minute)
	f.history.On("LastServedExit", mock.Anything, "alice", mock.Anything).Return(&recent, nil)

	res, err := f.svc.Join(context.Background(), JoinRequest{RequesterID: "alice", Override: true})
	require.NoError(t, err)
	require.Equal(t, models.StatusCooldownViolation, res.Status)

	snap, err := f.svc.ApproveOverride(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.False(t, snap.IsFrozen)
}

func TestQueueService_QueueDataWithSettingsError(t *testing.T) {
	f := setupTestQueueService()
	f.settings.err = errors.New("redis down")

	data := f.svc.QueueData(context.Background())
	assert.Equal(t, 15, data.RejoinMinutes)
	assert.Equal(t, 0, data.NumStudents)
}

func TestQueueService_Stats(t *testing.T) {
	f := setupTestQueueService()
	since := testNow.Add(-24 * time.Hour)
	want := models.QueueStats{Since: since, QuestionsAsked: 4}
	f.history.On("Stats", mock.Anything, since).Return(want, nil)

	got, err := f.svc.Stats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestQueueService_InterleavedMutationsBroadcastLatestState(t *testing.T) {
	ctx := context.Background()
	db, _ := redismock.NewClientMock()
	history := &mockHistory{}
	history.On("LastServedExit", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	settings := &gatedSettings{settings: models.CourseSettings{RejoinMinutes: 15}}

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	namer := utils.NewChannelNamer("secret")
	notifier := NewNotifier(pub, namer, time.Second, 16)

	svc := NewQueueService(queue.NewEngine(), db, history, settings, notifier, &config.Config{HistoryWriteTimeout: time.Second})
	_, err := svc.Join(ctx, JoinRequest{RequesterID: "alice"})
	require.NoError(t, err)

	// Claim commits, then stalls building its broadcast while Release runs.
	gate, entered := settings.arm()
	claimErr := make(chan error, 1)
	go func() {
		_, err := svc.Claim(ctx, "alice", models.HelperInfo{ID: "h1"})
		claimErr <- err
	}()
	<-entered
	_, err = svc.Release(ctx, "alice")
	require.NoError(t, err)
	close(gate)
	require.NoError(t, <-claimErr)
	notifier.Close()

	snap, err := svc.Entry("alice")
	require.NoError(t, err)
	require.Equal(t, models.StatusWaiting, snap.Status)

	last := pub.lastOn(namer.Requester("alice"))
	require.NotNil(t, last)
	assert.Equal(t, models.StatusWaiting, last["entry"].(*models.EntrySnapshot).Status)

	data := pub.lastOn(utils.PublicQueueChannel)["data"].(models.QueueData)
	assert.Equal(t, uint64(3), data.Seq)
	assert.Equal(t, 0, data.NumHelping)
	assert.Equal(t, 1, data.NumStudents)
}

func TestQueueService_QueueDataWaitEstimate(t *testing.T) {
	f := setupTestQueueService()
	f.svc.wait = newWaitEstimator(f.history, time.Hour, time.Minute)

	f.history.On("Stats", mock.Anything, testNow.Add(-time.Hour)).
		Return(models.QueueStats{AvgHelpMinutes: decimal.NewFromFloat(7.5)}, nil).Once()

	f.join(t, "alice")
	f.join(t, "bob")
	f.join(t, "carol")
	_, err := f.svc.Claim(context.Background(), "alice", models.HelperInfo{ID: "h1"})
	require.NoError(t, err)

	data := f.svc.QueueData(context.Background())
	assert.Equal(t, 3, data.NumStudents)
	assert.Equal(t, 1, data.NumHelping)
	assert.Equal(t, 15, data.WaitMinutes)
	f.history.AssertNumberOfCalls(t, "Stats", 1)
}
