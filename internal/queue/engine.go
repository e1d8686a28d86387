package queue

import (
	"sync"
	"time"

	"office-hours-queue/internal/status"
	"office-hours-queue/models"

	"github.com/google/uuid"
)

// Op names the operation that produced a Change.
type Op string

const (
	OpAdmit          Op = "admit"
	OpWithdraw       Op = "withdraw"
	OpClaim          Op = "claim"
	OpRelease        Op = "release"
	OpRequestFix     Op = "request_revision"
	OpSubmitRevision Op = "submit_revision"
	OpMessage        Op = "send_message"
	OpDismiss        Op = "dismiss_message"
	OpApprove        Op = "approve_override"
	OpFreeze         Op = "freeze"
)

// Change describes what a mutation did, for the persistence and broadcast
// collaborators. Entry is the post-mutation snapshot of the touched entry and
// is nil after a removal, in which case Removed carries the final state,
// Positions the recomputed order of everyone left and Remaining their
// snapshots in that order.
//
// Seq increases by one per committed mutation, and Size, Helping and
// QueueFrozen are read under the same lock, so a consumer that sees changes
// out of order can tell which one is newest.
type Change struct {
	Op          Op
	Seq         uint64
	RequesterID string
	Entry       *models.EntrySnapshot
	Removed     *models.Entry
	ExitReason  models.ExitReason
	Positions   []models.Position
	Remaining   []models.EntrySnapshot
	Size        int
	Helping     int
	QueueFrozen bool
	At          time.Time
}

// Counts is a consistent read of the queue-wide figures.
type Counts struct {
	Seq     uint64
	Size    int
	Helping int
	Frozen  bool
}

func (c *Change) Counts() Counts {
	return Counts{Seq: c.Seq, Size: c.Size, Helping: c.Helping, Frozen: c.QueueFrozen}
}

// AdmitRequest carries everything admission needs. Settings and history are
// resolved by the caller before the engine lock is taken.
type AdmitRequest struct {
	RequesterID       string
	DisplayName       string
	Content           models.Content
	OverrideRequested bool
	Now               time.Time

	RejoinMinutes  int
	AllowOverride  bool
	LastServedExit *time.Time
}

// AdmitResult is either an admission or a cooldown block. A block is not an
// error; the caller should offer the override prompt when OverrideAllowed.
type AdmitResult struct {
	Status           models.Status
	Position         int
	Blocked          bool
	MinutesSinceExit int
	OverrideAllowed  bool
	Change           *Change
}

// Engine is the single owner of the live queue. Every mutation runs under one
// write lock from validation to return; reads share a read lock.
type Engine struct {
	mu     sync.RWMutex
	store  *Store
	frozen bool
	seq    uint64
	newID  func() string
}

func NewEngine() *Engine {
	return &Engine{
		store: NewStore(),
		newID: uuid.NewString,
	}
}

func (q *Engine) Admit(req AdmitRequest) (AdmitResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.store.PositionOf(req.RequesterID) != -1 {
		return AdmitResult{}, status.ErrAlreadyQueued
	}
	if q.frozen {
		return AdmitResult{}, status.ErrQueueFrozen
	}

	target := models.StatusWaiting
	decision := CheckCooldown(req.Now, req.RejoinMinutes, req.LastServedExit)
	if decision.Violation {
		if !req.OverrideRequested || !req.AllowOverride {
			return AdmitResult{
				Status:           models.StatusOffQueue,
				Position:         -1,
				Blocked:          true,
				MinutesSinceExit: decision.MinutesSinceExit,
				OverrideAllowed:  req.AllowOverride,
			}, nil
		}
		target = models.StatusCooldownViolation
	}
	if err := checkTransition(models.StatusOffQueue, target, status.ActorRequester); err != nil {
		return AdmitResult{}, err
	}

	entry := &models.Entry{
		RequesterID:   req.RequesterID,
		DisplayName:   req.DisplayName,
		Content:       req.Content,
		Status:        target,
		IsFrozen:      target == models.StatusCooldownViolation,
		EntryTime:     req.Now,
		MessageBuffer: []models.Message{},
	}
	if err := q.store.Insert(entry); err != nil {
		return AdmitResult{}, err
	}

	change := q.changeFor(OpAdmit, entry, req.Now)
	return AdmitResult{
		Status:           target,
		Position:         change.Entry.Position,
		MinutesSinceExit: decision.MinutesSinceExit,
		OverrideAllowed:  req.AllowOverride,
		Change:           change,
	}, nil
}

// Withdraw removes an entry in any status. ExitHelped additionally requires the
// entry to be in service, which is how a helper finishes a session.
func (q *Engine) Withdraw(requesterID string, reason models.ExitReason, now time.Time) (*Change, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.Get(requesterID)
	if err != nil {
		return nil, err
	}
	actor := status.ActorHelper
	if reason == models.ExitWithdrawn {
		actor = status.ActorRequester
	}
	if reason == models.ExitHelped && entry.Status != models.StatusBeingHelped {
		return nil, status.ErrNotBeingHelped
	}
	if err := checkTransition(entry.Status, models.StatusOffQueue, actor); err != nil {
		return nil, err
	}
	if _, err := q.store.Remove(requesterID); err != nil {
		return nil, err
	}

	return q.stamp(&Change{
		Op:          OpWithdraw,
		RequesterID: requesterID,
		Removed:     entry.Clone(),
		ExitReason:  reason,
		Positions:   q.positions(),
		Remaining:   q.snapshots(),
		At:          now,
	}), nil
}

func (q *Engine) Claim(requesterID string, helper models.HelperInfo, now time.Time) (*Change, error) {
	return q.mutate(OpClaim, requesterID, now, func(e *models.Entry) error {
		if e.Status == models.StatusBeingHelped {
			return status.ErrAlreadyBeingHelped
		}
		if err := checkTransition(e.Status, models.StatusBeingHelped, status.ActorHelper); err != nil {
			return err
		}
		e.Status = models.StatusBeingHelped
		e.Helper = &helper
		t := now
		e.HelpTime = &t
		return nil
	})
}

func (q *Engine) Release(requesterID string, now time.Time) (*Change, error) {
	return q.mutate(OpRelease, requesterID, now, func(e *models.Entry) error {
		if e.Status != models.StatusBeingHelped {
			return status.ErrNotBeingHelped
		}
		if err := checkTransition(e.Status, models.StatusWaiting, status.ActorHelper); err != nil {
			return err
		}
		e.Status = models.StatusWaiting
		e.Helper = nil
		e.HelpTime = nil
		return nil
	})
}

// RequestRevision asks the requester to rewrite their question. From
// BeingHelped it also ends the service in progress.
func (q *Engine) RequestRevision(requesterID string, now time.Time) (*Change, error) {
	return q.mutate(OpRequestFix, requesterID, now, func(e *models.Entry) error {
		if e.Status == models.StatusFixingQuestion {
			return status.ErrAlreadyFixing
		}
		if err := checkTransition(e.Status, models.StatusFixingQuestion, status.ActorHelper); err != nil {
			return err
		}
		if e.Status == models.StatusBeingHelped {
			e.Helper = nil
			e.HelpTime = nil
		}
		e.Status = models.StatusFixingQuestion
		e.NumFixRequests++
		return nil
	})
}

// SubmitRevision replaces the question content. It clears a pending fix
// request; in any other status the content changes and the status does not.
func (q *Engine) SubmitRevision(requesterID string, content models.Content, now time.Time) (*Change, error) {
	return q.mutate(OpSubmitRevision, requesterID, now, func(e *models.Entry) error {
		if e.Content == content {
			return status.ErrUnchanged
		}
		if e.Status == models.StatusFixingQuestion {
			if err := checkTransition(e.Status, models.StatusWaiting, status.ActorRequester); err != nil {
				return err
			}
			e.Status = models.StatusWaiting
		}
		e.Content = content
		return nil
	})
}

func (q *Engine) SendMessage(requesterID string, helper models.HelperInfo, text string, now time.Time) (*Change, error) {
	return q.mutate(OpMessage, requesterID, now, func(e *models.Entry) error {
		if e.Status == models.StatusBeingHelped {
			return status.ErrCannotMessageWhileBeingHelped
		}
		if err := checkTransition(e.Status, models.StatusReceivedMessage, status.ActorHelper); err != nil {
			return err
		}
		e.Status = models.StatusReceivedMessage
		e.Message = text
		e.MessageBuffer = append(e.MessageBuffer, models.Message{
			ID:         q.newID(),
			HelperID:   helper.ID,
			HelperName: helper.Name,
			Text:       text,
			SentAt:     now,
		})
		return nil
	})
}

func (q *Engine) DismissMessage(requesterID string, now time.Time) (*Change, error) {
	return q.mutate(OpDismiss, requesterID, now, func(e *models.Entry) error {
		if e.Status != models.StatusReceivedMessage {
			return status.ErrNoMessagePending
		}
		if err := checkTransition(e.Status, models.StatusWaiting, status.ActorRequester); err != nil {
			return err
		}
		e.Status = models.StatusWaiting
		return nil
	})
}

func (q *Engine) ApproveCooldownOverride(requesterID string, now time.Time) (*Change, error) {
	return q.mutate(OpApprove, requesterID, now, func(e *models.Entry) error {
		if e.Status != models.StatusCooldownViolation {
			return status.ErrNotInCooldownViolation
		}
		if err := checkTransition(e.Status, models.StatusWaiting, status.ActorHelper); err != nil {
			return err
		}
		e.Status = models.StatusWaiting
		e.IsFrozen = false
		return nil
	})
}

// SetFrozen closes or reopens the queue to new admissions.
func (q *Engine) SetFrozen(frozen bool, now time.Time) *Change {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.frozen = frozen
	return q.stamp(&Change{Op: OpFreeze, Positions: q.positions(), At: now})
}

// Counts reads size, helping and frozen under one lock, tagged with the
// sequence number of the last committed change.
func (q *Engine) Counts() Counts {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Counts{Seq: q.seq, Size: q.store.Len(), Helping: q.helping(), Frozen: q.frozen}
}

func (q *Engine) Frozen() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.frozen
}

func (q *Engine) Snapshot(requesterID string) (*models.EntrySnapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	entry, err := q.store.Get(requesterID)
	if err != nil {
		return nil, err
	}
	return &models.EntrySnapshot{Entry: entry.Clone(), Position: q.store.PositionOf(requesterID)}, nil
}

// SnapshotAll returns deep copies of every live entry in arrival order.
func (q *Engine) SnapshotAll() []models.EntrySnapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.snapshots()
}

// caller holds q.mu
func (q *Engine) snapshots() []models.EntrySnapshot {
	out := make([]models.EntrySnapshot, 0, q.store.Len())
	for pos, entry := range q.store.All() {
		out = append(out, models.EntrySnapshot{Entry: entry.Clone(), Position: pos})
	}
	return out
}

func (q *Engine) PositionOf(requesterID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.PositionOf(requesterID)
}

func (q *Engine) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store.Len()
}

// mutate runs fn against a live entry under the write lock. fn must validate
// before it writes so that a returned error leaves the entry untouched.
func (q *Engine) mutate(op Op, requesterID string, now time.Time, fn func(e *models.Entry) error) (*Change, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, err := q.store.Get(requesterID)
	if err != nil {
		return nil, err
	}
	if err := fn(entry); err != nil {
		return nil, err
	}
	return q.changeFor(op, entry, now), nil
}

// caller holds q.mu
func (q *Engine) changeFor(op Op, entry *models.Entry, now time.Time) *Change {
	return q.stamp(&Change{
		Op:          op,
		RequesterID: entry.RequesterID,
		Entry: &models.EntrySnapshot{
			Entry:    entry.Clone(),
			Position: q.store.PositionOf(entry.RequesterID),
		},
		At: now,
	})
}

// caller holds q.mu for writing
func (q *Engine) stamp(c *Change) *Change {
	q.seq++
	c.Seq = q.seq
	c.Size = q.store.Len()
	c.Helping = q.helping()
	c.QueueFrozen = q.frozen
	return c
}

// caller holds q.mu
func (q *Engine) helping() int {
	n := 0
	for _, entry := range q.store.All() {
		if entry.Status == models.StatusBeingHelped {
			n++
		}
	}
	return n
}

// caller holds q.mu
func (q *Engine) positions() []models.Position {
	out := make([]models.Position, 0, q.store.Len())
	for pos, entry := range q.store.All() {
		out = append(out, models.Position{RequesterID: entry.RequesterID, Position: pos})
	}
	return out
}
