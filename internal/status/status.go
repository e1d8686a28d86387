package status

import (
	"errors"
	"fmt"

	"office-hours-queue/models"
)

var (
	ErrNotQueued                     = errors.New("queue: requester is not on the queue")
	ErrAlreadyQueued                 = errors.New("queue: requester is already on the queue")
	ErrDuplicateEntry                = errors.New("queue: duplicate entry")
	ErrIllegalTransition             = errors.New("queue: illegal transition")
	ErrAlreadyBeingHelped            = errors.New("queue: requester is already being helped")
	ErrNotBeingHelped                = errors.New("queue: requester is not being helped")
	ErrAlreadyFixing                 = errors.New("queue: requester is already fixing their question")
	ErrUnchanged                     = errors.New("queue: question was not changed")
	ErrCannotMessageWhileBeingHelped = errors.New("queue: cannot message a requester who is being helped")
	ErrNoMessagePending              = errors.New("queue: no message pending")
	ErrNotInCooldownViolation        = errors.New("queue: requester is not in cooldown violation")
	ErrQueueFrozen                   = errors.New("queue: queue is frozen")
)

type Actor string

const (
	ActorRequester Actor = "requester"
	ActorHelper    Actor = "helper"
)

// IllegalTransitionError names the edge that was refused.
type IllegalTransitionError struct {
	From  models.Status
	To    models.Status
	Actor Actor
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("queue: illegal transition %s -> %s by %s", e.From, e.To, e.Actor)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// IsClientError reports whether err comes from a stale view of the queue
// rather than a failure on our side.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotQueued, ErrAlreadyQueued, ErrDuplicateEntry, ErrIllegalTransition,
		ErrAlreadyBeingHelped, ErrNotBeingHelped, ErrAlreadyFixing, ErrUnchanged,
		ErrCannotMessageWhileBeingHelped, ErrNoMessagePending,
		ErrNotInCooldownViolation, ErrQueueFrozen,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
