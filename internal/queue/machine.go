package queue

import (
	"office-hours-queue/internal/status"
	"office-hours-queue/models"
)

type statusTransition struct {
	from models.Status
	to   models.Status
}

// transitions lists every legal edge and the roles allowed to drive it.
var transitions = map[statusTransition][]status.Actor{
	{models.StatusOffQueue, models.StatusWaiting}:           {status.ActorRequester},
	{models.StatusOffQueue, models.StatusCooldownViolation}: {status.ActorRequester},

	{models.StatusWaiting, models.StatusBeingHelped}: {status.ActorHelper},
	{models.StatusBeingHelped, models.StatusWaiting}: {status.ActorHelper},

	{models.StatusWaiting, models.StatusFixingQuestion}:         {status.ActorHelper},
	{models.StatusBeingHelped, models.StatusFixingQuestion}:     {status.ActorHelper},
	{models.StatusReceivedMessage, models.StatusFixingQuestion}: {status.ActorHelper},
	{models.StatusFixingQuestion, models.StatusWaiting}:         {status.ActorRequester},

	{models.StatusWaiting, models.StatusReceivedMessage}:        {status.ActorHelper},
	{models.StatusFixingQuestion, models.StatusReceivedMessage}: {status.ActorHelper},
	{models.StatusReceivedMessage, models.StatusWaiting}:        {status.ActorRequester},

	{models.StatusCooldownViolation, models.StatusWaiting}: {status.ActorHelper},

	{models.StatusWaiting, models.StatusOffQueue}:           {status.ActorRequester, status.ActorHelper},
	{models.StatusBeingHelped, models.StatusOffQueue}:       {status.ActorRequester, status.ActorHelper},
	{models.StatusFixingQuestion, models.StatusOffQueue}:    {status.ActorRequester, status.ActorHelper},
	{models.StatusReceivedMessage, models.StatusOffQueue}:   {status.ActorRequester, status.ActorHelper},
	{models.StatusCooldownViolation, models.StatusOffQueue}: {status.ActorRequester, status.ActorHelper},
}

// CanTransition reports whether actor may move an entry from one status to
// another.
func CanTransition(from, to models.Status, actor status.Actor) bool {
	for _, allowed := range transitions[statusTransition{from: from, to: to}] {
		if allowed == actor {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.Status, actor status.Actor) error {
	if !CanTransition(from, to, actor) {
		return &status.IllegalTransitionError{From: from, To: to, Actor: actor}
	}
	return nil
}
