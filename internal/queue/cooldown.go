package queue

import "time"

// CooldownDecision is the outcome of the rejoin policy.
type CooldownDecision struct {
	Violation        bool
	MinutesSinceExit int
}

// CheckCooldown decides whether a requester whose last served session ended at
// lastServedExit may rejoin at now. A nil exit time always passes. Elapsed time
// equal to the window is allowed.
func CheckCooldown(now time.Time, rejoinMinutes int, lastServedExit *time.Time) CooldownDecision {
	if lastServedExit == nil || rejoinMinutes <= 0 {
		return CooldownDecision{}
	}
	elapsed := now.Sub(*lastServedExit)
	if elapsed >= time.Duration(rejoinMinutes)*time.Minute {
		return CooldownDecision{}
	}
	minutes := 0
	if elapsed > 0 {
		minutes = int(elapsed / time.Minute)
	}
	return CooldownDecision{Violation: true, MinutesSinceExit: minutes}
}
