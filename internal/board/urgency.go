package board

import "time"

type Urgency string

const (
	UrgencyNormal  Urgency = "normal"
	UrgencyWarning Urgency = "warning"
	UrgencyDanger  Urgency = "danger"
	UrgencyNeutral Urgency = "neutral"
)

// ElapsedSeconds returns whole seconds since createdAt, clamped to zero when
// clock skew puts createdAt in the future.
func ElapsedSeconds(createdAt, now time.Time) int64 {
	elapsed := int64(now.Sub(createdAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Classify derives the urgency level for a ticket. It is a pure function of
// its inputs: the caller recomputes it on every tick, it never reads stored
// state. Completed and pending-completion tickets show no countdown.
func Classify(pending, completed bool, createdAt, now time.Time, warningSeconds, dangerSeconds int64) Urgency {
	if pending || completed {
		return UrgencyNeutral
	}
	elapsed := ElapsedSeconds(createdAt, now)
	switch {
	case elapsed >= dangerSeconds:
		return UrgencyDanger
	case elapsed >= warningSeconds:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}
