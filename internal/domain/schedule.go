package domain

import "time"

// ScheduledSession is the private record kept for a booked session.
type ScheduledSession struct {
	SessionName   SessionName
	Passcode      string
	Start         time.Time
	HostEmail     string
	AttendeeEmail string
	CreatedAt     time.Time
}

const (
	SessionDuration      = 60 * time.Minute
	JoinBeforeStartGrace = 15 * time.Minute
	JoinAfterEndGrace    = 15 * time.Minute
)

// JoinWindow returns the span during which the session may be joined.
func (s ScheduledSession) JoinWindow() (opens, closes time.Time) {
	return s.Start.Add(-JoinBeforeStartGrace), s.Start.Add(SessionDuration + JoinAfterEndGrace)
}
