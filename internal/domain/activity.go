package domain

import "time"

// Activity is an extracurricular offering together with its roster.
// MaxParticipants is informational and is not enforced on signup.
type Activity struct {
	Name            string
	Description     string
	Schedule        string
	MaxParticipants int
	Participants    []string
}

// HasParticipant reports whether email is on the roster.
func (a Activity) HasParticipant(email string) bool {
	for _, p := range a.Participants {
		if p == email {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with a.
func (a Activity) Clone() Activity {
	out := a
	out.Participants = append(make([]string, 0, len(a.Participants)), a.Participants...)
	return out
}

// EnrollmentChange identifies the kind of roster mutation.
type EnrollmentChange string

const (
	EnrollmentAdded   EnrollmentChange = "enrolled"
	EnrollmentRemoved EnrollmentChange = "withdrawn"
)

// EnrollmentEvent describes a successful roster mutation.
type EnrollmentEvent struct {
	Change     EnrollmentChange
	Activity   string
	Email      string
	OccurredAt time.Time
}
