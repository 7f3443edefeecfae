package scheduling

import "slices"

// transitions lists the explicit status changes. Completion is not here:
// it only happens through CompleteViaRecord.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an explicit update may move from to to.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// CanComplete reports whether recording a checkup may close an appointment
// in status s.
func CanComplete(s Status) bool {
	return s == StatusPending || s == StatusInProgress
}
