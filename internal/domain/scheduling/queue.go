package scheduling

import (
	"cmp"
	"slices"
	"strings"
)

// ProjectQueue derives a doctor's live queue from the day's appointments.
// Current is the first in-progress appointment in slot order; Waiting holds
// the pending ones by slot, ties broken by token.
func ProjectQueue(appts []*Appointment) Queue {
	ordered := slices.Clone(appts)
	slices.SortStableFunc(ordered, bySlot)

	q := Queue{Waiting: []*Appointment{}}
	for _, a := range ordered {
		switch a.Status {
		case StatusInProgress:
			if q.Current == nil {
				q.Current = a
			}
		case StatusPending:
			q.Waiting = append(q.Waiting, a)
		}
	}
	if len(q.Waiting) > 0 {
		q.Next = q.Waiting[0]
	}
	return q
}

func bySlot(a, b *Appointment) int {
	return cmp.Or(strings.Compare(a.Slot, b.Slot), cmp.Compare(a.TokenNumber, b.TokenNumber))
}

// CountStatuses tallies a day's appointments by status.
func CountStatuses(appts []*Appointment) Stats {
	st := Stats{Total: len(appts)}
	for _, a := range appts {
		switch a.Status {
		case StatusPending:
			st.Pending++
		case StatusInProgress:
			st.InProgress++
		case StatusCompleted:
			st.Completed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}
