package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Appointment is one booked consultation. Appointments are never deleted;
// cancellation is a status.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patientId"`
	DoctorID    uuid.UUID `json:"doctorId"`
	Date        time.Time `json:"appointmentDate"`
	Slot        string    `json:"slot"`
	TokenNumber int       `json:"tokenNumber"`
	Status      Status    `json:"status"`
	Symptoms    string    `json:"symptoms,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	PatientName string    `json:"patientName,omitempty"`
	DoctorName  string    `json:"doctorName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// OPDTiming is one weekly availability entry of a doctor.
type OPDTiming struct {
	Day         string `json:"day"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	MaxPatients int    `json:"maxPatients"`
}

const DefaultMaxPatients = 20

var weekdays = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

// NormalizeTimings validates a weekly template and fills in defaults. Day
// names are lowercased; maxPatients of zero becomes DefaultMaxPatients.
func NormalizeTimings(timings []OPDTiming) ([]OPDTiming, error) {
	out := make([]OPDTiming, 0, len(timings))
	seen := make(map[string]bool, len(timings))
	for _, t := range timings {
		t.Day = strings.ToLower(strings.TrimSpace(t.Day))
		if !weekdays[t.Day] {
			return nil, apperr.Invalid("invalid OPD day %q", t.Day)
		}
		if seen[t.Day] {
			return nil, apperr.Invalid("duplicate OPD timing for %s", t.Day)
		}
		seen[t.Day] = true

		start, err := ParseClock(t.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(t.EndTime)
		if err != nil {
			return nil, err
		}
		if start >= end {
			return nil, apperr.Invalid("OPD timing for %s must start before it ends", t.Day)
		}
		switch {
		case t.MaxPatients == 0:
			t.MaxPatients = DefaultMaxPatients
		case t.MaxPatients < 0:
			return nil, apperr.Invalid("maxPatients for %s must be positive", t.Day)
		}
		out = append(out, t)
	}
	return out, nil
}

// Weekday returns the lowercase English weekday name of date.
func Weekday(date time.Time) string {
	return strings.ToLower(date.Weekday().String())
}

// TimingFor returns the template entry for date's weekday.
func TimingFor(timings []OPDTiming, date time.Time) (OPDTiming, bool) {
	day := Weekday(date)
	for _, t := range timings {
		if strings.EqualFold(t.Day, day) {
			return t, true
		}
	}
	return OPDTiming{}, false
}

// ParseDate parses a calendar day in YYYY-MM-DD form as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperr.Invalid("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// DayOf truncates t to its calendar day in loc, returned as midnight UTC.
func DayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DoctorAvailability is the part of a doctor profile booking needs.
type DoctorAvailability struct {
	DoctorID uuid.UUID
	Name     string
	Active   bool
	Timings  []OPDTiming
}

type BookingRequest struct {
	UserID   uuid.UUID
	DoctorID uuid.UUID
	Date     time.Time
	Slot     string
	Symptoms string
}

// AvailableSlots is the bookable grid of a doctor's day and the slots
// already taken.
type AvailableSlots struct {
	Day         string   `json:"day"`
	Date        string   `json:"date"`
	Slots       []string `json:"slots"`
	BookedSlots []string `json:"bookedSlots"`
}

type Queue struct {
	Date    string         `json:"date"`
	Current *Appointment   `json:"current"`
	Next    *Appointment   `json:"next"`
	Waiting []*Appointment `json:"waiting"`
}

type Stats struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
	InProgress int    `json:"inProgress"`
	Completed  int    `json:"completed"`
	Cancelled  int    `json:"cancelled"`
}

func (s Status) String() string { return string(s) }

func parseStatus(v string) (Status, error) {
	st := Status(v)
	if !st.Valid() {
		return "", apperr.Invalid("invalid status %q", v)
	}
	return st, nil
}

func dateString(d time.Time) string { return d.Format(time.DateOnly) }
