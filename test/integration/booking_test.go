package integration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/events"
)

func TestBooking_SameSlotRace(t *testing.T) {
	e := newEnv(t)
	doctor := e.createDoctor(t, 0)
	date := nextWeekday(time.Monday)

	const n = 12
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = e.createPatient(t, fmt.Sprintf("Patient %d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.scheduling.CreateAppointment(context.Background(), scheduling.BookingRequest{
				UserID: u, DoctorID: doctor.ID, Date: date, Slot: "10:00",
			})
		}()
	}
	wg.Wait()

	booked := 0
	for _, err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, apperr.ErrConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if booked != 1 {
		t.Fatalf("expected exactly one booking for the slot, got %d", booked)
	}
}

func TestBooking_TokensAreSequential(t *testing.T) {
	e := newEnv(t)
	doctor := e.createDoctor(t, 0)
	date := nextWeekday(time.Monday)
	slots := []string{"09:00", "09:15", "09:30", "09:45", "10:00", "10:15", "10:30", "10:45"}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens []int
	)
	for i, slot := range slots {
		u := e.createPatient(t, fmt.Sprintf("Patient %d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := e.scheduling.CreateAppointment(context.Background(), scheduling.BookingRequest{
				UserID: u, DoctorID: doctor.ID, Date: date, Slot: slot,
			})
			if err != nil {
				t.Errorf("book %s: %v", slot, err)
				return
			}
			mu.Lock()
			tokens = append(tokens, a.TokenNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(tokens)
	for i, tok := range tokens {
		if tok != i+1 {
			t.Fatalf("expected tokens 1..%d, got %v", len(slots), tokens)
		}
	}
}

func TestBooking_CapacityRace(t *testing.T) {
	e := newEnv(t)
	doctor := e.createDoctor(t, 3)
	date := nextWeekday(time.Monday)
	slots := []string{"09:00", "09:15", "09:30", "09:45", "10:00", "10:15"}

	var wg sync.WaitGroup
	errs := make([]error, len(slots))
	for i, slot := range slots {
		u := e.createPatient(t, fmt.Sprintf("Patient %d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.scheduling.CreateAppointment(context.Background(), scheduling.BookingRequest{
				UserID: u, DoctorID: doctor.ID, Date: date, Slot: slot,
			})
		}()
	}
	wg.Wait()

	booked := 0
	for _, err := range errs {
		if err == nil {
			booked++
		} else if !errors.Is(err, apperr.ErrConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if booked != 3 {
		t.Fatalf("expected the day to fill at 3 bookings, got %d", booked)
	}
}

func TestBooking_CancelledSlotIsReusable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doctor := e.createDoctor(t, 0)
	date := nextWeekday(time.Monday)
	first, second := e.createPatient(t, "First"), e.createPatient(t, "Second")

	a, err := e.scheduling.CreateAppointment(ctx, scheduling.BookingRequest{UserID: first, DoctorID: doctor.ID, Date: date, Slot: "11:00"})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := e.scheduling.CancelAppointment(ctx, first, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	b, err := e.scheduling.CreateAppointment(ctx, scheduling.BookingRequest{UserID: second, DoctorID: doctor.ID, Date: date, Slot: "11:00"})
	if err != nil {
		t.Fatalf("rebook cancelled slot: %v", err)
	}
	if b.TokenNumber != 2 {
		t.Errorf("expected token 2 after a cancellation, got %d", b.TokenNumber)
	}
}

func TestBooking_NotifiesDoctorTopic(t *testing.T) {
	e := newEnv(t)
	doctor := e.createDoctor(t, 0)
	patient := e.createPatient(t, "Notified")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := e.hub.Subscribe(ctx, events.DoctorTopic(doctor.ID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	a, err := e.scheduling.CreateAppointment(context.Background(), scheduling.BookingRequest{
		UserID: patient, DoctorID: doctor.ID, Date: nextWeekday(time.Monday), Slot: "12:00",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	e.notifier.Wait()

	select {
	case ev := <-ch:
		if ev.Type != events.TypeNewAppointment || ev.ResourceID != a.ID.String() {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event on the doctor's topic")
	}
}
