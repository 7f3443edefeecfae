package clinical

import (
	"errors"
	"testing"
	"time"

	"github.com/hms/hms/internal/platform/apperr"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		from, to LabTestStatus
		want     bool
	}{
		{LabRequested, LabSampleCollected, true},
		{LabRequested, LabCompleted, true},
		{LabSampleCollected, LabInProgress, true},
		{LabInProgress, LabCompleted, true},
		{LabInProgress, LabSampleCollected, false},
		{LabCompleted, LabInProgress, false},
		{LabRequested, LabRequested, false},
		{LabRequested, "cancelled", false},
		{"unknown", LabCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanAdvance(tt.from, tt.to); got != tt.want {
				t.Errorf("CanAdvance(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRecordInput_Build(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rec, err := RecordInput{
		Symptoms:     []string{" fever ", "", "cough"},
		Diagnosis:    " Viral fever ",
		LabTests:     []LabTestRequest{{TestName: "CBC"}},
		FollowUpDate: "2024-01-08",
	}.build(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Diagnosis != "Viral fever" || len(rec.Symptoms) != 2 || rec.Symptoms[0] != "fever" {
		t.Errorf("expected trimmed fields, got %+v", rec)
	}
	if rec.Prescriptions == nil {
		t.Error("expected empty prescriptions rather than nil")
	}
	if len(rec.LabTests) != 1 || rec.LabTests[0].Status != LabRequested || !rec.LabTests[0].RequestedAt.Equal(now) {
		t.Errorf("unexpected lab tests %+v", rec.LabTests)
	}
	if rec.FollowUpDate == nil || rec.FollowUpDate.Format(time.DateOnly) != "2024-01-08" {
		t.Errorf("unexpected follow-up %v", rec.FollowUpDate)
	}
}

func TestRecordInput_BuildRejects(t *testing.T) {
	tests := []struct {
		name string
		in   RecordInput
	}{
		{"no diagnosis", RecordInput{Diagnosis: "   "}},
		{"incomplete prescription", RecordInput{Diagnosis: "flu", Prescriptions: []Prescription{{MedicineName: "Paracetamol"}}}},
		{"bad follow-up", RecordInput{Diagnosis: "flu", FollowUpDate: "next week"}},
		{"unnamed lab test", RecordInput{Diagnosis: "flu", LabTests: []LabTestRequest{{TestName: " "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.in.build(time.Now()); !errors.Is(err, apperr.ErrInvalid) {
				t.Errorf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestRecordUpdate_Apply(t *testing.T) {
	rec := &MedicalRecord{Diagnosis: "flu", Notes: "rest", Prescriptions: []Prescription{}}
	notes := "rest and fluids"
	none := ""
	added, err := RecordUpdate{
		Notes:        &notes,
		FollowUpDate: &none,
		LabTests:     []LabTestRequest{{TestName: "Dengue NS1"}},
		VitalSigns:   &VitalSigns{Temperature: "101F"},
	}.apply(rec, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Notes != notes || rec.Diagnosis != "flu" || rec.VitalSigns.Temperature != "101F" || rec.FollowUpDate != nil {
		t.Errorf("unexpected record %+v", rec)
	}
	if len(added) != 1 || added[0].TestName != "Dengue NS1" {
		t.Errorf("unexpected added tests %+v", added)
	}

	empty := " "
	if _, err := (RecordUpdate{Diagnosis: &empty}).apply(rec, time.Now()); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("expected invalid for empty diagnosis, got %v", err)
	}
}
