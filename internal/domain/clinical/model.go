package clinical

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type LabTestStatus string

const (
	LabRequested       LabTestStatus = "requested"
	LabSampleCollected LabTestStatus = "sample-collected"
	LabInProgress      LabTestStatus = "in-progress"
	LabCompleted       LabTestStatus = "completed"
)

// labStages orders the lab workflow; a test only moves to a later stage.
var labStages = map[LabTestStatus]int{
	LabRequested:       0,
	LabSampleCollected: 1,
	LabInProgress:      2,
	LabCompleted:       3,
}

func (s LabTestStatus) Valid() bool {
	_, ok := labStages[s]
	return ok
}

func CanAdvance(from, to LabTestStatus) bool {
	f, ok1 := labStages[from]
	t, ok2 := labStages[to]
	return ok1 && ok2 && t > f
}

type Prescription struct {
	MedicineName string `json:"medicineName"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions,omitempty"`
}

type VitalSigns struct {
	BloodPressure string `json:"bloodPressure,omitempty"`
	Temperature   string `json:"temperature,omitempty"`
	Pulse         string `json:"pulse,omitempty"`
	Weight        string `json:"weight,omitempty"`
	Height        string `json:"height,omitempty"`
}

type LabTest struct {
	ID          uuid.UUID     `json:"id"`
	RecordID    uuid.UUID     `json:"recordId"`
	TestName    string        `json:"testName"`
	Status      LabTestStatus `json:"status"`
	RequestedAt time.Time     `json:"requestedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// MedicalRecord is the outcome of one consultation. There is at most one
// per appointment.
type MedicalRecord struct {
	ID            uuid.UUID      `json:"id"`
	AppointmentID uuid.UUID      `json:"appointmentId"`
	PatientID     uuid.UUID      `json:"patientId"`
	DoctorID      uuid.UUID      `json:"doctorId"`
	Symptoms      []string       `json:"symptoms"`
	Diagnosis     string         `json:"diagnosis"`
	Notes         string         `json:"notes,omitempty"`
	Prescriptions []Prescription `json:"prescriptions"`
	VitalSigns    *VitalSigns    `json:"vitalSigns,omitempty"`
	FollowUpDate  *time.Time     `json:"followUpDate,omitempty"`
	LabTests      []*LabTest     `json:"labTests"`
	LabReports    []*LabReport   `json:"labReports,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// PendingLabTest is one entry of the lab work list.
type PendingLabTest struct {
	RecordID      uuid.UUID `json:"recordId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	PatientID     uuid.UUID `json:"patientId"`
	PatientName   string    `json:"patientName"`
	DoctorName    string    `json:"doctorName"`
	LabTest       *LabTest  `json:"labTest"`
}

type LabReport struct {
	ID            uuid.UUID `json:"id"`
	RecordID      uuid.UUID `json:"recordId"`
	LabTestID     uuid.UUID `json:"labTestId"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	PatientID     uuid.UUID `json:"patientId"`
	TestName      string    `json:"testName"`
	TestDate      time.Time `json:"testDate"`
	Result        string    `json:"result,omitempty"`
	NormalRange   string    `json:"normalRange,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`
	UploadedBy    uuid.UUID `json:"uploadedBy"`
	BlobID        string    `json:"-"`
	FileName      string    `json:"fileName"`
	ContentType   string    `json:"contentType"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"createdAt"`
}

// -- Requests --

type LabTestRequest struct {
	TestName string `json:"testName"`
}

type RecordInput struct {
	Symptoms      []string         `json:"symptoms"`
	Diagnosis     string           `json:"diagnosis"`
	Notes         string           `json:"notes"`
	Prescriptions []Prescription   `json:"prescriptions"`
	LabTests      []LabTestRequest `json:"labTestsRequested"`
	VitalSigns    *VitalSigns      `json:"vitalSigns"`
	FollowUpDate  string           `json:"followUpDate"`
}

// RecordUpdate changes only the fields that are set. Lab tests are appended.
type RecordUpdate struct {
	Symptoms      []string         `json:"symptoms"`
	Diagnosis     *string          `json:"diagnosis"`
	Notes         *string          `json:"notes"`
	Prescriptions *[]Prescription  `json:"prescriptions"`
	LabTests      []LabTestRequest `json:"labTestsRequested"`
	VitalSigns    *VitalSigns      `json:"vitalSigns"`
	FollowUpDate  *string          `json:"followUpDate"`
}

// ReportMeta describes an uploaded report. TestDate is YYYY-MM-DD and
// defaults to the upload day; TestName defaults to the lab test's name.
type ReportMeta struct {
	TestName    string `json:"testName"`
	TestDate    string `json:"testDate"`
	Result      string `json:"result"`
	NormalRange string `json:"normalRange"`
	Remarks     string `json:"remarks"`
}

// -- Validation --

func parseFollowUp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, apperr.Invalid("invalid follow-up date %q, expected YYYY-MM-DD", s)
	}
	return &d, nil
}

func validatePrescriptions(ps []Prescription) error {
	for i, p := range ps {
		if strings.TrimSpace(p.MedicineName) == "" || strings.TrimSpace(p.Dosage) == "" ||
			strings.TrimSpace(p.Frequency) == "" || strings.TrimSpace(p.Duration) == "" {
			return apperr.Invalid("prescription %d needs medicine name, dosage, frequency and duration", i+1)
		}
	}
	return nil
}

func newLabTests(reqs []LabTestRequest, now time.Time) ([]*LabTest, error) {
	tests := make([]*LabTest, 0, len(reqs))
	for _, r := range reqs {
		name := strings.TrimSpace(r.TestName)
		if name == "" {
			return nil, apperr.Invalid("lab test name is required")
		}
		tests = append(tests, &LabTest{TestName: name, Status: LabRequested, RequestedAt: now})
	}
	return tests, nil
}

func cleanSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// build turns a create request into a record, without ids or links.
func (in RecordInput) build(now time.Time) (*MedicalRecord, error) {
	diagnosis := strings.TrimSpace(in.Diagnosis)
	if diagnosis == "" {
		return nil, apperr.Invalid("diagnosis is required")
	}
	if err := validatePrescriptions(in.Prescriptions); err != nil {
		return nil, err
	}
	followUp, err := parseFollowUp(in.FollowUpDate)
	if err != nil {
		return nil, err
	}
	tests, err := newLabTests(in.LabTests, now)
	if err != nil {
		return nil, err
	}
	prescriptions := in.Prescriptions
	if prescriptions == nil {
		prescriptions = []Prescription{}
	}
	return &MedicalRecord{
		Symptoms:      cleanSymptoms(in.Symptoms),
		Diagnosis:     diagnosis,
		Notes:         strings.TrimSpace(in.Notes),
		Prescriptions: prescriptions,
		VitalSigns:    in.VitalSigns,
		FollowUpDate:  followUp,
		LabTests:      tests,
	}, nil
}

// apply merges u into rec and returns the lab tests it adds.
func (u RecordUpdate) apply(rec *MedicalRecord, now time.Time) ([]*LabTest, error) {
	if u.Diagnosis != nil {
		d := strings.TrimSpace(*u.Diagnosis)
		if d == "" {
			return nil, apperr.Invalid("diagnosis cannot be empty")
		}
		rec.Diagnosis = d
	}
	if u.Symptoms != nil {
		rec.Symptoms = cleanSymptoms(u.Symptoms)
	}
	if u.Notes != nil {
		rec.Notes = strings.TrimSpace(*u.Notes)
	}
	if u.Prescriptions != nil {
		if err := validatePrescriptions(*u.Prescriptions); err != nil {
			return nil, err
		}
		rec.Prescriptions = *u.Prescriptions
		if rec.Prescriptions == nil {
			rec.Prescriptions = []Prescription{}
		}
	}
	if u.VitalSigns != nil {
		rec.VitalSigns = u.VitalSigns
	}
	if u.FollowUpDate != nil {
		followUp, err := parseFollowUp(*u.FollowUpDate)
		if err != nil {
			return nil, err
		}
		rec.FollowUpDate = followUp
	}
	return newLabTests(u.LabTests, now)
}
