package models

import "time"

// Service branches a visit can belong to.
const (
	ServiceReception   = "reception"
	ServiceDoctor      = "doctor"
	ServiceLab         = "lab"
	ServicePharmacy    = "pharmacy"
	ServiceVaccination = "vaccination"
)

// Unified visit statuses.
const (
	StatusQueued    = "queued"
	StatusClaimed   = "claimed"
	StatusInProcess = "in_process"
	StatusDone      = "done"
)

// Doctor sub-workflow statuses reflected onto the reception ticket.
const (
	DoctorStatusReady          = "ready_to_consult"
	DoctorStatusInConsultation = "in_consultation"
	DoctorStatusFinished       = "finished"
)

// Claim kinds. A reception ticket can carry one claim of each kind at a time.
const (
	ClaimDoctor      = "doctor"
	ClaimLab         = "lab"
	ClaimVaccination = "vaccination"
)

// Queue tags for tickets without a consultation department.
const (
	TagLaboratory  = "laboratory"
	TagVaccination = "vaccination"
)

type Visit struct {
	VisitID     string `json:"visit_id"`
	PatientID   string `json:"patient_id"`
	Service     string `json:"service"`
	Status      string `json:"status"`
	QueueNumber *int   `json:"queue_number,omitempty"`
	QueueTag    string `json:"queue_tag,omitempty"`
	Department  string `json:"department,omitempty"`
	Notes       string `json:"notes,omitempty"`

	Symptoms          string     `json:"symptoms,omitempty"`
	Diagnosis         string     `json:"diagnosis,omitempty"`
	PrescriptionNotes string     `json:"prescription_notes,omitempty"`
	DoctorDone        bool       `json:"doctor_done,omitempty"`
	DoctorDoneAt      *time.Time `json:"doctor_done_at,omitempty"`
	DoctorArrived     bool       `json:"doctor_arrived,omitempty"`
	DoctorStatus      string     `json:"doctor_status,omitempty"`

	LabTests       string     `json:"lab_tests,omitempty"`
	LabTestType    string     `json:"lab_test_type,omitempty"`
	LabResults     string     `json:"lab_results,omitempty"`
	LabCompleted   bool       `json:"lab_completed,omitempty"`
	LabCompletedAt *time.Time `json:"lab_completed_at,omitempty"`
	LabArrived     bool       `json:"lab_arrived,omitempty"`

	Medicines   string     `json:"medicines,omitempty"`
	Dispensed   bool       `json:"dispensed,omitempty"`
	DispensedAt *time.Time `json:"dispensed_at,omitempty"`

	VaccineType     string     `json:"vaccine_type,omitempty"`
	VaccineDose     string     `json:"vaccine_dose,omitempty"`
	VaccinationDate *time.Time `json:"vaccination_date,omitempty"`

	SourceVisitID string    `json:"source_visit_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
	DoctorUserID  string    `json:"doctor_user_id,omitempty"`

	Claims []Claim `json:"claims,omitempty"`
}

// Claim is an exclusive per-kind reservation of a reception ticket by one
// staff member.
type Claim struct {
	VisitID   string     `json:"visit_id"`
	Kind      string     `json:"kind"`
	ClaimedBy string     `json:"claimed_by"`
	ClaimedAt time.Time  `json:"claimed_at"`
	ArrivedAt *time.Time `json:"arrived_at,omitempty"`
}

// ClaimOf returns the claim of the given kind, if present.
func (v Visit) ClaimOf(kind string) (Claim, bool) {
	for _, c := range v.Claims {
		if c.Kind == kind {
			return c, true
		}
	}
	return Claim{}, false
}
