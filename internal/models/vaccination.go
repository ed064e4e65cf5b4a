package models

import "time"

// Dose statuses within a vaccination series.
const (
	DoseScheduled = "scheduled"
	DoseGiven     = "given"
	DoseMissed    = "missed"
)

// Series statuses.
const (
	SeriesInProgress = "in_progress"
	SeriesCompleted  = "completed"
)

// VaccineType is a catalog entry describing a vaccine series: how many
// doses and the interval in days before each follow-up dose.
type VaccineType struct {
	VaccineTypeID string    `json:"vaccine_type_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	TotalDoses    int       `json:"total_doses"`
	DoseIntervals []int     `json:"dose_intervals"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// IntervalBefore returns the interval in days preceding the given dose
// number (2-based; dose 1 has no interval). Falls back to the last known
// interval when the catalog lists fewer intervals than doses.
func (t VaccineType) IntervalBefore(doseNumber int) int {
	if doseNumber <= 1 || len(t.DoseIntervals) == 0 {
		return 0
	}
	idx := doseNumber - 2
	if idx >= len(t.DoseIntervals) {
		idx = len(t.DoseIntervals) - 1
	}
	return t.DoseIntervals[idx]
}

// PatientVaccination tracks one patient's progress through one vaccine
// series. One row per (patient, vaccine type).
type PatientVaccination struct {
	VaccinationID string     `json:"vaccination_id"`
	PatientID     string     `json:"patient_id"`
	VaccineTypeID string     `json:"vaccine_type_id"`
	VaccineName   string     `json:"vaccine_name,omitempty"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Doses []VaccineDose `json:"doses,omitempty"`
}

type VaccineDose struct {
	DoseID        string     `json:"dose_id"`
	VaccinationID string     `json:"vaccination_id"`
	DoseNumber    int        `json:"dose_number"`
	Status        string     `json:"status"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	GivenDate     *time.Time `json:"given_date,omitempty"`
	GivenBy       string     `json:"given_by,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// VaccinationRecord is the administered-dose log row written when a
// vaccination visit finishes.
type VaccinationRecord struct {
	RecordID     string    `json:"record_id"`
	VisitID      string    `json:"visit_id"`
	PatientID    string    `json:"patient_id"`
	VaccineType  string    `json:"vaccine_type"`
	DoseLabel    string    `json:"dose_label"`
	AdministerBy string    `json:"administered_by"`
	GivenAt      time.Time `json:"given_at"`
	Remarks      string    `json:"remarks,omitempty"`
}
