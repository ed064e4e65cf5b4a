package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicqr/internal/models"
)

type CreateVisitInput struct {
	PatientID  string
	Department string
	QueueTag   string
	Notes      string
	CreatedBy  string
	CreatedAt  time.Time
}

type ClaimInput struct {
	VisitID   string
	Kind      string
	ClaimedBy string
	// Department of the claiming doctor; checked against the ticket for
	// doctor claims.
	Department string
	ClaimedAt  time.Time
}

type VerifyArrivalInput struct {
	VisitID    string
	Kind       string
	VerifiedBy string
	// Either the patient code from a scanned QR or the patient's email,
	// matched case-insensitively.
	PatientCode string
	Email       string
	VerifiedAt  time.Time
}

type ConsultationInput struct {
	VisitID      string
	DoctorUserID string
	Symptoms     string
	Diagnosis    string
	Notes        string
	OccurredAt   time.Time
}

type MedicineInput struct {
	Name         string
	Dosage       string
	Quantity     int
	Instructions string
}

type FinishConsultationInput struct {
	VisitID           string
	DoctorUserID      string
	Diagnosis         string
	PrescriptionNotes string
	Medicines         []MedicineInput
	LabTests          string
	FinishedAt        time.Time
}

type ReceiveLabInput struct {
	VisitID    string
	ReceivedBy string
	TestType   string
	ReceivedAt time.Time
}

type CompleteLabInput struct {
	VisitID     string
	CompletedBy string
	Results     string
	CompletedAt time.Time
}

type ReceiveVaccinationInput struct {
	VisitID       string
	ReceivedBy    string
	VaccineTypeID string
	ReceivedAt    time.Time
}

type FinishVaccinationInput struct {
	VisitID       string
	FinishedBy    string
	VaccineTypeID string
	Remarks       string
	FinishedAt    time.Time
}

type DispenseInput struct {
	PrescriptionID string
	DispensedBy    string
	DispensedAt    time.Time
	// Keyed by medicine ID.
	Quantities    map[string]int
	Substitutions map[string]string
}

type CreatePatientInput struct {
	PatientID    string
	FirstName    string
	MiddleName   string
	LastName     string
	Email        string
	ContactNo    string
	Address      string
	BirthDate    *time.Time
	Gender       string
	PatientCode  string
	Username     string
	PasswordHash string
	QRPNG        []byte
	CreatedAt    time.Time
}

type CreateStaffInput struct {
	Username     string
	Email        string
	FullName     string
	Role         string
	Department   string
	PasswordHash string
	CreatedAt    time.Time
}

type CreateVaccineTypeInput struct {
	Name          string
	Description   string
	TotalDoses    int
	DoseIntervals []int
}

type QueueFilter struct {
	Service    string
	Department string
	QueueTag   string
	Day        time.Time
	Status     string
}

type ReportFilter struct {
	From       time.Time
	To         time.Time
	Service    string
	Department string
}

type ReportRow struct {
	VisitID     string     `json:"visit_id"`
	PatientName string     `json:"patient_name"`
	PatientCode string     `json:"patient_code"`
	Service     string     `json:"service"`
	Department  string     `json:"department,omitempty"`
	Status      string     `json:"status"`
	QueueNumber *int       `json:"queue_number,omitempty"`
	Diagnosis   string     `json:"diagnosis,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type DueDose struct {
	DoseID        string
	PatientID     string
	PatientName   string
	PatientEmail  string
	VaccineName   string
	DoseNumber    int
	ScheduledDate time.Time
}

type Session struct {
	SessionID  string
	UserID     string
	Role       string
	Department string
	ExpiresAt  time.Time
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type ActivityEntry struct {
	EntryID    string    `json:"entry_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	Subject    string    `json:"subject"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Store interface {
	CreateVisit(ctx context.Context, input CreateVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, visitID string) (models.Visit, error)
	ListQueue(ctx context.Context, filter QueueFilter) ([]models.Visit, error)
	ListVisitsForPatient(ctx context.Context, patientID string) ([]models.Visit, error)
	ClaimVisit(ctx context.Context, input ClaimInput) (models.Visit, error)
	VerifyArrival(ctx context.Context, input VerifyArrivalInput) (models.Visit, error)
	SaveConsultation(ctx context.Context, input ConsultationInput) (models.Visit, error)
	FinishConsultation(ctx context.Context, input FinishConsultationInput) (models.Visit, error)
	ReceiveLab(ctx context.Context, input ReceiveLabInput) (models.Visit, error)
	CompleteLab(ctx context.Context, input CompleteLabInput) (models.Visit, error)
	ReceiveVaccination(ctx context.Context, input ReceiveVaccinationInput) (models.Visit, error)
	FinishVaccination(ctx context.Context, input FinishVaccinationInput) (models.Visit, error)

	CreatePatient(ctx context.Context, input CreatePatientInput) (models.Patient, error)
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
	GetPatientByCode(ctx context.Context, code string) (models.Patient, error)
	ListPatients(ctx context.Context, search string, limit int) ([]models.Patient, error)

	ListPrescriptions(ctx context.Context, status string) ([]models.Prescription, error)
	GetPrescription(ctx context.Context, prescriptionID string) (models.Prescription, error)
	MarkPrescriptionReady(ctx context.Context, prescriptionID, userID string) (models.Prescription, error)
	DispensePrescription(ctx context.Context, input DispenseInput) (models.Prescription, error)

	CreateVaccineType(ctx context.Context, input CreateVaccineTypeInput) (models.VaccineType, error)
	ListVaccineTypes(ctx context.Context) ([]models.VaccineType, error)
	ListPatientVaccinations(ctx context.Context, patientID string) ([]models.PatientVaccination, error)
	ListDueDoses(ctx context.Context, from, to time.Time) ([]DueDose, error)

	GetUserByUsername(ctx context.Context, username string) (models.Staff, error)
	CreateStaff(ctx context.Context, input CreateStaffInput) (models.Staff, error)
	ListStaff(ctx context.Context) ([]models.Staff, error)
	SetStaffActive(ctx context.Context, userID string, active bool) error
	CreateSession(ctx context.Context, userID string, ttl time.Duration) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	ReportVisits(ctx context.Context, filter ReportFilter) ([]ReportRow, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)
	PurgeVisits(ctx context.Context, before time.Time) (int64, error)
}
