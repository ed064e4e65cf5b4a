package models

import "time"

// Prescription statuses.
const (
	PrescriptionPending   = "pending"
	PrescriptionReady     = "ready"
	PrescriptionDispensed = "dispensed"
)

type Prescription struct {
	PrescriptionID string     `json:"prescription_id"`
	VisitID        string     `json:"visit_id"`
	PatientID      string     `json:"patient_id"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ReadyAt        *time.Time `json:"ready_at,omitempty"`
	DispensedAt    *time.Time `json:"dispensed_at,omitempty"`
	DispensedBy    string     `json:"dispensed_by,omitempty"`

	Medicines []PrescriptionMedicine `json:"medicines,omitempty"`
}

type PrescriptionMedicine struct {
	MedicineID        string `json:"medicine_id"`
	PrescriptionID    string `json:"prescription_id"`
	Name              string `json:"name"`
	Dosage            string `json:"dosage,omitempty"`
	Quantity          int    `json:"quantity"`
	Instructions      string `json:"instructions,omitempty"`
	DispensedQuantity int    `json:"dispensed_quantity"`
	SubstitutionNotes string `json:"substitution_notes,omitempty"`
}
