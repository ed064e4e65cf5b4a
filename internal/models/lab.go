package models

import "time"

// Lab result statuses.
const (
	LabQueue     = "queue"
	LabInProcess = "in_process"
	LabDone      = "done"
)

type LabResult struct {
	ResultID    string     `json:"result_id"`
	VisitID     string     `json:"visit_id"`
	PatientID   string     `json:"patient_id"`
	TestType    string     `json:"test_type"`
	Status      string     `json:"status"`
	Results     string     `json:"results,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
