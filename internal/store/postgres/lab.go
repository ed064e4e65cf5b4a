package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) ReceiveLab(ctx context.Context, input store.ReceiveLabInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	source, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	switch source.Service {
	case models.ServiceReception:
		if !store.ValidTransition("receive_lab", source.Status) {
			err = store.ErrInvalidState
			return models.Visit{}, err
		}
		var claim models.Claim
		var ok bool
		claim, ok, err = findClaim(ctx, tx, input.VisitID, models.ClaimLab)
		if err != nil {
			return models.Visit{}, err
		}
		if !ok {
			err = store.ErrNotClaimed
			return models.Visit{}, err
		}
		if claim.ClaimedBy != input.ReceivedBy {
			err = store.ErrAccessDenied
			return models.Visit{}, err
		}
		if claim.ArrivedAt == nil {
			err = store.ErrNotArrived
			return models.Visit{}, err
		}
	case models.ServiceDoctor:
		// Lab work ordered during a consultation arrives without a claim;
		// the ordered tests gate it instead.
		if source.LabTests == "" && input.TestType == "" {
			err = store.ErrInvalidState
			return models.Visit{}, err
		}
		if source.LabCompleted {
			err = store.ErrInvalidState
			return models.Visit{}, err
		}
	default:
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	testType := input.TestType
	if testType == "" {
		testType = source.LabTests
	}

	// The lab visit keeps the source queue number so the board and
	// reports line up with what the patient was told.
	var queueNumber interface{}
	if source.QueueNumber != nil {
		queueNumber = *source.QueueNumber
	}
	labVisitID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO visits (
			visit_id, patient_id, service, status, queue_number, queue_tag, queue_day,
			lab_test_type, source_visit_id, created_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+visitColumns,
		labVisitID, source.PatientID, models.ServiceLab, models.StatusInProcess, queueNumber,
		models.TagLaboratory, dayOf(receivedAt), testType, source.VisitID, receivedAt, input.ReceivedBy)
	labVisit, err := scanVisit(row)
	if err != nil {
		return models.Visit{}, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO lab_results (result_id, visit_id, patient_id, test_type, status, processed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, uuid.NewString(), labVisitID, source.PatientID, testType, models.LabInProcess,
		input.ReceivedBy, receivedAt); err != nil {
		return models.Visit{}, err
	}

	// A reception ticket goes in_process; a finished consultation stays
	// done and only carries the link.
	if source.Service == models.ServiceReception {
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET status = $2 WHERE visit_id = $1
		`, source.VisitID, models.StatusInProcess); err != nil {
			return models.Visit{}, err
		}
	}

	if err = insertOutboxEvent(ctx, tx, "lab.received", map[string]any{
		"visit_id":     labVisit.VisitID,
		"source_visit": source.VisitID,
		"patient_id":   source.PatientID,
		"test_type":    testType,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.ReceivedBy, "lab.receive", labVisit.VisitID, testType); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return labVisit, nil
}

func (s *Store) CompleteLab(ctx context.Context, input store.CompleteLabInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	labVisit, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if labVisit.Service != models.ServiceLab || !store.ValidTransition("complete_lab", labVisit.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	completedAt := input.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE visits SET lab_results = $2, lab_completed = TRUE, lab_completed_at = $3, status = $4
		WHERE visit_id = $1
		RETURNING `+visitColumns,
		labVisit.VisitID, input.Results, completedAt, models.StatusDone)
	if labVisit, err = scanVisit(row); err != nil {
		return models.Visit{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE lab_results SET status = $2, results = $3, processed_by = $4, completed_at = $5
		WHERE visit_id = $1
	`, labVisit.VisitID, models.LabDone, input.Results, input.CompletedBy, completedAt); err != nil {
		return models.Visit{}, err
	}

	if labVisit.SourceVisitID != "" {
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET status = $2, lab_completed = TRUE, lab_completed_at = $3
			WHERE visit_id = $1
		`, labVisit.SourceVisitID, models.StatusDone, completedAt); err != nil {
			return models.Visit{}, err
		}
	}

	var patientEmail, patientName string
	row = tx.QueryRow(ctx, `
		SELECT email, first_name || ' ' || last_name FROM patients WHERE patient_id = $1
	`, labVisit.PatientID)
	if err = row.Scan(&patientEmail, &patientName); err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "lab.completed", map[string]any{
		"visit_id":      labVisit.VisitID,
		"patient_id":    labVisit.PatientID,
		"patient_name":  patientName,
		"patient_email": patientEmail,
		"test_type":     labVisit.LabTestType,
		"results":       input.Results,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.CompletedBy, "lab.complete", labVisit.VisitID, labVisit.LabTestType); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return labVisit, nil
}

func findClaim(ctx context.Context, tx pgx.Tx, visitID, kind string) (models.Claim, bool, error) {
	var c models.Claim
	var arrivedAt sql.NullTime
	row := tx.QueryRow(ctx, `
		SELECT visit_id, kind, claimed_by, claimed_at, arrived_at
		FROM visit_claims WHERE visit_id = $1 AND kind = $2
	`, visitID, kind)
	if err := row.Scan(&c.VisitID, &c.Kind, &c.ClaimedBy, &c.ClaimedAt, &arrivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Claim{}, false, nil
		}
		return models.Claim{}, false, err
	}
	c.ArrivedAt = nullTimePtr(arrivedAt)
	return c, true, nil
}
