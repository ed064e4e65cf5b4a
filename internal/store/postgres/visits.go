package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var patientName, patientEmail string
	row := tx.QueryRow(ctx, `
		SELECT first_name || ' ' || last_name, email FROM patients WHERE patient_id = $1
	`, input.PatientID)
	if err = row.Scan(&patientName, &patientEmail); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrPatientNotFound
		}
		return models.Visit{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	day := dayOf(createdAt)
	scope := scopeKey(input.Department, input.QueueTag)

	if err = lockQueueScope(ctx, tx, day, scope); err != nil {
		return models.Visit{}, err
	}

	// Next number is max+1 among today's still-numbered tickets in the
	// scope, so numbers stay dense after claims renumber the tail.
	var next int
	row = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0) + 1
		FROM visits
		WHERE service = $1 AND queue_day = $2
		  AND COALESCE(NULLIF('dept:' || department, 'dept:'), 'tag:' || queue_tag) = $3
		  AND queue_number IS NOT NULL
	`, models.ServiceReception, day, scope)
	if err = row.Scan(&next); err != nil {
		return models.Visit{}, err
	}

	visitID := uuid.NewString()
	row = tx.QueryRow(ctx, `
		INSERT INTO visits (
			visit_id, patient_id, service, status, queue_number, queue_tag, queue_day,
			department, notes, doctor_status, created_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+visitColumns+`
	`, visitID, input.PatientID, models.ServiceReception, models.StatusQueued, next, input.QueueTag, day,
		input.Department, input.Notes, "", createdAt, nullIfEmpty(input.CreatedBy))

	var visit models.Visit
	if visit, err = scanVisit(row); err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "visit.queued", map[string]any{
		"visit_id":      visit.VisitID,
		"patient_id":    visit.PatientID,
		"patient_name":  patientName,
		"patient_email": patientEmail,
		"queue_number":  next,
		"department":    input.Department,
		"queue_tag":     input.QueueTag,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.CreatedBy, "visit.create", visit.VisitID, scope); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	if visit.Claims, err = loadClaims(ctx, s.pool, visitID); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) ListQueue(ctx context.Context, filter store.QueueFilter) ([]models.Visit, error) {
	query := `SELECT ` + visitColumns + ` FROM visits WHERE 1=1`
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		query += strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1)
	}
	if filter.Service != "" {
		add(" AND service = ?", filter.Service)
	}
	if filter.Department != "" {
		add(" AND department = ?", filter.Department)
	}
	if filter.QueueTag != "" {
		add(" AND queue_tag = ?", filter.QueueTag)
	}
	if !filter.Day.IsZero() {
		add(" AND queue_day = ?", dayOf(filter.Day))
	}
	if filter.Status != "" {
		add(" AND status = ?", filter.Status)
	}
	query += " ORDER BY queue_number ASC NULLS LAST, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func (s *Store) ListVisitsForPatient(ctx context.Context, patientID string) ([]models.Visit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+` FROM visits WHERE patient_id = $1 ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return visits, nil
}

func (s *Store) ClaimVisit(ctx context.Context, input store.ClaimInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Lock order is scope first, visit row second. Renumbering locks other
	// rows in the scope, so two claims must never hold a row each while
	// waiting for the scope. The unlocked pre-read only identifies the
	// scope; the locked re-read below is authoritative.
	var service, department, queueTag string
	var createdAt time.Time
	row := tx.QueryRow(ctx, `
		SELECT service, department, queue_tag, created_at FROM visits WHERE visit_id = $1
	`, input.VisitID)
	if err = row.Scan(&service, &department, &queueTag, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	if service != models.ServiceReception {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}
	day := dayOf(createdAt)
	scope := scopeKey(department, queueTag)
	if err = lockQueueScope(ctx, tx, day, scope); err != nil {
		return models.Visit{}, err
	}

	visit, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if !store.ValidTransition("claim", visit.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	var existingHolder string
	row = tx.QueryRow(ctx, `
		SELECT claimed_by FROM visit_claims WHERE visit_id = $1 AND kind = $2
	`, input.VisitID, input.Kind)
	switch err = row.Scan(&existingHolder); {
	case err == nil:
		if existingHolder != input.ClaimedBy {
			err = store.ErrAlreadyClaimed
			return models.Visit{}, err
		}
		// Re-claim by the same holder is a no-op; the queue was already
		// renumbered the first time.
		if err = tx.Commit(ctx); err != nil {
			return models.Visit{}, err
		}
		if visit.Claims, err = loadClaims(ctx, s.pool, visit.VisitID); err != nil {
			return models.Visit{}, err
		}
		return visit, nil
	case errors.Is(err, pgx.ErrNoRows):
		err = nil
	default:
		return models.Visit{}, err
	}

	switch input.Kind {
	case models.ClaimDoctor:
		if visit.Department == "" || visit.Department != input.Department {
			err = store.ErrDepartmentMismatch
			return models.Visit{}, err
		}
	case models.ClaimLab:
		if visit.QueueTag != models.TagLaboratory && visit.LabTests == "" {
			err = store.ErrInvalidState
			return models.Visit{}, err
		}
	case models.ClaimVaccination:
		if visit.QueueTag != models.TagVaccination {
			err = store.ErrInvalidState
			return models.Visit{}, err
		}
	default:
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	claimedAt := input.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO visit_claims (visit_id, kind, claimed_by, claimed_at)
		VALUES ($1, $2, $3, $4)
	`, input.VisitID, input.Kind, input.ClaimedBy, claimedAt); err != nil {
		return models.Visit{}, err
	}

	// A doctor claim pulls the ticket off the numbered queue and closes
	// the gap behind it. Lab and vaccination claims keep the number so
	// the ticket stays visible on the board until received.
	if input.Kind == models.ClaimDoctor && visit.QueueNumber != nil {
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET queue_number = NULL, status = $2
			WHERE visit_id = $1
		`, input.VisitID, models.StatusClaimed); err != nil {
			return models.Visit{}, err
		}
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET queue_number = queue_number - 1
			WHERE service = $1 AND queue_day = $2
			  AND COALESCE(NULLIF('dept:' || department, 'dept:'), 'tag:' || queue_tag) = $3
			  AND queue_number > $4
		`, models.ServiceReception, day, scope, *visit.QueueNumber); err != nil {
			return models.Visit{}, err
		}
		visit.QueueNumber = nil
	} else {
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET status = $2 WHERE visit_id = $1
		`, input.VisitID, models.StatusClaimed); err != nil {
			return models.Visit{}, err
		}
	}
	visit.Status = models.StatusClaimed

	if err = insertOutboxEvent(ctx, tx, "visit.claimed", map[string]any{
		"visit_id":   visit.VisitID,
		"patient_id": visit.PatientID,
		"kind":       input.Kind,
		"claimed_by": input.ClaimedBy,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.ClaimedBy, "visit.claim."+input.Kind, visit.VisitID, ""); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	if visit.Claims, err = loadClaims(ctx, s.pool, visit.VisitID); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) VerifyArrival(ctx context.Context, input store.VerifyArrivalInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	visit, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if !store.ValidTransition("verify_arrival", visit.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	var holder string
	row := tx.QueryRow(ctx, `
		SELECT claimed_by FROM visit_claims WHERE visit_id = $1 AND kind = $2
	`, input.VisitID, input.Kind)
	if err = row.Scan(&holder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNotClaimed
		}
		return models.Visit{}, err
	}
	if holder != input.VerifiedBy {
		err = store.ErrAccessDenied
		return models.Visit{}, err
	}

	var code, email string
	row = tx.QueryRow(ctx, `SELECT patient_code, email FROM patients WHERE patient_id = $1`, visit.PatientID)
	if err = row.Scan(&code, &email); err != nil {
		return models.Visit{}, err
	}
	codeMatch := input.PatientCode != "" && strings.EqualFold(input.PatientCode, code)
	emailMatch := input.Email != "" && strings.EqualFold(input.Email, email)
	if !codeMatch && !emailMatch {
		err = store.ErrVerifyMismatch
		return models.Visit{}, err
	}

	verifiedAt := input.VerifiedAt
	if verifiedAt.IsZero() {
		verifiedAt = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		UPDATE visit_claims SET arrived_at = $3 WHERE visit_id = $1 AND kind = $2
	`, input.VisitID, input.Kind, verifiedAt); err != nil {
		return models.Visit{}, err
	}
	switch input.Kind {
	case models.ClaimDoctor:
		// Arrival is what makes the patient ready for the doctor.
		_, err = tx.Exec(ctx, `
			UPDATE visits SET doctor_arrived = TRUE, doctor_status = $2 WHERE visit_id = $1
		`, input.VisitID, models.DoctorStatusReady)
		visit.DoctorArrived = true
		visit.DoctorStatus = models.DoctorStatusReady
	case models.ClaimLab:
		_, err = tx.Exec(ctx, `UPDATE visits SET lab_arrived = TRUE WHERE visit_id = $1`, input.VisitID)
		visit.LabArrived = true
	}
	if err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "visit.arrived", map[string]any{
		"visit_id":   visit.VisitID,
		"patient_id": visit.PatientID,
		"kind":       input.Kind,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.VerifiedBy, "visit.verify."+input.Kind, visit.VisitID, ""); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	if visit.Claims, err = loadClaims(ctx, s.pool, visit.VisitID); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) SaveConsultation(ctx context.Context, input store.ConsultationInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	reception, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if reception.Service != models.ServiceReception || !store.ValidTransition("consult", reception.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	var holder string
	var arrived sql.NullTime
	row := tx.QueryRow(ctx, `
		SELECT claimed_by, arrived_at FROM visit_claims WHERE visit_id = $1 AND kind = $2
	`, input.VisitID, models.ClaimDoctor)
	if err = row.Scan(&holder, &arrived); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNotClaimed
		}
		return models.Visit{}, err
	}
	if holder != input.DoctorUserID {
		err = store.ErrAccessDenied
		return models.Visit{}, err
	}
	if !arrived.Valid {
		err = store.ErrNotArrived
		return models.Visit{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	day := dayOf(occurredAt)

	// One open consultation per doctor. Lock any open drafts so two
	// concurrent consults cannot both pass the check.
	rows, err := tx.Query(ctx, `
		SELECT visit_id, patient_id, queue_day FROM visits
		WHERE service = $1 AND doctor_user_id = $2 AND doctor_done = FALSE
		FOR UPDATE
	`, models.ServiceDoctor, input.DoctorUserID)
	if err != nil {
		return models.Visit{}, err
	}
	var draftID string
	for rows.Next() {
		var id, patientID string
		var draftDay time.Time
		if err = rows.Scan(&id, &patientID, &draftDay); err != nil {
			rows.Close()
			return models.Visit{}, err
		}
		if patientID == reception.PatientID && draftDay.Equal(day) {
			draftID = id
			continue
		}
		rows.Close()
		err = store.ErrConsultationOpen
		return models.Visit{}, err
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return models.Visit{}, err
	}

	var consult models.Visit
	if draftID != "" {
		row = tx.QueryRow(ctx, `
			UPDATE visits SET symptoms = $2, diagnosis = $3, notes = $4
			WHERE visit_id = $1
			RETURNING `+visitColumns, draftID, input.Symptoms, input.Diagnosis, input.Notes)
	} else {
		row = tx.QueryRow(ctx, `
			INSERT INTO visits (
				visit_id, patient_id, service, status, queue_day, department,
				symptoms, diagnosis, notes, source_visit_id, doctor_user_id, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING `+visitColumns,
			uuid.NewString(), reception.PatientID, models.ServiceDoctor, models.StatusInProcess, day,
			reception.Department, input.Symptoms, input.Diagnosis, input.Notes,
			reception.VisitID, input.DoctorUserID, occurredAt)
	}
	if consult, err = scanVisit(row); err != nil {
		return models.Visit{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE visits SET status = $2, doctor_status = $3 WHERE visit_id = $1
	`, reception.VisitID, models.StatusInProcess, models.DoctorStatusInConsultation); err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "visit.consulting", map[string]any{
		"visit_id":   reception.VisitID,
		"consult_id": consult.VisitID,
		"patient_id": reception.PatientID,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.DoctorUserID, "visit.consult", consult.VisitID, ""); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return consult, nil
}

func (s *Store) FinishConsultation(ctx context.Context, input store.FinishConsultationInput) (models.Visit, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Visit{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	consult, err := lockVisit(ctx, tx, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if consult.Service != models.ServiceDoctor || !store.ValidTransition("finish", consult.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}
	if consult.DoctorUserID != input.DoctorUserID {
		err = store.ErrAccessDenied
		return models.Visit{}, err
	}

	finishedAt := input.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE visits SET
			diagnosis = $2, prescription_notes = $3, lab_tests = $4,
			doctor_done = TRUE, doctor_done_at = $5, status = $6
		WHERE visit_id = $1
		RETURNING `+visitColumns,
		consult.VisitID, input.Diagnosis, input.PrescriptionNotes, input.LabTests,
		finishedAt, models.StatusDone)
	if consult, err = scanVisit(row); err != nil {
		return models.Visit{}, err
	}

	// Reflect onto the reception ticket the patient is tracking. A
	// pending lab referral keeps it open.
	if consult.SourceVisitID != "" {
		receptionStatus := models.StatusDone
		if input.LabTests != "" {
			receptionStatus = models.StatusInProcess
		}
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET status = $2, doctor_status = $3, lab_tests = $4
			WHERE visit_id = $1
		`, consult.SourceVisitID, receptionStatus, models.DoctorStatusFinished, input.LabTests); err != nil {
			return models.Visit{}, err
		}
	}

	if len(input.Medicines) > 0 {
		prescriptionID := uuid.NewString()
		if _, err = tx.Exec(ctx, `
			INSERT INTO prescriptions (prescription_id, visit_id, patient_id, status, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, prescriptionID, consult.VisitID, consult.PatientID, models.PrescriptionPending,
			input.PrescriptionNotes, finishedAt); err != nil {
			return models.Visit{}, err
		}
		for _, med := range input.Medicines {
			if _, err = tx.Exec(ctx, `
				INSERT INTO prescription_medicines (medicine_id, prescription_id, name, dosage, quantity, instructions)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, uuid.NewString(), prescriptionID, med.Name, med.Dosage, med.Quantity, med.Instructions); err != nil {
				return models.Visit{}, err
			}
		}
		if err = insertOutboxEvent(ctx, tx, "prescription.created", map[string]any{
			"prescription_id": prescriptionID,
			"visit_id":        consult.VisitID,
			"patient_id":      consult.PatientID,
		}); err != nil {
			return models.Visit{}, err
		}
	}

	if err = insertOutboxEvent(ctx, tx, "visit.finished", map[string]any{
		"visit_id":   consult.VisitID,
		"patient_id": consult.PatientID,
		"lab_tests":  input.LabTests,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.DoctorUserID, "visit.finish", consult.VisitID, ""); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return consult, nil
}

func lockVisit(ctx context.Context, tx pgx.Tx, visitID string) (models.Visit, error) {
	row := tx.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id = $1 FOR UPDATE`, visitID)
	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, err
	}
	return visit, nil
}
