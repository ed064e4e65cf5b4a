package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) ReceiveVaccination(ctx context.Context, input store.ReceiveVaccinationInput) (models.Visit, error) {
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
	if reception.Service != models.ServiceReception || !store.ValidTransition("receive_vaccination", reception.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}
	claim, ok, err := findClaim(ctx, tx, input.VisitID, models.ClaimVaccination)
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

	var vaccineName string
	row := tx.QueryRow(ctx, `
		SELECT name FROM vaccine_types WHERE vaccine_type_id = $1 AND active = TRUE
	`, input.VaccineTypeID)
	if err = row.Scan(&vaccineName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
		}
		return models.Visit{}, err
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	var queueNumber interface{}
	if reception.QueueNumber != nil {
		queueNumber = *reception.QueueNumber
	}
	row = tx.QueryRow(ctx, `
		INSERT INTO visits (
			visit_id, patient_id, service, status, queue_number, queue_tag, queue_day,
			vaccine_type, source_visit_id, created_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+visitColumns,
		uuid.NewString(), reception.PatientID, models.ServiceVaccination, models.StatusInProcess,
		queueNumber, models.TagVaccination, dayOf(receivedAt), vaccineName,
		reception.VisitID, receivedAt, input.ReceivedBy)
	vaccVisit, err := scanVisit(row)
	if err != nil {
		return models.Visit{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE visits SET status = $2 WHERE visit_id = $1
	`, reception.VisitID, models.StatusInProcess); err != nil {
		return models.Visit{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "vaccination.received", map[string]any{
		"visit_id":     vaccVisit.VisitID,
		"source_visit": reception.VisitID,
		"patient_id":   reception.PatientID,
		"vaccine_type": vaccineName,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.ReceivedBy, "vaccination.receive", vaccVisit.VisitID, vaccineName); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return vaccVisit, nil
}

func (s *Store) FinishVaccination(ctx context.Context, input store.FinishVaccinationInput) (models.Visit, error) {
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
	if visit.Service != models.ServiceVaccination || !store.ValidTransition("finish_vaccination", visit.Status) {
		err = store.ErrInvalidState
		return models.Visit{}, err
	}

	var vt models.VaccineType
	row := tx.QueryRow(ctx, `
		SELECT vaccine_type_id, name, total_doses, dose_intervals
		FROM vaccine_types WHERE vaccine_type_id = $1
	`, input.VaccineTypeID)
	if err = row.Scan(&vt.VaccineTypeID, &vt.Name, &vt.TotalDoses, &vt.DoseIntervals); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
		}
		return models.Visit{}, err
	}

	finishedAt := input.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	today := dayOf(finishedAt)

	vaccinationID, doseNumber, err := recordDose(ctx, tx, visit.PatientID, vt, input.FinishedBy, today)
	if err != nil {
		return models.Visit{}, err
	}

	doseLabel := fmt.Sprintf("Dose %d of %d", doseNumber, vt.TotalDoses)
	row = tx.QueryRow(ctx, `
		UPDATE visits SET vaccine_type = $2, vaccine_dose = $3, vaccination_date = $4, status = $5
		WHERE visit_id = $1
		RETURNING `+visitColumns,
		visit.VisitID, vt.Name, doseLabel, finishedAt, models.StatusDone)
	if visit, err = scanVisit(row); err != nil {
		return models.Visit{}, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO vaccination_records (record_id, visit_id, patient_id, vaccine_type, dose_label, administered_by, given_at, remarks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, uuid.NewString(), visit.VisitID, visit.PatientID, vt.Name, doseLabel,
		input.FinishedBy, finishedAt, input.Remarks); err != nil {
		return models.Visit{}, err
	}

	if visit.SourceVisitID != "" {
		if _, err = tx.Exec(ctx, `
			UPDATE visits SET status = $2 WHERE visit_id = $1
		`, visit.SourceVisitID, models.StatusDone); err != nil {
			return models.Visit{}, err
		}
	}

	if err = insertOutboxEvent(ctx, tx, "vaccination.finished", map[string]any{
		"visit_id":       visit.VisitID,
		"patient_id":     visit.PatientID,
		"vaccine_type":   vt.Name,
		"dose_label":     doseLabel,
		"vaccination_id": vaccinationID,
	}); err != nil {
		return models.Visit{}, err
	}
	if err = insertActivity(ctx, tx, input.FinishedBy, "vaccination.finish", visit.VisitID, doseLabel); err != nil {
		return models.Visit{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

// recordDose advances the patient's series for the vaccine type: marks the
// next dose given today, schedules the following one by the catalog
// interval, and completes the series after the final dose.
func recordDose(ctx context.Context, tx pgx.Tx, patientID string, vt models.VaccineType, givenBy string, today time.Time) (string, int, error) {
	var vaccinationID, status string
	row := tx.QueryRow(ctx, `
		SELECT vaccination_id, status FROM patient_vaccinations
		WHERE patient_id = $1 AND vaccine_type_id = $2
		FOR UPDATE
	`, patientID, vt.VaccineTypeID)
	err := row.Scan(&vaccinationID, &status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		vaccinationID = uuid.NewString()
		if _, err = tx.Exec(ctx, `
			INSERT INTO patient_vaccinations (vaccination_id, patient_id, vaccine_type_id, status, started_at)
			VALUES ($1,$2,$3,$4,$5)
		`, vaccinationID, patientID, vt.VaccineTypeID, models.SeriesInProgress, today); err != nil {
			return "", 0, err
		}
	case err != nil:
		return "", 0, err
	case status == models.SeriesCompleted:
		return "", 0, store.ErrSeriesCompleted
	}

	var given int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM vaccine_doses WHERE vaccination_id = $1 AND status = $2
	`, vaccinationID, models.DoseGiven)
	if err := row.Scan(&given); err != nil {
		return "", 0, err
	}
	doseNumber := given + 1
	if doseNumber > vt.TotalDoses {
		return "", 0, store.ErrSeriesCompleted
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO vaccine_doses (dose_id, vaccination_id, dose_number, status, given_date, given_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (vaccination_id, dose_number) DO UPDATE
		SET status = EXCLUDED.status, given_date = EXCLUDED.given_date, given_by = EXCLUDED.given_by
	`, uuid.NewString(), vaccinationID, doseNumber, models.DoseGiven, today, givenBy); err != nil {
		return "", 0, err
	}

	if doseNumber < vt.TotalDoses {
		nextDue := today.AddDate(0, 0, vt.IntervalBefore(doseNumber+1))
		if _, err := tx.Exec(ctx, `
			INSERT INTO vaccine_doses (dose_id, vaccination_id, dose_number, status, scheduled_date)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (vaccination_id, dose_number) DO UPDATE
			SET scheduled_date = EXCLUDED.scheduled_date
		`, uuid.NewString(), vaccinationID, doseNumber+1, models.DoseScheduled, nextDue); err != nil {
			return "", 0, err
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE patient_vaccinations SET status = $2, completed_at = $3 WHERE vaccination_id = $1
		`, vaccinationID, models.SeriesCompleted, today); err != nil {
			return "", 0, err
		}
	}
	return vaccinationID, doseNumber, nil
}

func (s *Store) CreateVaccineType(ctx context.Context, input store.CreateVaccineTypeInput) (models.VaccineType, error) {
	var vt models.VaccineType
	row := s.pool.QueryRow(ctx, `
		INSERT INTO vaccine_types (vaccine_type_id, name, description, total_doses, dose_intervals, active, created_at)
		VALUES ($1,$2,$3,$4,$5,TRUE,$6)
		RETURNING vaccine_type_id, name, description, total_doses, dose_intervals, active, created_at
	`, uuid.NewString(), input.Name, input.Description, input.TotalDoses, input.DoseIntervals, time.Now().UTC())
	if err := row.Scan(&vt.VaccineTypeID, &vt.Name, &vt.Description, &vt.TotalDoses, &vt.DoseIntervals, &vt.Active, &vt.CreatedAt); err != nil {
		return models.VaccineType{}, err
	}
	return vt, nil
}

func (s *Store) ListVaccineTypes(ctx context.Context) ([]models.VaccineType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vaccine_type_id, name, description, total_doses, dose_intervals, active, created_at
		FROM vaccine_types
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []models.VaccineType
	for rows.Next() {
		var vt models.VaccineType
		if err := rows.Scan(&vt.VaccineTypeID, &vt.Name, &vt.Description, &vt.TotalDoses, &vt.DoseIntervals, &vt.Active, &vt.CreatedAt); err != nil {
			return nil, err
		}
		types = append(types, vt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return types, nil
}

func (s *Store) ListPatientVaccinations(ctx context.Context, patientID string) ([]models.PatientVaccination, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pv.vaccination_id, pv.patient_id, pv.vaccine_type_id, vt.name, pv.status, pv.started_at, pv.completed_at
		FROM patient_vaccinations pv
		JOIN vaccine_types vt ON vt.vaccine_type_id = pv.vaccine_type_id
		WHERE pv.patient_id = $1
		ORDER BY pv.started_at ASC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []models.PatientVaccination
	for rows.Next() {
		var pv models.PatientVaccination
		var completedAt sql.NullTime
		if err := rows.Scan(&pv.VaccinationID, &pv.PatientID, &pv.VaccineTypeID, &pv.VaccineName, &pv.Status, &pv.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		pv.CompletedAt = nullTimePtr(completedAt)
		series = append(series, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range series {
		doses, err := listDoses(ctx, s.pool, series[i].VaccinationID)
		if err != nil {
			return nil, err
		}
		series[i].Doses = doses
	}
	return series, nil
}

func listDoses(ctx context.Context, q querier, vaccinationID string) ([]models.VaccineDose, error) {
	rows, err := q.Query(ctx, `
		SELECT dose_id, vaccination_id, dose_number, status, scheduled_date, given_date, given_by, notes
		FROM vaccine_doses
		WHERE vaccination_id = $1
		ORDER BY dose_number ASC
	`, vaccinationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doses []models.VaccineDose
	for rows.Next() {
		var d models.VaccineDose
		var scheduled, given sql.NullTime
		var givenBy, notes sql.NullString
		if err := rows.Scan(&d.DoseID, &d.VaccinationID, &d.DoseNumber, &d.Status, &scheduled, &given, &givenBy, &notes); err != nil {
			return nil, err
		}
		d.ScheduledDate = nullTimePtr(scheduled)
		d.GivenDate = nullTimePtr(given)
		if givenBy.Valid {
			d.GivenBy = givenBy.String
		}
		if notes.Valid {
			d.Notes = notes.String
		}
		doses = append(doses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doses, nil
}

func (s *Store) ListDueDoses(ctx context.Context, from, to time.Time) ([]store.DueDose, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.dose_id, p.patient_id, p.first_name || ' ' || p.last_name, p.email,
		       vt.name, d.dose_number, d.scheduled_date
		FROM vaccine_doses d
		JOIN patient_vaccinations pv ON pv.vaccination_id = d.vaccination_id
		JOIN vaccine_types vt ON vt.vaccine_type_id = pv.vaccine_type_id
		JOIN patients p ON p.patient_id = pv.patient_id
		WHERE d.status = $1 AND pv.status = $2 AND d.scheduled_date BETWEEN $3 AND $4
		ORDER BY d.scheduled_date ASC
	`, models.DoseScheduled, models.SeriesInProgress, dayOf(from), dayOf(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []store.DueDose
	for rows.Next() {
		var d store.DueDose
		if err := rows.Scan(&d.DoseID, &d.PatientID, &d.PatientName, &d.PatientEmail, &d.VaccineName, &d.DoseNumber, &d.ScheduledDate); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return due, nil
}
