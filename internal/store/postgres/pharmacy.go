package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"github.com/jackc/pgx/v5"
)

const prescriptionColumns = `
	prescription_id, visit_id, patient_id, status, notes, created_at, ready_at, dispensed_at, dispensed_by`

func scanPrescription(row pgx.Row) (models.Prescription, error) {
	var p models.Prescription
	var readyAt, dispensedAt sql.NullTime
	var dispensedBy sql.NullString
	err := row.Scan(&p.PrescriptionID, &p.VisitID, &p.PatientID, &p.Status, &p.Notes,
		&p.CreatedAt, &readyAt, &dispensedAt, &dispensedBy)
	if err != nil {
		return models.Prescription{}, err
	}
	p.ReadyAt = nullTimePtr(readyAt)
	p.DispensedAt = nullTimePtr(dispensedAt)
	if dispensedBy.Valid {
		p.DispensedBy = dispensedBy.String
	}
	return p, nil
}

func (s *Store) ListPrescriptions(ctx context.Context, status string) ([]models.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prescriptions []models.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range prescriptions {
		meds, err := listMedicines(ctx, s.pool, prescriptions[i].PrescriptionID)
		if err != nil {
			return nil, err
		}
		prescriptions[i].Medicines = meds
	}
	return prescriptions, nil
}

func (s *Store) GetPrescription(ctx context.Context, prescriptionID string) (models.Prescription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+prescriptionColumns+` FROM prescriptions WHERE prescription_id = $1
	`, prescriptionID)
	p, err := scanPrescription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Prescription{}, store.ErrVisitNotFound
		}
		return models.Prescription{}, err
	}
	if p.Medicines, err = listMedicines(ctx, s.pool, prescriptionID); err != nil {
		return models.Prescription{}, err
	}
	return p, nil
}

func listMedicines(ctx context.Context, q querier, prescriptionID string) ([]models.PrescriptionMedicine, error) {
	rows, err := q.Query(ctx, `
		SELECT medicine_id, prescription_id, name, dosage, quantity, instructions, dispensed_quantity, substitution_notes
		FROM prescription_medicines
		WHERE prescription_id = $1
		ORDER BY name ASC
	`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meds []models.PrescriptionMedicine
	for rows.Next() {
		var m models.PrescriptionMedicine
		if err := rows.Scan(&m.MedicineID, &m.PrescriptionID, &m.Name, &m.Dosage, &m.Quantity,
			&m.Instructions, &m.DispensedQuantity, &m.SubstitutionNotes); err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meds, nil
}

func (s *Store) MarkPrescriptionReady(ctx context.Context, prescriptionID, userID string) (models.Prescription, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Prescription{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var status string
	row := tx.QueryRow(ctx, `
		SELECT status FROM prescriptions WHERE prescription_id = $1 FOR UPDATE
	`, prescriptionID)
	if err = row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Prescription{}, err
	}
	if status != models.PrescriptionPending {
		err = store.ErrInvalidState
		return models.Prescription{}, err
	}

	row = tx.QueryRow(ctx, `
		UPDATE prescriptions SET status = $2, ready_at = $3
		WHERE prescription_id = $1
		RETURNING `+prescriptionColumns,
		prescriptionID, models.PrescriptionReady, time.Now().UTC())
	p, err := scanPrescription(row)
	if err != nil {
		return models.Prescription{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "prescription.ready", map[string]any{
		"prescription_id": p.PrescriptionID,
		"patient_id":      p.PatientID,
	}); err != nil {
		return models.Prescription{}, err
	}
	if err = insertActivity(ctx, tx, userID, "prescription.ready", p.PrescriptionID, ""); err != nil {
		return models.Prescription{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Prescription{}, err
	}
	return p, nil
}

func (s *Store) DispensePrescription(ctx context.Context, input store.DispenseInput) (models.Prescription, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Prescription{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var status, visitID string
	row := tx.QueryRow(ctx, `
		SELECT status, visit_id FROM prescriptions WHERE prescription_id = $1 FOR UPDATE
	`, input.PrescriptionID)
	if err = row.Scan(&status, &visitID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrVisitNotFound
		}
		return models.Prescription{}, err
	}
	if status == models.PrescriptionDispensed {
		err = store.ErrInvalidState
		return models.Prescription{}, err
	}

	dispensedAt := input.DispensedAt
	if dispensedAt.IsZero() {
		dispensedAt = time.Now().UTC()
	}

	meds, err := listMedicines(ctx, tx, input.PrescriptionID)
	if err != nil {
		return models.Prescription{}, err
	}
	for _, med := range meds {
		qty, ok := input.Quantities[med.MedicineID]
		if !ok {
			qty = med.Quantity
		}
		if _, err = tx.Exec(ctx, `
			UPDATE prescription_medicines SET dispensed_quantity = $2, substitution_notes = $3
			WHERE medicine_id = $1
		`, med.MedicineID, qty, input.Substitutions[med.MedicineID]); err != nil {
			return models.Prescription{}, err
		}
	}

	row = tx.QueryRow(ctx, `
		UPDATE prescriptions SET status = $2, dispensed_at = $3, dispensed_by = $4
		WHERE prescription_id = $1
		RETURNING `+prescriptionColumns,
		input.PrescriptionID, models.PrescriptionDispensed, dispensedAt, input.DispensedBy)
	p, err := scanPrescription(row)
	if err != nil {
		return models.Prescription{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE visits SET dispensed = TRUE, dispensed_at = $2 WHERE visit_id = $1
	`, visitID, dispensedAt); err != nil {
		return models.Prescription{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "prescription.dispensed", map[string]any{
		"prescription_id": p.PrescriptionID,
		"patient_id":      p.PatientID,
	}); err != nil {
		return models.Prescription{}, err
	}
	if err = insertActivity(ctx, tx, input.DispensedBy, "prescription.dispense", p.PrescriptionID, ""); err != nil {
		return models.Prescription{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Prescription{}, err
	}
	if p.Medicines, err = listMedicines(ctx, s.pool, p.PrescriptionID); err != nil {
		return models.Prescription{}, err
	}
	return p, nil
}
