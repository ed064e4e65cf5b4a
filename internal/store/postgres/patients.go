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
	"github.com/jackc/pgx/v5/pgconn"
)

const patientColumns = `
	patient_id, patient_code, first_name, middle_name, last_name, email,
	contact_no, address, birth_date, gender, username, password_hash, created_at`

func scanPatient(row pgx.Row) (models.Patient, error) {
	var p models.Patient
	var birthDate sql.NullTime
	err := row.Scan(
		&p.PatientID, &p.PatientCode, &p.FirstName, &p.MiddleName, &p.LastName, &p.Email,
		&p.ContactNo, &p.Address, &birthDate, &p.Gender, &p.Username, &p.PasswordHash, &p.CreatedAt,
	)
	if err != nil {
		return models.Patient{}, err
	}
	p.BirthDate = nullTimePtr(birthDate)
	return p, nil
}

func (s *Store) CreatePatient(ctx context.Context, input store.CreatePatientInput) (models.Patient, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Patient{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	patientID := input.PatientID
	if patientID == "" {
		patientID = uuid.NewString()
	}

	// Re-registration with a known email reuses the existing row: the
	// demographics and password are refreshed, the code, username, and QR
	// badge stay as first issued.
	var existingID string
	row := tx.QueryRow(ctx, `
		SELECT patient_id FROM patients WHERE LOWER(email) = LOWER($1) FOR UPDATE
	`, input.Email)
	switch err = row.Scan(&existingID); {
	case err == nil:
		row = tx.QueryRow(ctx, `
			UPDATE patients SET
				first_name = $2, middle_name = $3, last_name = $4, contact_no = $5,
				address = $6, birth_date = $7, gender = $8, password_hash = $9
			WHERE patient_id = $1
			RETURNING `+patientColumns,
			existingID, input.FirstName, input.MiddleName, input.LastName, input.ContactNo,
			input.Address, input.BirthDate, input.Gender, input.PasswordHash)
	case errors.Is(err, pgx.ErrNoRows):
		row = tx.QueryRow(ctx, `
			INSERT INTO patients (
				patient_id, patient_code, first_name, middle_name, last_name, email,
				contact_no, address, birth_date, gender, username, password_hash, qr_png, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			RETURNING `+patientColumns,
			patientID, input.PatientCode, input.FirstName, input.MiddleName, input.LastName,
			input.Email, input.ContactNo, input.Address, input.BirthDate, input.Gender,
			input.Username, input.PasswordHash, input.QRPNG, createdAt)
	default:
		return models.Patient{}, err
	}

	patient, err := scanPatient(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = store.ErrDuplicatePatient
		}
		return models.Patient{}, err
	}
	if existingID == "" {
		patient.QRPNG = input.QRPNG
	}

	if err = insertOutboxEvent(ctx, tx, "patient.registered", map[string]any{
		"patient_id":   patient.PatientID,
		"patient_code": patient.PatientCode,
		"name":         patient.FullName(),
		"email":        patient.Email,
		"username":     patient.Username,
	}); err != nil {
		return models.Patient{}, err
	}
	if err = insertActivity(ctx, tx, "", "patient.register", patient.PatientID, patient.PatientCode); err != nil {
		return models.Patient{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`, qr_png FROM patients WHERE patient_id = $1
	`, patientID)
	return scanPatientWithQR(row)
}

func (s *Store) GetPatientByCode(ctx context.Context, code string) (models.Patient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`, qr_png FROM patients WHERE UPPER(patient_code) = UPPER($1)
	`, code)
	return scanPatientWithQR(row)
}

func scanPatientWithQR(row pgx.Row) (models.Patient, error) {
	var p models.Patient
	var birthDate sql.NullTime
	err := row.Scan(
		&p.PatientID, &p.PatientCode, &p.FirstName, &p.MiddleName, &p.LastName, &p.Email,
		&p.ContactNo, &p.Address, &birthDate, &p.Gender, &p.Username, &p.PasswordHash, &p.CreatedAt,
		&p.QRPNG,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	p.BirthDate = nullTimePtr(birthDate)
	return p, nil
}

func (s *Store) ListPatients(ctx context.Context, search string, limit int) ([]models.Patient, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + patientColumns + ` FROM patients`
	args := []interface{}{}
	if search != "" {
		query += ` WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR patient_code ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+search+"%")
		query += ` ORDER BY last_name ASC LIMIT $2`
	} else {
		query += ` ORDER BY last_name ASC LIMIT $1`
	}
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		patient, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return patients, nil
}
