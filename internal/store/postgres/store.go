package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"clinicqr/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier covers both pgxpool.Pool and pgx.Tx for read paths.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const visitColumns = `
	visit_id, patient_id, service, status, queue_number, queue_tag, department, notes,
	symptoms, diagnosis, prescription_notes, doctor_done, doctor_done_at, doctor_arrived, doctor_status,
	lab_tests, lab_test_type, lab_results, lab_completed, lab_completed_at, lab_arrived,
	medicines, dispensed, dispensed_at,
	vaccine_type, vaccine_dose, vaccination_date,
	source_visit_id, created_at, created_by, doctor_user_id`

func scanVisit(row pgx.Row) (models.Visit, error) {
	var v models.Visit
	var queueNumber sql.NullInt64
	var doctorDoneAt, dispensedAt, labCompletedAt, vaccinationDate sql.NullTime
	var sourceVisitID, createdBy, doctorUserID sql.NullString
	err := row.Scan(
		&v.VisitID, &v.PatientID, &v.Service, &v.Status, &queueNumber, &v.QueueTag, &v.Department, &v.Notes,
		&v.Symptoms, &v.Diagnosis, &v.PrescriptionNotes, &v.DoctorDone, &doctorDoneAt, &v.DoctorArrived, &v.DoctorStatus,
		&v.LabTests, &v.LabTestType, &v.LabResults, &v.LabCompleted, &labCompletedAt, &v.LabArrived,
		&v.Medicines, &v.Dispensed, &dispensedAt,
		&v.VaccineType, &v.VaccineDose, &vaccinationDate,
		&sourceVisitID, &v.CreatedAt, &createdBy, &doctorUserID,
	)
	if err != nil {
		return models.Visit{}, err
	}
	if queueNumber.Valid {
		n := int(queueNumber.Int64)
		v.QueueNumber = &n
	}
	v.DoctorDoneAt = nullTimePtr(doctorDoneAt)
	v.LabCompletedAt = nullTimePtr(labCompletedAt)
	v.DispensedAt = nullTimePtr(dispensedAt)
	v.VaccinationDate = nullTimePtr(vaccinationDate)
	if sourceVisitID.Valid {
		v.SourceVisitID = sourceVisitID.String
	}
	if createdBy.Valid {
		v.CreatedBy = createdBy.String
	}
	if doctorUserID.Valid {
		v.DoctorUserID = doctorUserID.String
	}
	return v, nil
}

func loadClaims(ctx context.Context, q querier, visitID string) ([]models.Claim, error) {
	rows, err := q.Query(ctx, `
		SELECT visit_id, kind, claimed_by, claimed_at, arrived_at
		FROM visit_claims
		WHERE visit_id = $1
		ORDER BY claimed_at ASC
	`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		var arrivedAt sql.NullTime
		if err := rows.Scan(&c.VisitID, &c.Kind, &c.ClaimedBy, &c.ClaimedAt, &arrivedAt); err != nil {
			return nil, err
		}
		c.ArrivedAt = nullTimePtr(arrivedAt)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return claims, nil
}

// scopeKey identifies one queue numbering scope for a given day. Tickets
// routed to a consultation department queue under the department; untagged
// service tickets queue under their tag.
func scopeKey(department, queueTag string) string {
	if department != "" {
		return "dept:" + department
	}
	return "tag:" + queueTag
}

// lockQueueScope serializes all numbering work for one (day, scope) pair.
// Concurrent reception and claim transactions on the same scope line up
// behind the row lock, so max+1 assignment and renumbering never interleave.
func lockQueueScope(ctx context.Context, tx pgx.Tx, day time.Time, scope string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_scopes (queue_day, scope)
		VALUES ($1, $2)
		ON CONFLICT (queue_day, scope) DO NOTHING
	`, day, scope); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		SELECT 1 FROM queue_scopes WHERE queue_day = $1 AND scope = $2 FOR UPDATE
	`, day, scope)
	return err
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, body, time.Now().UTC())
	return err
}

func insertActivity(ctx context.Context, tx pgx.Tx, actorID, action, subject, detail string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO activity_log (entry_id, actor_id, action, subject, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), nullIfEmpty(actorID), action, subject, detail, time.Now().UTC())
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
