package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const consumerName = "notifier"

// DB is the subset of pgxpool.Pool the worker store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the worker's view of the database: the shared outbox plus its
// own offset, delivery log, and dead letter queue.
type Store struct {
	pool DB
}

func NewStore(pool DB) *Store {
	return &Store{pool: pool}
}

type Event struct {
	EventID   string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

func (s *Store) LastOffset(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	row := s.pool.QueryRow(ctx, `SELECT last_seen FROM notifier_offsets WHERE consumer = $1`, consumerName)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Unix(0, 0).UTC(), nil
		}
		return time.Time{}, err
	}
	return last.Time, nil
}

func (s *Store) SaveOffset(ctx context.Context, last time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifier_offsets (consumer, last_seen)
		VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET last_seen = EXCLUDED.last_seen
	`, consumerName, last)
	return err
}

func (s *Store) ListEvents(ctx context.Context, after time.Time, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) RecordPending(ctx context.Context, eventID, recipient, subject string) (string, error) {
	notificationID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, event_id, channel, recipient, subject, status, attempts)
		VALUES ($1, $2, 'email', $3, $4, 'pending', 1)
	`, notificationID, eventID, recipient, subject)
	return notificationID, err
}

func (s *Store) MarkSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'sent', sent_at = $2 WHERE notification_id = $1
	`, notificationID, time.Now().UTC())
	return err
}

func (s *Store) MarkFailed(ctx context.Context, notificationID, reason string) (int, error) {
	var attempts int
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications SET status = 'failed', last_error = $2, attempts = attempts + 1
		WHERE notification_id = $1
		RETURNING attempts
	`, notificationID, reason)
	if err := row.Scan(&attempts); err != nil {
		return 0, err
	}
	return attempts, nil
}

func (s *Store) PushDLQ(ctx context.Context, eventID string, payload json.RawMessage, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (event_id, payload, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, payload, reason)
	return err
}

func (s *Store) PatientQR(ctx context.Context, patientID string) ([]byte, error) {
	var qr []byte
	row := s.pool.QueryRow(ctx, `SELECT qr_png FROM patients WHERE patient_id = $1`, patientID)
	if err := row.Scan(&qr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return qr, nil
}

// InsertReminderEvent writes a dose.reminder outbox event, deduplicated per
// dose per day by the reminder key.
func (s *Store) InsertReminderEvent(ctx context.Context, doseID string, payload any) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	day := time.Now().UTC().Format("2006-01-02")
	commandTag, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload, created_at)
		SELECT $1, 'dose.reminder', $2, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM outbox_events
			WHERE type = 'dose.reminder'
			  AND payload->>'dose_id' = $3
			  AND created_at::date = $4::date
		)
	`, uuid.NewString(), body, doseID, day)
	if err != nil {
		return false, err
	}
	return commandTag.RowsAffected() > 0, nil
}
