package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"clinicqr/internal/store"
)

func (s *Store) ReportVisits(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error) {
	query := `
		SELECT v.visit_id, p.first_name || ' ' || p.last_name, p.patient_code,
		       v.service, v.department, v.status, v.queue_number, v.diagnosis, v.created_at,
		       GREATEST(v.doctor_done_at, v.lab_completed_at, v.dispensed_at, v.vaccination_date)
		FROM visits v
		JOIN patients p ON p.patient_id = v.patient_id
		WHERE 1=1`
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		query += clause + "$" + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		add(" AND v.created_at >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add(" AND v.created_at < ", filter.To)
	}
	if filter.Service != "" {
		add(" AND v.service = ", filter.Service)
	}
	if filter.Department != "" {
		add(" AND v.department = ", filter.Department)
	}
	query += " ORDER BY v.created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []store.ReportRow
	for rows.Next() {
		var r store.ReportRow
		var queueNumber sql.NullInt64
		var completedAt sql.NullTime
		if err := rows.Scan(&r.VisitID, &r.PatientName, &r.PatientCode, &r.Service, &r.Department,
			&r.Status, &queueNumber, &r.Diagnosis, &r.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if queueNumber.Valid {
			n := int(queueNumber.Int64)
			r.QueueNumber = &n
		}
		r.CompletedAt = nullTimePtr(completedAt)
		report = append(report, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
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

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
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

func (s *Store) ListActivity(ctx context.Context, limit int) ([]store.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, COALESCE(actor_id, ''), action, subject, detail, occurred_at
		FROM activity_log
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.ActivityEntry
	for rows.Next() {
		var entry store.ActivityEntry
		if err := rows.Scan(&entry.EntryID, &entry.ActorID, &entry.Action, &entry.Subject, &entry.Detail, &entry.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) PurgeVisits(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM visits WHERE created_at < $1 AND status = 'done'
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
