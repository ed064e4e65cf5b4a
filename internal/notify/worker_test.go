package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

type scriptedProvider struct {
	err  error
	sent []Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(ctx context.Context, msg Message) error {
	p.sent = append(p.sent, msg)
	return p.err
}

func TestWorkerRunDeliversEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	payload := []byte(`{"patient_email":"jane@example.com","patient_name":"Jane","queue_number":3,"department":"general"}`)

	mock.ExpectQuery("SELECT last_seen FROM notifier_offsets").
		WithArgs("notifier").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT event_id, type, payload, created_at").
		WithArgs(pgxmock.AnyArg(), 50).
		WillReturnRows(pgxmock.NewRows([]string{"event_id", "type", "payload", "created_at"}).
			AddRow("evt-1", "visit.queued", payload, createdAt))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), "evt-1", "jane@example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE notifications SET status = 'sent'").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO notifier_offsets").
		WithArgs("notifier", createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	provider := &scriptedProvider{}
	worker := NewWorker(NewStore(mock), provider, Config{})

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(provider.sent))
	}
	if provider.sent[0].Subject != "You are number 3 in the general queue" {
		t.Fatalf("subject = %q", provider.sent[0].Subject)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWorkerRunFailurePushesDLQ(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	payload := []byte(`{"patient_email":"jane@example.com","patient_name":"Jane","queue_number":1,"department":"general"}`)

	mock.ExpectQuery("SELECT last_seen FROM notifier_offsets").
		WithArgs("notifier").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT event_id, type, payload, created_at").
		WithArgs(pgxmock.AnyArg(), 50).
		WillReturnRows(pgxmock.NewRows([]string{"event_id", "type", "payload", "created_at"}).
			AddRow("evt-2", "visit.queued", payload, createdAt))
	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(pgxmock.AnyArg(), "evt-2", "jane@example.com", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("UPDATE notifications SET status = 'failed'").
		WithArgs(pgxmock.AnyArg(), "smtp down").
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(3))
	mock.ExpectExec("INSERT INTO notification_dlq").
		WithArgs("evt-2", json.RawMessage(payload), "max attempts reached").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO notifier_offsets").
		WithArgs("notifier", createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	provider := &scriptedProvider{err: errors.New("smtp down")}
	worker := NewWorker(NewStore(mock), provider, Config{MaxAttempts: 3})

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWorkerRunSkipsBoardOnlyEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	createdAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT last_seen FROM notifier_offsets").
		WithArgs("notifier").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT event_id, type, payload, created_at").
		WithArgs(pgxmock.AnyArg(), 50).
		WillReturnRows(pgxmock.NewRows([]string{"event_id", "type", "payload", "created_at"}).
			AddRow("evt-3", "visit.claimed", []byte(`{"visit_id":"v1"}`), createdAt))
	mock.ExpectExec("INSERT INTO notifier_offsets").
		WithArgs("notifier", createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	provider := &scriptedProvider{}
	worker := NewWorker(NewStore(mock), provider, Config{})

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(provider.sent) != 0 {
		t.Fatalf("sent %d messages, want 0", len(provider.sent))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertReminderEventDeduplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "dose-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO outbox_events").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "dose-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	s := NewStore(mock)
	inserted, err := s.InsertReminderEvent(context.Background(), "dose-1", map[string]any{"dose_id": "dose-1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should land")
	}
	inserted, err = s.InsertReminderEvent(context.Background(), "dose-1", map[string]any{"dose_id": "dose-1"})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatal("second insert on the same day should deduplicate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
