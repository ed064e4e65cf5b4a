package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"clinicqr/internal/metrics"
	"clinicqr/internal/reports"
	"clinicqr/internal/store"
)

type Worker struct {
	store       *Store
	provider    Provider
	batchSize   int
	maxAttempts int
}

type Config struct {
	BatchSize   int
	MaxAttempts int
}

func NewWorker(s *Store, provider Provider, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{store: s, provider: provider, batchSize: batch, maxAttempts: maxAttempts}
}

// Run drains one batch of outbox events past the stored offset.
func (w *Worker) Run(ctx context.Context) error {
	last, err := w.store.LastOffset(ctx)
	if err != nil {
		return err
	}

	events, err := w.store.ListEvents(ctx, last, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notify process error: event=%s %v", event.EventID, err)
		}
		last = event.CreatedAt
	}

	if len(events) > 0 {
		return w.store.SaveOffset(ctx, last)
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event Event) error {
	msg, ok := eventMessage(event.Type, event.Payload)
	if !ok {
		return nil
	}

	attachments, err := w.attachmentsFor(ctx, event)
	if err != nil {
		return err
	}
	msg.Attachments = attachments

	notificationID, err := w.store.RecordPending(ctx, event.EventID, msg.Recipient, msg.Subject)
	if err != nil {
		return err
	}

	if sendErr := w.provider.Send(ctx, msg); sendErr != nil {
		metrics.NotificationsSent.WithLabelValues(w.provider.Name(), "failed").Inc()
		attempts, err := w.store.MarkFailed(ctx, notificationID, sendErr.Error())
		if err != nil {
			return err
		}
		if attempts >= w.maxAttempts {
			return w.store.PushDLQ(ctx, event.EventID, event.Payload, "max attempts reached")
		}
		return nil
	}
	metrics.NotificationsSent.WithLabelValues(w.provider.Name(), "sent").Inc()
	return w.store.MarkSent(ctx, notificationID)
}

func (w *Worker) attachmentsFor(ctx context.Context, event Event) ([]Attachment, error) {
	switch event.Type {
	case "patient.registered":
		patientID := payloadField(event.Payload, "patient_id")
		if patientID == "" {
			return nil, nil
		}
		qr, err := w.store.PatientQR(ctx, patientID)
		if err != nil || len(qr) == 0 {
			return nil, err
		}
		return []Attachment{{Filename: "patient-qr.png", ContentType: "image/png", Data: qr}}, nil
	case "lab.completed":
		pdf, err := reports.LabResultPDF(
			payloadField(event.Payload, "patient_name"),
			payloadField(event.Payload, "test_type"),
			payloadField(event.Payload, "results"),
		)
		if err != nil {
			return nil, err
		}
		return []Attachment{{Filename: "lab-results.pdf", ContentType: "application/pdf", Data: pdf}}, nil
	default:
		return nil, nil
	}
}

// DoseLister is the slice of the visit store the reminder scan needs.
type DoseLister interface {
	ListDueDoses(ctx context.Context, from, to time.Time) ([]store.DueDose, error)
}

// ScanReminders queues a dose.reminder event for every dose due inside the
// window. Duplicate scans on the same day are deduplicated per dose.
func (w *Worker) ScanReminders(ctx context.Context, lister DoseLister, windowDays int) error {
	now := time.Now().UTC()
	due, err := lister.ListDueDoses(ctx, now, now.AddDate(0, 0, windowDays))
	if err != nil {
		return err
	}
	for _, dose := range due {
		inserted, err := w.store.InsertReminderEvent(ctx, dose.DoseID, map[string]any{
			"dose_id":       dose.DoseID,
			"patient_id":    dose.PatientID,
			"patient_name":  dose.PatientName,
			"patient_email": dose.PatientEmail,
			"vaccine_name":  dose.VaccineName,
			"dose_number":   dose.DoseNumber,
			"due_date":      dose.ScheduledDate.Format("2006-01-02"),
		})
		if err != nil {
			return err
		}
		if inserted {
			log.Printf("reminder queued dose=%s patient=%s", dose.DoseID, dose.PatientID)
		}
	}
	return nil
}

// Start runs the outbox loop until the context is cancelled.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notify worker error: %v", err)
			}
		}
	}
}

func payloadField(payload []byte, key string) string {
	data := map[string]any{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return ""
	}
	return str(data, key)
}
