package notify

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEventMessage(t *testing.T) {
	cases := []struct {
		name        string
		eventType   string
		payload     string
		wantOK      bool
		wantTo      string
		wantSubject string
	}{
		{
			name:        "queued visit with department",
			eventType:   "visit.queued",
			payload:     `{"patient_email":"jane@example.com","patient_name":"Jane","queue_number":3,"department":"general"}`,
			wantOK:      true,
			wantTo:      "jane@example.com",
			wantSubject: "You are number 3 in the general queue",
		},
		{
			name:        "queued visit with tag",
			eventType:   "visit.queued",
			payload:     `{"patient_email":"jane@example.com","patient_name":"Jane","queue_number":1,"queue_tag":"laboratory"}`,
			wantOK:      true,
			wantTo:      "jane@example.com",
			wantSubject: "You are number 1 in the laboratory queue",
		},
		{
			name:        "registration",
			eventType:   "patient.registered",
			payload:     `{"email":"jane@example.com","name":"Jane Cruz","patient_code":"AB12CD34EF","username":"jane.cruz.ab12"}`,
			wantOK:      true,
			wantTo:      "jane@example.com",
			wantSubject: "Welcome to the clinic portal",
		},
		{
			name:        "lab results",
			eventType:   "lab.completed",
			payload:     `{"patient_email":"jane@example.com","patient_name":"Jane","test_type":"CBC"}`,
			wantOK:      true,
			wantTo:      "jane@example.com",
			wantSubject: "Your CBC results are ready",
		},
		{
			name:        "dose reminder",
			eventType:   "dose.reminder",
			payload:     `{"patient_email":"jane@example.com","patient_name":"Jane","vaccine_name":"Hepatitis B","dose_number":2,"due_date":"2026-09-01"}`,
			wantOK:      true,
			wantTo:      "jane@example.com",
			wantSubject: "Vaccination reminder: Hepatitis B dose 2",
		},
		{
			name:      "no recipient",
			eventType: "visit.queued",
			payload:   `{"patient_name":"Jane","queue_number":3,"department":"general"}`,
			wantOK:    false,
		},
		{
			name:      "board-only event",
			eventType: "visit.claimed",
			payload:   `{"patient_email":"jane@example.com"}`,
			wantOK:    false,
		},
		{
			name:      "malformed payload",
			eventType: "visit.queued",
			payload:   `not json`,
			wantOK:    false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := eventMessage(tc.eventType, json.RawMessage(tc.payload))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if msg.Recipient != tc.wantTo {
				t.Fatalf("recipient = %q, want %q", msg.Recipient, tc.wantTo)
			}
			if msg.Subject != tc.wantSubject {
				t.Fatalf("subject = %q, want %q", msg.Subject, tc.wantSubject)
			}
			if !strings.Contains(msg.Body, "Hi ") {
				t.Fatalf("body missing greeting: %q", msg.Body)
			}
		})
	}
}
