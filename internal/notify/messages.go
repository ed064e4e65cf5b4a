package notify

import (
	"encoding/json"
	"fmt"
)

// eventMessage renders the email for one outbox event. Events that carry no
// patient email, or that only matter to the realtime board, produce ok=false.
func eventMessage(eventType string, payload json.RawMessage) (Message, bool) {
	data := map[string]any{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return Message{}, false
	}
	email := str(data, "patient_email")
	if email == "" {
		email = str(data, "email")
	}
	if email == "" {
		return Message{}, false
	}

	switch eventType {
	case "visit.queued":
		number := num(data, "queue_number")
		where := str(data, "department")
		if where == "" {
			where = str(data, "queue_tag")
		}
		return Message{
			Recipient: email,
			Subject:   fmt.Sprintf("You are number %d in the %s queue", int(number), where),
			Body: fmt.Sprintf("Hi %s,\n\nYour visit is registered. You are number %d in the %s queue. Please keep your QR code ready.\n",
				str(data, "patient_name"), int(number), where),
		}, true
	case "patient.registered":
		return Message{
			Recipient: email,
			Subject:   "Welcome to the clinic portal",
			Body: fmt.Sprintf("Hi %s,\n\nYour patient code is %s and your portal username is %s. Your QR badge is attached; present it at every visit.\n",
				str(data, "name"), str(data, "patient_code"), str(data, "username")),
		}, true
	case "lab.completed":
		return Message{
			Recipient: email,
			Subject:   fmt.Sprintf("Your %s results are ready", str(data, "test_type")),
			Body: fmt.Sprintf("Hi %s,\n\nYour laboratory results for %s are ready. A copy is attached.\n",
				str(data, "patient_name"), str(data, "test_type")),
		}, true
	case "dose.reminder":
		return Message{
			Recipient: email,
			Subject:   fmt.Sprintf("Vaccination reminder: %s dose %d", str(data, "vaccine_name"), int(num(data, "dose_number"))),
			Body: fmt.Sprintf("Hi %s,\n\nDose %d of your %s series is due on %s. Please visit the clinic.\n",
				str(data, "patient_name"), int(num(data, "dose_number")), str(data, "vaccine_name"), str(data, "due_date")),
		}, true
	default:
		return Message{}, false
	}
}

func str(data map[string]any, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

func num(data map[string]any, key string) float64 {
	if value, ok := data[key].(float64); ok {
		return value
	}
	return 0
}
