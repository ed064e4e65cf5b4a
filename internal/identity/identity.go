// Package identity generates patient codes, portal credentials, and the QR
// badge encoding a patient's identity.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const codeLength = 10

// NewPatientCode returns a random 10-character uppercase hex code.
func NewPatientCode() (string, error) {
	buf := make([]byte, (codeLength+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf))[:codeLength], nil
}

// QRPayload is the string encoded into a patient's QR badge. Scanners split
// on ';' and '=' is avoided so the payload survives URL query embedding.
func QRPayload(email, patientID string) string {
	return fmt.Sprintf("email:%s;id:%s", email, patientID)
}

// ParseQRPayload extracts the email and patient id from a scanned payload.
func ParseQRPayload(payload string) (email, patientID string, ok bool) {
	for _, part := range strings.Split(payload, ";") {
		key, value, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		switch key {
		case "email":
			email = value
		case "id":
			patientID = value
		}
	}
	return email, patientID, email != "" || patientID != ""
}

// QRBadge renders the payload as a PNG.
func QRBadge(email, patientID string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(QRPayload(email, patientID), qrcode.Medium, size)
}

// NewTempPassword returns a random password for first login.
func NewTempPassword() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Username derives a portal username from the patient's name and code.
func Username(firstName, lastName, patientCode string) string {
	base := strings.ToLower(strings.ReplaceAll(firstName+"."+lastName, " ", ""))
	if len(patientCode) >= 4 {
		return base + "." + strings.ToLower(patientCode[:4])
	}
	return base
}
