package models

import "time"

type Patient struct {
	PatientID    string     `json:"patient_id"`
	PatientCode  string     `json:"patient_code"`
	FirstName    string     `json:"first_name"`
	MiddleName   string     `json:"middle_name,omitempty"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	ContactNo    string     `json:"contact_no,omitempty"`
	Address      string     `json:"address,omitempty"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	QRPNG        []byte     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (p Patient) FullName() string {
	name := p.FirstName
	if p.MiddleName != "" {
		name += " " + p.MiddleName
	}
	return name + " " + p.LastName
}
