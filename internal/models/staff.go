package models

import "time"

// Staff roles.
const (
	RoleAdmin       = "admin"
	RoleReception   = "reception"
	RoleDoctor      = "doctor"
	RoleLab         = "lab"
	RolePharmacy    = "pharmacy"
	RoleVaccination = "vaccination"
	RolePatient     = "patient"
)

type Staff struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"`
	Department   string    `json:"department,omitempty"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
