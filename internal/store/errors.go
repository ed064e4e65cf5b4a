package store

import "errors"

var (
	ErrVisitNotFound      = errors.New("visit not found")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyClaimed     = errors.New("visit already claimed")
	ErrNotClaimed         = errors.New("visit not claimed")
	ErrNotArrived         = errors.New("arrival not verified")
	ErrVerifyMismatch     = errors.New("identity verification mismatch")
	ErrInvalidState       = errors.New("invalid visit state")
	ErrDepartmentMismatch = errors.New("department mismatch")
	ErrConsultationOpen   = errors.New("another consultation is open")
	ErrDuplicatePatient   = errors.New("patient already registered")
	ErrSeriesCompleted    = errors.New("vaccination series completed")
	ErrAccessDenied       = errors.New("access denied")
)
