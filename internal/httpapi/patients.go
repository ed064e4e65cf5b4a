package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicqr/internal/identity"
	"clinicqr/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type createPatientRequest struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	ContactNo  string `json:"contact_no"`
	Address    string `json:"address"`
	BirthDate  string `json:"birth_date"`
	Gender     string `json:"gender"`
}

func (h *Handler) handlePatients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreatePatient(w, r)
	case http.MethodGet:
		h.handleListPatients(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	if _, ok := require(w, r, "patient.create"); !ok {
		return
	}
	var req createPatientRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	if req.FirstName == "" || req.LastName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "first_name, last_name, and email are required")
		return
	}
	var birthDate *time.Time
	if req.BirthDate != "" {
		parsed, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "birth_date must be YYYY-MM-DD")
			return
		}
		birthDate = &parsed
	}

	code, err := identity.NewPatientCode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	tempPassword, err := identity.NewTempPassword()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	// The badge encodes the patient id, so the id is assigned here and
	// the rendered QR rides along with the insert. The registration email
	// picks it up from the stored record.
	patientID := uuid.NewString()
	qr, err := identity.QRBadge(req.Email, patientID, 256)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	patient, err := h.store.CreatePatient(r.Context(), store.CreatePatientInput{
		PatientID:    patientID,
		FirstName:    req.FirstName,
		MiddleName:   strings.TrimSpace(req.MiddleName),
		LastName:     req.LastName,
		Email:        req.Email,
		ContactNo:    strings.TrimSpace(req.ContactNo),
		Address:      strings.TrimSpace(req.Address),
		BirthDate:    birthDate,
		Gender:       strings.TrimSpace(req.Gender),
		PatientCode:  code,
		Username:     identity.Username(req.FirstName, req.LastName, code),
		PasswordHash: string(passwordHash),
		QRPNG:        qr,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, status, errCode, msg)
		return
	}

	writeJSON(w, http.StatusCreated, patient)
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	if _, ok := require(w, r, "patient.create"); !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	patients, err := h.store.ListPatients(r.Context(), strings.TrimSpace(r.URL.Query().Get("search")), limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": patients})
}

func (h *Handler) handlePatientSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "by-code":
		h.handlePatientByCode(w, r, parts[1])
	case len(parts) == 1:
		h.handleGetPatient(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "visits":
		h.handlePatientVisits(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "vaccinations":
		h.handlePatientVaccinations(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request, patientID string) {
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	if !isValidUUID(patientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	patient, err := h.store.GetPatient(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handlePatientByCode(w http.ResponseWriter, r *http.Request, code string) {
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	// A scanned QR payload is accepted in place of the bare code.
	if _, patientID, ok := identity.ParseQRPayload(code); ok && patientID != "" {
		h.handleGetPatient(w, r, patientID)
		return
	}
	patient, err := h.store.GetPatientByCode(r.Context(), code)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, status, errCode, msg)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *Handler) handlePatientVisits(w http.ResponseWriter, r *http.Request, patientID string) {
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	if !isValidUUID(patientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	visits, err := h.store.ListVisitsForPatient(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visits": visits})
}

func (h *Handler) handlePatientVaccinations(w http.ResponseWriter, r *http.Request, patientID string) {
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	if !isValidUUID(patientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	series, err := h.store.ListPatientVaccinations(r.Context(), patientID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"vaccinations": series})
}
