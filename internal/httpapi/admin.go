package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/reports"
	"clinicqr/internal/store"

	"golang.org/x/crypto/bcrypt"
)

func (h *Handler) handlePrescriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "prescription.view"); !ok {
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", models.PrescriptionPending, models.PrescriptionReady, models.PrescriptionDispensed:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "status must be pending, ready, or dispensed")
		return
	}
	prescriptions, err := h.store.ListPrescriptions(r.Context(), status)
	if err != nil {
		httpStatus, code, msg := mapError(err)
		writeError(w, httpStatus, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"prescriptions": prescriptions})
}

type dispenseRequest struct {
	Quantities    map[string]int    `json:"quantities"`
	Substitutions map[string]string `json:"substitutions"`
}

func (h *Handler) handlePrescriptionActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/prescriptions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 1 && r.Method == http.MethodGet {
		if _, ok := require(w, r, "prescription.view"); !ok {
			return
		}
		prescription, err := h.store.GetPrescription(r.Context(), parts[0])
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, prescription)
		return
	}
	if len(parts) != 3 || parts[1] != "actions" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	prescriptionID := parts[0]
	if !isValidUUID(prescriptionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "prescription_id must be a UUID")
		return
	}

	switch parts[2] {
	case "ready":
		session, ok := require(w, r, "prescription.ready")
		if !ok {
			return
		}
		prescription, err := h.store.MarkPrescriptionReady(r.Context(), prescriptionID, session.UserID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, prescription)
	case "dispense":
		session, ok := require(w, r, "prescription.dispense")
		if !ok {
			return
		}
		var req dispenseRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		prescription, err := h.store.DispensePrescription(r.Context(), store.DispenseInput{
			PrescriptionID: prescriptionID,
			DispensedBy:    session.UserID,
			DispensedAt:    time.Now().UTC(),
			Quantities:     req.Quantities,
			Substitutions:  req.Substitutions,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, prescription)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type createVaccineTypeRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	TotalDoses    int    `json:"total_doses"`
	DoseIntervals []int  `json:"dose_intervals"`
}

func (h *Handler) handleVaccines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := require(w, r, "queue.view"); !ok {
			return
		}
		types, err := h.store.ListVaccineTypes(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"vaccine_types": types})
	case http.MethodPost:
		if _, ok := require(w, r, "vaccine.manage"); !ok {
			return
		}
		var req createVaccineTypeRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || req.TotalDoses <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "name and a positive total_doses are required")
			return
		}
		for _, interval := range req.DoseIntervals {
			if interval <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_request", "dose_intervals must be positive day counts")
				return
			}
		}
		created, err := h.store.CreateVaccineType(r.Context(), store.CreateVaccineTypeInput{
			Name:          req.Name,
			Description:   req.Description,
			TotalDoses:    req.TotalDoses,
			DoseIntervals: req.DoseIntervals,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVisitReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := require(w, r, "report.view")
	if !ok {
		return
	}

	filter := store.ReportFilter{
		Service:    strings.TrimSpace(r.URL.Query().Get("service")),
		Department: strings.TrimSpace(r.URL.Query().Get("department")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be YYYY-MM-DD")
			return
		}
		filter.From = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be YYYY-MM-DD")
			return
		}
		filter.To = parsed.AddDate(0, 0, 1)
	}

	// Non-admin staff only see their own service's slice.
	switch session.Role {
	case models.RoleAdmin, models.RoleReception:
	case models.RoleDoctor:
		filter.Service = models.ServiceDoctor
		if session.Department != "" {
			filter.Department = session.Department
		}
	case models.RoleLab:
		filter.Service = models.ServiceLab
	case models.RolePharmacy:
		filter.Service = models.ServicePharmacy
	case models.RoleVaccination:
		filter.Service = models.ServiceVaccination
	}

	rows, err := h.store.ReportVisits(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	format := strings.TrimSpace(r.URL.Query().Get("format"))
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]interface{}{"rows": rows})
	case "csv":
		data, err := reports.CSV(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeAttachment(w, data, "text/csv", "visits.csv")
	case "xlsx":
		data, err := reports.XLSX(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeAttachment(w, data, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "visits.xlsx")
	case "pdf":
		data, err := reports.PDF(rows, "Visit Report")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		writeAttachment(w, data, "application/pdf", "visits.pdf")
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be json, csv, xlsx, or pdf")
	}
}

func writeAttachment(w http.ResponseWriter, data []byte, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	after := time.Unix(0, 0).UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339")
			return
		}
		after = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "activity.view"); !ok {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	entries, err := h.store.ListActivity(r.Context(), limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": entries})
}

type createStaffRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Password   string `json:"password"`
}

func (h *Handler) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := require(w, r, "staff.manage"); !ok {
			return
		}
		users, err := h.store.ListStaff(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"staff": users})
	case http.MethodPost:
		if _, ok := require(w, r, "staff.manage"); !ok {
			return
		}
		var req createStaffRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		req.Role = strings.TrimSpace(req.Role)
		if req.Username == "" || req.Role == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "username, role, and password are required")
			return
		}
		switch req.Role {
		case models.RoleAdmin, models.RoleReception, models.RoleDoctor, models.RoleLab, models.RolePharmacy, models.RoleVaccination:
		default:
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown role")
			return
		}
		if req.Role == models.RoleDoctor && strings.TrimSpace(req.Department) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "doctors need a department")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		user, err := h.store.CreateStaff(r.Context(), store.CreateStaffInput{
			Username:     req.Username,
			Email:        strings.TrimSpace(req.Email),
			FullName:     strings.TrimSpace(req.FullName),
			Role:         req.Role,
			Department:   strings.TrimSpace(req.Department),
			PasswordHash: string(hash),
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleStaffActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "staff.manage"); !ok {
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/staff/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id must be a UUID")
		return
	}

	var active bool
	switch parts[2] {
	case "activate":
		active = true
	case "deactivate":
		active = false
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := h.store.SetStaffActive(r.Context(), userID, active); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type purgeRequest struct {
	Before string `json:"before"`
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "admin.purge"); !ok {
		return
	}
	var req purgeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	before, err := time.Parse("2006-01-02", strings.TrimSpace(req.Before))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "before must be YYYY-MM-DD")
		return
	}
	purged, err := h.store.PurgeVisits(r.Context(), before)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"purged": purged})
}
