package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clinicqr/internal/metrics"
	"clinicqr/internal/models"
	"clinicqr/internal/policy"
	"clinicqr/internal/store"
)

type createVisitRequest struct {
	PatientID  string `json:"patient_id"`
	Department string `json:"department"`
	QueueTag   string `json:"queue_tag"`
	Notes      string `json:"notes"`
}

func (h *Handler) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := require(w, r, "visit.create")
	if !ok {
		return
	}

	var req createVisitRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.Department = strings.TrimSpace(req.Department)
	req.QueueTag = strings.TrimSpace(req.QueueTag)

	if req.PatientID == "" || !isValidUUID(req.PatientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	if req.Department == "" && req.QueueTag == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "department or queue_tag is required")
		return
	}
	if req.Department != "" && req.QueueTag != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "department and queue_tag are mutually exclusive")
		return
	}
	if req.QueueTag != "" && req.QueueTag != models.TagLaboratory && req.QueueTag != models.TagVaccination {
		writeError(w, http.StatusBadRequest, "invalid_request", "queue_tag must be laboratory or vaccination")
		return
	}

	visit, err := h.store.CreateVisit(r.Context(), store.CreateVisitInput{
		PatientID:  req.PatientID,
		Department: req.Department,
		QueueTag:   req.QueueTag,
		Notes:      req.Notes,
		CreatedBy:  session.UserID,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	metrics.VisitsCreated.Inc()
	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) handleVisitSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/visits/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetVisit(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleVisitAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetVisit(w http.ResponseWriter, r *http.Request, visitID string) {
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}
	if !isValidUUID(visitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}
	visit, err := h.store.GetVisit(r.Context(), visitID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleVisitAction(w http.ResponseWriter, r *http.Request, visitID, action string) {
	if !isValidUUID(visitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}
	switch action {
	case "claim":
		h.handleClaim(w, r, visitID)
	case "verify-arrival":
		h.handleVerifyArrival(w, r, visitID)
	case "consult":
		h.handleConsult(w, r, visitID)
	case "finish":
		h.handleFinish(w, r, visitID)
	case "receive-lab":
		h.handleReceiveLab(w, r, visitID)
	case "complete-lab":
		h.handleCompleteLab(w, r, visitID)
	case "receive-vaccination":
		h.handleReceiveVaccination(w, r, visitID)
	case "finish-vaccination":
		h.handleFinishVaccination(w, r, visitID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type claimRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, visitID string) {
	var req claimRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind != models.ClaimDoctor && req.Kind != models.ClaimLab && req.Kind != models.ClaimVaccination {
		writeError(w, http.StatusBadRequest, "invalid_request", "kind must be doctor, lab, or vaccination")
		return
	}
	session, ok := require(w, r, policy.ClaimCapability(req.Kind))
	if !ok {
		return
	}

	visit, err := h.store.ClaimVisit(r.Context(), store.ClaimInput{
		VisitID:    visitID,
		Kind:       req.Kind,
		ClaimedBy:  session.UserID,
		Department: session.Department,
		ClaimedAt:  time.Now().UTC(),
	})
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(req.Kind, "rejected").Inc()
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	metrics.ClaimsTotal.WithLabelValues(req.Kind, "ok").Inc()
	writeJSON(w, http.StatusOK, visit)
}

type verifyArrivalRequest struct {
	Kind        string `json:"kind"`
	PatientCode string `json:"patient_code"`
	Email       string `json:"email"`
}

func (h *Handler) handleVerifyArrival(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "visit.verify")
	if !ok {
		return
	}
	var req verifyArrivalRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.Kind = strings.TrimSpace(req.Kind)
	req.PatientCode = strings.TrimSpace(req.PatientCode)
	req.Email = strings.TrimSpace(req.Email)
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "kind is required")
		return
	}
	if req.PatientCode == "" && req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_code or email is required")
		return
	}

	visit, err := h.store.VerifyArrival(r.Context(), store.VerifyArrivalInput{
		VisitID:     visitID,
		Kind:        req.Kind,
		VerifiedBy:  session.UserID,
		PatientCode: req.PatientCode,
		Email:       req.Email,
		VerifiedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

type consultRequest struct {
	Symptoms  string `json:"symptoms"`
	Diagnosis string `json:"diagnosis"`
	Notes     string `json:"notes"`
}

func (h *Handler) handleConsult(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "visit.consult")
	if !ok {
		return
	}
	var req consultRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	visit, err := h.store.SaveConsultation(r.Context(), store.ConsultationInput{
		VisitID:      visitID,
		DoctorUserID: session.UserID,
		Symptoms:     req.Symptoms,
		Diagnosis:    req.Diagnosis,
		Notes:        req.Notes,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

type medicineRequest struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"instructions"`
}

type finishRequest struct {
	Diagnosis         string            `json:"diagnosis"`
	PrescriptionNotes string            `json:"prescription_notes"`
	LabTests          string            `json:"lab_tests"`
	Medicines         []medicineRequest `json:"medicines"`
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "visit.finish")
	if !ok {
		return
	}
	var req finishRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	medicines := make([]store.MedicineInput, 0, len(req.Medicines))
	for _, med := range req.Medicines {
		if strings.TrimSpace(med.Name) == "" || med.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "each medicine needs a name and a positive quantity")
			return
		}
		medicines = append(medicines, store.MedicineInput{
			Name:         med.Name,
			Dosage:       med.Dosage,
			Quantity:     med.Quantity,
			Instructions: med.Instructions,
		})
	}

	visit, err := h.store.FinishConsultation(r.Context(), store.FinishConsultationInput{
		VisitID:           visitID,
		DoctorUserID:      session.UserID,
		Diagnosis:         req.Diagnosis,
		PrescriptionNotes: req.PrescriptionNotes,
		Medicines:         medicines,
		LabTests:          req.LabTests,
		FinishedAt:        time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

type receiveLabRequest struct {
	TestType string `json:"test_type"`
}

func (h *Handler) handleReceiveLab(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "lab.receive")
	if !ok {
		return
	}
	var req receiveLabRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	visit, err := h.store.ReceiveLab(r.Context(), store.ReceiveLabInput{
		VisitID:    visitID,
		ReceivedBy: session.UserID,
		TestType:   strings.TrimSpace(req.TestType),
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

type completeLabRequest struct {
	Results string `json:"results"`
}

func (h *Handler) handleCompleteLab(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "lab.complete")
	if !ok {
		return
	}
	var req completeLabRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Results) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "results are required")
		return
	}

	visit, err := h.store.CompleteLab(r.Context(), store.CompleteLabInput{
		VisitID:     visitID,
		CompletedBy: session.UserID,
		Results:     req.Results,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

type receiveVaccinationRequest struct {
	VaccineTypeID string `json:"vaccine_type_id"`
}

func (h *Handler) handleReceiveVaccination(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "vaccination.receive")
	if !ok {
		return
	}
	var req receiveVaccinationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !isValidUUID(req.VaccineTypeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "vaccine_type_id must be a UUID")
		return
	}

	visit, err := h.store.ReceiveVaccination(r.Context(), store.ReceiveVaccinationInput{
		VisitID:       visitID,
		ReceivedBy:    session.UserID,
		VaccineTypeID: req.VaccineTypeID,
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

type finishVaccinationRequest struct {
	VaccineTypeID string `json:"vaccine_type_id"`
	Remarks       string `json:"remarks"`
}

func (h *Handler) handleFinishVaccination(w http.ResponseWriter, r *http.Request, visitID string) {
	session, ok := require(w, r, "vaccination.finish")
	if !ok {
		return
	}
	var req finishVaccinationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !isValidUUID(req.VaccineTypeID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "vaccine_type_id must be a UUID")
		return
	}

	visit, err := h.store.FinishVaccination(r.Context(), store.FinishVaccinationInput{
		VisitID:       visitID,
		FinishedBy:    session.UserID,
		VaccineTypeID: req.VaccineTypeID,
		Remarks:       req.Remarks,
		FinishedAt:    time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := require(w, r, "queue.view"); !ok {
		return
	}

	filter := store.QueueFilter{
		Service:    strings.TrimSpace(r.URL.Query().Get("service")),
		Department: strings.TrimSpace(r.URL.Query().Get("department")),
		QueueTag:   strings.TrimSpace(r.URL.Query().Get("queue_tag")),
		Status:     strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if day := strings.TrimSpace(r.URL.Query().Get("day")); day != "" {
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "day must be YYYY-MM-DD")
			return
		}
		filter.Day = parsed
	} else {
		filter.Day = time.Now().UTC()
	}

	visits, err := h.store.ListQueue(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"visits": visits})
}
