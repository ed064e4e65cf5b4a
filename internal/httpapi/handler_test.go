package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"golang.org/x/crypto/bcrypt"
)

type fakeStore struct {
	createVisit        func(ctx context.Context, input store.CreateVisitInput) (models.Visit, error)
	getVisit           func(ctx context.Context, visitID string) (models.Visit, error)
	listQueue          func(ctx context.Context, filter store.QueueFilter) ([]models.Visit, error)
	claimVisit         func(ctx context.Context, input store.ClaimInput) (models.Visit, error)
	verifyArrival      func(ctx context.Context, input store.VerifyArrivalInput) (models.Visit, error)
	saveConsultation   func(ctx context.Context, input store.ConsultationInput) (models.Visit, error)
	finishConsultation func(ctx context.Context, input store.FinishConsultationInput) (models.Visit, error)
	receiveLab         func(ctx context.Context, input store.ReceiveLabInput) (models.Visit, error)
	completeLab        func(ctx context.Context, input store.CompleteLabInput) (models.Visit, error)
	createPatient      func(ctx context.Context, input store.CreatePatientInput) (models.Patient, error)
	getUserByUsername  func(ctx context.Context, username string) (models.Staff, error)
	createSession      func(ctx context.Context, userID string, ttl time.Duration) (store.Session, error)
	getSession         func(ctx context.Context, sessionID string) (store.Session, error)
	reportVisits       func(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error)
}

var errFakeUnset = errors.New("fake not configured")

func (f *fakeStore) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	if f.createVisit == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.createVisit(ctx, input)
}

func (f *fakeStore) GetVisit(ctx context.Context, visitID string) (models.Visit, error) {
	if f.getVisit == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.getVisit(ctx, visitID)
}

func (f *fakeStore) ListQueue(ctx context.Context, filter store.QueueFilter) ([]models.Visit, error) {
	if f.listQueue == nil {
		return nil, errFakeUnset
	}
	return f.listQueue(ctx, filter)
}

func (f *fakeStore) ListVisitsForPatient(ctx context.Context, patientID string) ([]models.Visit, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) ClaimVisit(ctx context.Context, input store.ClaimInput) (models.Visit, error) {
	if f.claimVisit == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.claimVisit(ctx, input)
}

func (f *fakeStore) VerifyArrival(ctx context.Context, input store.VerifyArrivalInput) (models.Visit, error) {
	if f.verifyArrival == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.verifyArrival(ctx, input)
}

func (f *fakeStore) SaveConsultation(ctx context.Context, input store.ConsultationInput) (models.Visit, error) {
	if f.saveConsultation == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.saveConsultation(ctx, input)
}

func (f *fakeStore) FinishConsultation(ctx context.Context, input store.FinishConsultationInput) (models.Visit, error) {
	if f.finishConsultation == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.finishConsultation(ctx, input)
}

func (f *fakeStore) ReceiveLab(ctx context.Context, input store.ReceiveLabInput) (models.Visit, error) {
	if f.receiveLab == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.receiveLab(ctx, input)
}

func (f *fakeStore) CompleteLab(ctx context.Context, input store.CompleteLabInput) (models.Visit, error) {
	if f.completeLab == nil {
		return models.Visit{}, errFakeUnset
	}
	return f.completeLab(ctx, input)
}

func (f *fakeStore) ReceiveVaccination(ctx context.Context, input store.ReceiveVaccinationInput) (models.Visit, error) {
	return models.Visit{}, errFakeUnset
}

func (f *fakeStore) FinishVaccination(ctx context.Context, input store.FinishVaccinationInput) (models.Visit, error) {
	return models.Visit{}, errFakeUnset
}

func (f *fakeStore) CreatePatient(ctx context.Context, input store.CreatePatientInput) (models.Patient, error) {
	if f.createPatient == nil {
		return models.Patient{}, errFakeUnset
	}
	return f.createPatient(ctx, input)
}

func (f *fakeStore) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return models.Patient{}, errFakeUnset
}

func (f *fakeStore) GetPatientByCode(ctx context.Context, code string) (models.Patient, error) {
	return models.Patient{}, errFakeUnset
}

func (f *fakeStore) ListPatients(ctx context.Context, search string, limit int) ([]models.Patient, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) ListPrescriptions(ctx context.Context, status string) ([]models.Prescription, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) GetPrescription(ctx context.Context, prescriptionID string) (models.Prescription, error) {
	return models.Prescription{}, errFakeUnset
}

func (f *fakeStore) MarkPrescriptionReady(ctx context.Context, prescriptionID, userID string) (models.Prescription, error) {
	return models.Prescription{}, errFakeUnset
}

func (f *fakeStore) DispensePrescription(ctx context.Context, input store.DispenseInput) (models.Prescription, error) {
	return models.Prescription{}, errFakeUnset
}

func (f *fakeStore) CreateVaccineType(ctx context.Context, input store.CreateVaccineTypeInput) (models.VaccineType, error) {
	return models.VaccineType{}, errFakeUnset
}

func (f *fakeStore) ListVaccineTypes(ctx context.Context) ([]models.VaccineType, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) ListPatientVaccinations(ctx context.Context, patientID string) ([]models.PatientVaccination, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) ListDueDoses(ctx context.Context, from, to time.Time) ([]store.DueDose, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (models.Staff, error) {
	if f.getUserByUsername == nil {
		return models.Staff{}, errFakeUnset
	}
	return f.getUserByUsername(ctx, username)
}

func (f *fakeStore) CreateStaff(ctx context.Context, input store.CreateStaffInput) (models.Staff, error) {
	return models.Staff{}, errFakeUnset
}

func (f *fakeStore) ListStaff(ctx context.Context) ([]models.Staff, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) SetStaffActive(ctx context.Context, userID string, active bool) error {
	return errFakeUnset
}

func (f *fakeStore) CreateSession(ctx context.Context, userID string, ttl time.Duration) (store.Session, error) {
	if f.createSession == nil {
		return store.Session{}, errFakeUnset
	}
	return f.createSession(ctx, userID, ttl)
}

func (f *fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.getSession == nil {
		return store.Session{}, store.ErrAccessDenied
	}
	return f.getSession(ctx, sessionID)
}

func (f *fakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeStore) ReportVisits(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error) {
	if f.reportVisits == nil {
		return nil, errFakeUnset
	}
	return f.reportVisits(ctx, filter)
}

func (f *fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) ListActivity(ctx context.Context, limit int) ([]store.ActivityEntry, error) {
	return nil, errFakeUnset
}

func (f *fakeStore) PurgeVisits(ctx context.Context, before time.Time) (int64, error) {
	return 0, errFakeUnset
}

const (
	testVisitID   = "6f1b24a0-5f1c-4b77-9a37-0f6f8f6f2f10"
	testPatientID = "3a9e17d4-2f0d-4d89-9c6a-7d7e4c1b2a33"
	testUserID    = "b4c0ffee-0000-4000-8000-000000000001"
)

func sessionFake(role, department string) func(ctx context.Context, sessionID string) (store.Session, error) {
	return func(ctx context.Context, sessionID string) (store.Session, error) {
		if sessionID != "token" {
			return store.Session{}, store.ErrAccessDenied
		}
		return store.Session{
			SessionID:  sessionID,
			UserID:     testUserID,
			Role:       role,
			Department: department,
			ExpiresAt:  time.Now().Add(time.Hour),
		}, nil
	}
}

func newTestServer(f *fakeStore) http.Handler {
	handler := NewHandler(f, Options{SessionTTL: time.Hour})
	return AuthMiddleware(f, handler.Routes())
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer token")
	}
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	return recorder
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := &fakeStore{
		getUserByUsername: func(ctx context.Context, username string) (models.Staff, error) {
			if username != "drsmith" {
				return models.Staff{}, store.ErrUserNotFound
			}
			return models.Staff{
				UserID:       testUserID,
				Username:     "drsmith",
				Role:         models.RoleDoctor,
				PasswordHash: string(hash),
				Active:       true,
			}, nil
		},
		createSession: func(ctx context.Context, userID string, ttl time.Duration) (store.Session, error) {
			return store.Session{SessionID: "token", UserID: userID, Role: models.RoleDoctor}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/auth/login", `{"username":"drsmith","password":"secret"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "token" || resp.Role != models.RoleDoctor {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	rec = doRequest(t, h, http.MethodPost, "/api/auth/login", `{"username":"drsmith","password":"wrong"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rec.Code)
	}
}

func TestCreateVisitRequiresSession(t *testing.T) {
	f := &fakeStore{}
	h := newTestServer(f)
	rec := doRequest(t, h, http.MethodPost, "/api/visits", `{"patient_id":"`+testPatientID+`","department":"general"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCreateVisit(t *testing.T) {
	number := 4
	var got store.CreateVisitInput
	f := &fakeStore{
		getSession: sessionFake(models.RoleReception, ""),
		createVisit: func(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
			got = input
			return models.Visit{
				VisitID:     testVisitID,
				PatientID:   input.PatientID,
				Service:     models.ServiceReception,
				Status:      models.StatusQueued,
				QueueNumber: &number,
				Department:  input.Department,
			}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits", `{"patient_id":"`+testPatientID+`","department":"general"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.CreatedBy != testUserID {
		t.Fatalf("created_by = %q, want session user", got.CreatedBy)
	}
	var visit models.Visit
	if err := json.Unmarshal(rec.Body.Bytes(), &visit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if visit.QueueNumber == nil || *visit.QueueNumber != 4 {
		t.Fatalf("queue_number = %v, want 4", visit.QueueNumber)
	}
}

func TestCreateVisitValidation(t *testing.T) {
	f := &fakeStore{getSession: sessionFake(models.RoleReception, "")}
	h := newTestServer(f)

	cases := []struct {
		name string
		body string
	}{
		{"missing scope", `{"patient_id":"` + testPatientID + `"}`},
		{"both scopes", `{"patient_id":"` + testPatientID + `","department":"general","queue_tag":"laboratory"}`},
		{"bad tag", `{"patient_id":"` + testPatientID + `","queue_tag":"dental"}`},
		{"bad uuid", `{"patient_id":"nope","department":"general"}`},
		{"unknown field", `{"patient_id":"` + testPatientID + `","department":"general","extra":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/api/visits", tc.body, true)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestClaimVisit(t *testing.T) {
	var got store.ClaimInput
	f := &fakeStore{
		getSession: sessionFake(models.RoleDoctor, "general"),
		claimVisit: func(ctx context.Context, input store.ClaimInput) (models.Visit, error) {
			got = input
			return models.Visit{VisitID: input.VisitID, Status: models.StatusClaimed}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/claim", `{"kind":"doctor"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.ClaimedBy != testUserID || got.Department != "general" || got.Kind != models.ClaimDoctor {
		t.Fatalf("unexpected claim input: %+v", got)
	}
}

func TestClaimVisitRoleDenied(t *testing.T) {
	f := &fakeStore{getSession: sessionFake(models.RoleReception, "")}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/claim", `{"kind":"doctor"}`, true)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestClaimVisitConflict(t *testing.T) {
	f := &fakeStore{
		getSession: sessionFake(models.RoleDoctor, "general"),
		claimVisit: func(ctx context.Context, input store.ClaimInput) (models.Visit, error) {
			return models.Visit{}, store.ErrAlreadyClaimed
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/claim", `{"kind":"doctor"}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "already_claimed" {
		t.Fatalf("error code = %q", resp.Error.Code)
	}
}

func TestVerifyArrivalMismatch(t *testing.T) {
	f := &fakeStore{
		getSession: sessionFake(models.RoleDoctor, "general"),
		verifyArrival: func(ctx context.Context, input store.VerifyArrivalInput) (models.Visit, error) {
			return models.Visit{}, store.ErrVerifyMismatch
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/verify-arrival",
		`{"kind":"doctor","patient_code":"ABCDEF0123"}`, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestFinishRejectsBadMedicines(t *testing.T) {
	f := &fakeStore{getSession: sessionFake(models.RoleDoctor, "general")}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/finish",
		`{"diagnosis":"flu","medicines":[{"name":"","quantity":0}]}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestQueueFilter(t *testing.T) {
	var got store.QueueFilter
	f := &fakeStore{
		getSession: sessionFake(models.RoleLab, ""),
		listQueue: func(ctx context.Context, filter store.QueueFilter) ([]models.Visit, error) {
			got = filter
			return []models.Visit{{VisitID: testVisitID}}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodGet, "/api/queue?queue_tag=laboratory&status=queued", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.QueueTag != models.TagLaboratory || got.Status != models.StatusQueued {
		t.Fatalf("unexpected filter: %+v", got)
	}
	if got.Day.IsZero() {
		t.Fatal("expected default day filter")
	}
}

func TestVisitReportScopedByRole(t *testing.T) {
	var got store.ReportFilter
	f := &fakeStore{
		getSession: sessionFake(models.RoleDoctor, "general"),
		reportVisits: func(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error) {
			got = filter
			return []store.ReportRow{}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodGet, "/api/reports/visits?service=pharmacy", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got.Service != models.ServiceDoctor || got.Department != "general" {
		t.Fatalf("doctor report not scoped: %+v", got)
	}
}

func TestVisitReportCSV(t *testing.T) {
	f := &fakeStore{
		getSession: sessionFake(models.RoleReception, ""),
		reportVisits: func(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error) {
			return []store.ReportRow{{
				VisitID:     testVisitID,
				PatientName: "Jane Cruz",
				PatientCode: "ABCDEF0123",
				Service:     models.ServiceReception,
				Status:      models.StatusDone,
				CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			}}, nil
		},
	}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodGet, "/api/reports/visits?format=csv", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Jane Cruz") || !strings.Contains(body, "ABCDEF0123") {
		t.Fatalf("csv missing row data: %s", body)
	}
}

func TestUnknownActionIs404(t *testing.T) {
	f := &fakeStore{getSession: sessionFake(models.RoleDoctor, "general")}
	h := newTestServer(f)

	rec := doRequest(t, h, http.MethodPost, "/api/visits/"+testVisitID+"/actions/escalate", `{}`, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
