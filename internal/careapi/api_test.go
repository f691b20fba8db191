package careapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/care"
	"github.com/linnemanlabs/erpath/internal/care/memstore"
	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/pathway"
	"github.com/linnemanlabs/erpath/internal/severity"
	"github.com/linnemanlabs/erpath/internal/triage"
)

// levelFromComplaint lets a test choose the external level through the
// complaint text.
var levelFromComplaint = triage.ClassifierFunc(func(_ context.Context, a triage.Assessment) (*triage.ExternalResult, error) {
	if a.PrimaryComplaint == "collapse" {
		return &triage.ExternalResult{Level: severity.LevelI, Rationale: "unresponsive"}, nil
	}
	return &triage.ExternalResult{Level: severity.LevelIII, Rationale: "stable"}, nil
})

var threeSteps = pathway.GeneratorFunc(func(_ context.Context, req pathway.Request) (*pathway.Guidance, error) {
	return &pathway.Guidance{Pathway: []pathway.GuidanceStep{
		{Step: "Registration", Location: req.Facility.Name},
		{Step: "Triage"},
		{Step: "Doctor"},
	}}, nil
})

func newTestService(t *testing.T) *care.Service {
	t.Helper()
	board := facility.NewBoard()
	_, _ = board.Replace(context.Background(), 1, []facility.Facility{
		{ID: "far", Name: "Far General", TravelTimeMinutes: 40, LevelWaits: [5]int{0, 5, 5, 5, 5}},
		{ID: "near", Name: "Near Hospital", TravelTimeMinutes: 10, LevelWaits: [5]int{0, 10, 10, 10, 10}},
	})
	return care.NewService(care.Deps{
		Store:      memstore.New(),
		Catalog:    board,
		Classifier: levelFromComplaint,
		Generator:  threeSteps,
		Logger:     log.Nop(),
	})
}

func newTestRouter(t *testing.T, token string) (chi.Router, *care.Service) {
	t.Helper()
	svc := newTestService(t)
	r := chi.NewRouter()
	New(nil, svc, token).RegisterRoutes(r)
	return r, svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// submit posts an assessment and waits for its classification.
func submit(t *testing.T, r http.Handler, svc *care.Service, body string) string {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/v1/assessments", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /assessments = %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[care.SubmitResult](t, rec)
	svc.Wait()
	return res.ID
}

type sessionResponse struct {
	ID         string           `json:"id"`
	Critical   bool             `json:"critical"`
	NextAction string           `json:"next_action"`
	Decision   *triage.Decision `json:"decision"`
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, newTestService(t), "")
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil, "")
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET assessments not allowed", http.MethodGet, "/api/v1/assessments", http.StatusMethodNotAllowed},
		{"DELETE session not allowed", http.MethodDelete, "/api/v1/sessions/abc", http.StatusMethodNotAllowed},
		{"GET advance not allowed", http.MethodGet, "/api/v1/sessions/abc/pathway/advance", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
		{"unknown session", http.MethodGet, "/api/v1/sessions/abc", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_RequiresToken(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "s3cret")

	rec := do(t, r, http.MethodGet, "/api/v1/facilities?level=LEVEL_III", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/facilities?level=LEVEL_III", http.NoBody)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token = %d, want 200", rec.Code)
	}
}

// Assessments and sessions

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	rec := do(t, r, http.MethodPost, "/api/v1/assessments", `{"primary_complaint":"migraine","pain_level":"7"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	res := decode[care.SubmitResult](t, rec)
	if res.ID == "" || res.Generation != 1 || res.RuleLevel != severity.LevelII {
		t.Errorf("result = %+v", res)
	}
	svc.Wait()

	rec = do(t, r, http.MethodGet, "/api/v1/sessions/"+res.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET session = %d", rec.Code)
	}
	got := decode[sessionResponse](t, rec)
	if got.Critical || got.NextAction != "recommend_facilities" {
		t.Errorf("critical=%v next_action=%q", got.Critical, got.NextAction)
	}
	if got.Decision == nil || got.Decision.EffectiveLevel != severity.LevelIII {
		t.Errorf("decision = %+v", got.Decision)
	}
}

func TestSubmit_Invalid(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{bad`},
		{"pain out of range", `{"pain_level":12}`},
		{"bad enum", `{"breathing":"gasping"}`},
		{"none with others", `{"chronic_conditions":["None","Asthma"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, r, http.MethodPost, "/api/v1/assessments", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("body = %q, want JSON error", rec.Body.String())
			}
		})
	}
}

func TestCriticalSession(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	id := submit(t, r, svc, `{"primary_complaint":"collapse"}`)

	got := decode[sessionResponse](t, do(t, r, http.MethodGet, "/api/v1/sessions/"+id, ""))
	if !got.Critical || got.NextAction != "call_emergency_services" {
		t.Errorf("critical=%v next_action=%q", got.Critical, got.NextAction)
	}

	if rec := do(t, r, http.MethodGet, "/api/v1/sessions/"+id+"/facilities", ""); rec.Code != http.StatusConflict {
		t.Errorf("GET facilities = %d, want 409", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/api/v1/sessions/"+id+"/facility", `{"facility_id":"near"}`); rec.Code != http.StatusConflict {
		t.Errorf("POST facility = %d, want 409", rec.Code)
	}
}

func TestResubmit(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	id := submit(t, r, svc, `{"primary_complaint":"cough"}`)

	rec := do(t, r, http.MethodPut, "/api/v1/sessions/"+id+"/assessment", `{"primary_complaint":"collapse"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("PUT assessment = %d: %s", rec.Code, rec.Body.String())
	}
	if res := decode[care.SubmitResult](t, rec); res.Generation != 2 {
		t.Errorf("generation = %d, want 2", res.Generation)
	}
	svc.Wait()

	got := decode[sessionResponse](t, do(t, r, http.MethodGet, "/api/v1/sessions/"+id, ""))
	if !got.Critical {
		t.Error("resubmitted assessment not applied")
	}

	if rec := do(t, r, http.MethodPut, "/api/v1/sessions/missing/assessment", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("PUT unknown session = %d, want 404", rec.Code)
	}
}

// Facilities

func TestRankFacilities(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	id := submit(t, r, svc, `{"primary_complaint":"sprain"}`)

	rec := do(t, r, http.MethodGet, "/api/v1/sessions/"+id+"/facilities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[care.Ranking](t, rec)
	if got.Level != severity.LevelIII || len(got.Facilities) != 2 {
		t.Fatalf("ranking = %+v", got)
	}
	if got.Facilities[0].Facility.ID != "near" || got.Facilities[0].TotalExpectedMinutes != 20 {
		t.Errorf("first = %+v, want near at 20", got.Facilities[0])
	}
}

func TestRankCatalog(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t, "")

	tests := []struct {
		name string
		path string
		want int
	}{
		{"valid", "/api/v1/facilities?level=LEVEL_V", http.StatusOK},
		{"missing", "/api/v1/facilities", http.StatusBadRequest},
		{"numeric", "/api/v1/facilities?level=3", http.StatusBadRequest},
		{"lowercase", "/api/v1/facilities?level=level_iii", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if rec := do(t, r, http.MethodGet, tt.path, ""); rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestSelectFacility_Errors(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	id := submit(t, r, svc, `{"primary_complaint":"sprain"}`)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown facility", `{"facility_id":"nowhere"}`, http.StatusNotFound},
		{"blank id", `{"facility_id":"  "}`, http.StatusBadRequest},
		{"unknown field", `{"facility_id":"near","extra":1}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if rec := do(t, r, http.MethodPost, "/api/v1/sessions/"+id+"/facility", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

// Pathway

type pathwayResponse struct {
	Pending  bool             `json:"pending"`
	Source   string           `json:"source"`
	Complete *bool            `json:"complete"`
	Pathway  *pathway.Pathway `json:"pathway"`
}

func TestPathwayFlow(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t, "")
	id := submit(t, r, svc, `{"primary_complaint":"sprain"}`)
	base := "/api/v1/sessions/" + id + "/pathway"

	if rec := do(t, r, http.MethodGet, base, ""); rec.Code != http.StatusConflict {
		t.Errorf("GET pathway before selection = %d, want 409", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, base+"/advance", ""); rec.Code != http.StatusConflict {
		t.Errorf("advance before selection = %d, want 409", rec.Code)
	}

	if rec := do(t, r, http.MethodPost, "/api/v1/sessions/"+id+"/facility", `{"facility_id":"near"}`); rec.Code != http.StatusAccepted {
		t.Fatalf("POST facility = %d: %s", rec.Code, rec.Body.String())
	}
	svc.Wait()

	got := decode[pathwayResponse](t, do(t, r, http.MethodGet, base, ""))
	if got.Pending || got.Source != "generated" || got.Pathway.Len() != 3 {
		t.Fatalf("pathway = %+v", got)
	}
	if loc := got.Pathway.Steps()[0].Location; loc != "Near Hospital" {
		t.Errorf("first step location = %q", loc)
	}

	adv := decode[pathwayResponse](t, do(t, r, http.MethodPost, base+"/advance", ""))
	if adv.Complete == nil || *adv.Complete || adv.Pathway.CurrentIndex() != 1 {
		t.Errorf("advance = %+v", adv)
	}

	if rec := do(t, r, http.MethodPost, base+"/finish", ""); rec.Code != http.StatusConflict {
		t.Errorf("finish before last step = %d, want 409", rec.Code)
	}

	if rec := do(t, r, http.MethodPost, base+"/steps/9/select", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("select out of range = %d, want 400", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, base+"/steps/two/select", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("select non-integer = %d, want 400", rec.Code)
	}

	rec := do(t, r, http.MethodPatch, base+"/steps/2", `{"location":"Exam room 3","tips":["bring a book"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH step = %d: %s", rec.Code, rec.Body.String())
	}
	if s := decode[pathwayResponse](t, rec).Pathway.Steps()[2]; s.Location != "Exam room 3" || len(s.Tips) != 1 {
		t.Errorf("edited step = %+v", s)
	}
	if rec := do(t, r, http.MethodPatch, base+"/steps/2", `{"name":" "}`); rec.Code != http.StatusBadRequest {
		t.Errorf("blank name = %d, want 400", rec.Code)
	}

	sel := decode[pathwayResponse](t, do(t, r, http.MethodPost, base+"/steps/2/select", ""))
	if sel.Pathway.CurrentIndex() != 2 {
		t.Errorf("current = %d, want 2", sel.Pathway.CurrentIndex())
	}

	adv = decode[pathwayResponse](t, do(t, r, http.MethodPost, base+"/advance", ""))
	if adv.Complete == nil || !*adv.Complete {
		t.Error("advance at last step should report complete")
	}

	fin := decode[pathwayResponse](t, do(t, r, http.MethodPost, base+"/finish", ""))
	if !fin.Pathway.Finished() {
		t.Error("pathway not finished")
	}
}

// Error mapping

type failingService struct {
	CareService
	err error
}

func (f failingService) Get(context.Context, string) (*care.Session, bool, error) {
	return nil, false, f.err
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(nil, failingService{err: errors.New("connection refused to 10.0.0.5")}, "").RegisterRoutes(r)

	rec := do(t, r, http.MethodGet, "/api/v1/sessions/x", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{triage.ErrInvalidAssessment, http.StatusBadRequest},
		{severity.ErrInvalidLevel, http.StatusBadRequest},
		{pathway.ErrInvalidEdit, http.StatusBadRequest},
		{care.ErrNotFound, http.StatusNotFound},
		{care.ErrFacilityNotFound, http.StatusNotFound},
		{care.ErrClassificationPending, http.StatusConflict},
		{care.ErrEmergencyRoute, http.StatusConflict},
		{care.ErrNoPathway, http.StatusConflict},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// Fuzz

func FuzzAssessmentIntake(f *testing.F) {
	board := facility.NewBoard()
	svc := care.NewService(care.Deps{Store: memstore.New(), Catalog: board, Logger: log.Nop()})
	r := chi.NewRouter()
	New(nil, svc, "").RegisterRoutes(r)

	seeds := []string{
		"",
		"{}",
		`{"primary_complaint":"chest pain","pain_level":9}`,
		`{"pain_level":"8","age":"seventy","temperature_c":"39.5"}`,
		`{"chronic_conditions":["None","None"]}`,
		`{"consciousness":"unconscious","breathing":"severe","bleeding":"severe"}`,
		"{invalid json",
		"\x00\x01\x02\xff\xfe",
		strings.Repeat("a", 10000),
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, body []byte) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		// Must not panic
		r.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted && rec.Code != http.StatusBadRequest {
			t.Errorf("POST /api/v1/assessments with body len=%d = %d, want 202 or 400", len(body), rec.Code)
		}
	})
}
