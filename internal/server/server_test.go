package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/server"
	"github.com/gkobilansky/form-goat/internal/store"
	"github.com/gkobilansky/form-goat/internal/testutil"
)

const adminToken = "test-token"

func setupTestServer(t *testing.T) (*server.Server, *experiment.Service) {
	t.Helper()
	s := testutil.SetupTestStore(t)
	svc := experiment.New(s, experiment.WithLogger(testutil.DiscardLogger()))
	srv := server.New(svc, server.Options{
		Port:   8080,
		Token:  adminToken,
		Logger: testutil.DiscardLogger(),
		DB:     s.DB(),
	})
	return srv, svc
}

func do(t *testing.T, srv *server.Server, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func runningTest(t *testing.T, svc *experiment.Service) *store.Test {
	t.Helper()
	ctx := context.Background()
	test, err := svc.CreateTest(ctx, "contact", experiment.TestConfig{})
	if err != nil {
		t.Fatalf("CreateTest failed: %v", err)
	}
	if ok, err := svc.StartTest(ctx, test.ID); err != nil || !ok {
		t.Fatalf("StartTest failed: %v %v", ok, err)
	}
	return test
}

func TestHealth(t *testing.T) {
	srv, svc := setupTestServer(t)
	runningTest(t, svc)

	w := do(t, srv, http.MethodGet, "/health", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp server.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.TestsCount != 1 || resp.RunningCount != 1 {
		t.Errorf("unexpected health response: %+v", resp)
	}
	if resp.DBSizeBytes <= 0 {
		t.Errorf("expected a database size, got %d", resp.DBSizeBytes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in metrics output")
	}
}

func TestAssign_SetsCookieAndSticks(t *testing.T) {
	srv, svc := setupTestServer(t)
	test := runningTest(t, svc)

	w := do(t, srv, http.MethodPost, "/api/assign", server.AssignRequest{TestID: test.ID}, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var first server.AssignResponse
	json.NewDecoder(w.Body).Decode(&first)
	if !first.Assigned || first.VariantID == "" || first.VisitorID == "" {
		t.Fatalf("expected an assignment, got %+v", first)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "fg_vid" || cookies[0].Value != first.VisitorID {
		t.Fatalf("expected visitor cookie, got %+v", cookies)
	}

	// Second request presents the cookie and gets the same variant
	req := httptest.NewRequest(http.MethodPost, "/api/assign",
		strings.NewReader(`{"test_id":`+jsonInt(test.ID)+`}`))
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var second server.AssignResponse
	json.NewDecoder(w.Body).Decode(&second)
	if second.VariantID != first.VariantID || second.VisitorID != first.VisitorID {
		t.Errorf("expected sticky assignment %+v, got %+v", first, second)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("expected no new cookie for a known visitor")
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestAssign_RendersForm(t *testing.T) {
	srv, svc := setupTestServer(t)
	test := runningTest(t, svc)

	body := `{"test_id":` + jsonInt(test.ID) + `,"visitor_id":"v1","form":{"title":"Contact"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/assign", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var resp server.AssignResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Assigned || resp.VisitorID != "v1" {
		t.Fatalf("expected assignment, got %s", w.Body.String())
	}
	if resp.Form["title"] != "Contact" {
		t.Errorf("expected rendered form, got %v", resp.Form)
	}
}

func TestAssign_NotRunning(t *testing.T) {
	srv, svc := setupTestServer(t)
	test, _ := svc.CreateTest(context.Background(), "contact", experiment.TestConfig{})

	w := do(t, srv, http.MethodPost, "/api/assign", server.AssignRequest{TestID: test.ID, VisitorID: "v1"}, false)
	var resp server.AssignResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusOK || resp.Assigned {
		t.Errorf("expected unassigned 200, got %d %+v", w.Code, resp)
	}
}

func TestAssign_CORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodOptions, "/api/assign", nil, false)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}
}

func TestTrack(t *testing.T) {
	srv, svc := setupTestServer(t)
	test := runningTest(t, svc)

	cases := []struct {
		name string
		req  server.TrackRequest
		want int
	}{
		{"view", server.TrackRequest{TestID: test.ID, VariantID: "control", VisitorID: "v1", EventType: "view"}, http.StatusNoContent},
		{"convert", server.TrackRequest{TestID: test.ID, VariantID: "control", VisitorID: "v1", EventType: "convert"}, http.StatusNoContent},
		{"unknown type", server.TrackRequest{TestID: test.ID, VariantID: "control", VisitorID: "v1", EventType: "hover"}, http.StatusBadRequest},
		{"unknown variant", server.TrackRequest{TestID: test.ID, VariantID: "zzz", VisitorID: "v1", EventType: "view"}, http.StatusNotFound},
		{"missing fields", server.TrackRequest{EventType: "view"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/api/track", tc.req, false)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}

	res, err := svc.CalculateResults(context.Background(), test.ID)
	if err != nil {
		t.Fatalf("CalculateResults failed: %v", err)
	}
	control, _ := res.Get("control")
	if control.Views != 1 || control.Conversions != 1 {
		t.Errorf("expected 1 view and 1 conversion, got %+v", control)
	}
}

func TestResults(t *testing.T) {
	srv, svc := setupTestServer(t)
	test := runningTest(t, svc)

	w := do(t, srv, http.MethodGet, "/api/tests/"+jsonInt(test.ID)+"/results", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp server.ResultsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Variants) != 2 || resp.Status != "running" || resp.Winner != nil {
		t.Errorf("unexpected results: %+v", resp)
	}

	if w := do(t, srv, http.MethodGet, "/api/tests/999/results", nil, false); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/tests/abc/results", nil, false); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	srv, _ := setupTestServer(t)

	if w := do(t, srv, http.MethodGet, "/api/admin/tests", nil, false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/tests", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/tests?token="+adminToken, nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", w.Code)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "fg_token" {
		t.Fatalf("expected token cookie, got %+v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/tests", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with cookie, got %d", w.Code)
	}
}

func TestAdmin_Lifecycle(t *testing.T) {
	srv, _ := setupTestServer(t)

	create := map[string]any{
		"form_id":            "signup",
		"traffic_allocation": "weighted",
		"variants": []map[string]any{
			{"id": "control", "is_control": true, "weight": 1},
			{"id": "short", "weight": 3, "changes": []map[string]any{{"op": "remove", "path": "fields.2"}}},
		},
	}
	w := do(t, srv, http.MethodPost, "/api/admin/tests", create, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var test server.TestResponse
	json.NewDecoder(w.Body).Decode(&test)
	if test.Status != "draft" || test.TrafficAllocation != "weighted" || len(test.Variants) != 2 {
		t.Fatalf("unexpected test: %+v", test)
	}
	if len(test.Variants[1].Changes) != 1 {
		t.Fatalf("expected changes to round trip, got %+v", test.Variants[1])
	}

	base := "/api/admin/tests/" + jsonInt(test.ID)
	steps := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, base + "/pause", nil, http.StatusConflict},
		{http.MethodPost, base + "/start", nil, http.StatusOK},
		{http.MethodDelete, base, nil, http.StatusConflict},
		{http.MethodPost, base + "/pause", nil, http.StatusOK},
		{http.MethodPost, base + "/resume", nil, http.StatusOK},
		{http.MethodPost, base + "/complete", server.CompleteRequest{WinnerVariantID: strPtr("nope")}, http.StatusConflict},
		{http.MethodPost, base + "/complete", server.CompleteRequest{WinnerVariantID: strPtr("short")}, http.StatusOK},
		{http.MethodPost, base + "/explode", nil, http.StatusNotFound},
		{http.MethodDelete, base, nil, http.StatusNoContent},
		{http.MethodGet, base, nil, http.StatusNotFound},
	}
	for _, st := range steps {
		w := do(t, srv, st.method, st.path, st.body, true)
		if w.Code != st.want {
			t.Errorf("%s %s: expected %d, got %d: %s", st.method, st.path, st.want, w.Code, w.Body.String())
		}
	}
}

func TestAdmin_CreateInvalid(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv, http.MethodPost, "/api/admin/tests", map[string]any{"name": "no form"}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/admin/tests", map[string]any{
		"form_id":  "f",
		"variants": []map[string]any{{"changes": []map[string]any{{"op": "explode", "path": "x"}}}},
	}, true)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown change op, got %d", w.Code)
	}
}

func strPtr(s string) *string { return &s }
