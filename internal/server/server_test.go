package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"plazos/internal/config"
	"plazos/internal/db"
	"plazos/internal/domain"
	"plazos/internal/engine"
	"plazos/internal/migrate"
	"plazos/internal/scheduler"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowOwnerHeader: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), nil)
	e.Now = func() time.Time { return time.Date(2025, 8, 12, 12, 0, 0, 0, time.UTC) }

	reg := prometheus.NewRegistry()
	notifier := scheduler.NotifierFunc(func(context.Context, domain.Event, int) error { return nil })
	sched := scheduler.New(e.Repo, notifier, scheduler.Options{Now: e.Now, Metrics: scheduler.NewMetrics(reg)})

	handler, err := New(Config{
		Engine:    e,
		Scheduler: sched,
		Gatherer:  reg,
		BasePath:  "/v0",
		Auth:      authCfg,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func bearer(t *testing.T, owner string) map[string]string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: owner}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func ownerHeader(owner string) map[string]string {
	return map[string]string{"X-Owner-Id": owner}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func apelacionBody() map[string]any {
	return map[string]any{"start": "2025-07-25", "country": "PE", "domain": "civil", "act": "apelacion"}
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
}

func TestComputeDeadline(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deadlines/compute", apelacionBody(), bearer(t, "owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compute status %d: %s", res.StatusCode, string(body))
	}
	var out struct {
		Computation struct {
			End       string `json:"end"`
			RulesetID string `json:"ruleset_id"`
			Quantity  int    `json:"quantity"`
		} `json:"computation"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Computation.End != "2025-08-13" || out.Computation.RulesetID != "PE.civil.acto.apelacion" || out.Computation.Quantity != 10 {
		t.Fatalf("unexpected computation %+v", out.Computation)
	}
}

func TestComputeRejectsBadQuantity(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	payload := apelacionBody()
	payload["quantity"] = -3
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deadlines/compute", payload, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	if env.Error.Code != "bad_request" || env.Error.Details["field"] != "quantity" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deadlines/compute", apelacionBody(), nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestScheduleDeadlineIsIdempotent(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	payload := apelacionBody()
	payload["agenda"] = map[string]any{"case_ref": "EXP-7"}

	var first engine.ComputeResponse
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/deadlines", payload, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Agenda == nil || !first.Agenda.Created {
		t.Fatalf("expected created record: %s", string(body))
	}

	var second engine.ComputeResponse
	_, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deadlines", payload, bearer(t, "owner-1"))
	_ = json.Unmarshal(body, &second)
	if second.Agenda == nil || second.Agenda.Created || second.Agenda.Event.ID != first.Agenda.Event.ID {
		t.Fatalf("expected update of the same record: %s", string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?status=active", nil, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(body))
	}
	var list EventListResponse
	_ = json.Unmarshal(body, &list)
	if len(list.Items) != 1 {
		t.Fatalf("expected one record, got %d", len(list.Items))
	}

	_, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, bearer(t, "owner-2"))
	list = EventListResponse{}
	_ = json.Unmarshal(body, &list)
	if len(list.Items) != 0 {
		t.Fatalf("records leaked across owners: %s", string(body))
	}
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title":          "Audiencia",
		"when":           "2025-08-12T20:00:00Z",
		"minutes_before": []int{60},
	}, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+ev.ID, nil, ownerHeader("intruder"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(body))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/missing", nil, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+ev.ID+"/mute", map[string]any{"muted": true}, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mute status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+ev.ID+"/cancel", nil, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events/"+ev.ID+"/done", nil, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+ev.ID+"/history", nil, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(body))
	}
	var history []domain.AuditEvent
	_ = json.Unmarshal(body, &history)
	if len(history) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(history))
	}
}

func TestResolveRuleset(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/rulesets/resolve?country=PE&domain=civil&act=contestacion", nil, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d: %s", res.StatusCode, string(body))
	}
	var out ResolutionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RulesetID != "PE.civil.actos.contestacion" || out.MergedAct != "contestacion" || out.Workweek != "mon-fri" {
		t.Fatalf("unexpected resolution %+v", out)
	}
}

func TestSweepAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title":          "Vista",
		"when":           "2025-08-12T14:00:00Z",
		"minutes_before": []int{180},
	}, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/sweep", nil, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sweep status %d: %s", res.StatusCode, string(body))
	}
	var sweep scheduler.SweepResult
	_ = json.Unmarshal(body, &sweep)
	if sweep.RunID == "" || sweep.Fired != 1 {
		t.Fatalf("unexpected sweep %+v", sweep)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "plazos_scheduler_alerts_fired_total 1") {
		t.Fatalf("unexpected metrics %d: %s", res.StatusCode, string(body))
	}
}

func TestSweepRequiresBearerToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/scheduler/sweep", nil, ownerHeader("owner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for header auth, got %d: %s", res.StatusCode, string(body))
	}
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	if env.Error.Code != "forbidden" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestSweepOwnersAllowlist(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, SweepOwners: []string{"ops"}})
	defer cleanup()
	client := srv.Client()
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/sweep", nil, bearer(t, "owner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for unlisted owner, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/sweep", nil, bearer(t, "ops"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for listed owner, got %d: %s", res.StatusCode, string(body))
	}
}

func TestOpenAPIConcurrentRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("get openapi: %v", err)
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if len(b) == 0 || !bytes.Equal(b, bodies[0]) {
			t.Fatalf("openapi body %d differs or is empty", i)
		}
	}
	if !bytes.Contains(bodies[0], []byte("bearerAuth")) {
		t.Fatalf("openapi missing security scheme")
	}
}
