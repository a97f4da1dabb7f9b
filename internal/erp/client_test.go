package erp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/medidesk/clinicflow/internal/observability/metrics"
	"github.com/medidesk/clinicflow/pkg/breaker"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(DefaultConfig(srv.URL), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, srv
}

func TestListBuildsQuery(t *testing.T) {
	var gotPath, gotFilter, gotTop, gotExpand string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFilter = r.URL.Query().Get("$filter")
		gotTop = r.URL.Query().Get("$top")
		gotExpand = r.URL.Query().Get("$expand")
		json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{{"id": 7, "Name": "row"}},
		})
	}))

	recs, err := client.List(context.Background(), "c_bpartner", ListQuery{
		Filter: Eq("TaxID", "123"),
		Top:    1,
		Expand: "C_BPartner_ID",
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotPath != "/models/c_bpartner" {
		t.Errorf("path = %q", gotPath)
	}
	if gotFilter != "TaxID eq '123'" {
		t.Errorf("$filter = %q", gotFilter)
	}
	if gotTop != "1" || gotExpand != "C_BPartner_ID" {
		t.Errorf("$top = %q, $expand = %q", gotTop, gotExpand)
	}
	if len(recs) != 1 || recs[0].ID() != 7 {
		t.Fatalf("records = %v", recs)
	}
}

func TestGetNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Get(context.Background(), "ad_sysconfig", 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSendsTokenAndBody(t *testing.T) {
	var gotAuth string
	var gotBody Record
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": 11})
	}))
	client.SetToken("tok-abc")

	rec, err := client.Create(context.Background(), "c_bpartner", Record{"Name": "Jane"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.String("Name") != "Jane" {
		t.Errorf("body = %v", gotBody)
	}
	if rec.ID() != 11 {
		t.Errorf("id = %d", rec.ID())
	}
}

func TestRejectedTokenTearsDownSession(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	hookFired := 0
	client.OnUnauthorized(func() { hookFired++ })
	client.SetToken("stale")

	_, err := client.Get(context.Background(), "c_bpartner", 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if client.Token() != "" {
		t.Error("token should be cleared after rejection")
	}
	if hookFired != 1 {
		t.Errorf("teardown hook fired %d times, want 1", hookFired)
	}

	// Without a token attached a 401 must not fire the hook again.
	_, err = client.Get(context.Background(), "c_bpartner", 1)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if hookFired != 1 {
		t.Errorf("hook fired %d times after tokenless 401, want still 1", hookFired)
	}
}

func TestLoginDoesNotTriggerTeardown(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	hookFired := false
	client.OnUnauthorized(func() { hookFired = true })

	_, err := client.Login(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if hookFired {
		t.Error("failed login must not tear down the session")
	}
}

func TestLoginInstallsToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/tokens" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"token": "interim",
			"clients": []map[string]any{
				{"id": 1000000, "name": "Clinic"},
			},
		})
	}))

	res, err := client.Login(context.Background(), "user", "pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "interim" {
		t.Errorf("token = %q", res.Token)
	}
	if len(res.Tenants) != 1 || res.Tenants[0].ID != 1000000 {
		t.Errorf("tenants = %v", res.Tenants)
	}
	if client.Token() != "interim" {
		t.Errorf("client token = %q, want interim", client.Token())
	}
}

func TestBreakerStateDrivesGauge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	m := metrics.New()
	cfg := DefaultConfig(srv.URL)
	cfg.Breaker = breaker.DefaultConfig("gauge-gateway")
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.MinRequests = 100
	client, err := New(cfg, m, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	gauge := m.CircuitBreakerState.WithLabelValues("gauge-gateway")
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("initial circuit_breaker_state = %v, want 0 (closed)", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := client.Get(context.Background(), "c_bpartner", 1); err == nil {
			t.Fatal("expected failure against a broken backend")
		}
	}

	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("circuit_breaker_state = %v, want 1 (open)", got)
	}
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"id":          float64(12),
		"IsConfirmed": "Y",
		"Qty":         json.Number("3"),
		"S_Resource_ID": map[string]any{
			"id":         float64(5),
			"identifier": "Dr. House",
		},
	}
	if rec.ID() != 12 {
		t.Errorf("ID = %d", rec.ID())
	}
	if !rec.Bool("IsConfirmed") {
		t.Error("Bool should read Y as true")
	}
	if rec.Int("Qty") != 3 {
		t.Errorf("Int = %d", rec.Int("Qty"))
	}
	if rec.RefID("S_Resource_ID") != 5 {
		t.Errorf("RefID = %d", rec.RefID("S_Resource_ID"))
	}
	if rec.RefName("S_Resource_ID") != "Dr. House" {
		t.Errorf("RefName = %q", rec.RefName("S_Resource_ID"))
	}
}
