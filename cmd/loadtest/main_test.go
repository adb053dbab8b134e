package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

const testSecret = "load-secret"

func noEnv(string) string { return "" }

// fakeAPI повторяет контракт HTTP API в объёме сценариев нагрузки.
type fakeAPI struct {
	mu       sync.Mutex
	keys     map[string]bool
	statuses map[string][]string
	cancels  int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{keys: map[string]bool{}, statuses: map[string][]string{}}

	r := chi.NewRouter()
	r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		api.keys[key] = true
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Order{ID: "order-" + key, Status: domain.OrderStatusPending})
	})
	r.Patch("/orders/{id}/cancel", func(w http.ResponseWriter, _ *http.Request) {
		api.mu.Lock()
		api.cancels++
		api.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		api.mu.Lock()
		id := chi.URLParam(r, "id")
		api.statuses[id] = append(api.statuses[id], body.Status)
		api.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api, srv
}

func newTestRunner(cfg config) *runner {
	return &runner{
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.timeout},
		col:        newCollector(),
		runID:      "test",
		staffToken: "staff-token",
	}
}

func baseConfig(addr string, mode loadMode) config {
	return config{
		addr:        addr,
		secret:      testSecret,
		total:       6,
		concurrency: 3,
		timeout:     2 * time.Second,
		mode:        mode,
		productID:   "tshirt-basic",
		attributes:  domain.Attributes{"size": "M"},
		quantity:    1,
		postalCode:  "10115",
		city:        "Berlin",
		customerTag: "load",
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig([]string{"-secret=s"}, noEnv)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.mode != modeCreate || cfg.total != 400 || cfg.totalSet {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.attributes["size"] != "M" || cfg.attributes["color"] != "black" {
		t.Fatalf("unexpected default attributes: %+v", cfg.attributes)
	}
}

func TestParseConfig_SecretFromEnvironment(t *testing.T) {
	cfg, err := parseConfig([]string{"-addr=http://api:8080/", "-total=5"}, func(key string) string {
		if key == envJWTSecret {
			return "from-env"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.secret != "from-env" || cfg.addr != "http://api:8080" || !cfg.totalSet {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	cases := map[string][]string{
		"jwt secret is required":   {},
		"unsupported mode":         {"-secret=s", "-mode=pay"},
		"invalid attribute":        {"-secret=s", "-attrs=size"},
		"concurrency must be > 0":  {"-secret=s", "-concurrency=0"},
		"quantity must be > 0":     {"-secret=s", "-quantity=0"},
		"cancel-rate must be":      {"-secret=s", "-cancel-rate=101"},
		"total must be > 0":        {"-secret=s", "-total=0"},
		"duration must be >= 0":    {"-secret=s", "-duration=-1s"},
		"customer-tag is required": {"-secret=s", "-customer-tag= "},
	}
	for want, args := range cases {
		_, err := parseConfig(args, noEnv)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%v: expected %q, got %v", args, want, err)
		}
	}
}

func TestRunner_CreateCancel(t *testing.T) {
	api, srv := newFakeAPI(t)
	r := newTestRunner(baseConfig(srv.URL, modeCreateCancel))

	r.run()

	result := r.col.buildReport(time.Now(), time.Second)
	if result.TotalScenarios != 6 || result.FailedScenarios != 0 {
		t.Fatalf("unexpected report: %+v", result)
	}
	if len(api.keys) != 6 || api.cancels != 6 {
		t.Fatalf("expected 6 creates and cancels, got %d/%d", len(api.keys), api.cancels)
	}
	if got := result.Methods["CancelOrder"].Statuses["204"]; got != 6 {
		t.Fatalf("expected 6 no-content cancels, got %d", got)
	}
}

func TestRunner_CreateFulfill(t *testing.T) {
	api, srv := newFakeAPI(t)
	cfg := baseConfig(srv.URL, modeCreateFulfill)
	cfg.total = 2
	r := newTestRunner(cfg)

	r.run()

	if r.failures.Load() != 0 {
		t.Fatalf("unexpected failures: %d", r.failures.Load())
	}
	for id, statuses := range api.statuses {
		if strings.Join(statuses, ",") != "PROCESSING,IN_TRANSIT,DELIVERED,COMPLETED" {
			t.Fatalf("order %s walked %v", id, statuses)
		}
	}
	if len(api.statuses) != 2 {
		t.Fatalf("expected 2 fulfilled orders, got %d", len(api.statuses))
	}
}

func TestRunner_UnexpectedStatusCountsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	cfg := baseConfig(srv.URL, modeCreate)
	cfg.total = 3
	r := newTestRunner(cfg)
	r.run()

	result := r.col.buildReport(time.Now(), time.Second)
	if result.FailedScenarios != 3 || result.Methods["CreateOrder"].Statuses["409"] != 3 {
		t.Fatalf("unexpected report: %+v", result)
	}
}

func TestShouldCancelScenario(t *testing.T) {
	if shouldCancelScenario(5, 0) || !shouldCancelScenario(5, 100) {
		t.Fatal("unexpected boundary behaviour")
	}
	if !shouldCancelScenario(105, 10) || shouldCancelScenario(150, 10) {
		t.Fatal("unexpected percentage behaviour")
	}
}

func TestBuildLatencySummary(t *testing.T) {
	summary := buildLatencySummary([]float64{4, 1, 3, 2})
	if summary.Min != 1 || summary.Max != 4 || summary.Avg != 2.5 || summary.P50 != 2.5 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if buildLatencySummary(nil) != (latencySummary{}) {
		t.Fatal("expected zero summary for empty input")
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := writeJSONReport("report.json", report{TotalScenarios: 3}); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"total_scenarios": 3`)) {
		t.Fatalf("unexpected report: %s", raw)
	}

	if err := writeJSONReport("../escape.json", report{}); err == nil {
		t.Fatal("expected error for path outside working directory")
	}
}

func TestPrintReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMethod, time.Millisecond, http.StatusOK, true)
	col.record("CreateOrder", time.Millisecond, http.StatusCreated, true)

	var out bytes.Buffer
	printReport(&out, col.buildReport(time.Now(), time.Second), config{mode: modeCreate, total: 1})
	if !strings.Contains(out.String(), "CreateOrder: calls=1") || !strings.Contains(out.String(), "run=count:1") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
