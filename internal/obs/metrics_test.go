package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr.Body.String()
}

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/entries/{entryID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/entries/01HZX", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	body := scrape(t)
	if !strings.Contains(body, `http_requests_total{method="GET",route="/v1/entries/{entryID}",status="418"}`) {
		t.Fatalf("expected route pattern label in metrics:\n%s", body)
	}
	if strings.Contains(body, "01HZX") {
		t.Fatal("raw path leaked into labels")
	}
}

func TestRoutePatternWithoutRouter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	if got := RoutePattern(req); got != "unmatched" {
		t.Fatalf("expected unmatched, got %q", got)
	}
}

func TestObserveSweep(t *testing.T) {
	Init()
	ObserveSweep("metrics-test", 20*time.Millisecond, map[string]int{"repaired": 3})
	body := scrape(t)
	if !strings.Contains(body, `tiernet_sweep_items_total{kind="metrics-test",outcome="repaired"} 3`) {
		t.Fatalf("sweep items not recorded:\n%s", body)
	}
	if !strings.Contains(body, `tiernet_sweep_duration_seconds_count{kind="metrics-test"} 1`) {
		t.Fatalf("sweep duration not recorded:\n%s", body)
	}
}

func TestHandlerExposesBuildInfo(t *testing.T) {
	Init()
	InitBuildInfo("test", "abc123")
	if body := scrape(t); !strings.Contains(body, `build_info{commit="abc123",version="test"} 1`) {
		t.Fatalf("build_info not exposed:\n%s", body)
	}
}
