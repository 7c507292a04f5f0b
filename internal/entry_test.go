package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/notegraph/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Notes.Root = testutil.TestVault(t, map[string]string{
		"a.md": "[[b]]",
		"b.md": "",
	})
	cfg.Cache.Dir = t.TempDir()
	return cfg
}

func TestOpenService(t *testing.T) {
	var logs bytes.Buffer
	svc, err := OpenService(context.Background(), WithConfig(testConfig(t)), WithLogOutput(&logs))
	if err != nil {
		t.Fatal(err)
	}
	if len(svc.Graph().Nodes) != 2 {
		t.Errorf("nodes = %d", len(svc.Graph().Nodes))
	}
}

func TestOpenService_RequiresConfig(t *testing.T) {
	if _, err := OpenService(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestRouter(t *testing.T) {
	var logs bytes.Buffer
	svc, err := OpenService(context.Background(), WithConfig(testConfig(t)), WithLogOutput(&logs))
	if err != nil {
		t.Fatal(err)
	}
	h := NewRouter(svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("live = %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var ready map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatal(err)
	}
	if ready["notes"] != float64(2) {
		t.Errorf("ready = %v", ready)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "notegraph_builds_total") {
		t.Errorf("metrics missing build counter")
	}
}
