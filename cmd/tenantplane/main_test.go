package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

func TestEnvOrDefault_Fallback(t *testing.T) {
	v := envOrDefault("TENANTPLANE_TEST_NONEXISTENT_KEY", "fallback")
	if v != "fallback" {
		t.Errorf("got %q, want %q", v, "fallback")
	}
}

func TestEnvOrDefault_EnvSet(t *testing.T) {
	t.Setenv("TENANTPLANE_TEST_KEY", "custom")

	v := envOrDefault("TENANTPLANE_TEST_KEY", "fallback")
	if v != "custom" {
		t.Errorf("got %q, want %q", v, "custom")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provisioner != "local" || cfg.UsageSink != "log" {
		t.Errorf("provisioner = %q, sink = %q", cfg.Provisioner, cfg.UsageSink)
	}
	if cfg.StepTimeout != 10*time.Second || cfg.DispatchPoolSize != 8 || cfg.DispatchRetryFor != 2*time.Minute {
		t.Errorf("step timeout = %v, pool = %d, retry window = %v", cfg.StepTimeout, cfg.DispatchPoolSize, cfg.DispatchRetryFor)
	}
	if cfg.MeteringMarker != domain.DefaultMeteringMarker {
		t.Errorf("marker = %q", cfg.MeteringMarker)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"provisioner":      {"PROVISIONER", "gcp"},
		"usage sink":       {"USAGE_SINK", "kafka"},
		"firehose no name": {"USAGE_SINK", "firehose"},
		"step timeout":     {"STEP_TIMEOUT", "soon"},
		"pool size":        {"DISPATCH_POOL_SIZE", "0"},
		"retry window":     {"DISPATCH_RETRY_WINDOW", "forever"},
		"usage plans":      {"GATEWAY_USAGE_PLANS", "basic"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := loadConfig(); err == nil {
				t.Errorf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestParseUsagePlans(t *testing.T) {
	plans, err := parseUsagePlans("basic=plan-1, premium=plan-2")
	if err != nil {
		t.Fatalf("parseUsagePlans: %v", err)
	}
	if plans["basic"] != "plan-1" || plans["premium"] != "plan-2" || len(plans) != 2 {
		t.Errorf("plans = %v", plans)
	}
}

// silenceStdout discards OTel stdout exporter output during a test.
func silenceStdout(t *testing.T) {
	t.Helper()
	origStdout := os.Stdout
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})
}

func get(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	return http.DefaultClient.Do(req)
}

// TestRun exercises the real run() function end-to-end: OTel, River, the
// dispatcher, HTTP server and graceful shutdown. A tenant is onboarded
// through the API and must reach Active through the queue.
func TestRun(t *testing.T) {
	t.Setenv("DATABASE_PATH", t.TempDir()+"/test-run.db")
	t.Setenv("PORT", "19876")
	t.Setenv("OTEL_EXPORTER", "none")
	t.Setenv("OTEL_ENVIRONMENT", "test")
	t.Setenv("DEFAULT_COMMIT_ID", "abc123")
	silenceStdout(t)

	errCh := make(chan error, 1)
	go func() { errCh <- run() }()

	serverURL := "http://localhost:19876"
	ready := false
	for i := 0; i < 50; i++ {
		resp, reqErr := get(t, serverURL+"/api/v1/tenants")
		if reqErr == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		t.Fatal("server did not start within 5 seconds")
	}

	body := `{"id":"acme","name":"Acme","email":"ops@acme.test","tier":"BASIC"}`
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, serverURL+"/api/v1/tenants", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/v1/tenants failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var status string
	for i := 0; i < 100 && status != string(domain.StatusActive); i++ {
		time.Sleep(100 * time.Millisecond)
		resp, err := get(t, serverURL+"/api/v1/tenants/acme")
		if err != nil {
			t.Fatalf("GET tenant: %v", err)
		}
		var tenant map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&tenant)
		resp.Body.Close()
		status = fmt.Sprint(tenant["status"])
	}
	if status != string(domain.StatusActive) {
		t.Fatalf("tenant status = %q, want Active", status)
	}

	// Send SIGINT to trigger graceful shutdown.
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("finding process: %v", err)
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run() returned error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not exit within 15 seconds")
	}
}

// TestRun_InvalidDB verifies run() returns an error for an invalid database path.
func TestRun_InvalidDB(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/nonexistent/path/db.sqlite")
	t.Setenv("PORT", "19877")
	t.Setenv("OTEL_EXPORTER", "none")
	t.Setenv("OTEL_ENVIRONMENT", "test")
	silenceStdout(t)

	if err := run(); err == nil {
		t.Fatal("expected error for invalid database path, got nil")
	}
}

// TestRun_InvalidCatalog verifies run() refuses to start with a bad tier catalog.
func TestRun_InvalidCatalog(t *testing.T) {
	path := t.TempDir() + "/tiers.yaml"
	if err := os.WriteFile(path, []byte("tiers: []\n"), 0o600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	t.Setenv("DATABASE_PATH", t.TempDir()+"/catalog.db")
	t.Setenv("TIER_CATALOG_PATH", path)
	t.Setenv("PORT", "19878")
	t.Setenv("OTEL_EXPORTER", "none")
	silenceStdout(t)

	if err := run(); err == nil {
		t.Fatal("expected error for empty tier catalog, got nil")
	}
}
