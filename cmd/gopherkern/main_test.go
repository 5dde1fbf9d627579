package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zjuxlh1993/15410-1/kernel/config"
	"github.com/zjuxlh1993/15410-1/kernel/metrics"
	"github.com/zjuxlh1993/15410-1/kernel/sched"
)

func TestListPrograms(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-list-programs"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{"init\n", "fork_test\n", "thread_test\n", "halt\n"} {
		if !strings.Contains(stdout.String(), exp) {
			t.Errorf("expected program list to contain %q; got %q", exp, stdout.String())
		}
	}
}

func TestPrintConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), []string{"-print-config", "-init", "spin 10", "-log-level", "debug"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}

	var cfg config.Config
	if _, err := toml.Decode(stdout.String(), &cfg); err != nil {
		t.Fatal(err)
	}

	if exp, got := "spin 10", cfg.Boot.Init; got != exp {
		t.Errorf("expected init %q; got %q", exp, got)
	}
	if exp, got := "debug", cfg.Logging.Level; got != exp {
		t.Errorf("expected log level %q; got %q", exp, got)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	badConfig := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(badConfig, []byte("[machine]\nmax_threads = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		args []string
		exp  string
	}{
		{[]string{"-no-such-flag"}, "flag provided but not defined"},
		{[]string{"-config", filepath.Join(dir, "missing.toml")}, "missing.toml"},
		{[]string{"-config", badConfig}, "invalid configuration"},
		{[]string{"-init", "no_such_program"}, "exec no_such_program"},
	}

	for _, spec := range specs {
		var stdout, stderr bytes.Buffer
		err := run(context.Background(), spec.args, &stdout, &stderr)
		if err == nil || !strings.Contains(err.Error()+stderr.String(), spec.exp) {
			t.Errorf("%v: expected error containing %q; got %v", spec.args, spec.exp, err)
		}
	}
}

func TestRunProgram(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "kernel.toml")
	cfgData := "[machine]\nframes = 1024\n\n[logging]\nasync = false\n\n[metrics]\nenabled = false\n"
	if err := os.WriteFile(cfgPath, []byte(cfgData), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// threads parked at power off may still hold the console; reads go
	// through the same lock as their writes
	var stdout, stderr lockedBuffer
	if err := run(ctx, []string{"-config", cfgPath, "-init", "fork_test 2"}, &stdout, &stderr); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatal("timed out waiting for the machine to power off")
	}

	if !strings.Contains(stdout.String(), "fork_test: ok (2 children)\n") {
		t.Fatalf("expected fork_test to pass; console:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "machine booted") {
		t.Fatalf("expected boot to be logged; logs:\n%s", stderr.String())
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type deliveredCount uint64

func (d deliveredCount) Delivered() uint64 { return uint64(d) }

func TestMetricsServer(t *testing.T) {
	srv := metricsServer(config.MetricsConfig{Listen: "127.0.0.1:0", Path: "/metrics"}, metrics.Sources{
		Sched: func() sched.Stats {
			return sched.Stats{ContextSwitches: 12}
		},
		Interrupts: deliveredCount(7),
	})

	specs := []struct {
		path    string
		expCode int
		expBody []string
	}{
		{"/metrics", http.StatusOK, []string{
			"gopherkern_context_switches_total 12",
			"gopherkern_interrupts_delivered_total 7",
			"go_goroutines",
		}},
		{"/", http.StatusOK, []string{`<a href="/metrics">`}},
		{"/no-such-page", http.StatusNotFound, nil},
	}

	for _, spec := range specs {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, spec.path, nil))

		if rec.Code != spec.expCode {
			t.Errorf("%s: expected status %d; got %d", spec.path, spec.expCode, rec.Code)
			continue
		}
		for _, exp := range spec.expBody {
			if !strings.Contains(rec.Body.String(), exp) {
				t.Errorf("%s: expected body to contain %q; got:\n%s", spec.path, exp, rec.Body.String())
			}
		}
	}
}
