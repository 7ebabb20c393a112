package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
)

func stubServer(t *testing.T) {
	t.Helper()
	origListen := listenAndServe
	origExit := exitFunc
	t.Cleanup(func() {
		listenAndServe = origListen
		exitFunc = origExit
	})
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("REDIS_ADDR", "")
}

func TestRunReturnsListenError(t *testing.T) {
	stubServer(t)
	listenAndServe = func(addr string, handler http.Handler) error {
		if handler == nil {
			t.Fatalf("expected handler")
		}
		if addr != ":9090" {
			t.Fatalf("expected addr :9090, got %s", addr)
		}
		return errors.New("boom")
	}
	exitFunc = func(error) {}

	t.Setenv("PORT", "9090")

	if err := run(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestRunConfigError(t *testing.T) {
	stubServer(t)
	listenAndServe = func(string, http.Handler) error {
		t.Fatal("listenAndServe should not be called")
		return nil
	}
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if err := run(context.Background()); err == nil {
		t.Fatal("expected config error")
	}
}

func TestMainCompletes(t *testing.T) {
	stubServer(t)
	listenAndServe = func(string, http.Handler) error { return nil }
	exitFunc = func(error) { t.Fatal("exitFunc should not be called") }

	t.Setenv("PORT", "9091")

	main()
}

func TestMainHandlesError(t *testing.T) {
	stubServer(t)
	listenAndServe = func(string, http.Handler) error { return errors.New("main boom") }
	var got error
	exitFunc = func(err error) { got = err }

	t.Setenv("PORT", "9092")

	main()

	if got == nil || got.Error() != "main boom" {
		t.Fatalf("expected exitFunc to capture error, got %v", got)
	}
}
