package bundle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-bridge/internal/wasm"
)

var minimalModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	runtime, err := wasm.NewRuntime(ctx, logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	return NewLoader(runtime, 0, logger)
}

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Load_File(t *testing.T) {
	loader := newTestLoader(t)

	b, err := loader.Load(context.Background(), filepath.Join("testdata", "valid"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if b.Name() != "counter" {
		t.Errorf("expected name 'counter', got '%s'", b.Name())
	}
	if b.Version() != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", b.Version())
	}
	if b.Compiled == nil {
		t.Fatal("Compiled module should be set")
	}
	if b.Compiled.Source != filepath.Join("testdata", "valid", "app.wasm") {
		t.Errorf("Compiled.Source = %s", b.Compiled.Source)
	}
	if b.LoadedAt.IsZero() {
		t.Error("LoadedAt should be set")
	}
}

func TestLoader_Load_PrefersURL(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(minimalModule)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.wasm"), minimalModule, 0644); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, fmt.Sprintf("name: remote\nversion: 1.0.0\nwasm:\n  url: %s/app.wasm\n  file: app.wasm\n", srv.URL))

	b, err := newTestLoader(t).Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
	if b.Compiled.Source != srv.URL+"/app.wasm" {
		t.Errorf("Compiled.Source = %s, want the URL", b.Compiled.Source)
	}
}

func TestLoader_Load_FallsBackToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.wasm"), minimalModule, 0644); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, fmt.Sprintf("name: remote\nversion: 1.0.0\nwasm:\n  url: %s/app.wasm\n  file: app.wasm\n", srv.URL))

	b, err := newTestLoader(t).Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if b.Compiled.Source != filepath.Join(dir, "app.wasm") {
		t.Errorf("Compiled.Source = %s, want the local file", b.Compiled.Source)
	}
}

func TestLoader_Load_InvalidManifest(t *testing.T) {
	_, err := newTestLoader(t).Load(context.Background(), filepath.Join("testdata", "invalid-yaml"))

	var parseErr *ManifestParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestLoader_Load_CompileFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.wasm"), []byte("not wasm"), 0644); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "name: broken\nversion: 1.0.0\nwasm:\n  file: app.wasm\n")

	_, err := newTestLoader(t).Load(context.Background(), dir)

	var loadErr *BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected BundleLoadError, got %T (%v)", err, err)
	}
	if loadErr.BundleName != "broken" {
		t.Errorf("BundleName = %s, want broken", loadErr.BundleName)
	}

	var compErr *wasm.CompilationError
	if !errors.As(err, &compErr) {
		t.Error("BundleLoadError should wrap the compilation error")
	}
}
