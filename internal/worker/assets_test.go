package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const indexHTML = `<!doctype html>
<html>
<head>
  <link rel="manifest" href="/manifest.webmanifest">
  <link rel="stylesheet" href="/assets/app.css">
  <link rel="icon" href="/icons/icon-192.png">
  <link rel="preconnect" href="https://api.example.com">
  <link rel="stylesheet" href="https://fonts.example.com/inter.css">
</head>
<body>
  <img src="/icons/icon-192.png" alt="">
  <img src="logo.svg" alt="">
  <script type="module" src="/assets/app.js?v=3"></script>
  <script src="https://cdn.example.com/lib.js"></script>
</body>
</html>`

func TestDiscoverAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(indexHTML))
	}))
	defer srv.Close()

	got, err := DiscoverAssets(context.Background(), http.DefaultClient, srv.URL)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{
		"/",
		"/manifest.webmanifest",
		"/assets/app.css",
		"/icons/icon-192.png",
		"/assets/app.js?v=3",
		"/logo.svg",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("assets mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverAssetsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := DiscoverAssets(context.Background(), http.DefaultClient, srv.URL); err == nil {
		t.Fatal("expected error for 404 index")
	}
}

func writeManifest(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	writeManifest(t, good, `{"version":"2024-06-01","assets":["/","/app.js"]}`)
	m, err := LoadManifest(good)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Manifest{Version: "2024-06-01", Assets: []string{"/", "/app.js"}}, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}

	noVersion := filepath.Join(dir, "noversion.json")
	writeManifest(t, noVersion, `{"assets":["/"]}`)
	if _, err := LoadManifest(noVersion); err == nil {
		t.Error("expected error for manifest without version")
	}
	if _, err := LoadManifest(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing manifest")
	}
}

func TestWatchManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	writeManifest(t, path, `{"version":"v1","assets":["/"]}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Manifest, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchManifest(ctx, path, func(m Manifest) { changes <- m }, discardLogger())
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeManifest(t, filepath.Join(dir, "other.json"), `{"version":"ignored"}`)
	writeManifest(t, path, `{"version":"v2","assets":["/","/app.js"]}`)

	select {
	case m := <-changes:
		if m.Version != "v2" {
			t.Errorf("version = %q, want v2", m.Version)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no manifest change observed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
