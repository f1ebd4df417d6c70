package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// origin is a fake app server whose assets can be changed during a test.
type origin struct {
	mu     sync.Mutex
	assets map[string]string
	hits   map[string]int
}

func newOrigin(assets map[string]string) *origin {
	return &origin{assets: assets, hits: map[string]int{}}
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits[r.URL.Path]++
	if r.Method != http.MethodGet {
		w.Header().Set("X-Method", r.Method)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	body, ok := o.assets[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, body)
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.assets[path] = body
}

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// switchClient fails every request while offline is set.
type switchClient struct {
	offline atomic.Bool
}

func (c *switchClient) Do(r *http.Request) (*http.Response, error) {
	if c.offline.Load() {
		return nil, errors.New("network down")
	}
	return http.DefaultClient.Do(r)
}

type fakeClient struct {
	url      string
	mu       sync.Mutex
	focused  int
	messages []Message
}

func (c *fakeClient) URL() string { return c.url }

func (c *fakeClient) Focus(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused++
	return nil
}

func (c *fakeClient) PostMessage(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []model.Notification
	closed []string
}

func (n *fakeNotifier) Show(_ context.Context, nt model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, nt)
	return nil
}

func (n *fakeNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
	return nil
}

type fakeOpener struct {
	urls []string
}

func (o *fakeOpener) OpenWindow(_ context.Context, url string) error {
	o.urls = append(o.urls, url)
	return nil
}

type testEnv struct {
	w      *Worker
	store  *storage.SQLite
	origin *origin
	srv    *httptest.Server
	net    *switchClient
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	o := newOrigin(map[string]string{
		"/":         "<html>index</html>",
		"/app.js":   "console.log(1)",
		"/api/ping": "pong",
	})
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	net := &switchClient{}
	opts.Origin = srv.URL
	opts.Client = net
	w, err := New(opts, store, discardLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &testEnv{w: w, store: store, origin: o, srv: srv, net: net}
}

func TestNewRejectsRelativeOrigin(t *testing.T) {
	if _, err := New(Options{Origin: "/app"}, nil, discardLogger()); err == nil {
		t.Fatal("expected error for relative origin")
	}
}

func TestUpdateInstallsAndActivates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	client := &fakeClient{url: env.srv.URL + "/"}
	env.w.AddClient(client)

	if err := env.w.Update(ctx, Manifest{Version: "v1", Assets: []string{"/", "/app.js"}}); err != nil {
		t.Fatalf("update v1: %v", err)
	}
	if env.w.State() != StateActive || env.w.Version() != "v1" {
		t.Fatalf("state = %s version = %q, want active v1", env.w.State(), env.w.Version())
	}

	if err := env.w.Update(ctx, Manifest{Version: "v2", Assets: []string{env.srv.URL + "/app.js"}}); err != nil {
		t.Fatalf("update v2: %v", err)
	}
	names, err := env.store.CacheNames(ctx)
	if err != nil {
		t.Fatalf("cache names: %v", err)
	}
	if diff := cmp.Diff([]string{"cnsniper-v2"}, names); diff != "" {
		t.Errorf("caches mismatch (-want +got):\n%s", diff)
	}

	// Same version again is a no-op.
	if err := env.w.Update(ctx, Manifest{Version: "v2", Assets: []string{"/missing"}}); err != nil {
		t.Fatalf("update v2 again: %v", err)
	}

	want := []Message{
		{Type: MessageUpdated, Version: "v1"},
		{Type: MessageUpdated, Version: "v2"},
	}
	if diff := cmp.Diff(want, client.messages); diff != "" {
		t.Errorf("client messages mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateFailureKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})

	if err := env.w.Update(ctx, Manifest{Version: "v1", Assets: []string{"/"}}); err != nil {
		t.Fatalf("update v1: %v", err)
	}
	err := env.w.Update(ctx, Manifest{Version: "v2", Assets: []string{"/app.js", "/missing.css"}})
	if err == nil {
		t.Fatal("expected install error")
	}

	if env.w.State() != StateActive || env.w.Version() != "v1" {
		t.Errorf("state = %s version = %q, want active v1", env.w.State(), env.w.Version())
	}
	names, err := env.store.CacheNames(ctx)
	if err != nil {
		t.Fatalf("cache names: %v", err)
	}
	if diff := cmp.Diff([]string{"cnsniper-v1"}, names); diff != "" {
		t.Errorf("caches mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateRejectsOversizedAsset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.origin.set("/big.bin", strings.Repeat("x", maxBody+10))

	err := env.w.Update(ctx, Manifest{Version: "v1", Assets: []string{"/", "/big.bin"}})
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("update = %v, want ErrBodyTooLarge", err)
	}
	if env.w.State() != StateNone {
		t.Errorf("state = %s, want none", env.w.State())
	}
	names, err := env.store.CacheNames(ctx)
	if err != nil {
		t.Fatalf("cache names: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("caches = %v, want none", names)
	}
}

func TestUpdateRejectsForeignAsset(t *testing.T) {
	env := newTestEnv(t, Options{})
	err := env.w.Update(context.Background(), Manifest{Version: "v1", Assets: []string{"https://cdn.example.com/x.js"}})
	if err == nil {
		t.Fatal("expected error for asset on another host")
	}
	if env.w.State() != StateNone {
		t.Errorf("state = %s, want none", env.w.State())
	}
}

type countingProgress struct {
	total, done int
	finished    bool
}

func (p *countingProgress) Increment() { p.done++ }
func (p *countingProgress) Finish()    { p.finished = true }

func TestUpdateReportsProgress(t *testing.T) {
	p := &countingProgress{}
	env := newTestEnv(t, Options{Progress: func(total int) Progress {
		p.total = total
		return p
	}})
	if err := env.w.Update(context.Background(), Manifest{Version: "v1", Assets: []string{"/", "/app.js"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if diff := cmp.Diff(&countingProgress{total: 2, done: 2, finished: true}, p, cmp.AllowUnexported(countingProgress{})); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func serve(t *testing.T, w *Worker, method, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{NeverCache: []string{"/api/"}})
	if err := env.w.Update(ctx, Manifest{Version: "v1", Assets: []string{"/", "/app.js"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	nav := map[string]string{"Sec-Fetch-Mode": "navigate"}

	tests := []struct {
		name       string
		offline    bool
		method     string
		path       string
		header     map[string]string
		wantStatus int
		wantSource string
		wantBody   string
	}{
		{name: "navigation online", method: http.MethodGet, path: "/", header: nav, wantStatus: 200, wantSource: "network", wantBody: "<html>index</html>"},
		{name: "navigation offline falls back to cache", offline: true, method: http.MethodGet, path: "/", header: nav, wantStatus: 200, wantSource: "cache", wantBody: "<html>index</html>"},
		{name: "html accept counts as navigation", offline: true, method: http.MethodGet, path: "/", header: map[string]string{"Accept": "text/html,*/*"}, wantStatus: 200, wantSource: "cache", wantBody: "<html>index</html>"},
		{name: "navigation offline uncached", offline: true, method: http.MethodGet, path: "/other", header: nav, wantStatus: http.StatusGatewayTimeout},
		{name: "asset from cache", offline: true, method: http.MethodGet, path: "/app.js", wantStatus: 200, wantSource: "cache", wantBody: "console.log(1)"},
		{name: "asset miss offline", offline: true, method: http.MethodGet, path: "/logo.png", wantStatus: http.StatusGatewayTimeout},
		{name: "never cache prefix passes through", method: http.MethodGet, path: "/api/ping", wantStatus: 200, wantBody: "pong"},
		{name: "non-GET passes through", method: http.MethodPost, path: "/app.js", wantStatus: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.net.offline.Store(tt.offline)
			defer env.net.offline.Store(false)

			rec := serve(t, env.w, tt.method, tt.path, tt.header)
			env.w.WaitRefreshes()

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Worker-Source"); got != tt.wantSource {
				t.Errorf("source = %q, want %q", got, tt.wantSource)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServeHTTPBeforeActivationPassesThrough(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := serve(t, env.w, http.MethodGet, "/app.js", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Worker-Source") != "" {
		t.Errorf("got status %d source %q, want 200 from pass-through", rec.Code, rec.Header().Get("X-Worker-Source"))
	}
	names, _ := env.store.CacheNames(context.Background())
	if len(names) != 0 {
		t.Errorf("expected no caches, got %v", names)
	}
}

func TestCacheFirstRefreshesInBackground(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	if err := env.w.Update(ctx, Manifest{Version: "v1", Assets: []string{"/app.js"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	env.origin.set("/app.js", "console.log(2)")

	rec := serve(t, env.w, http.MethodGet, "/app.js", nil)
	if rec.Body.String() != "console.log(1)" {
		t.Errorf("first response = %q, want stale cached body", rec.Body.String())
	}
	env.w.WaitRefreshes()

	entry, err := env.store.MatchCache(ctx, CacheName("v1"), "/app.js")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if string(entry.Body) != "console.log(2)" {
		t.Errorf("cached body = %q, want refreshed body", entry.Body)
	}
	if got := env.origin.hitCount("/app.js"); got != 2 {
		t.Errorf("origin hits = %d, want 2", got)
	}
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{AppURL: "https://app.example.com/"})
	nt := &fakeNotifier{}
	env.w.AddNotifier(nt)

	if err := env.w.Push(ctx, nil); err != nil {
		t.Fatalf("empty push: %v", err)
	}
	if err := env.w.Push(ctx, []byte("{not json")); !errors.Is(err, ErrMalformedPush) {
		t.Fatalf("malformed push error = %v, want ErrMalformedPush", err)
	}
	if err := env.w.Push(ctx, []byte(`{"body":"Lego 10300","match_key":"lego 10300"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := env.w.Push(ctx, []byte(`{"title":"GIGANTOS","body":"x","is_gigantos":true,"match_key":"k2","app_url":"https://app.example.com/offers","badge":"/b.png"}`)); err != nil {
		t.Fatalf("push gigantos: %v", err)
	}

	want := []model.Notification{
		{
			Title: DefaultTitle, Body: "Lego 10300", Icon: DefaultIcon, Badge: DefaultBadge,
			Vibrate: VibrateDefault, Tag: OfferTag, Renotify: true,
			Data: model.NotificationData{MatchKey: "lego 10300", AppURL: "https://app.example.com/", FromPush: true},
		},
		{
			Title: "GIGANTOS", Body: "x", Icon: DefaultIcon, Badge: "/b.png",
			Vibrate: VibrateGigantos, Tag: OfferTag, Renotify: true,
			Data: model.NotificationData{MatchKey: "k2", AppURL: "https://app.example.com/offers", FromPush: true},
		},
	}
	if diff := cmp.Diff(want, nt.shown, cmpopts.IgnoreFields(model.Notification{}, "ID")); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}

	// The second notification replaced the first under the shared tag.
	if _, ok := env.w.Notification(nt.shown[0].ID); ok {
		t.Error("expected first notification to be replaced")
	}
	if _, ok := env.w.Notification(nt.shown[1].ID); !ok {
		t.Error("expected second notification to be kept")
	}
}

func TestClickURL(t *testing.T) {
	tests := []struct {
		data model.NotificationData
		want string
	}{
		{data: model.NotificationData{}, want: "/"},
		{data: model.NotificationData{AppURL: "https://app.example.com/", MatchKey: "lego 10300"}, want: "https://app.example.com/?fromPush=1&match_key=lego+10300"},
		{data: model.NotificationData{AppURL: "https://app.example.com/"}, want: "https://app.example.com/?fromPush=1&match_key="},
	}
	for _, tt := range tests {
		if got := ClickURL(tt.data); got != tt.want {
			t.Errorf("ClickURL(%+v) = %q, want %q", tt.data, got, tt.want)
		}
	}
}

func TestNotificationClick(t *testing.T) {
	const appURL = "https://app.example.com/"

	t.Run("focuses open app window", func(t *testing.T) {
		ctx := context.Background()
		opener := &fakeOpener{}
		env := newTestEnv(t, Options{AppURL: appURL, Opener: opener})
		nt := &fakeNotifier{}
		env.w.AddNotifier(nt)
		other := &fakeClient{url: "https://elsewhere.example.com/"}
		app := &fakeClient{url: appURL + "?view=all"}
		env.w.AddClient(other)
		env.w.AddClient(app)

		if err := env.w.Push(ctx, []byte(`{"body":"x","match_key":"k1"}`)); err != nil {
			t.Fatalf("push: %v", err)
		}
		id := nt.shown[0].ID
		if err := env.w.NotificationClick(ctx, id); err != nil {
			t.Fatalf("click: %v", err)
		}

		if app.focused != 1 {
			t.Errorf("focused = %d, want 1", app.focused)
		}
		if diff := cmp.Diff([]Message{{FromPush: true, MatchKey: "k1"}}, app.messages); diff != "" {
			t.Errorf("messages mismatch (-want +got):\n%s", diff)
		}
		if len(other.messages) != 0 || len(opener.urls) != 0 {
			t.Errorf("unexpected routing: other=%v opener=%v", other.messages, opener.urls)
		}
		if diff := cmp.Diff([]string{id}, nt.closed); diff != "" {
			t.Errorf("closed mismatch (-want +got):\n%s", diff)
		}
		if err := env.w.NotificationClick(ctx, id); !errors.Is(err, ErrUnknownNotification) {
			t.Errorf("second click error = %v, want ErrUnknownNotification", err)
		}
	})

	t.Run("opens window when no app window", func(t *testing.T) {
		ctx := context.Background()
		opener := &fakeOpener{}
		env := newTestEnv(t, Options{AppURL: appURL, Opener: opener})
		nt := &fakeNotifier{}
		env.w.AddNotifier(nt)

		if err := env.w.Push(ctx, []byte(`{"body":"x","match_key":"lego 10300"}`)); err != nil {
			t.Fatalf("push: %v", err)
		}
		if err := env.w.NotificationClick(ctx, nt.shown[0].ID); err != nil {
			t.Fatalf("click: %v", err)
		}
		if diff := cmp.Diff([]string{appURL + "?fromPush=1&match_key=lego+10300"}, opener.urls); diff != "" {
			t.Errorf("opened mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDoAfterStop(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	defer func() { _ = store.Close() }()
	w, err := New(Options{Origin: "http://127.0.0.1:1"}, store, discardLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	if err := w.Push(context.Background(), []byte(`{"body":"x"}`)); !errors.Is(err, ErrStopped) {
		t.Errorf("push after stop = %v, want ErrStopped", err)
	}
}
