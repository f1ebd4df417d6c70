// Package worker implements the client's background worker: a versioned
// response cache in front of the app origin, push message display and
// notification click routing.
//
// Lifecycle, push and click events are handled one at a time by the actor
// goroutine started with Run. Fetches are served concurrently from the cache.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"strings"
	"sync"

	"cnsniper/internal/api"
	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

// CachePrefix prefixes every cache name; the version follows.
const CachePrefix = "cnsniper-"

// CacheName returns the cache name of a version.
func CacheName(version string) string {
	return CachePrefix + version
}

// ErrStopped is returned for events submitted after Run returned.
var ErrStopped = errors.New("worker stopped")

// State is the lifecycle state of the worker.
type State int

// Lifecycle states.
const (
	StateNone State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "none"
	}
}

// Message is posted to clients.
type Message struct {
	Type     string `json:"type,omitempty"`
	Version  string `json:"version,omitempty"`
	FromPush bool   `json:"fromPush,omitempty"`
	MatchKey string `json:"match_key,omitempty"`
}

// MessageUpdated announces a newly activated version.
const MessageUpdated = "updated"

// Client is an open app window the worker can talk to.
type Client interface {
	URL() string
	Focus(ctx context.Context) error
	PostMessage(ctx context.Context, msg Message) error
}

// Notifier displays notifications.
type Notifier interface {
	Show(ctx context.Context, n model.Notification) error
	Close(ctx context.Context, id string) error
}

// Opener opens a new app window at a URL.
type Opener interface {
	OpenWindow(ctx context.Context, url string) error
}

// Progress reports cache installation progress.
type Progress interface {
	Increment()
	Finish()
}

// Options configures a Worker.
type Options struct {
	// Origin is the upstream the worker fronts and caches.
	Origin string
	// AppURL is the notification target when a push carries none.
	AppURL string
	// NeverCache lists path prefixes that always go to the network.
	NeverCache []string
	// Client performs upstream fetches. Defaults to http.DefaultClient.
	Client api.HTTPClient
	// Progress, if set, is created for every cache install.
	Progress func(total int) Progress
	// Opener handles clicks when no client matches.
	Opener Opener
}

// Worker is the background worker. Create it with New and start it with Run.
type Worker struct {
	opts     Options
	store    storage.Storage
	logger   *slog.Logger
	client   api.HTTPClient
	upstream *url.URL
	proxy    *httputil.ReverseProxy

	mailbox chan func()
	stopped chan struct{}

	mu            sync.RWMutex
	state         State
	version       string
	clients       []Client
	notifiers     []Notifier
	notifications map[string]model.Notification

	refreshes sync.WaitGroup
}

// New creates a Worker fronting opts.Origin.
func New(opts Options, store storage.Storage, logger *slog.Logger) (*Worker, error) {
	upstream, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("worker: origin must be an absolute URL")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.AppURL == "" {
		opts.AppURL = upstream.String()
	}

	w := &Worker{
		opts:          opts,
		store:         store,
		logger:        logger,
		client:        opts.Client,
		upstream:      upstream,
		mailbox:       make(chan func()),
		stopped:       make(chan struct{}),
		notifications: make(map[string]model.Notification),
	}
	w.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.Out.Host = upstream.Host
		},
		ErrorHandler: func(rw http.ResponseWriter, r *http.Request, err error) {
			w.logger.Warn("pass-through failed", "path", r.URL.Path, "error", err)
			rw.WriteHeader(http.StatusBadGateway)
		},
	}
	return w, nil
}

// Run processes events until ctx is cancelled, then waits for background
// cache refreshes. It must be called once.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)
	w.logger.Info("worker started", "origin", w.upstream.String())
	for {
		select {
		case <-ctx.Done():
			w.refreshes.Wait()
			w.logger.Info("worker stopped")
			return nil
		case fn := <-w.mailbox:
			fn()
		}
	}
}

// do runs fn on the actor goroutine and waits for its result.
func (w *Worker) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case w.mailbox <- func() { errc <- fn() }:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Version returns the active version, or "" before the first activation.
func (w *Worker) Version() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.logger.Debug("worker state", "state", s.String())
}

// AddClient registers an open window.
func (w *Worker) AddClient(c Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients = append(w.clients, c)
}

// RemoveClient unregisters a window.
func (w *Worker) RemoveClient(c Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients = slices.DeleteFunc(w.clients, func(x Client) bool { return x == c })
}

// AddNotifier registers a notification display.
func (w *Worker) AddNotifier(n Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifiers = append(w.notifiers, n)
}

func (w *Worker) snapshotClients() []Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.clients)
}

func (w *Worker) snapshotNotifiers() []Notifier {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.notifiers)
}
