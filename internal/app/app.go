// Package app owns the client's view state and connects the live feed, the
// status channels, the settings and the background worker to the terminal.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"cnsniper/internal/api"
	"cnsniper/internal/config"
	"cnsniper/internal/feed"
	"cnsniper/internal/filter"
	"cnsniper/internal/model"
	"cnsniper/internal/realtime"
	"cnsniper/internal/session"
	"cnsniper/internal/settings"
	"cnsniper/internal/worker"
)

// Views.
const (
	ViewOffers   = "offers"
	ViewStats    = "stats"
	ViewSettings = "settings"
)

// WebSocket channel paths.
const (
	PathOffers         = "/ws/offers"
	PathStatus         = "/ws/status"
	PathHighlightSync  = "/ws/highlight-sync"
	PathAuth           = "/ws/auth"
	PathRejectedPrefix = "/ws/rejected?category="
)

// ErrUnknownView is returned by ShowView for a view it does not know.
var ErrUnknownView = errors.New("unknown view")

var _ worker.Client = (*App)(nil)

// Renderer draws the views.
type Renderer interface {
	Offers(offers []model.Offer, highlighted string, numbers []int) error
	Connection(st realtime.State) error
	Health(h model.HealthStatus) error
	Numbers(numbers []int) error
	Stats(d *model.Dashboard, view string) error
	Message(format string, args ...any)
	Error(msg string)
}

// Session is the part of the session manager the app drives.
type Session interface {
	Tokens(ctx context.Context) (model.Tokens, error)
	IsSessionValid(ctx context.Context) bool
	Login(ctx context.Context, login, password string) error
	ForceLogout(ctx context.Context, reason error)
	OnLogout(hook session.LogoutHook)
}

// Prompter asks for credentials after a logout.
type Prompter interface {
	Credentials(ctx context.Context) (string, string, error)
}

// Dashboarder loads the statistics dashboard.
type Dashboarder interface {
	Dashboard(ctx context.Context) (*model.Dashboard, error)
}

// Options holds the App collaborators.
type Options struct {
	Config   *config.Config
	Session  Session
	Settings *settings.Store
	Syncer   *settings.Syncer
	Stats    Dashboarder
	Renderer Renderer
	Prompt   Prompter
	// StatsView selects the dashboard section of the stats view.
	StatsView string
}

// App is the client's view controller. Create it with New, start it with Run
// and stop it with Close.
type App struct {
	cfg      *config.Config
	session  Session
	settings *settings.Store
	syncer   *settings.Syncer
	stats    Dashboarder
	view     Renderer
	prompt   Prompter
	logger   *slog.Logger

	feed   *feed.Feed
	status []*feed.Status

	messages chan worker.Message
	logouts  chan error

	// mu serializes renders and guards the view state.
	mu          sync.Mutex
	current     string
	statsView   string
	filter      filter.State
	highlighted string
	runCtx      context.Context
}

// New creates an App. It registers itself as a logout hook of the session.
func New(opts Options, logger *slog.Logger) *App {
	a := &App{
		cfg:       opts.Config,
		session:   opts.Session,
		settings:  opts.Settings,
		syncer:    opts.Syncer,
		stats:     opts.Stats,
		view:      opts.Renderer,
		prompt:    opts.Prompt,
		logger:    logger,
		messages:  make(chan worker.Message, 16),
		logouts:   make(chan error, 1),
		current:   ViewOffers,
		statsView: opts.StatsView,
		filter:    filter.State{Sort: filter.SortNewest},
		runCtx:    context.Background(),
	}

	offerOpts := a.socketOptions(PathOffers)
	offerOpts.OnState = a.renderConnection
	a.feed = feed.New(offerOpts, a.renderOffers, logger.With("channel", "offers"))

	for _, path := range []string{PathStatus, PathHighlightSync, PathAuth} {
		a.status = append(a.status, feed.NewStatus(a.socketOptions(path), a.handleStatus, logger.With("channel", path)))
	}

	a.session.OnLogout(a.loggedOut)
	return a
}

// socketOptions returns the settings of the WebSocket channel at path.
func (a *App) socketOptions(path string) realtime.Options {
	return realtime.Options{
		URL:         a.cfg.WSBaseURL + path,
		Header:      a.authHeader,
		Delay:       a.cfg.ReconnectDelay,
		Jitter:      a.cfg.ReconnectJitter,
		MaxAttempts: a.cfg.ReconnectMaxAttempts,
	}
}

func (a *App) authHeader() http.Header {
	t, err := a.session.Tokens(context.Background())
	if err != nil || t.AccessToken == "" {
		return nil
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+t.AccessToken)
	return h
}

// EnsureSession prompts for credentials until a login succeeds, unless the
// stored session is still valid.
func (a *App) EnsureSession(ctx context.Context) error {
	if a.session.IsSessionValid(ctx) {
		return nil
	}
	return a.login(ctx)
}

// Run loads the settings, connects the status channels, shows the current
// view and processes worker messages and logouts until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.settings.Load(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	a.runCtx = ctx
	current := a.current
	a.mu.Unlock()

	a.connectStatus(ctx)
	if err := a.ShowView(ctx, current); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-a.messages:
			if err := a.HandleWorkerMessage(ctx, msg); err != nil {
				a.logger.Warn("handle worker message", "error", err)
			}
		case reason := <-a.logouts:
			if err := a.relogin(ctx, reason); err != nil {
				return err
			}
		}
	}
}

// Close disconnects every socket and sends any pending settings change.
func (a *App) Close(ctx context.Context) error {
	a.disconnect()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.syncer.Close(ctx); err != nil {
		return fmt.Errorf("sync settings: %w", err)
	}
	return nil
}

func (a *App) connectStatus(ctx context.Context) {
	for _, s := range a.status {
		s.Connect(ctx)
	}
}

func (a *App) disconnect() {
	a.feed.Deactivate()
	for _, s := range a.status {
		s.Close()
	}
}

// View returns the active view.
func (a *App) View() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Highlighted returns the match key pinned by the last notification click.
func (a *App) Highlighted() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highlighted
}

// ShowView switches to view. The offer feed is connected only while the
// offers view is active.
func (a *App) ShowView(ctx context.Context, view string) error {
	switch view {
	case ViewOffers, ViewStats, ViewSettings:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	a.mu.Lock()
	a.current = view
	a.mu.Unlock()

	if view == ViewOffers {
		a.feed.Activate(ctx)
		a.rerender()
		return nil
	}
	a.feed.Deactivate()

	switch view {
	case ViewSettings:
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.view.Numbers(a.settings.Current().HighlightNumbers)
	case ViewStats:
		d, err := a.stats.Dashboard(ctx)
		if err != nil {
			return err
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.view.Stats(d, a.statsView)
	}
	return nil
}

// SetFilter replaces the filter state and re-renders the offers.
func (a *App) SetFilter(st filter.State) {
	a.mu.Lock()
	a.filter = st
	a.mu.Unlock()
	a.rerender()
}

// HighlightFromURL pins the offer named by the match_key query parameter of
// raw. It reports whether raw carried one.
func (a *App) HighlightFromURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	key := u.Query().Get("match_key")
	if key == "" {
		return false
	}
	a.highlight(key)
	return true
}

func (a *App) highlight(key string) {
	a.mu.Lock()
	a.highlighted = key
	a.mu.Unlock()
	a.rerender()
}

// HandleWorkerMessage reacts to a message posted by the worker. A
// notification click pins the offer and brings the offers view forward.
func (a *App) HandleWorkerMessage(ctx context.Context, msg worker.Message) error {
	switch {
	case msg.FromPush:
		if msg.MatchKey != "" {
			a.mu.Lock()
			a.highlighted = msg.MatchKey
			a.mu.Unlock()
		}
		return a.ShowView(ctx, ViewOffers)
	case msg.Type == worker.MessageUpdated:
		a.mu.Lock()
		a.view.Message("App updated to version %s.", msg.Version)
		a.mu.Unlock()
	}
	return nil
}

// URL is the app URL; notification clicks for it are routed to this App.
func (a *App) URL() string {
	return a.cfg.AppURL
}

// Focus is a no-op: the terminal client is always in front.
func (a *App) Focus(context.Context) error {
	return nil
}

// PostMessage queues msg for Run. It never blocks: while Run is busy, for
// example waiting for a login, messages beyond the queue size are dropped.
func (a *App) PostMessage(ctx context.Context, msg worker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case a.messages <- msg:
	default:
		a.logger.Warn("drop worker message, queue full", "type", msg.Type, "match_key", msg.MatchKey)
	}
	return nil
}

// HighlightNumbers returns the selected highlight numbers.
func (a *App) HighlightNumbers() []int {
	return a.settings.Current().HighlightNumbers
}

// ToggleNumber toggles n, schedules a backend sync and re-renders.
func (a *App) ToggleNumber(ctx context.Context, n int) ([]int, error) {
	s, err := a.settings.Toggle(ctx, n)
	if err != nil {
		return nil, err
	}
	a.syncer.Schedule(s.HighlightNumbers)
	a.rerender()
	return s.HighlightNumbers, nil
}

func (a *App) renderOffers(offers []model.Offer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drawOffers(offers)
}

func (a *App) rerender() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drawOffers(a.feed.Offers())
}

// drawOffers renders the filtered list. Callers hold mu.
func (a *App) drawOffers(offers []model.Offer) {
	if a.current != ViewOffers {
		return
	}
	list := filter.Apply(offers, a.filter, a.highlighted)
	if err := a.view.Offers(list, a.highlighted, a.settings.Current().HighlightNumbers); err != nil {
		a.logger.Error("render offers", "error", err)
	}
}

func (a *App) renderConnection(st realtime.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != ViewOffers {
		return
	}
	if err := a.view.Connection(st); err != nil {
		a.logger.Error("render connection", "error", err)
	}
}

func (a *App) handleStatus(ev feed.StatusEvent) {
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()

	switch e := ev.(type) {
	case feed.HealthEvent:
		a.mu.Lock()
		defer a.mu.Unlock()
		if err := a.view.Health(e.Status); err != nil {
			a.logger.Error("render health", "error", err)
		}
	case feed.HighlightNumbersEvent:
		a.syncRemoteNumbers(ctx, e.Numbers)
	case feed.ForceLogoutEvent:
		a.session.ForceLogout(ctx, LogoutReason(e.Reason))
	}
}

// syncRemoteNumbers adopts the backend's highlight numbers unless a local
// change is still waiting to be sent.
func (a *App) syncRemoteNumbers(ctx context.Context, numbers []int) {
	if a.syncer.Pending() {
		a.logger.Debug("skip remote highlight numbers, local change pending")
		return
	}
	s, changed, err := a.settings.ApplyRemote(ctx, numbers)
	if err != nil {
		a.logger.Warn("apply remote highlight numbers", "error", err)
		return
	}
	if changed {
		a.logger.Info("highlight numbers updated remotely", "numbers", s.HighlightNumbers)
		a.rerender()
	}
}

// LogoutReason maps the reason of a force_logout message to a session error.
func LogoutReason(reason string) error {
	switch reason {
	case "account_disabled", "disabled":
		return session.ErrAccountDisabled
	case "refresh_failed":
		return session.ErrRefreshFailed
	default:
		return session.ErrSessionInvalid
	}
}

// loggedOut is the session logout hook. Several hooks may fire for one
// logout; only one is queued.
func (a *App) loggedOut(reason error) {
	select {
	case a.logouts <- reason:
	default:
	}
}

// relogin disconnects, shows why the session ended, asks for credentials
// and reconnects the current view.
func (a *App) relogin(ctx context.Context, reason error) error {
	a.disconnect()

	a.mu.Lock()
	if msg := session.Message(reason); msg != "" {
		a.view.Error(msg)
	} else {
		a.view.Message("Logged out.")
	}
	current := a.current
	a.mu.Unlock()

	if err := a.login(ctx); err != nil {
		return err
	}
	a.connectStatus(ctx)
	return a.ShowView(ctx, current)
}

func (a *App) login(ctx context.Context) error {
	for {
		login, password, err := a.prompt.Credentials(ctx)
		if err != nil {
			return fmt.Errorf("read credentials: %w", err)
		}
		err = a.session.Login(ctx, login, password)
		if err == nil {
			a.mu.Lock()
			a.view.Message("Logged in as %s.", login)
			a.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.mu.Lock()
		a.view.Error(LoginError(err))
		a.mu.Unlock()
	}
}

// LoginError is the text shown for a failed login.
func LoginError(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	var valErr *api.ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	return fmt.Sprintf("Login failed: %v", err)
}

// Rejected returns the rejected offers stream for category, sharing the
// app's socket settings. The caller seeds and connects it.
func (a *App) Rejected(category string, onChange feed.ChangeFunc) *feed.Rejected {
	opts := a.socketOptions(PathRejectedPrefix + url.QueryEscape(category))
	return feed.NewRejected(category, opts, onChange, a.logger)
}
