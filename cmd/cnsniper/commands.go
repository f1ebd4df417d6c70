package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"cnsniper/internal/api"
	"cnsniper/internal/app"
	"cnsniper/internal/bot"
	"cnsniper/internal/httpserver"
	"cnsniper/internal/model"
	"cnsniper/internal/push"
	"cnsniper/internal/session"
	"cnsniper/internal/ui"
	"cnsniper/internal/worker"
)

var errUsage = errors.New("invalid usage, see cnsniper -h")

func (rt *runtime) dispatch(ctx context.Context, f flags, args []string) error {
	cmd, rest := "live", []string(nil)
	if len(args) > 0 {
		cmd, rest = args[0], args[1:]
	}

	switch cmd {
	case "live":
		return rt.live(ctx, f)
	case "login":
		return rt.login(ctx)
	case "register":
		return rt.register(ctx)
	case "logout":
		if err := rt.session.Logout(ctx); err != nil {
			return err
		}
		rt.renderer.Message("Logged out.")
		return nil
	case "stats":
		return rt.stats(ctx, rest)
	case "interval":
		return rt.interval(ctx, rest)
	case "numbers":
		return rt.numbers(ctx, rest)
	case "rejected":
		return rt.rejected(ctx, rest)
	case "push":
		return rt.push(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (rt *runtime) newApp(statsView string) *app.App {
	return app.New(app.Options{
		Config:    rt.cfg,
		Session:   rt.session,
		Settings:  rt.settings,
		Syncer:    rt.syncer,
		Stats:     rt.api,
		Renderer:  rt.renderer,
		Prompt:    rt.prompt,
		StatsView: statsView,
	}, rt.log.With("component", "app"))
}

func (rt *runtime) newWorker() (*worker.Worker, *worker.PushManager, error) {
	w, err := worker.New(worker.Options{
		Origin:     rt.cfg.AppURL,
		AppURL:     rt.cfg.AppURL,
		NeverCache: rt.cfg.NeverCachePrefixes,
		Client:     rt.client,
		Progress:   ui.NewProgress(os.Stderr),
		Opener:     ui.NewOpener(rt.renderer),
	}, rt.store, rt.log.With("component", "worker"))
	if err != nil {
		return nil, nil, err
	}
	pm := worker.NewPushManager(w, rt.store, rt.prompt, rt.cfg.PushEndpoint)
	return w, pm, nil
}

// manifest returns the configured asset manifest, or one discovered from the
// app's index page.
func (rt *runtime) manifest(ctx context.Context) (worker.Manifest, error) {
	if rt.cfg.AssetManifest != "" {
		return worker.LoadManifest(rt.cfg.AssetManifest)
	}
	assets, err := worker.DiscoverAssets(ctx, rt.client, rt.cfg.AppURL)
	if err != nil {
		return worker.Manifest{}, err
	}
	return worker.Manifest{Version: rt.cfg.CacheVersion, Assets: assets}, nil
}

// updateWorker installs the current app version. A failure keeps the
// previously cached version.
func (rt *runtime) updateWorker(ctx context.Context, w *worker.Worker) {
	m, err := rt.manifest(ctx)
	if err == nil {
		err = w.Update(ctx, m)
	}
	if err != nil && ctx.Err() == nil {
		rt.log.Warn("app update failed", "error", err)
	}
}

func (rt *runtime) live(ctx context.Context, f flags) error {
	st, err := f.filterState()
	if err != nil {
		return err
	}

	a := rt.newApp("")
	if err := a.EnsureSession(ctx); err != nil {
		return err
	}
	a.SetFilter(st)
	if f.open != "" {
		a.HighlightFromURL(f.open)
	}

	w, pm, err := rt.newWorker()
	if err != nil {
		return err
	}
	w.AddClient(a)
	w.AddNotifier(ui.NewNotifier(rt.renderer, "http://"+rt.cfg.ListenAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error {
		return httpserver.Serve(gctx, rt.cfg.ListenAddr, httpserver.NewRouter(w, pm, rt.log), rt.log)
	})
	g.Go(func() error {
		rt.updateWorker(gctx, w)
		if rt.cfg.AssetManifest == "" {
			return nil
		}
		return worker.WatchManifest(gctx, rt.cfg.AssetManifest, func(m worker.Manifest) {
			if err := w.Update(gctx, m); err != nil {
				rt.log.Warn("app update failed", "version", m.Version, "error", err)
			}
		}, rt.log)
	})

	if rt.cfg.TelegramEnabled() {
		b, err := bot.New(rt.cfg, bot.Deps{Clicker: w, Backend: rt.api, Numbers: a}, rt.log.With("component", "bot"))
		if err != nil {
			return err
		}
		w.AddNotifier(b)
		g.Go(func() error {
			b.Run(gctx)
			return nil
		})
	}

	g.Go(func() error { return a.Run(gctx) })

	rt.log.Info("live view started", "app", rt.cfg.AppURL, "listen", rt.cfg.ListenAddr)
	err = g.Wait()
	if cerr := a.Close(context.Background()); cerr != nil {
		rt.log.Warn("close app", "error", cerr)
	}
	rt.log.Info("live view stopped")
	return err
}

func (rt *runtime) login(ctx context.Context) error {
	login, password, err := rt.prompt.Credentials(ctx)
	if err != nil {
		return err
	}
	if err := rt.session.Login(ctx, login, password); err != nil {
		return err
	}
	rt.renderer.Message("Logged in as %s.", strings.TrimSpace(login))
	return nil
}

func (rt *runtime) register(ctx context.Context) error {
	var req session.RegisterRequest
	fields := []struct {
		question string
		dst      *string
	}{
		{"Username", &req.Username},
		{"Email", &req.Email},
		{"First name", &req.FirstName},
		{"Last name", &req.LastName},
	}
	for _, f := range fields {
		v, err := rt.prompt.Line(ctx, f.question)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	password, err := rt.prompt.Secret(ctx, "Password")
	if err != nil {
		return err
	}
	req.Password = password

	if err := rt.session.Register(ctx, req); err != nil {
		return err
	}
	if err := rt.session.Login(ctx, req.Username, req.Password); err != nil {
		return err
	}
	rt.renderer.Message("Account created. Logged in as %s.", req.Username)
	return nil
}

func (rt *runtime) stats(ctx context.Context, args []string) error {
	view := ui.StatsGlobal
	if len(args) > 0 {
		view = args[0]
	}
	switch view {
	case ui.StatsGlobal, ui.StatsToday, ui.StatsWeekly:
	default:
		return fmt.Errorf("unknown stats view %q: %w", view, errUsage)
	}
	d, err := rt.api.Dashboard(ctx)
	if err != nil {
		return err
	}
	return rt.renderer.Stats(d, view)
}

func (rt *runtime) interval(ctx context.Context, args []string) error {
	if len(args) == 0 {
		sec, err := rt.api.GetInterval(ctx)
		if err != nil {
			return err
		}
		return rt.renderer.Interval(sec)
	}
	sec, err := bot.ParseIntervalArg(args[0])
	if err != nil {
		return err
	}
	if err := rt.api.SetInterval(ctx, sec); err != nil {
		return err
	}
	return rt.renderer.Interval(sec)
}

func (rt *runtime) numbers(ctx context.Context, args []string) error {
	if _, err := rt.settings.Load(ctx); err != nil {
		return err
	}
	switch {
	case len(args) == 0 || args[0] == "list":
		return rt.renderer.Numbers(rt.settings.Current().HighlightNumbers)
	case args[0] == "toggle" && len(args) == 2:
		n, err := bot.ParseNumberArg(args[1])
		if err != nil {
			return err
		}
		s, err := rt.settings.Toggle(ctx, n)
		if err != nil {
			return err
		}
		rt.syncer.Schedule(s.HighlightNumbers)
		if err := rt.syncer.Close(ctx); err != nil {
			rt.renderer.Error("Saved locally; backend sync failed: " + errorText(err))
		}
		return rt.renderer.Numbers(s.HighlightNumbers)
	default:
		return errUsage
	}
}

func (rt *runtime) rejected(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	category := args[0]
	if category != api.CategoryJunk && category != api.CategoryChange {
		return fmt.Errorf("unknown category %q: %w", category, errUsage)
	}

	offers, err := rt.api.Rejected(ctx, category)
	if err != nil {
		return err
	}
	if _, err := rt.settings.Load(ctx); err != nil {
		return err
	}

	render := func(list []model.Offer) {
		if err := rt.renderer.Offers(list, "", rt.settings.Current().HighlightNumbers); err != nil {
			rt.log.Error("render rejected offers", "error", err)
		}
	}
	stream := rt.newApp("").Rejected(category, render)
	stream.Seed(offers)
	stream.Connect(ctx)
	<-ctx.Done()
	stream.Close()
	<-stream.Done()
	return nil
}

func (rt *runtime) push(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	w, pm, err := rt.newWorker()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(wctx) }()
	defer func() {
		cancel()
		<-done
	}()
	rt.updateWorker(wctx, w)

	m := push.NewManager(pm, rt.api, rt.store, rt.cfg.VAPIDPublicKey, rt.log.With("component", "push"))
	switch args[0] {
	case "enable":
		if err := m.Enable(ctx); err != nil {
			return err
		}
		rt.renderer.Message("Push notifications enabled.")
	case "disable":
		if err := m.Disable(ctx); err != nil {
			return err
		}
		rt.renderer.Message("Push notifications disabled.")
	case "status":
		enabled, err := m.Enabled(ctx)
		if err != nil {
			return err
		}
		perm, err := pm.Permission(ctx)
		if err != nil {
			return err
		}
		rt.renderer.Message("Push enabled: %s, permission: %s", strconv.FormatBool(enabled), perm)
		sub, err := pm.GetSubscription(ctx)
		if err != nil {
			return err
		}
		if sub != nil {
			rt.renderer.Message("Endpoint: %s", sub.Endpoint)
		}
	default:
		return errUsage
	}
	return nil
}

// errorText maps command failures to the line shown to the user.
func errorText(err error) string {
	if msg := session.Message(err); msg != "" {
		return msg
	}
	switch {
	case errors.Is(err, push.ErrNotStandalone):
		return "Push needs the installed app; the app update did not complete."
	case errors.Is(err, push.ErrPermissionBlocked):
		return "Notifications are blocked. Allow them and try again."
	case errors.Is(err, ui.ErrNoInput):
		return "No input."
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Detail != "" {
			return apiErr.Detail
		}
		return fmt.Sprintf("Backend error (%d).", apiErr.Status)
	}
	var valErr *api.ValidationError
	if errors.As(err, &valErr) {
		return valErr.Message
	}
	return err.Error()
}
