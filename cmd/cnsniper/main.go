package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cnsniper/internal/api"
	"cnsniper/internal/config"
	"cnsniper/internal/filter"
	"cnsniper/internal/model"
	"cnsniper/internal/session"
	"cnsniper/internal/settings"
	"cnsniper/internal/storage"
	"cnsniper/internal/ui"
)

type flags struct {
	gigantos bool
	search   string
	sources  string
	sort     string
	open     string
}

func main() {
	var f flags
	flag.BoolVar(&f.gigantos, "gigantos", false, "show only gigantos offers")
	flag.StringVar(&f.search, "search", "", "filter titles by text or number")
	flag.StringVar(&f.sources, "sources", "", "comma separated sources to show (olx,vinted,allegro)")
	flag.StringVar(&f.sort, "sort", string(filter.SortNewest), "sort order: newest or oldest")
	flag.StringVar(&f.open, "open", "", "app URL to open, e.g. a notification link with match_key")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := newRuntime(cfg, store, log)
	if err := rt.dispatch(ctx, f, flag.Args()); err != nil {
		rt.renderer.Error(errorText(err))
		log.Debug("command failed", "error", err)
		cancel()
		_ = store.Close()
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: cnsniper [flags] [command]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  live                     Follow new offers live (default)")
	fmt.Fprintln(out, "  login                    Log in")
	fmt.Fprintln(out, "  register                 Create an account")
	fmt.Fprintln(out, "  logout                   Log out")
	fmt.Fprintln(out, "  stats [global|today|weekly]")
	fmt.Fprintln(out, "                           Show scanner statistics")
	fmt.Fprintln(out, "  interval [seconds]       Show or change the scan interval")
	fmt.Fprintln(out, "  numbers [toggle <n>]     Show or toggle highlighted numbers")
	fmt.Fprintln(out, "  rejected <junk|change>   Follow rejected offers of a category")
	fmt.Fprintln(out, "  push <enable|disable|status>")
	fmt.Fprintln(out, "                           Manage push notifications")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// runtime holds the collaborators every command shares.
type runtime struct {
	cfg      *config.Config
	store    storage.Storage
	log      *slog.Logger
	client   *http.Client
	renderer *ui.Renderer
	prompt   *ui.Prompt
	session  *session.Manager
	api      *api.Client
	settings *settings.Store
	syncer   *settings.Syncer
}

func newRuntime(cfg *config.Config, store storage.Storage, log *slog.Logger) *runtime {
	client := &http.Client{Timeout: 30 * time.Second}
	sess := session.New(cfg.APIBaseURL, client, store, log.With("component", "session"))
	apiClient := api.New(sess)
	return &runtime{
		cfg:      cfg,
		store:    store,
		log:      log,
		client:   client,
		renderer: ui.NewRenderer(os.Stdout),
		prompt:   ui.NewPrompt(os.Stdin, os.Stdout),
		session:  sess,
		api:      apiClient,
		settings: settings.NewStore(store),
		syncer:   settings.NewSyncer(apiClient, cfg.SettingsSyncDebounce, log.With("component", "settings")),
	}
}

func (f flags) filterState() (filter.State, error) {
	st := filter.State{
		GigantosOnly: f.gigantos,
		Search:       f.search,
		Sort:         filter.SortOrder(strings.ToLower(f.sort)),
	}
	if st.Sort != filter.SortNewest && st.Sort != filter.SortOldest {
		return filter.State{}, api.Invalid("sort must be newest or oldest")
	}
	for _, s := range strings.Split(f.sources, ",") {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			st.Sources = append(st.Sources, model.Source(s))
		}
	}
	return st, nil
}
