package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/fsnotify/fsnotify"

	"cnsniper/internal/api"
)

// manifestDebounce coalesces the burst of events an editor save produces.
const manifestDebounce = 500 * time.Millisecond

// LoadManifest reads a JSON asset manifest.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version == "" {
		return Manifest{}, fmt.Errorf("manifest %s has no version", path)
	}
	return m, nil
}

// DiscoverAssets builds the asset list from the origin's index page: the
// page itself plus every stylesheet, script and image on the same host.
func DiscoverAssets(ctx context.Context, client api.HTTPClient, origin string) ([]string, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(&url.URL{Path: "/"}).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch index: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	assets := []string{"/"}
	seen := map[string]bool{"/": true}
	add := func(_ int, s *goquery.Selection, attr string) {
		raw, ok := s.Attr(attr)
		if !ok || raw == "" {
			return
		}
		u, err := base.Parse(raw)
		if err != nil || u.Host != base.Host {
			return
		}
		key := u.RequestURI()
		if seen[key] {
			return
		}
		seen[key] = true
		assets = append(assets, key)
	}

	doc.Find("link[href]").Each(func(i int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		switch rel {
		case "stylesheet", "icon", "manifest", "apple-touch-icon", "preload", "modulepreload":
			add(i, s, "href")
		}
	})
	doc.Find("script[src]").Each(func(i int, s *goquery.Selection) { add(i, s, "src") })
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) { add(i, s, "src") })
	return assets, nil
}

// WatchManifest calls onChange with the new manifest whenever the file at
// path is rewritten. It returns when ctx is done.
func WatchManifest(ctx context.Context, path string, onChange func(Manifest), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic replaces are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	name := filepath.Clean(path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	reload := func() {
		m, err := LoadManifest(path)
		if err != nil {
			logger.Warn("manifest reload failed", "path", path, "error", err)
			return
		}
		logger.Info("manifest changed", "version", m.Version, "assets", len(m.Assets))
		onChange(m)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(manifestDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("manifest watcher", "error", err)
		}
	}
}
