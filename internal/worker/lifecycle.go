package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cnsniper/internal/model"
)

// maxBody caps responses stored in the cache.
const maxBody = 20 * 1024 * 1024

// ErrBodyTooLarge is returned for origin responses longer than the cache
// accepts.
var ErrBodyTooLarge = errors.New("response body too large")

// Manifest lists the assets of one app version.
type Manifest struct {
	Version string   `json:"version"`
	Assets  []string `json:"assets"`
}

// Update installs m into a fresh cache and activates it. A failed install
// discards the partial cache and keeps the previous version active.
// Updating to the active version is a no-op.
func (w *Worker) Update(ctx context.Context, m Manifest) error {
	if m.Version == "" {
		return errors.New("manifest version is required")
	}
	return w.do(ctx, func() error {
		prev := w.State()
		if prev == StateActive && w.Version() == m.Version {
			return nil
		}
		if err := w.install(ctx, m); err != nil {
			w.setState(prev)
			return fmt.Errorf("install %s: %w", m.Version, err)
		}
		if err := w.activate(ctx, m.Version); err != nil {
			return fmt.Errorf("activate %s: %w", m.Version, err)
		}
		return nil
	})
}

func (w *Worker) install(ctx context.Context, m Manifest) (err error) {
	w.setState(StateInstalling)
	cache := CacheName(m.Version)
	if err := w.store.DeleteCache(ctx, cache); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if derr := w.store.DeleteCache(context.WithoutCancel(ctx), cache); derr != nil {
				w.logger.Error("discard partial cache", "cache", cache, "error", derr)
			}
		}
	}()

	var progress Progress
	if w.opts.Progress != nil {
		progress = w.opts.Progress(len(m.Assets))
		defer progress.Finish()
	}

	for _, asset := range m.Assets {
		key, err := w.cacheKey(asset)
		if err != nil {
			return err
		}
		entry, err := w.fetch(ctx, key, nil)
		if err != nil {
			return err
		}
		if entry.Status != http.StatusOK {
			return fmt.Errorf("fetch %s: status %d", key, entry.Status)
		}
		entry.CacheName = cache
		if err := w.store.PutCacheEntry(ctx, entry); err != nil {
			return err
		}
		if progress != nil {
			progress.Increment()
		}
	}

	w.setState(StateInstalled)
	w.logger.Info("cache installed", "cache", cache, "assets", len(m.Assets))
	return nil
}

// activate removes every other cache, takes over the open clients and
// tells them about the new version.
func (w *Worker) activate(ctx context.Context, version string) error {
	w.setState(StateActivating)
	keep := CacheName(version)

	names, err := w.store.CacheNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == keep {
			continue
		}
		if err := w.store.DeleteCache(ctx, name); err != nil {
			return err
		}
		w.logger.Info("old cache deleted", "cache", name)
	}

	w.mu.Lock()
	w.version = version
	w.state = StateActive
	w.mu.Unlock()
	w.logger.Info("worker activated", "version", version)

	msg := Message{Type: MessageUpdated, Version: version}
	for _, c := range w.snapshotClients() {
		if err := c.PostMessage(ctx, msg); err != nil {
			w.logger.Warn("post update message", "client", c.URL(), "error", err)
		}
	}
	return nil
}

// cacheKey turns a manifest entry or request URL into the origin-relative
// key used in the cache. Absolute URLs must be on the origin.
func (w *Worker) cacheKey(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse asset %q: %w", raw, err)
	}
	if u.IsAbs() && u.Host != w.upstream.Host {
		return "", fmt.Errorf("asset %q is not on the origin", raw)
	}
	key := u.RequestURI()
	if !strings.HasPrefix(key, "/") {
		key = "/" + key
	}
	return key, nil
}

// fetch GETs key from the origin and returns the response as a cache entry.
func (w *Worker) fetch(ctx context.Context, key string, header http.Header) (*model.CacheEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.upstream.String()+key, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for _, h := range []string{"Accept", "Accept-Language", "User-Agent"} {
		if v := header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("read %s: %w", key, ErrBodyTooLarge)
	}
	return &model.CacheEntry{
		URL:    key,
		Status: resp.StatusCode,
		Header: storedHeader(resp.Header),
		Body:   body,
	}, nil
}

// storedHeader drops headers that describe the transfer rather than the
// content.
func storedHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range []string{"Connection", "Content-Length", "Keep-Alive", "Transfer-Encoding", "Set-Cookie", "Date"} {
		out.Del(k)
	}
	return out
}
