package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

// refreshTimeout bounds a background cache refresh.
const refreshTimeout = 30 * time.Second

// ServeHTTP answers a request to the origin. Non-GET requests and paths
// under a never-cache prefix go straight to the network. Navigations are
// network-first with a cache fallback; other GETs are cache-first with a
// background refresh.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || w.neverCache(r.URL.Path) {
		w.proxy.ServeHTTP(rw, r)
		return
	}

	w.mu.RLock()
	active, version := w.state == StateActive, w.version
	w.mu.RUnlock()
	if !active {
		w.proxy.ServeHTTP(rw, r)
		return
	}

	cache := CacheName(version)
	key := r.URL.RequestURI()
	if isNavigation(r) {
		w.networkFirst(rw, r, cache, key)
		return
	}
	w.cacheFirst(rw, r, cache, key)
}

func (w *Worker) neverCache(path string) bool {
	for _, p := range w.opts.NeverCache {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request, cache, key string) {
	ctx := r.Context()
	entry, err := w.fetch(ctx, key, r.Header)
	if err == nil {
		if entry.Status == http.StatusOK {
			w.put(ctx, cache, entry)
		}
		writeEntry(rw, entry, "network")
		return
	}
	w.logger.Debug("navigation fetch failed, trying cache", "path", key, "error", err)

	cached, err := w.store.MatchCache(ctx, cache, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			w.logger.Error("match cache", "path", key, "error", err)
		}
		http.Error(rw, "offline and not cached", http.StatusGatewayTimeout)
		return
	}
	writeEntry(rw, cached, "cache")
}

func (w *Worker) cacheFirst(rw http.ResponseWriter, r *http.Request, cache, key string) {
	ctx := r.Context()
	cached, err := w.store.MatchCache(ctx, cache, key)
	if err == nil {
		writeEntry(rw, cached, "cache")
		w.refresh(cache, key, r.Header.Clone())
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		w.logger.Error("match cache", "path", key, "error", err)
	}

	entry, err := w.fetch(ctx, key, r.Header)
	if err != nil {
		w.logger.Warn("asset fetch failed", "path", key, "error", err)
		http.Error(rw, "offline and not cached", http.StatusGatewayTimeout)
		return
	}
	if entry.Status == http.StatusOK {
		w.put(ctx, cache, entry)
	}
	writeEntry(rw, entry, "network")
}

// refresh updates a cached asset in the background.
func (w *Worker) refresh(cache, key string, header http.Header) {
	w.refreshes.Add(1)
	go func() {
		defer w.refreshes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		entry, err := w.fetch(ctx, key, header)
		if err != nil {
			w.logger.Debug("background refresh failed", "path", key, "error", err)
			return
		}
		if entry.Status == http.StatusOK {
			w.put(ctx, cache, entry)
		}
	}()
}

// WaitRefreshes blocks until background refreshes started so far are done.
func (w *Worker) WaitRefreshes() {
	w.refreshes.Wait()
}

func (w *Worker) put(ctx context.Context, cache string, entry *model.CacheEntry) {
	e := *entry
	e.CacheName = cache
	if err := w.store.PutCacheEntry(ctx, &e); err != nil {
		w.logger.Error("cache put", "path", e.URL, "error", err)
	}
}

func writeEntry(rw http.ResponseWriter, e *model.CacheEntry, from string) {
	h := rw.Header()
	for k, v := range e.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("X-Worker-Source", from)
	rw.WriteHeader(e.Status)
	_, _ = rw.Write(e.Body)
}
