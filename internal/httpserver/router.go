// Package httpserver exposes the worker over HTTP: the cached app origin, the
// push delivery endpoint and notification click links.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cnsniper/internal/worker"
)

// Worker is the part of the worker served over HTTP.
type Worker interface {
	http.Handler
	Push(ctx context.Context, data []byte) error
	NotificationClick(ctx context.Context, id string) error
	State() worker.State
	Version() string
}

// Decrypter decrypts encrypted push bodies.
type Decrypter interface {
	Decrypt(ctx context.Context, body []byte) ([]byte, error)
}

// NewRouter builds the gin engine. Everything outside /_sw is answered by
// the worker's fetch handling.
func NewRouter(w Worker, dec Decrypter, logger *slog.Logger) *gin.Engine {
	h := &handlers{worker: w, dec: dec, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))

	sw := r.Group("/_sw")
	sw.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Content-Encoding", "TTL", "Urgency", "Topic", "Authorization"},
	}))
	{
		sw.POST("/push", h.push)
		sw.GET("/notifications/:id/click", h.click)
		sw.GET("/status", h.status)
	}

	r.NoRoute(gin.WrapH(w))
	return r
}

// Serve runs the router on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http server stopped")
	return nil
}

// RequestLogger logs one line per request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelWarn
		case c.Request.URL.Path == "/_sw/push" || status >= 400:
			level = slog.LevelInfo
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	}
}
