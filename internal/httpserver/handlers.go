package httpserver

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cnsniper/internal/worker"
)

// maxPushBody is the largest push message accepted.
const maxPushBody = 8 * 1024

type handlers struct {
	worker Worker
	dec    Decrypter
	logger *slog.Logger
}

func (h *handlers) push(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) > maxPushBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "push body too large"})
		return
	}

	ctx := c.Request.Context()
	if enc := strings.TrimSpace(c.GetHeader("Content-Encoding")); enc != "" {
		if !strings.EqualFold(enc, worker.ContentEncoding) || h.dec == nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content encoding"})
			return
		}
		body, err = h.dec.Decrypt(ctx, body)
		if err != nil {
			h.logger.Warn("push decrypt failed", "error", err)
			if errors.Is(err, worker.ErrNoSubscription) {
				c.JSON(http.StatusGone, gin.H{"error": "no subscription"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot decrypt push"})
			return
		}
	}

	if err := h.worker.Push(ctx, body); err != nil {
		if errors.Is(err, worker.ErrMalformedPush) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed push payload"})
			return
		}
		h.logger.Error("push", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push not delivered"})
		return
	}
	c.Status(http.StatusCreated)
}

func (h *handlers) click(c *gin.Context) {
	err := h.worker.NotificationClick(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, worker.ErrUnknownNotification):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown notification"})
	default:
		h.logger.Error("notification click", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "click not handled"})
	}
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   h.worker.State().String(),
		"version": h.worker.Version(),
	})
}
