package ui

import (
	"context"
	"net/url"
	"strings"

	"cnsniper/internal/model"
	"cnsniper/internal/worker"
)

var (
	_ worker.Notifier = (*Notifier)(nil)
	_ worker.Opener   = (*Opener)(nil)
)

// Notifier prints notifications with a link to the local click endpoint.
type Notifier struct {
	r    *Renderer
	base string
}

// NewNotifier creates a Notifier whose click links point at the HTTP server
// on base, e.g. "http://127.0.0.1:8787".
func NewNotifier(r *Renderer, base string) *Notifier {
	return &Notifier{r: r, base: strings.TrimRight(base, "/")}
}

// Show prints the notification.
func (n *Notifier) Show(_ context.Context, nt model.Notification) error {
	return n.r.Notification(nt, n.ClickURL(nt.ID))
}

// Close is a no-op: printed notifications stay in the scrollback.
func (n *Notifier) Close(context.Context, string) error {
	return nil
}

// ClickURL is the link that clicks notification id.
func (n *Notifier) ClickURL(id string) string {
	if n.base == "" {
		return ""
	}
	return n.base + "/_sw/notifications/" + url.PathEscape(id) + "/click"
}

// Opener prints the URL a clicked notification wants opened.
type Opener struct {
	r *Renderer
}

// NewOpener creates an Opener.
func NewOpener(r *Renderer) *Opener {
	return &Opener{r: r}
}

// OpenWindow prints u.
func (o *Opener) OpenWindow(_ context.Context, u string) error {
	o.r.Message("Open the app: %s", u)
	return nil
}
