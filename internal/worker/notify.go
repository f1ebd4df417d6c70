package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"cnsniper/internal/model"
)

// Notification defaults.
const (
	DefaultTitle = "Nowa oferta"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/badge.png"
	OfferTag     = "cnsniper-offer"
)

// Vibration patterns.
var (
	VibrateGigantos = []int{300, 150, 300, 150, 300}
	VibrateDefault  = []int{200, 100, 200}
)

// Push and click errors.
var (
	ErrMalformedPush       = errors.New("malformed push payload")
	ErrUnknownNotification = errors.New("unknown notification")
)

// BuildNotification turns a push payload into the notification to display.
func BuildNotification(p model.PushPayload, defaultAppURL string) model.Notification {
	n := model.Notification{
		ID:       uuid.NewString(),
		Title:    p.Title,
		Body:     p.Body,
		Icon:     p.Icon,
		Image:    p.Image,
		Badge:    p.Badge,
		Vibrate:  VibrateDefault,
		Tag:      OfferTag,
		Renotify: true,
		Data: model.NotificationData{
			MatchKey: p.MatchKey,
			AppURL:   p.AppURL,
			FromPush: true,
		},
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Badge == "" {
		n.Badge = DefaultBadge
	}
	if p.IsGigantos {
		n.Vibrate = VibrateGigantos
	}
	if n.Data.AppURL == "" {
		n.Data.AppURL = defaultAppURL
	}
	return n
}

// ClickURL is the window opened for a clicked notification when no app
// window is open.
func ClickURL(d model.NotificationData) string {
	if d.AppURL == "" {
		return "/"
	}
	return d.AppURL + "?fromPush=1&match_key=" + url.QueryEscape(d.MatchKey)
}

// Push handles one decrypted push message. An empty message is ignored; a
// malformed one is reported as ErrMalformedPush and the worker keeps
// running.
func (w *Worker) Push(ctx context.Context, data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		w.logger.Debug("empty push ignored")
		return nil
	}
	var p model.PushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		w.logger.Error("push data is not json", "error", err)
		return fmt.Errorf("%w: %w", ErrMalformedPush, err)
	}

	return w.do(ctx, func() error {
		n := BuildNotification(p, w.opts.AppURL)

		w.mu.Lock()
		for id, old := range w.notifications {
			if old.Tag == n.Tag {
				delete(w.notifications, id)
			}
		}
		w.notifications[n.ID] = n
		w.mu.Unlock()

		var errs []error
		for _, nt := range w.snapshotNotifiers() {
			if err := nt.Show(ctx, n); err != nil {
				errs = append(errs, err)
			}
		}
		w.logger.Info("notification shown", "id", n.ID, "match_key", n.Data.MatchKey)
		return errors.Join(errs...)
	})
}

// Notification returns a displayed notification by id.
func (w *Worker) Notification(id string) (model.Notification, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.notifications[id]
	return n, ok
}

// NotificationClick closes the notification and brings the app forward: an
// open window on the app URL is focused and told which offer to highlight,
// otherwise a new window is opened at ClickURL.
func (w *Worker) NotificationClick(ctx context.Context, id string) error {
	return w.do(ctx, func() error {
		w.mu.Lock()
		n, ok := w.notifications[id]
		delete(w.notifications, id)
		w.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
		}

		for _, nt := range w.snapshotNotifiers() {
			if err := nt.Close(ctx, id); err != nil {
				w.logger.Warn("close notification", "id", id, "error", err)
			}
		}

		for _, c := range w.snapshotClients() {
			if !strings.HasPrefix(c.URL(), n.Data.AppURL) {
				continue
			}
			if err := c.Focus(ctx); err != nil {
				w.logger.Warn("focus client", "error", err)
			}
			return c.PostMessage(ctx, Message{FromPush: true, MatchKey: n.Data.MatchKey})
		}

		if w.opts.Opener == nil {
			w.logger.Warn("no client and no opener for notification click", "id", id)
			return nil
		}
		return w.opts.Opener.OpenWindow(ctx, ClickURL(n.Data))
	})
}
