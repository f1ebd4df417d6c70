// Package push manages the push subscription lifecycle: permission,
// platform subscription and registration with the backend.
package push

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cnsniper/internal/model"
	"cnsniper/internal/storage"
)

// KeyEnabled is the local storage flag set once the backend accepted the
// subscription.
const KeyEnabled = "push_enabled"

// Push enable failures.
var (
	ErrNotStandalone     = errors.New("push requires the installed app")
	ErrPermissionBlocked = errors.New("notifications are blocked")
)

// Permission is the notification permission state.
type Permission string

// Permission states.
const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Platform is the push capability of the host: the worker in this client.
type Platform interface {
	Standalone() bool
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	// GetSubscription returns nil when there is no subscription.
	GetSubscription(ctx context.Context) (*model.PushSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (*model.PushSubscription, error)
	// Unsubscribe reports whether a subscription existed.
	Unsubscribe(ctx context.Context) (bool, error)
}

// Backend registers subscriptions with the server.
type Backend interface {
	SubscribePush(ctx context.Context, sub model.PushSubscription) error
	UnsubscribePush(ctx context.Context, endpoint string) error
}

// Manager enables and disables push notifications.
type Manager struct {
	platform Platform
	backend  Backend
	store    storage.Storage
	vapidKey string
	logger   *slog.Logger
}

// NewManager creates a Manager subscribing with the given VAPID public key.
func NewManager(platform Platform, backend Backend, store storage.Storage, vapidKey string, logger *slog.Logger) *Manager {
	return &Manager{
		platform: platform,
		backend:  backend,
		store:    store,
		vapidKey: vapidKey,
		logger:   logger,
	}
}

// Enabled reports whether push was enabled and not disabled since.
func (m *Manager) Enabled(ctx context.Context) (bool, error) {
	v, _, err := m.store.GetItem(ctx, KeyEnabled)
	if err != nil {
		return false, fmt.Errorf("load push flag: %w", err)
	}
	return v == "1", nil
}

// Enable requests permission, subscribes (reusing an existing
// subscription), registers the subscription with the backend and only then
// records the enabled flag. It must run in response to an explicit user
// action. Calling it again is harmless.
func (m *Manager) Enable(ctx context.Context) error {
	if !m.platform.Standalone() {
		return ErrNotStandalone
	}

	perm, err := m.platform.Permission(ctx)
	if err != nil {
		return fmt.Errorf("read permission: %w", err)
	}
	if perm != PermissionGranted {
		if perm, err = m.platform.RequestPermission(ctx); err != nil {
			return fmt.Errorf("request permission: %w", err)
		}
	}
	if perm != PermissionGranted {
		return ErrPermissionBlocked
	}

	sub, err := m.platform.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		key, err := DecodeApplicationServerKey(m.vapidKey)
		if err != nil {
			return err
		}
		if sub, err = m.platform.Subscribe(ctx, key); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		m.logger.Info("push subscription created", "endpoint", sub.Endpoint)
	}

	if err := m.backend.SubscribePush(ctx, *sub); err != nil {
		return err
	}
	if err := m.store.SetItem(ctx, KeyEnabled, "1"); err != nil {
		return fmt.Errorf("store push flag: %w", err)
	}
	m.logger.Info("push enabled", "endpoint", sub.Endpoint)
	return nil
}

// Disable unsubscribes on the platform, tells the backend and clears the
// enabled flag.
func (m *Manager) Disable(ctx context.Context) error {
	sub, err := m.platform.GetSubscription(ctx)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub != nil {
		if _, err := m.platform.Unsubscribe(ctx); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
		if err := m.backend.UnsubscribePush(ctx, sub.Endpoint); err != nil {
			return err
		}
	}
	if err := m.store.RemoveItem(ctx, KeyEnabled); err != nil {
		return fmt.Errorf("clear push flag: %w", err)
	}
	m.logger.Info("push disabled")
	return nil
}

// DecodeApplicationServerKey decodes a base64url VAPID key, tolerating
// missing padding and the standard alphabet.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	s := strings.NewReplacer("-", "+", "_", "/").Replace(strings.TrimSpace(key))
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode application server key: %w", err)
	}
	return b, nil
}
