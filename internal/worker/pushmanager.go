package worker

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cnsniper/internal/model"
	"cnsniper/internal/push"
	"cnsniper/internal/storage"
)

// Local storage keys of the push manager.
const (
	KeyPermission   = "notification_permission"
	KeySubscription = "push_subscription"
	KeyPushKeys     = "push_keys"
)

// ErrNoSubscription is returned when a push arrives without a subscription.
var ErrNoSubscription = errors.New("no push subscription")

// Prompter asks the user whether notifications may be shown.
type Prompter interface {
	PromptPermission(ctx context.Context) (bool, error)
}

type storedKeys struct {
	Private string `json:"private"`
	Auth    string `json:"auth"`
}

// PushManager is the worker's push.Platform: it owns the notification
// permission and the subscription key material, and decrypts deliveries to
// the subscription's endpoint.
type PushManager struct {
	worker   *Worker
	store    storage.Storage
	prompter Prompter
	endpoint string

	mu sync.Mutex
}

var _ push.Platform = (*PushManager)(nil)

// NewPushManager creates a PushManager whose subscriptions point at endpoint.
func NewPushManager(w *Worker, store storage.Storage, prompter Prompter, endpoint string) *PushManager {
	return &PushManager{worker: w, store: store, prompter: prompter, endpoint: endpoint}
}

// Standalone reports whether the worker is active and can receive pushes.
func (p *PushManager) Standalone() bool {
	return p.worker.State() == StateActive
}

// Permission returns the stored permission.
func (p *PushManager) Permission(ctx context.Context) (push.Permission, error) {
	v, ok, err := p.store.GetItem(ctx, KeyPermission)
	if err != nil {
		return "", fmt.Errorf("load permission: %w", err)
	}
	if !ok {
		return push.PermissionDefault, nil
	}
	return push.Permission(v), nil
}

// RequestPermission prompts the user unless a decision was already stored.
func (p *PushManager) RequestPermission(ctx context.Context) (push.Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.Permission(ctx)
	if err != nil {
		return "", err
	}
	if cur != push.PermissionDefault {
		return cur, nil
	}
	ok, err := p.prompter.PromptPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("prompt permission: %w", err)
	}
	answer := push.PermissionDenied
	if ok {
		answer = push.PermissionGranted
	}
	if err := p.store.SetItem(ctx, KeyPermission, string(answer)); err != nil {
		return "", fmt.Errorf("store permission: %w", err)
	}
	return answer, nil
}

// GetSubscription returns the stored subscription or nil.
func (p *PushManager) GetSubscription(ctx context.Context) (*model.PushSubscription, error) {
	v, ok, err := p.store.GetItem(ctx, KeySubscription)
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var sub model.PushSubscription
	if err := json.Unmarshal([]byte(v), &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}

// Subscribe creates the subscription key pair and auth secret, or returns
// the existing subscription.
func (p *PushManager) Subscribe(ctx context.Context, applicationServerKey []byte) (*model.PushSubscription, error) {
	if _, err := ecdh.P256().NewPublicKey(applicationServerKey); err != nil {
		return nil, fmt.Errorf("application server key: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, err := p.GetSubscription(ctx); err != nil || sub != nil {
		return sub, err
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}

	enc := base64.RawURLEncoding
	keys, err := json.Marshal(storedKeys{Private: enc.EncodeToString(priv.Bytes()), Auth: enc.EncodeToString(auth)})
	if err != nil {
		return nil, fmt.Errorf("encode keys: %w", err)
	}
	sub := model.PushSubscription{
		Endpoint: p.endpoint,
		Keys: model.PushKeys{
			P256dh: enc.EncodeToString(priv.PublicKey().Bytes()),
			Auth:   enc.EncodeToString(auth),
		},
	}
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}

	if err := p.store.SetItem(ctx, KeyPushKeys, string(keys)); err != nil {
		return nil, fmt.Errorf("store keys: %w", err)
	}
	if err := p.store.SetItem(ctx, KeySubscription, string(subJSON)); err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	return &sub, nil
}

// Unsubscribe deletes the subscription and its keys.
func (p *PushManager) Unsubscribe(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, err := p.GetSubscription(ctx)
	if err != nil {
		return false, err
	}
	if err := p.store.RemoveItem(ctx, KeySubscription); err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	if err := p.store.RemoveItem(ctx, KeyPushKeys); err != nil {
		return false, fmt.Errorf("remove keys: %w", err)
	}
	return sub != nil, nil
}

// Decrypt decrypts an aes128gcm push body with the subscription keys.
func (p *PushManager) Decrypt(ctx context.Context, body []byte) ([]byte, error) {
	v, ok, err := p.store.GetItem(ctx, KeyPushKeys)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	if !ok {
		return nil, ErrNoSubscription
	}
	var keys storedKeys
	if err := json.Unmarshal([]byte(v), &keys); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	rawPriv, err := base64.RawURLEncoding.DecodeString(keys.Private)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("decode auth secret: %w", err)
	}
	priv, err := ecdh.P256().NewPrivateKey(rawPriv)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return DecryptPush(priv, auth, body)
}
