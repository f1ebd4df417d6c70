// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"net/http"
	"time"
)

// Source identifies the marketplace an offer was found on.
type Source string

// Known marketplaces.
const (
	SourceVinted  Source = "vinted"
	SourceAllegro Source = "allegro"
	SourceOLX     Source = "olx"
	SourceUnknown Source = "unknown"
)

// Offer is a client-side normalized marketplace listing.
//
// Offers are decoded leniently from backend JSON (see UnmarshalJSON) and then
// passed through offer.Normalize, which derives Source, Link, MatchKey and
// FoundAtDisplay.
type Offer struct {
	OfferID        string `json:"offer_id,omitempty"`
	OID            string `json:"oid,omitempty"`
	Source         Source `json:"source"`
	Link           string `json:"link"`
	Title          string `json:"title"`
	Price          string `json:"price,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	FoundAt        int64  `json:"found_at"`
	FoundAtDisplay string `json:"found_at_display,omitempty"`
	IsGigantos     bool   `json:"is_gigantos"`
	MatchKey       string `json:"match_key,omitempty"`
}

type wireOffer struct {
	OfferID      json.RawMessage `json:"offer_id"`
	ID           json.RawMessage `json:"id"`
	OID          json.RawMessage `json:"oid"`
	Source       json.RawMessage `json:"source"`
	Link         json.RawMessage `json:"link"`
	Title        json.RawMessage `json:"title"`
	Price        json.RawMessage `json:"price"`
	Image        json.RawMessage `json:"image"`
	ImageURL     json.RawMessage `json:"image_url"`
	FoundAt      json.RawMessage `json:"found_at"`
	FoundAtCamel json.RawMessage `json:"foundAt"`
	IsGigantos   json.RawMessage `json:"is_gigantos"`
	MatchKey     json.RawMessage `json:"match_key"`
}

// UnmarshalJSON accepts the loosely typed offer records produced by the
// backend: ids and prices may be numbers or strings, timestamps may be numeric
// strings, and a few fields have alternate names (id/offer_id, image/image_url,
// foundAt/found_at).
func (o *Offer) UnmarshalJSON(data []byte) error {
	var w wireOffer
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	offerID := firstText(w.OfferID, w.ID)
	*o = Offer{
		OfferID:    offerID,
		OID:        firstText(w.OID, w.OfferID, w.ID),
		Source:     Source(Text(w.Source)),
		Link:       Text(w.Link),
		Title:      Text(w.Title),
		Price:      Text(w.Price),
		ImageURL:   firstText(w.Image, w.ImageURL),
		FoundAt:    firstTimestamp(w.FoundAt, w.FoundAtCamel),
		IsGigantos: Truthy(w.IsGigantos),
		MatchKey:   Text(w.MatchKey),
	}
	return nil
}

// Flag is a boolean decoded from any JSON value by truthiness.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = Flag(Truthy(data))
	return nil
}

// Tokens is the credential pair issued by the auth endpoints.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// PushKeys holds the public key material of a push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription mirrors the JSON form of a browser PushSubscription.
type PushSubscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *int64   `json:"expirationTime"`
	Keys           PushKeys `json:"keys"`
}

// PushPayload is the JSON body the backend sends with each push message.
type PushPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Icon       string `json:"icon,omitempty"`
	Image      string `json:"image,omitempty"`
	Badge      string `json:"badge,omitempty"`
	IsGigantos Flag   `json:"is_gigantos,omitempty"`
	MatchKey   string `json:"match_key"`
	AppURL     string `json:"app_url,omitempty"`
}

// NotificationData is carried by a notification to its click handler.
type NotificationData struct {
	MatchKey string `json:"match_key"`
	AppURL   string `json:"app_url"`
	FromPush bool   `json:"fromPush"`
}

// Notification is a displayed platform notification.
type Notification struct {
	ID       string
	Title    string
	Body     string
	Icon     string
	Image    string
	Badge    string
	Vibrate  []int
	Tag      string
	Renotify bool
	Data     NotificationData
}

// Totals counts offers per classification.
type Totals struct {
	New      int64 `json:"new"`
	Junk     int64 `json:"junk"`
	Change   int64 `json:"change"`
	Gigantos int64 `json:"gigantos"`
}

// GlobalStats is the all-time scanner summary.
type GlobalStats struct {
	UptimeSec int64            `json:"uptime_sec"`
	Scans     int64            `json:"scans"`
	Totals    Totals           `json:"totals"`
	PerSource map[string]int64 `json:"per_source"`
}

// DayStats summarizes a period (today, or the current week).
type DayStats struct {
	Totals
	PerSource map[string]int64 `json:"per_source"`
}

// Delta compares a weekly counter with the previous week.
type Delta struct {
	Abs int64    `json:"abs"`
	Pct *float64 `json:"pct"`
}

// WeeklyStats is the current week plus deltas per counter.
type WeeklyStats struct {
	Current *DayStats        `json:"current"`
	Compare map[string]Delta `json:"compare"`
}

// Dashboard groups the three statistics views.
type Dashboard struct {
	Global *GlobalStats
	Today  *DayStats
	Weekly *WeeklyStats
}

// HealthStatus is pushed by the backend status channel.
type HealthStatus struct {
	UptimeSec  int64 `json:"uptime_sec"`
	Scanning   bool  `json:"scanning"`
	NextScanIn int64 `json:"next_scan_in"`
}

// CacheEntry is a response stored in a named cache of the worker.
type CacheEntry struct {
	CacheName string
	URL       string
	Status    int
	Header    http.Header
	Body      []byte
	StoredAt  time.Time
}
