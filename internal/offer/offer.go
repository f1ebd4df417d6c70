// Package offer normalizes backend offer records and computes the match key
// used to correlate push notifications with feed entries.
package offer

import (
	"strings"
	"time"
	"unicode"

	"cnsniper/internal/model"
)

// maxTitleKeyLen caps the normalized title part of a match key, in runes.
const maxTitleKeyLen = 120

// DisplayLayout is the layout of Offer.FoundAtDisplay.
const DisplayLayout = "02.01.2006, 15:04:05"

// CleanLink repairs links as delivered by the scanners. Some links carry a
// duplicated scheme ("https://www.vinted.plhttps://www.vinted.pl/..."), in
// which case only the last https:// suffix is kept; bare "www." links get a
// scheme.
func CleanLink(link string) string {
	if link == "" {
		return link
	}
	if idx := strings.LastIndex(link, "https://"); idx > 0 {
		return link[idx:]
	}
	if strings.HasPrefix(link, "www.") {
		return "https://" + link
	}
	return link
}

// DetectSource derives the marketplace from the link, falling back to the
// source reported by the backend and finally to SourceUnknown.
func DetectSource(link string, reported model.Source) model.Source {
	l := strings.ToLower(link)
	switch {
	case strings.Contains(l, "vinted"):
		return model.SourceVinted
	case strings.Contains(l, "allegro"):
		return model.SourceAllegro
	case strings.Contains(l, "olx"):
		return model.SourceOLX
	}
	if reported != "" {
		return reported
	}
	return model.SourceUnknown
}

// NormalizeTitle lowercases the title, drops every rune that is neither a word
// rune (letter, number, underscore) nor whitespace, collapses whitespace runs,
// trims and truncates to 120 runes. It must stay identical to the backend's
// fingerprint rules.
func NormalizeTitle(title string) string {
	lower := strings.ToLower(title)
	stripped := strings.Map(func(r rune) rune {
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, lower)
	collapsed := strings.Join(strings.Fields(stripped), " ")

	runes := []rune(collapsed)
	if len(runes) > maxTitleKeyLen {
		runes = runes[:maxTitleKeyLen]
	}
	return string(runes)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

// MatchKey returns the "{source}|{normalizedTitle}" fingerprint.
func MatchKey(source model.Source, title string) string {
	return string(source) + "|" + NormalizeTitle(title)
}

// RejectedKey identifies an offer in the rejected-offer streams. It is a
// different identity than the match key and is never used for push
// correlation. Offers without an oid have no key.
func RejectedKey(o model.Offer) string {
	if o.OID == "" {
		return ""
	}
	return string(o.Source) + ":" + o.OID
}

// FormatFoundAt renders a Unix timestamp for display, or "" for 0.
func FormatFoundAt(ts int64, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format(DisplayLayout)
}

// Normalize derives the client-side fields of an offer. Applying it twice
// yields the same Source, Link and MatchKey as applying it once.
func Normalize(o model.Offer) model.Offer {
	o.Link = CleanLink(o.Link)
	o.Source = DetectSource(o.Link, o.Source)
	o.MatchKey = MatchKey(o.Source, o.Title)
	o.FoundAtDisplay = FormatFoundAt(o.FoundAt, time.Local)
	return o
}

// NormalizeAll normalizes a batch, preserving order.
func NormalizeAll(in []model.Offer) []model.Offer {
	out := make([]model.Offer, len(in))
	for i, o := range in {
		out[i] = Normalize(o)
	}
	return out
}
