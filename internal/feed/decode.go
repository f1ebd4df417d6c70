// Package feed turns realtime offer messages into the in-memory offer lists
// the views render.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cnsniper/internal/model"
	"cnsniper/internal/offer"
)

// Message is a decoded offer channel message: InitMessage, NewMessage or
// UnknownMessage.
type Message interface {
	isMessage()
}

// InitMessage replaces the whole list.
type InitMessage struct {
	Offers []model.Offer
	// Skipped counts entries that were not offer objects.
	Skipped int
}

// NewMessage announces a single new offer.
type NewMessage struct {
	Offer model.Offer
}

// UnknownMessage is any well-formed message the feed does not handle.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

func (InitMessage) isMessage()    {}
func (NewMessage) isMessage()     {}
func (UnknownMessage) isMessage() {}

type envelope struct {
	Type   json.RawMessage `json:"type"`
	Offers json.RawMessage `json:"offers"`
	Offer  json.RawMessage `json:"offer"`
}

// Decode parses one offer channel message. Offers are returned normalized.
// Untyped messages carrying an "offer" are treated as NewMessage. Only input
// that is not a JSON object is an error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	typ := model.Text(env.Type)

	if typ == "init" && isArray(env.Offers) {
		var items []json.RawMessage
		if err := json.Unmarshal(env.Offers, &items); err != nil {
			return nil, fmt.Errorf("decode offers: %w", err)
		}
		msg := InitMessage{Offers: make([]model.Offer, 0, len(items))}
		for _, item := range items {
			o, ok := decodeOffer(item)
			if !ok {
				msg.Skipped++
				continue
			}
			msg.Offers = append(msg.Offers, o)
		}
		return msg, nil
	}

	if model.Truthy(env.Offer) {
		if o, ok := decodeOffer(env.Offer); ok {
			return NewMessage{Offer: o}, nil
		}
	}
	return UnknownMessage{Type: typ, Raw: json.RawMessage(data)}, nil
}

func decodeOffer(raw json.RawMessage) (model.Offer, bool) {
	if !isObject(raw) {
		return model.Offer{}, false
	}
	var o model.Offer
	if err := json.Unmarshal(raw, &o); err != nil {
		return model.Offer{}, false
	}
	return offer.Normalize(o), true
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
