package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Text converts a raw JSON scalar to a string. Strings are returned as-is,
// numbers and booleans by their literal form; null, objects and arrays give "".
func Text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case 't', 'f':
		return string(raw)
	case 'n', '{', '[':
		return ""
	default:
		return string(raw)
	}
}

// Truthy reports whether a raw JSON value is truthy the way a browser would
// evaluate Boolean(value).
func Truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch raw[0] {
	case 't', '{', '[':
		return true
	case 'f', 'n':
		return false
	case '"':
		return len(Text(raw)) > 0
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f != 0 && !math.IsNaN(f)
	}
}

// Timestamp converts a raw JSON number or numeric string to whole Unix
// seconds. Anything else yields 0.
func Timestamp(raw json.RawMessage) int64 {
	s := strings.TrimSpace(Text(raw))
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

// Integer converts a raw JSON number or numeric string holding a whole
// number. Fractions, booleans and anything else are rejected.
func Integer(raw json.RawMessage) (int, bool) {
	s := strings.TrimSpace(Text(raw))
	if s == "" || s == "true" || s == "false" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func firstText(values ...json.RawMessage) string {
	for _, v := range values {
		if s := Text(v); s != "" {
			return s
		}
	}
	return ""
}

func firstTimestamp(values ...json.RawMessage) int64 {
	for _, v := range values {
		if ts := Timestamp(v); ts != 0 {
			return ts
		}
	}
	return 0
}
