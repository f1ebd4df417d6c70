// Package filter implements the offer view: filtering, sorting and the
// push-highlight pin.
package filter

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"

	"cnsniper/internal/model"
)

// SortOrder defines the secondary ordering of the view.
type SortOrder string

// Supported sort orders.
const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// State is the UI filter state the view is derived from.
type State struct {
	GigantosOnly bool
	Search       string
	Sources      []model.Source
	Sort         SortOrder
}

// Apply derives the displayed list from the in-memory offers. The input slice
// is not modified. Offers whose match key equals highlighted are pinned first,
// regardless of the sort order.
func Apply(offers []model.Offer, st State, highlighted string) []model.Offer {
	out := make([]model.Offer, 0, len(offers))
	match := searchMatcher(st.Search)

	for _, o := range offers {
		if st.GigantosOnly && !o.IsGigantos {
			continue
		}
		if match != nil && !match(o.Title) {
			continue
		}
		if len(st.Sources) > 0 && !slices.Contains(st.Sources, o.Source) {
			continue
		}
		out = append(out, o)
	}

	slices.SortStableFunc(out, func(a, b model.Offer) int {
		if highlighted != "" {
			ap, bp := a.MatchKey == highlighted, b.MatchKey == highlighted
			if ap != bp {
				if ap {
					return -1
				}
				return 1
			}
		}
		if st.Sort == SortOldest {
			return cmp.Compare(a.FoundAt, b.FoundAt)
		}
		return cmp.Compare(b.FoundAt, a.FoundAt)
	})
	return out
}

// searchMatcher returns nil when the search is empty. A search that parses as
// a finite number matches the number with digit boundaries; anything else is a
// plain substring match.
func searchMatcher(search string) func(title string) bool {
	term := strings.TrimSpace(search)
	if term == "" {
		return nil
	}
	if token, ok := numericToken(term); ok {
		return func(title string) bool { return hasNumberToken(title, token) }
	}
	return func(title string) bool { return strings.Contains(title, term) }
}

func numericToken(term string) (string, bool) {
	f, err := strconv.ParseFloat(term, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// TitleHasNumber reports whether n occurs in title surrounded by non-digit
// characters or the string edges, so 1 matches "Issue #1" and "1/2000" but
// not "11".
func TitleHasNumber(title string, n int) bool {
	return hasNumberToken(title, strconv.Itoa(n))
}

func hasNumberToken(title, token string) bool {
	if token == "" {
		return false
	}
	for from := 0; from <= len(title)-len(token); {
		i := strings.Index(title[from:], token)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(token)
		if (start == 0 || !isDigit(title[start-1])) && (end == len(title) || !isDigit(title[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// HighlightedByNumbers reports whether the offer title contains any of the
// user's highlight numbers.
func HighlightedByNumbers(o model.Offer, numbers []int) bool {
	for _, n := range numbers {
		if TitleHasNumber(o.Title, n) {
			return true
		}
	}
	return false
}
