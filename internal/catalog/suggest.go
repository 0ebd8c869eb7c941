package catalog

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultSuggestLimit matches the autocomplete choice limit of chat platforms.
const DefaultSuggestLimit = 25

// suggest keeps candidates containing partial (case-insensitive) and orders
// them best match first.
func suggest(partial string, candidates []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	needle := strings.ToLower(strings.TrimSpace(partial))

	var matched, lowered []string
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if strings.Contains(lc, needle) {
			matched = append(matched, c)
		}
	}
	sort.Strings(matched)
	if needle == "" {
		return truncate(matched, limit)
	}

	for _, c := range matched {
		lowered = append(lowered, strings.ToLower(c))
	}

	out := make([]string, 0, limit)
	used := make([]bool, len(matched))
	for _, m := range fuzzy.Find(needle, lowered) {
		out = append(out, matched[m.Index])
		used[m.Index] = true
	}
	for i, c := range matched {
		if !used[i] {
			out = append(out, c)
		}
	}
	return truncate(out, limit)
}

func truncate(list []string, limit int) []string {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}
