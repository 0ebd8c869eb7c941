package wiki

import (
	"slices"
	"strings"
)

// TagRule adds a synthetic category to items whose name contains Match.
// Matching is case-sensitive.
type TagRule struct {
	Match string
	Tag   string
}

// DefaultTagRules groups item sets the table does not label on its own.
var DefaultTagRules = []TagRule{
	{Match: "3rd age", Tag: "Third Age"},
	{Match: "Gilded", Tag: "Gilded"},
}

// ApplyTags returns categories with every matching rule's tag appended once.
func ApplyTags(name string, categories []string, rules []TagRule) []string {
	for _, rule := range rules {
		if !strings.Contains(name, rule.Match) || slices.Contains(categories, rule.Tag) {
			continue
		}
		categories = append(categories, rule.Tag)
	}
	return categories
}
