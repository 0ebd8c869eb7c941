// Package wiki fetches and parses the collection log rarity table from the
// Old School RuneScape wiki.
package wiki

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedResponse is returned when the parse envelope has no HTML text.
	ErrMalformedResponse = errors.New("malformed wiki parse response")
	// ErrNoRows is returned when a document contains no item rows at all.
	ErrNoRows = errors.New("no collection log rows found")
)

// Record is one normalized row of the rarity table.
type Record struct {
	ItemID         int64    `json:"item_id"`
	ItemName       string   `json:"item_name"`
	PreferredName  string   `json:"preferred_name"`
	CompletionRate float64  `json:"completion_rate"`
	Categories     []string `json:"categories"`
}

// CategoryString joins the categories the way they are stored alongside the item.
func (r Record) CategoryString() string {
	return strings.Join(r.Categories, ", ")
}

// SplitCategories explodes a stored category string into distinct, trimmed labels.
func SplitCategories(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		label := strings.Join(strings.Fields(part), " ")
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

// FetchError wraps transport and HTTP status failures talking to the wiki.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RowError describes a table row that was skipped.
type RowError struct {
	Row    int
	ItemID string
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (item %s): %s", e.Row, e.ItemID, e.Reason)
}
