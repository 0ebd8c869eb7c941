package wiki

import (
	"context"
	"fmt"
	"time"
)

// Revision identifies one edit of the table page.
type Revision struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Updated time.Time `json:"updated"`
}

// IsZero reports whether no revision is known.
func (r Revision) IsZero() bool { return r.ID == "" }

// LatestRevision reads the page's history feed and returns the newest edit.
func (c *Client) LatestRevision(ctx context.Context) (Revision, error) {
	body, err := c.get(ctx, c.feedURL)
	if err != nil {
		return Revision{}, err
	}
	defer body.Close()

	feed, err := c.parser.Parse(body)
	if err != nil {
		return Revision{}, fmt.Errorf("parse history feed: %w", err)
	}

	var latest Revision
	for _, entry := range feed.Items {
		updated := time.Time{}
		if entry.UpdatedParsed != nil {
			updated = entry.UpdatedParsed.UTC()
		} else if entry.PublishedParsed != nil {
			updated = entry.PublishedParsed.UTC()
		}

		id := entry.GUID
		if id == "" {
			id = entry.Link
		}
		if latest.IsZero() || updated.After(latest.Updated) {
			latest = Revision{ID: id, Title: entry.Title, Updated: updated}
		}
	}

	if latest.IsZero() {
		return Revision{}, fmt.Errorf("history feed for %s has no entries", c.page)
	}
	return latest, nil
}
