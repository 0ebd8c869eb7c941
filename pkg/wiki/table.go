package wiki

import (
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kittyscape/clogpoints/pkg/points"
)

// ParseResult holds the usable records of a table and the rows that were skipped.
type ParseResult struct {
	Records []Record
	Skipped []RowError
}

// TableParser turns the rendered Collection_log/Table page into records.
//
// Each candidate row looks like:
//
//	<tr data-item-id="6571">
//	  <td><span><a class="mw-file-description"><img/></a></span>
//	      <a href="/w/Uncut_onyx" title="Uncut onyx">Uncut onyx</a></td>
//	  <td><a title="Zulrah">Zulrah</a>, Miscellaneous</td>
//	  <td class="table-bg-yellow">17.9%</td>
//	</tr>
type TableParser struct {
	rules []TagRule
}

// NewTableParser creates a parser that applies the given tag rules.
// With no rules it uses DefaultTagRules.
func NewTableParser(rules ...TagRule) *TableParser {
	if len(rules) == 0 {
		rules = DefaultTagRules
	}
	return &TableParser{rules: rules}
}

// ParseTable parses a document with the default tag rules.
func ParseTable(r io.Reader) (*ParseResult, error) {
	return NewTableParser().Parse(r)
}

// Parse extracts one record per row carrying a numeric data-item-id. Rows that
// cannot be read are reported in Skipped rather than failing the document.
func (p *TableParser) Parse(r io.Reader) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse table html: %w", err)
	}

	rows := doc.Find("tr[data-item-id]")
	if rows.Length() == 0 {
		return nil, ErrNoRows
	}

	result := &ParseResult{}
	rows.Each(func(i int, row *goquery.Selection) {
		rawID, _ := row.Attr("data-item-id")
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil {
			return
		}

		rec, reason := p.parseRow(id, row)
		if reason != "" {
			result.Skipped = append(result.Skipped, RowError{Row: i, ItemID: rawID, Reason: reason})
			return
		}
		result.Records = append(result.Records, rec)
	})

	return result, nil
}

// ParseString is a convenience wrapper around Parse.
func (p *TableParser) ParseString(doc string) (*ParseResult, error) {
	return p.Parse(strings.NewReader(doc))
}

func (p *TableParser) parseRow(id int64, row *goquery.Selection) (Record, string) {
	cells := row.ChildrenFiltered("td")
	if cells.Length() < 3 {
		return Record{}, fmt.Sprintf("expected 3 columns, got %d", cells.Length())
	}

	// The first link wraps the item icon.
	link := cells.First().Find("a").Eq(1)
	title, _ := link.Attr("title")
	name := strings.TrimSpace(html.UnescapeString(title))
	if name == "" {
		return Record{}, "missing item name"
	}

	rateText := firstText(cells.Last())
	rate, ok := parseRate(rateText)
	if !ok {
		return Record{}, fmt.Sprintf("unusable completion rate %q", strings.TrimSpace(rateText))
	}

	preferred := collapse(link.Text())
	if preferred == "" {
		preferred = name
	}

	return Record{
		ItemID:         id,
		ItemName:       name,
		PreferredName:  preferred,
		CompletionRate: rate,
		Categories:     ApplyTags(name, SplitCategories(cells.Eq(1).Text()), p.rules),
	}, ""
}

// firstText returns the first non-blank text node under sel, so footnote
// markers after the value are ignored.
func firstText(sel *goquery.Selection) string {
	var text string
	sel.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) == "#text" {
			text = c.Text()
		} else {
			text = firstText(c)
		}
		return strings.TrimSpace(text) == ""
	})
	return text
}

// parseRate reads "17.9%" style text. "<0.1%" maps to the minimum rate.
func parseRate(text string) (float64, bool) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "<") {
		return points.MinimumRate, true
	}
	rate, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil || !points.ValidRate(rate) {
		return 0, false
	}
	return rate, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
