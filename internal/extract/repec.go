package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// graphNode is one entry of the ld+json "@graph" array embedded in a RePEc
// article page. Only the role-tagged nodes we care about carry these fields.
type graphNode struct {
	ID            string `json:"@id"`
	Name          string `json:"name"`
	DatePublished string `json:"datePublished"`
	Author        string `json:"author"`
	URL           string `json:"url"`
	Description   string `json:"description"`
	Keywords      string `json:"keywords"`
}

type ldDocument struct {
	Graph []graphNode `json:"@graph"`
}

// Article extracts the structured article record from a raw RePEc page.
// Returns ErrMalformed when the ld+json block is absent, unparsable, or
// missing the #article node.
func Article(raw []byte) (Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return Record{}, fmt.Errorf("parse html: %w", err)
	}

	script := doc.Find(`script[type="application/ld+json"]`).First()
	if script.Length() == 0 {
		return Record{}, fmt.Errorf("%w: no ld+json metadata block", ErrMalformed)
	}

	var ld ldDocument
	if err := json.Unmarshal([]byte(script.Text()), &ld); err != nil {
		return Record{}, fmt.Errorf("%w: decode ld+json: %v", ErrMalformed, err)
	}

	var rec Record
	var sawArticle bool
	for _, node := range ld.Graph {
		switch node.ID {
		case "#periodical":
			rec.Venue = strings.ToLower(strings.TrimSpace(node.Name))
		case "#number":
			rec.Year = yearOf(node.DatePublished)
		case "#article":
			sawArticle = true
			rec.Title = strings.TrimSpace(node.Name)
			rec.Authors = splitNormalized(node.Author, "&")
			rec.URL = strings.TrimSpace(node.URL)
			rec.Abstract = strings.TrimSpace(node.Description)
			rec.Keywords = splitNormalized(node.Keywords, ";")
		}
	}
	if !sawArticle {
		return Record{}, fmt.Errorf("%w: no #article node in @graph", ErrMalformed)
	}
	return rec, nil
}

// splitNormalized splits a delimited upstream field into trimmed,
// lower-cased entries, dropping empties.
func splitNormalized(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

var dateLayouts = []string{"2006-01-02", "2006-01", "January 2006", "2006"}

// yearOf pulls the publication year out of the loosely formatted
// datePublished value. Returns 0 when no year can be recognized.
func yearOf(s string) int {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year()
		}
	}
	// Upstream occasionally embeds the year in free text.
	for _, field := range strings.Fields(s) {
		if len(field) == 4 {
			if y, err := strconv.Atoi(field); err == nil && y > 1000 {
				return y
			}
		}
	}
	return 0
}
