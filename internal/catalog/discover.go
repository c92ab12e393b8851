package catalog

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const iconAltPrefix = "Geocities Icon"

// Discover builds a catalog from the archive index page. Each h2 link names
// a hood; the next h5 carries its description and the next table lists its
// burbs. Burb URLs are left for derivation from baseURL.
func Discover(body []byte, baseURL string) (*Catalog, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index page: %w", err)
	}

	cat := &Catalog{BaseURL: baseURL, Collections: []Collection{}}
	seen := make(map[string]struct{})
	doc.Find("h2").Each(func(_ int, heading *goquery.Selection) {
		link := heading.Find("a").First()
		if link.Length() == 0 {
			return
		}
		name := cleanText(link.Text())
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}

		entry := Collection{
			Name:           name,
			Description:    describe(nextMatch(heading, "h5")),
			SubCollections: []SubCollection{},
		}
		if table := nextMatch(heading, "table"); table != nil {
			table.Find("a").Each(func(_ int, a *goquery.Selection) {
				if burb := cleanText(a.Text()); burb != "" {
					entry.SubCollections = append(entry.SubCollections, SubCollection{Name: burb})
				}
			})
		}
		cat.Collections = append(cat.Collections, entry)
	})
	return cat, nil
}

// nextMatch returns the first element after s in document order that
// matches selector, stopping at the next h2.
func nextMatch(s *goquery.Selection, selector string) *goquery.Selection {
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		for sib := cur.Next(); sib.Length() > 0; sib = sib.Next() {
			if sib.Is("h2") || sib.Find("h2").Length() > 0 {
				return nil
			}
			if sib.Is(selector) {
				return sib
			}
			if found := sib.Find(selector).First(); found.Length() > 0 {
				return found
			}
		}
		if cur.Is("body") {
			break
		}
	}
	return nil
}

func describe(h5 *goquery.Selection) string {
	if h5 == nil {
		return ""
	}
	var parts []string
	h5.Contents().Each(func(_ int, node *goquery.Selection) {
		text := cleanText(node.Text())
		if text == "" || strings.HasPrefix(text, iconAltPrefix) {
			return
		}
		parts = append(parts, text)
	})
	return strings.Join(parts, " ")
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
