// Package catalog models the read-only list of hoods and burbs the crawler
// walks, and loads it from the catalog JSON file.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrCatalogMissing is returned when no catalog is available. No crawl work
// is possible without one.
var ErrCatalogMissing = errors.New("catalog missing")

// EntryError describes a catalog entry whose metadata cannot produce a
// fetchable URL. The affected unit is skipped.
type EntryError struct {
	Collection    string
	SubCollection string
	Reason        string
}

func (e *EntryError) Error() string {
	if e.SubCollection != "" {
		return fmt.Sprintf("catalog entry %s/%s: %s", e.Collection, e.SubCollection, e.Reason)
	}
	return fmt.Sprintf("catalog entry %s: %s", e.Collection, e.Reason)
}

// Catalog is the ordered list of collections to crawl.
type Catalog struct {
	BaseURL     string       `json:"base_url"`
	Collections []Collection `json:"collections"`
}

// Collection is one hood entry.
type Collection struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	URL            string          `json:"url,omitempty"`
	SubCollections []SubCollection `json:"sub_collections"`
}

// SubCollection is one burb entry inside a hood.
type SubCollection struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Lookup returns the collection with the given name.
func (c *Catalog) Lookup(name string) (Collection, bool) {
	for _, entry := range c.Collections {
		if entry.Name == name {
			return entry, true
		}
	}
	return Collection{}, false
}

// Names returns collection names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.Collections))
	for _, entry := range c.Collections {
		names = append(names, entry.Name)
	}
	return names
}

// CollectionURL returns the listing URL for a hood: its explicit URL, or
// base_url/<name> when none is given.
func (c *Catalog) CollectionURL(entry Collection) (string, error) {
	if strings.TrimSpace(entry.Name) == "" {
		return "", &EntryError{Collection: entry.Name, Reason: "empty name"}
	}
	if entry.URL != "" {
		if err := checkURL(entry.URL); err != nil {
			return "", &EntryError{Collection: entry.Name, Reason: err.Error()}
		}
		return entry.URL, nil
	}
	derived, err := c.derive(entry.Name)
	if err != nil {
		return "", &EntryError{Collection: entry.Name, Reason: err.Error()}
	}
	return derived, nil
}

// SubCollectionURL returns the listing URL for a burb: its explicit URL, or
// base_url/<hood>/<burb> when none is given.
func (c *Catalog) SubCollectionURL(entry Collection, sub SubCollection) (string, error) {
	if strings.TrimSpace(sub.Name) == "" {
		return "", &EntryError{Collection: entry.Name, SubCollection: sub.Name, Reason: "empty name"}
	}
	if sub.URL != "" {
		if err := checkURL(sub.URL); err != nil {
			return "", &EntryError{Collection: entry.Name, SubCollection: sub.Name, Reason: err.Error()}
		}
		return sub.URL, nil
	}
	derived, err := c.derive(entry.Name, sub.Name)
	if err != nil {
		return "", &EntryError{Collection: entry.Name, SubCollection: sub.Name, Reason: err.Error()}
	}
	return derived, nil
}

func (c *Catalog) derive(segments ...string) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("no url and no base_url to derive one from")
	}
	if err := checkURL(c.BaseURL); err != nil {
		return "", fmt.Errorf("base_url: %w", err)
	}
	joined, err := url.JoinPath(c.BaseURL, segments...)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}
	return joined, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be absolute http(s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
