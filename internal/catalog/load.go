package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// fileFormat accepts both the canonical collections array and the legacy
// neighborhoods object.
type fileFormat struct {
	BaseURL       string          `json:"base_url"`
	Collections   []Collection    `json:"collections"`
	Neighborhoods json.RawMessage `json:"neighborhoods"`
}

type legacyHood struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Burbs       []string `json:"burbs"`
}

// Load reads a catalog file. A missing file wraps ErrCatalogMissing.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogMissing, path)
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()

	cat, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes catalog JSON. When both formats are present the canonical
// collections array wins.
func Parse(r io.Reader) (*Catalog, error) {
	var raw fileFormat
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	cat := &Catalog{BaseURL: raw.BaseURL, Collections: raw.Collections}
	if len(cat.Collections) == 0 && len(raw.Neighborhoods) > 0 {
		collections, err := parseLegacy(raw.Neighborhoods)
		if err != nil {
			return nil, err
		}
		cat.Collections = collections
	}
	if cat.Collections == nil {
		cat.Collections = []Collection{}
	}
	return cat, nil
}

// parseLegacy walks the neighborhoods object token by token so that hood
// order follows the file rather than map iteration.
func parseLegacy(raw json.RawMessage) ([]Collection, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode neighborhoods: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("decode neighborhoods: expected an object")
	}

	var collections []Collection
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode neighborhoods: %w", err)
		}
		name, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode neighborhoods: unexpected token %v", keyTok)
		}
		var hood legacyHood
		if err := dec.Decode(&hood); err != nil {
			return nil, fmt.Errorf("decode neighborhood %q: %w", name, err)
		}
		entry := Collection{
			Name:           name,
			Description:    hood.Description,
			URL:            hood.URL,
			SubCollections: make([]SubCollection, 0, len(hood.Burbs)),
		}
		for _, burb := range hood.Burbs {
			entry.SubCollections = append(entry.SubCollections, SubCollection{Name: burb})
		}
		collections = append(collections, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode neighborhoods: %w", err)
	}
	return collections, nil
}

// Encode writes the catalog in the canonical format.
func (c *Catalog) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return nil
}
