package crawler

import (
	"fmt"
	"net/url"
	"strconv"
)

// PageURL returns the listing URL for the given 1-based page. Page 1 is the
// base URL itself; later pages carry the page number in param.
func PageURL(base, param string, page int) (string, error) {
	if page <= 1 {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
