// Package system supplies the wall clock behind crawl statistics, document
// scraped_at stamps, checkpoint times and flatten index generation times.
package system

import (
	"time"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

var _ crawler.Clock = Clock{}

// Clock reads the host clock. Now keeps the monotonic reading so elapsed run
// time survives wall clock steps; callers convert to UTC before formatting.
type Clock struct{}

// New returns the host clock.
func New() Clock {
	return Clock{}
}

// Now returns the current local time with its monotonic reading.
func (Clock) Now() time.Time {
	return time.Now()
}
