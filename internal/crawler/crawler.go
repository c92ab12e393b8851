package crawler

// Config holds the settings for a crawl session.
// This struct is decoupled from Viper, making the engine and its configuration
// easier to test independently.
type Config struct {
	// MaxPages caps pagination depth per unit.
	MaxPages int
	// PageParam is the query parameter carrying the page number for pages > 1.
	PageParam string
}

const (
	defaultMaxPages  = 500
	defaultPageParam = "page"
)

func (c Config) withDefaults() Config {
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.PageParam == "" {
		c.PageParam = defaultPageParam
	}
	return c
}

// RunOptions restricts and shapes a single crawl run.
type RunOptions struct {
	// Collections limits the run to these hoods; empty means every hood in the catalog.
	Collections []string
	// SubCollections limits which burbs are fetched; empty means all of them.
	SubCollections []string
	// Resume skips units the checkpoint store reports complete.
	Resume bool
}
