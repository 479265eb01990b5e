package domain

import "time"

// Meme is the core content entity.
// Corresponds to memes table in PostgreSQL.
type Meme struct {
	ID          int64
	Title       string
	Description string
	ImageURL    string
	Blockchain  string // e.g. "solana", "ethereum"

	// Optional external links
	TradeURL    *string
	TwitterURL  *string
	TelegramURL *string

	Likes     int64  // denormalized like count
	CreatedBy string // creator user ID
	CreatedAt time.Time

	IsFeatured       bool
	TuzemoonUntil    *time.Time // featured-flag expiry (nullable)
	TimeUntilListing *time.Time // future-dated visibility gate (nullable)
}

// IsListed reports whether the meme is visible in the public feed at now.
func (m *Meme) IsListed(now time.Time) bool {
	return m.TimeUntilListing == nil || !m.TimeUntilListing.After(now)
}

// IsCurrentlyFeatured reports whether the meme should render as featured at now.
// A past TuzemoonUntil wins over the stored flag: the backend job clears the
// flag eventually, readers must not wait for it.
func (m *Meme) IsCurrentlyFeatured(now time.Time) bool {
	if !m.IsFeatured {
		return false
	}
	if m.TuzemoonUntil == nil {
		return true
	}
	return m.TuzemoonUntil.After(now)
}

// Clone returns a deep copy of the meme.
func (m *Meme) Clone() *Meme {
	c := *m
	c.TradeURL = clonePtr(m.TradeURL)
	c.TwitterURL = clonePtr(m.TwitterURL)
	c.TelegramURL = clonePtr(m.TelegramURL)
	c.TuzemoonUntil = clonePtr(m.TuzemoonUntil)
	c.TimeUntilListing = clonePtr(m.TimeUntilListing)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Sort orders for meme listings.
const (
	SortNewest    = "newest"
	SortMostLiked = "most_liked"
)

// DefaultPageSize is the feed page size.
const DefaultPageSize = 12

// MemeFilter selects a page of the public feed.
type MemeFilter struct {
	SelectedDate *time.Time // memes created on this UTC day (nullable)
	Blockchain   string     // empty means any
	Page         int        // zero-based
	PageSize     int        // DefaultPageSize when <= 0
	Sort         string     // SortNewest | SortMostLiked
}

// Limit returns the effective page size.
func (f MemeFilter) Limit() int {
	if f.PageSize <= 0 {
		return DefaultPageSize
	}
	return f.PageSize
}

// Offset returns the row offset of the page.
func (f MemeFilter) Offset() int {
	if f.Page < 0 {
		return 0
	}
	return f.Page * f.Limit()
}
