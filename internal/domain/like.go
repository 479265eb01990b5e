package domain

import "time"

// Like is a (user, meme) join record. Unique on (UserID, MemeID).
type Like struct {
	UserID    string
	MemeID    int64
	CreatedAt time.Time
}

// WatchlistEntry is a (user, meme) join record. Unique on (UserID, MemeID).
type WatchlistEntry struct {
	UserID    string
	MemeID    int64
	CreatedAt time.Time
}
