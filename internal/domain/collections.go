package domain

// Backend collection (table) names.
const (
	CollectionMemes     = "memes"
	CollectionLikes     = "likes"
	CollectionWatchlist = "watchlist"
	CollectionPayments  = "tuzemoon_payments"
	CollectionUsers     = "users"
)
