package querycache

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Query key prefixes. A prefix names one kind of query; params narrow it.
const (
	PrefixMemes           = "memes"
	PrefixMeme            = "meme"
	PrefixFeaturedMemes   = "featured-memes"
	PrefixUserLikes       = "user-likes"
	PrefixLikeStatus      = "like-status"
	PrefixWatchlistMemes  = "watchlist-memes"
	PrefixWatchlistStatus = "watchlist-status"
	PrefixUserMemes       = "user-memes"
	PrefixPayments        = "payments"
)

// Key identifies a cached query result.
type Key struct {
	Prefix string
	Params map[string]string
}

// NewKey builds a key from a prefix and name/value pairs. A trailing odd name is ignored.
func NewKey(prefix string, kv ...string) Key {
	k := Key{Prefix: prefix}
	if len(kv) >= 2 {
		k.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			k.Params[kv[i]] = kv[i+1]
		}
	}
	return k
}

// Param returns a parameter value or "".
func (k Key) Param(name string) string {
	return k.Params[name]
}

// String is the canonical form prefix?a=1&b=2 with parameters sorted by name.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Prefix
	}
	names := make([]string, 0, len(k.Params))
	for n := range k.Params {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Prefix)
	for i, n := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(n))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[n]))
	}
	return b.String()
}

// MemeKey is the key of a single meme detail query.
func MemeKey(id int64) Key {
	return NewKey(PrefixMeme, "id", strconv.FormatInt(id, 10))
}

// LikeStatusKey is the key of "did user like meme".
func LikeStatusKey(userID string, memeID int64) Key {
	return NewKey(PrefixLikeStatus, "user", userID, "meme", strconv.FormatInt(memeID, 10))
}

// WatchlistStatusKey is the key of "is meme on user's watchlist".
func WatchlistStatusKey(userID string, memeID int64) Key {
	return NewKey(PrefixWatchlistStatus, "user", userID, "meme", strconv.FormatInt(memeID, 10))
}

// UserLikesKey is the key of the memes liked by a user.
func UserLikesKey(userID string) Key {
	return NewKey(PrefixUserLikes, "user", userID)
}

// WatchlistMemesKey is the key of the memes on a user's watchlist.
func WatchlistMemesKey(userID string) Key {
	return NewKey(PrefixWatchlistMemes, "user", userID)
}

// UserMemesKey is the key of the memes created by a user.
func UserMemesKey(userID string) Key {
	return NewKey(PrefixUserMemes, "user", userID)
}

// PaymentsKey is the key of a user's payment history.
func PaymentsKey(userID string) Key {
	return NewKey(PrefixPayments, "user", userID)
}

// FeaturedMemesKey is the key of the featured list.
func FeaturedMemesKey() Key {
	return NewKey(PrefixFeaturedMemes)
}

// Matcher selects cache entries by key.
type Matcher func(Key) bool

// Exact matches one key.
func Exact(k Key) Matcher {
	s := k.String()
	return func(other Key) bool { return other.String() == s }
}

// Prefix matches every key with the given prefix.
func Prefix(p string) Matcher {
	return func(k Key) bool { return k.Prefix == p }
}

// PrefixWhere matches keys with the prefix whose param equals value.
func PrefixWhere(p, param, value string) Matcher {
	return func(k Key) bool { return k.Prefix == p && k.Params[param] == value }
}
