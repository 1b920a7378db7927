package store

import (
	"context"
	"time"

	"github.com/Keyring-Network/newslens/internal/gateway"
)

// KeyPrefix namespaces related-article entries in the persisted layout.
const KeyPrefix = "relatedArticles_"

// DefaultMaxEntries bounds the cache when no explicit cap is configured.
const DefaultMaxEntries = 500

// Entry is one cached related-article set. The key is the full tab URL,
// query string included, so navigating anywhere else is a different entry.
type Entry struct {
	Key      string
	URL      string
	Articles gateway.RelatedArticleSet
	StoredAt time.Time
}

// Store is the tab-scoped cache of related-article sets. Put fully replaces
// any existing entry for the URL. When a store is built with a positive
// entry cap, growing past it evicts the least recently used entries; a zero
// cap keeps every entry forever.
type Store interface {
	Get(ctx context.Context, url string) (gateway.RelatedArticleSet, bool, error)
	Put(ctx context.Context, url string, articles gateway.RelatedArticleSet) error
	Len(ctx context.Context) (int, error)
	Close() error
}

func Key(url string) string {
	return KeyPrefix + url
}
