package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/store"
)

// SQLiteStore keeps related-article sets in a local database file, the
// daemon's equivalent of extension-private storage: it survives restarts
// and is never shared with other processes.
type SQLiteStore struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

func Open(ctx context.Context, dbPath string, maxEntries int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if maxEntries < 0 {
		maxEntries = 0
	}
	s := &SQLiteStore{db: db, maxEntries: maxEntries, now: time.Now}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS related_articles (
			cache_key  TEXT PRIMARY KEY,
			url        TEXT NOT NULL,
			articles   TEXT NOT NULL,
			stored_at  TEXT NOT NULL,
			access_seq INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_related_articles_access ON related_articles(access_seq DESC);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, url string) (gateway.RelatedArticleSet, bool, error) {
	key := store.Key(url)
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT articles FROM related_articles WHERE cache_key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	articles := gateway.RelatedArticleSet{}
	if err := json.Unmarshal([]byte(raw), &articles); err != nil {
		return nil, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	if s.maxEntries > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE related_articles
			SET access_seq = (SELECT COALESCE(MAX(access_seq), 0) + 1 FROM related_articles)
			WHERE cache_key = ?
		`, key); err != nil {
			return nil, false, fmt.Errorf("touching cache entry: %w", err)
		}
	}
	return articles, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, url string, articles gateway.RelatedArticleSet) error {
	if articles == nil {
		articles = gateway.RelatedArticleSet{}
	}
	raw, err := json.Marshal(articles)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO related_articles (cache_key, url, articles, stored_at, access_seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(access_seq), 0) + 1 FROM related_articles))
		ON CONFLICT(cache_key) DO UPDATE SET
			url = excluded.url,
			articles = excluded.articles,
			stored_at = excluded.stored_at,
			access_seq = excluded.access_seq
	`, store.Key(url), url, string(raw), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if s.maxEntries > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM related_articles
			WHERE cache_key NOT IN (
				SELECT cache_key FROM related_articles ORDER BY access_seq DESC LIMIT ?
			)
		`, s.maxEntries)
		if err != nil {
			return fmt.Errorf("evicting cache entries: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM related_articles").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Entry returns the stored entry for url without touching its recency.
func (s *SQLiteStore) Entry(ctx context.Context, url string) (store.Entry, bool, error) {
	var entry store.Entry
	var raw, storedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT cache_key, url, articles, stored_at FROM related_articles WHERE cache_key = ?",
		store.Key(url),
	).Scan(&entry.Key, &entry.URL, &raw, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &entry.Articles); err != nil {
		return store.Entry{}, false, fmt.Errorf("decoding cache entry: %w", err)
	}
	entry.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	return entry, true, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
