package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/newslens/internal/gateway"
	"github.com/Keyring-Network/newslens/internal/store"
)

type PostgresStore struct {
	db         *sql.DB
	maxEntries int
	now        func() time.Time
}

var openDB = sql.Open

func New(conn string, maxEntries int) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &PostgresStore{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"related_articles",
		"related_articles_access_seq",
	}
	for _, relation := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", relation)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s not found (run migrations/001_init.sql)", relation)
		}
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, url string) (gateway.RelatedArticleSet, bool, error) {
	query := "SELECT articles FROM related_articles WHERE cache_key = $1"
	if p.maxEntries > 0 {
		query = `
			UPDATE related_articles
			SET access_seq = nextval('related_articles_access_seq')
			WHERE cache_key = $1
			RETURNING articles
		`
	}
	var raw []byte
	err := p.db.QueryRowContext(ctx, query, store.Key(url)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	articles := gateway.RelatedArticleSet{}
	if err := json.Unmarshal(raw, &articles); err != nil {
		return nil, false, fmt.Errorf("decode cached articles: %w", err)
	}
	return articles, true, nil
}

func (p *PostgresStore) Put(ctx context.Context, url string, articles gateway.RelatedArticleSet) error {
	if articles == nil {
		articles = gateway.RelatedArticleSet{}
	}
	raw, err := json.Marshal(articles)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const upsert = `
		INSERT INTO related_articles (cache_key, url, articles, stored_at, access_seq)
		VALUES ($1, $2, $3, $4, nextval('related_articles_access_seq'))
		ON CONFLICT (cache_key) DO UPDATE SET
			url = EXCLUDED.url,
			articles = EXCLUDED.articles,
			stored_at = EXCLUDED.stored_at,
			access_seq = EXCLUDED.access_seq
	`
	if _, err := tx.ExecContext(ctx, upsert, store.Key(url), url, raw, p.now().UTC()); err != nil {
		return err
	}
	if p.maxEntries > 0 {
		const evict = `
			DELETE FROM related_articles
			WHERE cache_key IN (
				SELECT cache_key FROM related_articles
				ORDER BY access_seq DESC
				OFFSET $1
			)
		`
		if _, err := tx.ExecContext(ctx, evict, p.maxEntries); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM related_articles").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Entry returns the stored entry for url without touching its recency.
func (p *PostgresStore) Entry(ctx context.Context, url string) (store.Entry, bool, error) {
	var entry store.Entry
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		"SELECT cache_key, url, articles, stored_at FROM related_articles WHERE cache_key = $1",
		store.Key(url),
	).Scan(&entry.Key, &entry.URL, &raw, &entry.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, err
	}
	if err := json.Unmarshal(raw, &entry.Articles); err != nil {
		return store.Entry{}, false, fmt.Errorf("decode cached articles: %w", err)
	}
	return entry, true, nil
}

func (p *PostgresStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
