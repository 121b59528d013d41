package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"shopino/crawler/internal/domain"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	price_old TEXT,
	price_new TEXT,
	discount TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	image_urls TEXT NOT NULL DEFAULT '[]',
	seller_url TEXT NOT NULL,
	seller_name TEXT NOT NULL DEFAULT '',
	related_names TEXT NOT NULL DEFAULT '[]',
	top_level TEXT NOT NULL,
	subcategory_path TEXT NOT NULL DEFAULT '[]',
	needs_review INTEGER NOT NULL DEFAULT 0,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	source_url TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	local_path TEXT NOT NULL,
	PRIMARY KEY (product_id, source_url)
);

CREATE INDEX IF NOT EXISTS idx_images_hash ON images(product_id, content_hash);
`

const upsertProductSQLite = `
INSERT INTO products (id, url, title, price_old, price_new, discount, description,
	image_urls, seller_url, seller_name, related_names, top_level, subcategory_path,
	needs_review, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	url = excluded.url,
	title = excluded.title,
	price_old = excluded.price_old,
	price_new = excluded.price_new,
	discount = excluded.discount,
	description = excluded.description,
	image_urls = excluded.image_urls,
	seller_url = excluded.seller_url,
	seller_name = excluded.seller_name,
	related_names = excluded.related_names,
	top_level = excluded.top_level,
	subcategory_path = excluded.subcategory_path,
	needs_review = excluded.needs_review,
	fetched_at = excluded.fetched_at`

// SQLiteRepository is the default single-file backend.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, persistErr("create database directory", err)
		}
	}

	dsn := path + "?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistErr("open database", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, persistErr("enable WAL mode", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, persistErr("create tables", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// NewSQLiteRepository wraps an already opened database. The schema must exist.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return persistErr("ping", r.db.PingContext(ctx))
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM products")
	if err != nil {
		return nil, persistErr("list product ids", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan product id", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list product ids", err)
	}

	return ids, nil
}

func (r *SQLiteRepository) GetProduct(ctx context.Context, id string) (*domain.StoredProduct, error) {
	query := `
	SELECT id, url, title, price_old, price_new, discount, description, image_urls,
		seller_url, seller_name, related_names, top_level, subcategory_path,
		needs_review, fetched_at
	FROM products WHERE id = ?`

	var sp domain.StoredProduct
	var imageURLs, related, path, fetchedAt string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&sp.ID, &sp.URL, &sp.Title, &sp.PriceOld, &sp.PriceNew, &sp.Discount, &sp.Description,
		&imageURLs, &sp.SellerURL, &sp.SellerName, &related, &sp.TopLevel, &path,
		&sp.NeedsReview, &fetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get product", err)
	}

	if sp.ImageURLs, err = decodeList([]byte(imageURLs)); err != nil {
		return nil, persistErr("decode image urls", err)
	}
	if sp.RelatedNames, err = decodeList([]byte(related)); err != nil {
		return nil, persistErr("decode related names", err)
	}
	if sp.SubcategoryPath, err = decodeList([]byte(path)); err != nil {
		return nil, persistErr("decode subcategory path", err)
	}
	if sp.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
		return nil, persistErr("decode fetched_at", err)
	}

	sp.Images, err = r.images(ctx, id)
	if err != nil {
		return nil, err
	}

	return &sp, nil
}

func (r *SQLiteRepository) images(ctx context.Context, productID string) ([]domain.ImageAsset, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT product_id, source_url, local_path, content_hash FROM images WHERE product_id = ? ORDER BY local_path, source_url",
		productID)
	if err != nil {
		return nil, persistErr("list images", err)
	}
	defer rows.Close()

	var images []domain.ImageAsset
	for rows.Next() {
		var img domain.ImageAsset
		if err := rows.Scan(&img.ProductID, &img.SourceURL, &img.LocalPath, &img.ContentHash); err != nil {
			return nil, persistErr("scan image", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list images", err)
	}

	return images, nil
}

func (r *SQLiteRepository) SaveProduct(ctx context.Context, p *domain.Product) error {
	args, err := productArgs(p)
	if err != nil {
		return persistErr("encode product", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertProductSQLite, args...); err != nil {
		return persistErr("save product", err)
	}

	return persistErr("commit product", tx.Commit())
}

func (r *SQLiteRepository) SaveImage(ctx context.Context, img domain.ImageAsset) error {
	query := `
	INSERT INTO images (product_id, source_url, content_hash, local_path)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (product_id, source_url)
	DO UPDATE SET content_hash = excluded.content_hash, local_path = excluded.local_path`

	_, err := r.db.ExecContext(ctx, query, img.ProductID, img.SourceURL, img.ContentHash, img.LocalPath)
	return persistErr("save image", err)
}

func (r *SQLiteRepository) RepointImage(ctx context.Context, productID, fromURL, toURL string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE images SET source_url = ? WHERE product_id = ? AND source_url = ?",
		toURL, productID, fromURL)
	if err != nil {
		return persistErr("repoint image", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("repoint image", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// productArgs returns the insert arguments in column order.
func productArgs(p *domain.Product) ([]any, error) {
	imageURLs, err := encodeList(p.ImageURLs)
	if err != nil {
		return nil, err
	}
	related, err := encodeList(p.RelatedNames)
	if err != nil {
		return nil, err
	}
	path, err := encodeList(p.SubcategoryPath)
	if err != nil {
		return nil, err
	}

	return []any{
		p.ID, p.URL, p.Title, priceArg(p.PriceOld), priceArg(p.PriceNew), p.Discount, p.Description,
		imageURLs, p.SellerURL, p.SellerName, related, p.TopLevel, path,
		p.NeedsReview, p.FetchedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

// priceArg stores prices as their canonical decimal text.
func priceArg(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

var _ ProductRepository = (*SQLiteRepository)(nil)
