package repository

import (
	"context"
	"errors"
	"time"

	"shopino/crawler/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	price_old NUMERIC,
	price_new NUMERIC,
	discount TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	image_urls JSONB NOT NULL DEFAULT '[]',
	seller_url TEXT NOT NULL,
	seller_name TEXT NOT NULL DEFAULT '',
	related_names JSONB NOT NULL DEFAULT '[]',
	top_level TEXT NOT NULL,
	subcategory_path JSONB NOT NULL DEFAULT '[]',
	needs_review BOOLEAN NOT NULL DEFAULT FALSE,
	fetched_at TIMESTAMPTZ NOT NULL
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

type postgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository stores products in PostgreSQL. The schema is created
// when missing.
func NewPostgresRepository(ctx context.Context, db *pgxpool.Pool) (ProductRepository, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, persistErr("create tables", err)
	}

	return &postgresRepository{
		db: db,
	}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return persistErr("ping", r.db.Ping(ctx))
}

func (r *postgresRepository) Close() error {
	r.db.Close()
	return nil
}

func (r *postgresRepository) KnownIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, "SELECT id FROM products")
	if err != nil {
		return nil, persistErr("list product ids", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, persistErr("list product ids", err)
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

func (r *postgresRepository) GetProduct(ctx context.Context, id string) (*domain.StoredProduct, error) {
	query := `
	SELECT id, url, title, price_old::text, price_new::text, discount, description, image_urls,
		seller_url, seller_name, related_names, top_level, subcategory_path,
		needs_review, fetched_at
	FROM products WHERE id = $1`

	var sp domain.StoredProduct
	var imageURLs, related, path []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sp.ID, &sp.URL, &sp.Title, &sp.PriceOld, &sp.PriceNew, &sp.Discount, &sp.Description,
		&imageURLs, &sp.SellerURL, &sp.SellerName, &related, &sp.TopLevel, &path,
		&sp.NeedsReview, &sp.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistErr("get product", err)
	}

	if sp.ImageURLs, err = decodeList(imageURLs); err != nil {
		return nil, persistErr("decode image urls", err)
	}
	if sp.RelatedNames, err = decodeList(related); err != nil {
		return nil, persistErr("decode related names", err)
	}
	if sp.SubcategoryPath, err = decodeList(path); err != nil {
		return nil, persistErr("decode subcategory path", err)
	}
	sp.FetchedAt = sp.FetchedAt.UTC()

	rows, err := r.db.Query(ctx,
		"SELECT product_id, source_url, local_path, content_hash FROM images WHERE product_id = $1 ORDER BY local_path, source_url",
		id)
	if err != nil {
		return nil, persistErr("list images", err)
	}
	sp.Images, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ImageAsset, error) {
		var img domain.ImageAsset
		err := row.Scan(&img.ProductID, &img.SourceURL, &img.LocalPath, &img.ContentHash)
		return img, err
	})
	if err != nil {
		return nil, persistErr("list images", err)
	}

	return &sp, nil
}

func (r *postgresRepository) SaveProduct(ctx context.Context, p *domain.Product) error {
	query := `
	INSERT INTO products (id, url, title, price_old, price_new, discount, description,
		image_urls, seller_url, seller_name, related_names, top_level, subcategory_path,
		needs_review, fetched_at)
	VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7, $8::jsonb, $9, $10,
		$11::jsonb, $12, $13::jsonb, $14, $15)
	ON CONFLICT (id)
	DO UPDATE SET url = $2, title = $3, price_old = $4::text::numeric, price_new = $5::text::numeric,
		discount = $6, description = $7, image_urls = $8::jsonb, seller_url = $9, seller_name = $10,
		related_names = $11::jsonb, top_level = $12, subcategory_path = $13::jsonb,
		needs_review = $14, fetched_at = $15`

	args, err := productArgs(p)
	if err != nil {
		return persistErr("encode product", err)
	}
	// fetched_at goes in as a timestamp, not text
	args[len(args)-1] = p.FetchedAt.UTC().Truncate(time.Microsecond)

	err = pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, args...)
		return err
	})
	return persistErr("save product", err)
}

func (r *postgresRepository) SaveImage(ctx context.Context, img domain.ImageAsset) error {
	query := `
	INSERT INTO images (product_id, source_url, content_hash, local_path)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (product_id, source_url)
	DO UPDATE SET content_hash = $3, local_path = $4`

	_, err := r.db.Exec(ctx, query, img.ProductID, img.SourceURL, img.ContentHash, img.LocalPath)
	return persistErr("save image", err)
}

func (r *postgresRepository) RepointImage(ctx context.Context, productID, fromURL, toURL string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE images SET source_url = $3 WHERE product_id = $1 AND source_url = $2",
		productID, fromURL, toURL)
	if err != nil {
		return persistErr("repoint image", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
