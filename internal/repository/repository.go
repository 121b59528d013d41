package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shopino/crawler/internal/domain"
)

var ErrNotFound = errors.New("not found")

// PersistenceError wraps any failure of the underlying store. The crawl treats
// a run of these as fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err came from the store.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ProductRepository stores products and their image assets.
type ProductRepository interface {
	Ping(ctx context.Context) error
	// KnownIDs returns the ids of every stored product.
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
	// GetProduct returns ErrNotFound when the id is unknown.
	GetProduct(ctx context.Context, id string) (*domain.StoredProduct, error)
	SaveProduct(ctx context.Context, p *domain.Product) error
	// SaveImage inserts an asset or replaces the one with the same source URL.
	// Several source URLs of a product may share one file.
	SaveImage(ctx context.Context, img domain.ImageAsset) error
	// RepointImage moves an existing asset from fromURL to toURL without
	// touching its file. It returns ErrNotFound when fromURL has no asset.
	RepointImage(ctx context.Context, productID, fromURL, toURL string) error
	Close() error
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
