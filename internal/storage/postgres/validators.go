package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

const getValidatorsSQL = `SELECT etag, last_modified FROM listing_validators WHERE url = $1`

const putValidatorsSQL = `
INSERT INTO listing_validators (url, etag, last_modified, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (url) DO UPDATE SET
	etag = EXCLUDED.etag,
	last_modified = EXCLUDED.last_modified,
	updated_at = now()`

// GetValidators returns the stored validators for a listing URL, empty when none are stored.
func (s *Store) GetValidators(ctx context.Context, url string) (crawler.CacheValidators, error) {
	var v crawler.CacheValidators
	err := s.pool.QueryRow(ctx, getValidatorsSQL, url).Scan(&v.ETag, &v.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CacheValidators{}, nil
	}
	if err != nil {
		return crawler.CacheValidators{}, fmt.Errorf("get validators: %w", err)
	}
	return v, nil
}

// PutValidators stores the validators for a listing URL.
func (s *Store) PutValidators(ctx context.Context, url string, v crawler.CacheValidators) error {
	if _, err := s.pool.Exec(ctx, putValidatorsSQL, url, v.ETag, v.LastModified); err != nil {
		return fmt.Errorf("put validators: %w", err)
	}
	return nil
}

var (
	_ crawler.ReviewQueue    = (*Store)(nil)
	_ crawler.ValidatorStore = (*Store)(nil)
)
