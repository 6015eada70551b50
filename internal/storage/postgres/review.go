package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

const insertReviewSQL = `
INSERT INTO review_queue (id, run_id, source_id, url, stage, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Enqueue appends a review entry.
func (s *Store) Enqueue(ctx context.Context, e crawler.ReviewEntry) error {
	if e.ID == "" {
		return fmt.Errorf("review entry id is required")
	}
	_, err := s.pool.Exec(ctx, insertReviewSQL, e.ID, e.RunID, e.SourceID, e.URL, e.Stage, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review entry: %w", err)
	}
	return nil
}

// ListReviews returns entries matching f, newest first.
func (s *Store) ListReviews(ctx context.Context, f crawler.ReviewFilter) ([]crawler.ReviewEntry, error) {
	query, args, err := reviewQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build review query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review entries: %w", err)
	}
	defer rows.Close()

	var out []crawler.ReviewEntry
	for rows.Next() {
		var e crawler.ReviewEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourceID, &e.URL, &e.Stage, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review entries: %w", err)
	}
	return out, nil
}

func reviewQuery(f crawler.ReviewFilter) sq.SelectBuilder {
	q := sq.Select("id", "run_id", "source_id", "url", "stage", "reason", "created_at").
		From("review_queue").
		OrderBy("created_at DESC", "id DESC").
		PlaceholderFormat(sq.Dollar)
	if f.SourceID != "" {
		q = q.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.Stage != "" {
		q = q.Where(sq.Eq{"stage": f.Stage})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.Since})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}
