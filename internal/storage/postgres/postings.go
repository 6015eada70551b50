package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/syllabus"
)

const upsertPostingSQL = `
INSERT INTO contest_postings (source_id, external_id, title, url, document_url, status, raw_metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_id, external_id) DO UPDATE SET
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	document_url = COALESCE(EXCLUDED.document_url, contest_postings.document_url),
	status = CASE
		WHEN contest_postings.status = 'extracted' AND EXCLUDED.status <> 'extracted' THEN contest_postings.status
		ELSE EXCLUDED.status
	END,
	raw_metadata = contest_postings.raw_metadata || EXCLUDED.raw_metadata,
	updated_at = now()
RETURNING id`

const upsertNodeSQL = `
INSERT INTO syllabus_nodes (posting_id, parent_id, level, name, slug, description, ordinal)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (posting_id, parent_id, slug) DO UPDATE SET
	level = EXCLUDED.level,
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	ordinal = EXCLUDED.ordinal
RETURNING id`

const pruneNodesSQL = `DELETE FROM syllabus_nodes WHERE posting_id = $1 AND NOT (id = ANY($2))`

const markExtractedSQL = `UPDATE contest_postings SET status = 'extracted', updated_at = now() WHERE id = $1`

const getPostingSQL = `
SELECT id, source_id, external_id, title, url, COALESCE(document_url, ''), status, raw_metadata, created_at, updated_at
FROM contest_postings
WHERE id = $1`

// UpsertPosting inserts or updates a posting keyed by (source_id, external_id) and returns its id.
func (s *Store) UpsertPosting(ctx context.Context, p crawler.ContestPosting) (int64, error) {
	return upsertPosting(ctx, s.pool, p)
}

// SavePosting upserts the posting and its whole syllabus in one transaction.
// Nodes missing from plan are removed; on any error nothing is committed.
func (s *Store) SavePosting(ctx context.Context, p crawler.ContestPosting, plan syllabus.Plan) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		p.Status = crawler.PostingStatusExtracted
		if id, err = upsertPosting(ctx, tx, p); err != nil {
			return err
		}
		return saveNodes(ctx, tx, id, plan)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ReplaceSyllabus rewrites the syllabus of an existing posting in one transaction.
func (s *Store) ReplaceSyllabus(ctx context.Context, postingID int64, plan syllabus.Plan) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markExtractedSQL, postingID)
		if err != nil {
			return fmt.Errorf("mark posting extracted: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("posting %d: %w", postingID, crawler.ErrNotFound)
		}
		return saveNodes(ctx, tx, postingID, plan)
	})
}

// GetPosting loads one posting by id.
func (s *Store) GetPosting(ctx context.Context, id int64) (crawler.ContestPosting, error) {
	var (
		p    crawler.ContestPosting
		meta []byte
	)
	err := s.pool.QueryRow(ctx, getPostingSQL, id).Scan(
		&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.URL, &p.DocumentURL, &p.Status, &meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return crawler.ContestPosting{}, fmt.Errorf("get posting: %w", notFound(err, fmt.Sprintf("posting %d", id)))
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.RawMetadata); err != nil {
			return crawler.ContestPosting{}, fmt.Errorf("decode raw metadata: %w", err)
		}
	}
	return p, nil
}

func upsertPosting(ctx context.Context, q querier, p crawler.ContestPosting) (int64, error) {
	if p.SourceID == "" || p.ExternalID == "" {
		return 0, fmt.Errorf("posting source id and external id are required")
	}
	status := p.Status
	if status == "" {
		status = crawler.PostingStatusDiscovered
	}
	meta, err := marshalMetadata(p.RawMetadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = q.QueryRow(ctx, upsertPostingSQL,
		p.SourceID, p.ExternalID, p.Title, p.URL, nullable(p.DocumentURL), status, meta,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert posting: %w", err)
	}
	return id, nil
}

// saveNodes upserts plan's nodes parent-first, then deletes the posting's nodes the plan no longer has.
func saveNodes(ctx context.Context, q querier, postingID int64, plan syllabus.Plan) error {
	ids := make(map[string]int64, len(plan.Nodes))
	kept := make([]int64, 0, len(plan.Nodes))
	for _, n := range plan.Nodes {
		var parent any
		if n.ParentKey != "" {
			pid, ok := ids[n.ParentKey]
			if !ok {
				return fmt.Errorf("node %q precedes its parent", n.Key)
			}
			parent = pid
		}
		var id int64
		err := q.QueryRow(ctx, upsertNodeSQL,
			postingID, parent, int16(n.Level), n.Name, n.Slug, n.Description, n.Ordinal,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("upsert %s %q: %w", n.Level, n.Name, err)
		}
		ids[n.Key] = id
		kept = append(kept, id)
	}
	if _, err := q.Exec(ctx, pruneNodesSQL, postingID, kept); err != nil {
		return fmt.Errorf("prune stale nodes: %w", err)
	}
	return nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal raw metadata: %w", err)
	}
	return b, nil
}
