package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/syllabus"
)

type postingKey struct {
	sourceID   string
	externalID string
}

// nodeKey mirrors the (parent scope, slug) unique constraint; parent 0 is the posting root.
type nodeKey struct {
	parentID int64
	slug     string
}

// Store is an in-memory implementation of the posting store, review queue and
// validator store. Syllabus writes are staged and applied all at once.
type Store struct {
	mu         sync.RWMutex
	postings   map[int64]crawler.ContestPosting
	byKey      map[postingKey]int64
	nodes      map[int64]map[nodeKey]crawler.SyllabusNode
	reviews    []crawler.ReviewEntry
	validators map[string]crawler.CacheValidators
	nextPost   int64
	nextNode   int64

	clock    crawler.Clock
	nodeHook func(syllabus.Node) error
	pingErr  error
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps.
func WithClock(c crawler.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithNodeHook runs fn before each staged node write; an error aborts the whole save.
func WithNodeHook(fn func(syllabus.Node) error) Option {
	return func(s *Store) { s.nodeHook = fn }
}

// WithPingError makes Ping fail.
func WithPingError(err error) Option {
	return func(s *Store) { s.pingErr = err }
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		postings:   make(map[int64]crawler.ContestPosting),
		byKey:      make(map[postingKey]int64),
		nodes:      make(map[int64]map[nodeKey]crawler.SyllabusNode),
		validators: make(map[string]crawler.CacheValidators),
		clock:      crawler.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping reports the configured ping error, if any.
func (s *Store) Ping(context.Context) error {
	return s.pingErr
}

// UpsertPosting inserts or updates a posting keyed by (source id, external id).
func (s *Store) UpsertPosting(_ context.Context, p crawler.ContestPosting) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.stagePosting(p)
	if err != nil {
		return 0, err
	}
	s.commitPosting(row)
	return row.ID, nil
}

// SavePosting upserts the posting and its syllabus atomically.
func (s *Store) SavePosting(_ context.Context, p crawler.ContestPosting, plan syllabus.Plan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Status = crawler.PostingStatusExtracted
	row, err := s.stagePosting(p)
	if err != nil {
		return 0, err
	}
	nodes, err := s.stageNodes(row.ID, plan)
	if err != nil {
		return 0, err
	}
	s.commitPosting(row)
	s.commitNodes(row.ID, nodes)
	return row.ID, nil
}

// ReplaceSyllabus rewrites an existing posting's syllabus atomically.
func (s *Store) ReplaceSyllabus(_ context.Context, postingID int64, plan syllabus.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.postings[postingID]
	if !ok {
		return fmt.Errorf("posting %d: %w", postingID, crawler.ErrNotFound)
	}
	nodes, err := s.stageNodes(postingID, plan)
	if err != nil {
		return err
	}
	row.Status = crawler.PostingStatusExtracted
	row.UpdatedAt = s.clock.Now()
	s.postings[postingID] = row
	s.commitNodes(postingID, nodes)
	return nil
}

// GetPosting returns a posting by id.
func (s *Store) GetPosting(_ context.Context, id int64) (crawler.ContestPosting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.postings[id]
	if !ok {
		return crawler.ContestPosting{}, fmt.Errorf("posting %d: %w", id, crawler.ErrNotFound)
	}
	return p, nil
}

// Postings returns every posting ordered by id.
func (s *Store) Postings() []crawler.ContestPosting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ContestPosting, 0, len(s.postings))
	for _, p := range s.postings {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Nodes returns a posting's syllabus nodes ordered by id, parents first.
func (s *Store) Nodes(postingID int64) []crawler.SyllabusNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.SyllabusNode, 0, len(s.nodes[postingID]))
	for _, n := range s.nodes[postingID] {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts tallies a posting's nodes per level.
func (s *Store) Counts(postingID int64) syllabus.Counts {
	var c syllabus.Counts
	for _, n := range s.Nodes(postingID) {
		switch n.Level {
		case crawler.LevelSubject:
			c.Subjects++
		case crawler.LevelTopic:
			c.Topics++
		case crawler.LevelSubtopic:
			c.Subtopics++
		case crawler.LevelSubSubtopic:
			c.SubSubtopics++
		}
	}
	return c
}

func (s *Store) stagePosting(p crawler.ContestPosting) (crawler.ContestPosting, error) {
	if p.SourceID == "" || p.ExternalID == "" {
		return crawler.ContestPosting{}, fmt.Errorf("posting source id and external id are required")
	}
	if p.Status == "" {
		p.Status = crawler.PostingStatusDiscovered
	}
	now := s.clock.Now()
	id, exists := s.byKey[postingKey{p.SourceID, p.ExternalID}]
	if !exists {
		p.ID = s.nextPost + 1
		p.CreatedAt, p.UpdatedAt = now, now
		p.RawMetadata = copyMetadata(nil, p.RawMetadata)
		return p, nil
	}
	row := s.postings[id]
	row.Title = p.Title
	row.URL = p.URL
	if p.DocumentURL != "" {
		row.DocumentURL = p.DocumentURL
	}
	if row.Status != crawler.PostingStatusExtracted || p.Status == crawler.PostingStatusExtracted {
		row.Status = p.Status
	}
	row.RawMetadata = copyMetadata(row.RawMetadata, p.RawMetadata)
	row.UpdatedAt = now
	return row, nil
}

func (s *Store) commitPosting(row crawler.ContestPosting) {
	if row.ID > s.nextPost {
		s.nextPost = row.ID
	}
	s.postings[row.ID] = row
	s.byKey[postingKey{row.SourceID, row.ExternalID}] = row.ID
}

// stageNodes computes the posting's complete node set after applying plan, without mutating the store.
func (s *Store) stageNodes(postingID int64, plan syllabus.Plan) (map[nodeKey]crawler.SyllabusNode, error) {
	existing := s.nodes[postingID]
	staged := make(map[nodeKey]crawler.SyllabusNode, len(plan.Nodes))
	ids := make(map[string]int64, len(plan.Nodes))
	next := s.nextNode
	for _, n := range plan.Nodes {
		if s.nodeHook != nil {
			if err := s.nodeHook(n); err != nil {
				return nil, fmt.Errorf("upsert %s %q: %w", n.Level, n.Name, err)
			}
		}
		var parent *int64
		key := nodeKey{slug: n.Slug}
		if n.ParentKey != "" {
			pid, ok := ids[n.ParentKey]
			if !ok {
				return nil, fmt.Errorf("node %q precedes its parent", n.Key)
			}
			parent = &pid
			key.parentID = pid
		}
		row, ok := existing[key]
		if !ok {
			next++
			row = crawler.SyllabusNode{ID: next, PostingID: postingID, ParentID: parent, Slug: n.Slug}
		}
		row.Level = n.Level
		row.Name = n.Name
		row.Description = n.Description
		row.Ordinal = n.Ordinal
		staged[key] = row
		ids[n.Key] = row.ID
	}
	return staged, nil
}

func (s *Store) commitNodes(postingID int64, nodes map[nodeKey]crawler.SyllabusNode) {
	for _, n := range nodes {
		if n.ID > s.nextNode {
			s.nextNode = n.ID
		}
	}
	s.nodes[postingID] = nodes
}

// Enqueue appends a review entry.
func (s *Store) Enqueue(_ context.Context, e crawler.ReviewEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.Now()
	}
	s.reviews = append(s.reviews, e)
	return nil
}

// ListReviews returns entries matching f, newest first.
func (s *Store) ListReviews(_ context.Context, f crawler.ReviewFilter) ([]crawler.ReviewEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.ReviewEntry
	for i := len(s.reviews) - 1; i >= 0; i-- {
		e := s.reviews[i]
		if f.SourceID != "" && e.SourceID != f.SourceID {
			continue
		}
		if f.Stage != "" && e.Stage != f.Stage {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// GetValidators returns stored validators, empty when none are stored.
func (s *Store) GetValidators(_ context.Context, url string) (crawler.CacheValidators, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validators[url], nil
}

// PutValidators stores validators for a listing URL.
func (s *Store) PutValidators(_ context.Context, url string, v crawler.CacheValidators) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[url] = v
	return nil
}

func copyMetadata(dst, src map[string]any) map[string]any {
	if len(dst) == 0 && len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

var (
	_ crawler.ReviewQueue    = (*Store)(nil)
	_ crawler.ValidatorStore = (*Store)(nil)
	_ crawler.BlobStore      = (*BlobStore)(nil)
)
