package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/syllabus"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	return store, mock
}

func testPosting() crawler.ContestPosting {
	return crawler.ContestPosting{
		SourceID:    "cebraspe",
		ExternalID:  "abc123",
		Title:       "Edital de Abertura TJ 2025",
		URL:         "https://banca.example/tj",
		DocumentURL: "https://banca.example/tj/edital.pdf",
	}
}

func testPlan(subtopics ...string) syllabus.Plan {
	h := crawler.Hierarchy{Confidence: crawler.ConfidenceHigh, Subjects: []crawler.Subject{{
		Name:   "Português",
		Topics: []crawler.Topic{{Ordinal: 1, Title: "Crase"}},
	}}}
	for _, s := range subtopics {
		h.Subjects[0].Topics[0].Subtopics = append(h.Subjects[0].Topics[0].Subtopics, crawler.Subtopic{Name: s})
	}
	return syllabus.Build(h, "")
}

func expectPostingUpsert(mock pgxmock.PgxPoolIface, p crawler.ContestPosting, status string, id int64) {
	mock.ExpectQuery("INSERT INTO contest_postings").
		WithArgs(p.SourceID, p.ExternalID, p.Title, p.URL, p.DocumentURL, status, []byte("{}")).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func expectNode(mock pgxmock.PgxPoolIface, postingID int64, parent any, level int16, name, slug string, ordinal int, id int64) {
	mock.ExpectQuery("INSERT INTO syllabus_nodes").
		WithArgs(postingID, parent, level, name, slug, "", ordinal).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func TestSavePosting_CommitsWholeTree(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := testPosting()

	mock.ExpectBegin()
	expectPostingUpsert(mock, p, crawler.PostingStatusExtracted, 7)
	expectNode(mock, 7, nil, 1, "Português", "portugues", 1, 100)
	expectNode(mock, 7, int64(100), 2, "Crase", "crase", 1, 101)
	expectNode(mock, 7, int64(101), 3, "Casos obrigatórios", "casos-obrigatorios", 1, 102)
	mock.ExpectExec("DELETE FROM syllabus_nodes").
		WithArgs(int64(7), []int64{100, 101, 102}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	id, err := store.SavePosting(context.Background(), p, testPlan("Casos obrigatórios"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePosting_RollsBackWhenThirdSubtopicFails(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := testPosting()
	boom := errors.New("unique violation")

	mock.ExpectBegin()
	expectPostingUpsert(mock, p, crawler.PostingStatusExtracted, 7)
	expectNode(mock, 7, nil, 1, "Português", "portugues", 1, 100)
	expectNode(mock, 7, int64(100), 2, "Crase", "crase", 1, 101)
	expectNode(mock, 7, int64(101), 3, "Um", "um", 1, 102)
	expectNode(mock, 7, int64(101), 3, "Dois", "dois", 2, 103)
	mock.ExpectQuery("INSERT INTO syllabus_nodes").
		WithArgs(int64(7), int64(101), int16(3), "Três", "tres", "", 3).
		WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.SavePosting(context.Background(), p, testPlan("Um", "Dois", "Três"))
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePosting_BeginFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("no connection"))

	_, err := store.SavePosting(context.Background(), testPosting(), testPlan())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePosting_CommitFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := testPosting()

	mock.ExpectBegin()
	expectPostingUpsert(mock, p, crawler.PostingStatusExtracted, 7)
	expectNode(mock, 7, nil, 1, "Português", "portugues", 1, 100)
	expectNode(mock, 7, int64(100), 2, "Crase", "crase", 1, 101)
	mock.ExpectExec("DELETE FROM syllabus_nodes").
		WithArgs(int64(7), []int64{100, 101}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	_, err := store.SavePosting(context.Background(), p, testPlan())
	require.ErrorContains(t, err, "commit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPosting_WithoutDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := testPosting()
	p.DocumentURL = ""
	p.Status = crawler.PostingStatusUndocumented
	p.RawMetadata = map[string]any{"reason": "no document found"}

	mock.ExpectQuery("INSERT INTO contest_postings").
		WithArgs(p.SourceID, p.ExternalID, p.Title, p.URL, nil, crawler.PostingStatusUndocumented, []byte(`{"reason":"no document found"}`)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))

	id, err := store.UpsertPosting(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPosting_RequiresKeys(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	_, err := store.UpsertPosting(context.Background(), crawler.ContestPosting{Title: "x"})
	require.Error(t, err)
}

func TestReplaceSyllabus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE contest_postings").WithArgs(int64(9)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectNode(mock, 9, nil, 1, syllabus.DefaultSentinel, "veja-o-edital-oficial", 1, 50)
	mock.ExpectExec("DELETE FROM syllabus_nodes").
		WithArgs(int64(9), []int64{50}).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceSyllabus(context.Background(), 9, syllabus.Build(crawler.Hierarchy{}, "")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceSyllabus_UnknownPosting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE contest_postings").WithArgs(int64(9)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.ReplaceSyllabus(context.Background(), 9, testPlan())
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPosting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, source_id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_id", "external_id", "title", "url", "document_url", "status", "raw_metadata", "created_at", "updated_at",
		}).AddRow(int64(7), "cebraspe", "abc", "Edital", "https://x", "https://x/e.pdf", "extracted", []byte(`{"page":2}`), now, now))

	p, err := store.GetPosting(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "cebraspe", p.SourceID)
	assert.Equal(t, "https://x/e.pdf", p.DocumentURL)
	assert.InDelta(t, 2, p.RawMetadata["page"], 0)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPosting_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, source_id").WithArgs(int64(8)).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetPosting(context.Background(), 8)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestMigrateAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS contest_postings").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_Error(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, nil)
	require.Error(t, err)
}
