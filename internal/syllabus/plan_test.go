package syllabus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	h := crawler.Hierarchy{
		Confidence: crawler.ConfidenceMedium,
		Subjects: []crawler.Subject{
			{
				Name: "Língua Portuguesa",
				Topics: []crawler.Topic{{
					Ordinal: 1,
					Title:   "Crase",
					Subtopics: []crawler.Subtopic{{
						Name:         "Casos obrigatórios",
						SubSubtopics: []crawler.SubSubtopic{{Name: "Antes de horas"}},
					}},
				}},
			},
			{Name: "Direito  Constitucional"},
		},
	}
	plan := Build(h, "")

	require.Len(t, plan.Nodes, 5)
	assert.False(t, plan.Sentinel)
	assert.Equal(t, crawler.ConfidenceMedium, plan.Confidence)
	assert.Equal(t, Counts{Subjects: 2, Topics: 1, Subtopics: 1, SubSubtopics: 1}, plan.Counts())

	assert.Equal(t, Node{Key: "lingua-portuguesa", Level: crawler.LevelSubject, Name: "Língua Portuguesa", Slug: "lingua-portuguesa", Ordinal: 1}, plan.Nodes[0])
	assert.Equal(t, "lingua-portuguesa/crase", plan.Nodes[1].Key)
	assert.Equal(t, "lingua-portuguesa", plan.Nodes[1].ParentKey)
	assert.Equal(t, "lingua-portuguesa/crase/casos-obrigatorios/antes-de-horas", plan.Nodes[3].Key)
	assert.Equal(t, crawler.LevelSubSubtopic, plan.Nodes[3].Level)
	assert.Equal(t, "Direito Constitucional", plan.Nodes[4].Name)
	assert.Equal(t, 2, plan.Nodes[4].Ordinal)
}

func TestBuild_MergesDuplicateSlugs(t *testing.T) {
	t.Parallel()

	h := crawler.Hierarchy{Subjects: []crawler.Subject{
		{Name: "Português", Topics: []crawler.Topic{{Ordinal: 1, Title: "Crase"}}},
		{Name: "PORTUGUES", Description: "Língua", Topics: []crawler.Topic{{Ordinal: 2, Title: "Regência"}, {Ordinal: 3, Title: "crase"}}},
	}}
	plan := Build(h, "")

	require.Len(t, plan.Nodes, 3)
	assert.Equal(t, "Português", plan.Nodes[0].Name)
	assert.Equal(t, "Língua", plan.Nodes[0].Description)
	assert.Equal(t, "portugues/crase", plan.Nodes[1].Key)
	assert.Equal(t, 1, plan.Nodes[1].Ordinal)
	assert.Equal(t, "portugues/regencia", plan.Nodes[2].Key)
}

func TestBuild_SameSlugUnderDifferentParents(t *testing.T) {
	t.Parallel()

	h := crawler.Hierarchy{Subjects: []crawler.Subject{
		{Name: "Direito Civil", Topics: []crawler.Topic{{Ordinal: 1, Title: "Princípios"}}},
		{Name: "Direito Penal", Topics: []crawler.Topic{{Ordinal: 1, Title: "Princípios"}}},
	}}
	plan := Build(h, "")
	assert.Equal(t, 2, plan.Counts().Topics)
}

func TestBuild_Sentinel(t *testing.T) {
	t.Parallel()

	plan := Build(crawler.Hierarchy{Confidence: crawler.ConfidenceLow}, "")
	require.Len(t, plan.Nodes, 1)
	assert.True(t, plan.Sentinel)
	assert.Equal(t, DefaultSentinel, plan.Nodes[0].Name)
	assert.Equal(t, "veja-o-edital-oficial", plan.Nodes[0].Slug)
	assert.Equal(t, crawler.LevelSubject, plan.Nodes[0].Level)

	custom := Build(crawler.Hierarchy{}, "See the official notice")
	assert.Equal(t, "see-the-official-notice", custom.Nodes[0].Slug)
}

func TestBuild_UnsluggableName(t *testing.T) {
	t.Parallel()

	plan := Build(crawler.Hierarchy{Subjects: []crawler.Subject{{Name: "***"}}}, "")
	require.Len(t, plan.Nodes, 1)
	assert.Equal(t, "subject-1", plan.Nodes[0].Slug)
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	h := crawler.Hierarchy{Subjects: []crawler.Subject{{Name: "Matemática", Topics: []crawler.Topic{{Ordinal: 1, Title: "Frações"}}}}}
	assert.Equal(t, Build(h, ""), Build(h, ""))
}
