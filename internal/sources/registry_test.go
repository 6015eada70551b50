package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

const sample = `
sources:
  - id: cebraspe
    name: Cebraspe
    listing_url: https://www.cebraspe.org.br/concursos
    link_patterns: ["/concursos/", "re:edital-\\d+"]
    render_mode: auto
  - id: fgv
    listing_url: https://conhecimento.fgv.br/concursos
    extract_name_from_dom: true
    exact_text: Saiba mais
    feed_url: https://conhecimento.fgv.br/feed
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	all := reg.All()
	assert.Equal(t, "cebraspe", all[0].ID)
	assert.Equal(t, "fgv", all[1].ID)
	assert.Equal(t, crawler.RenderAuto, all[0].RenderMode)
	assert.Equal(t, crawler.RenderStatic, all[1].RenderMode)
	assert.Equal(t, "fgv", all[1].Name)
	require.Len(t, all[0].Matchers, 2)
	assert.True(t, all[0].Matchers[1].Match("https://x.example/EDITAL-12"))

	fgv, err := reg.Get("fgv")
	require.NoError(t, err)
	assert.True(t, fgv.ExtractNameFromDOM)
	assert.Equal(t, "Saiba mais", fgv.ExactText)

	_, err = reg.Get("missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing id":    "sources:\n  - listing_url: https://a.example\n",
		"relative url":  "sources:\n  - id: a\n    listing_url: /concursos\n",
		"bad mode":      "sources:\n  - id: a\n    listing_url: https://a.example\n    render_mode: magic\n",
		"duplicate id":  "sources:\n  - id: a\n    listing_url: https://a.example\n  - id: a\n    listing_url: https://b.example\n",
		"bad regex":     "sources:\n  - id: a\n    listing_url: https://a.example\n    link_patterns: ['re:(']\n",
		"bad feed":      "sources:\n  - id: a\n    listing_url: https://a.example\n    feed_url: ftp://a.example/feed\n",
		"negative page": "sources:\n  - id: a\n    listing_url: https://a.example\n    max_pages: -1\n",
		"not yaml":      "sources: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestRegistry_AllReturnsCopy(t *testing.T) {
	t.Parallel()

	reg, err := New([]crawler.Source{{ID: "a", ListingURL: "https://a.example"}})
	require.NoError(t, err)
	all := reg.All()
	all[0].ID = "changed"
	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}
