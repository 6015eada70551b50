package resolver

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

type response struct {
	page crawler.Page
	err  error
}

type fakeFetcher struct {
	pages map[string]response
	heads map[string]response
	calls []string
	modes []crawler.RenderMode
	// rendered replaces pages for headless fetches, like a script-built page.
	rendered map[string]response
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	f.calls = append(f.calls, "GET "+req.URL)
	f.modes = append(f.modes, req.Mode)
	if req.Mode == crawler.RenderHeadless {
		if r, ok := f.rendered[req.URL]; ok {
			return r.page, r.err
		}
	}
	r, ok := f.pages[req.URL]
	if !ok {
		return crawler.Page{}, &crawler.HTTPError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	return r.page, r.err
}

func (f *fakeFetcher) Head(_ context.Context, url string) (crawler.Page, error) {
	f.calls = append(f.calls, "HEAD "+url)
	r, ok := f.heads[url]
	if !ok {
		return crawler.Page{}, &crawler.HTTPError{URL: url, StatusCode: http.StatusNotFound}
	}
	return r.page, r.err
}

func html(body string) response {
	return response{page: crawler.Page{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte("<html><body>" + body + "</body></html>"),
	}}
}

func typed(ct string, body string) response {
	return response{page: crawler.Page{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {ct}},
		Body:       []byte(body),
	}}
}

const postingURL = "https://banca.example/concursos/tj-2025"

func TestResolve_DocumentURLConfirmedByHead(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital.PDF"
	f := &fakeFetcher{heads: map[string]response{doc: typed("application/pdf", "")}}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
	assert.Equal(t, []string{"HEAD " + doc}, f.calls)
}

func TestResolve_DocumentURLWithWrongType(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital.pdf"
	f := &fakeFetcher{heads: map[string]response{doc: typed("text/html", "")}}
	_, err := New(f, Config{}, nil).Resolve(context.Background(), doc, "")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Reason, ".pdf")
}

func TestResolve_HeadNotAllowedFallsBackToGet(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital.pdf"
	f := &fakeFetcher{
		heads: map[string]response{doc: {err: &crawler.HTTPError{URL: doc, StatusCode: http.StatusMethodNotAllowed}}},
		pages: map[string]response{doc: typed("application/octet-stream", "%PDF-1.7 ...")},
	}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
	assert.Equal(t, []string{"HEAD " + doc, "GET " + doc}, f.calls)
}

func TestResolve_OpaqueHeadIsSniffed(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital.docx"
	f := &fakeFetcher{
		heads: map[string]response{doc: typed("application/octet-stream", "")},
		pages: map[string]response{doc: typed("", "PK\x03\x04word/document.xml")},
	}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), doc, "")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestResolve_HeadFailurePropagates(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital.pdf"
	f := &fakeFetcher{heads: map[string]response{doc: {err: &crawler.HTTPError{URL: doc, StatusCode: 503}}}}
	_, err := New(f, Config{}, nil).Resolve(context.Background(), doc, "")
	require.Error(t, err)
	assert.False(t, IsInvalid(err))
	assert.Equal(t, 503, crawler.StatusCode(err))
}

func TestResolve_RanksStrongOpeningNotice(t *testing.T) {
	t.Parallel()

	strong := "https://banca.example/files/abertura.pdf"
	f := &fakeFetcher{
		pages: map[string]response{postingURL: html(`
<a href="/files/anexo-i.pdf">Anexo I - Cargos</a>
<a href="/files/abertura-libras.pdf">Edital de Abertura em Libras</a>
<a href="/files/abertura-acessivel.pdf">Edital de Abertura (versão acessível)</a>
<a href="/files/abertura.pdf">Edital de Abertura nº 1</a>
<a href="/concursos/tj-2025">Edital de Abertura (esta página)</a>`)},
		heads: map[string]response{strong: typed("application/pdf", "")},
	}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	require.NoError(t, err)
	assert.Equal(t, strong, got)
}

func TestResolve_UsesSourceRenderMode(t *testing.T) {
	t.Parallel()

	doc := "https://banca.example/files/edital-abertura.pdf"
	intermediary := "https://banca.example/concursos/tj-2025/arquivos"
	f := &fakeFetcher{
		pages: map[string]response{postingURL: html(`<div id="app"></div>`)},
		rendered: map[string]response{
			postingURL:   html(`<a href="/concursos/tj-2025/arquivos">Edital de Abertura - arquivos</a>`),
			intermediary: html(`<a href="/files/edital-abertura.pdf">Edital de Abertura</a>`),
		},
		heads: map[string]response{doc: typed("application/pdf", "")},
	}
	r := New(f, Config{}, nil)

	_, err := r.Resolve(context.Background(), postingURL, "")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNoDocument, invalid.Reason)

	got, err := r.Resolve(context.Background(), postingURL, crawler.RenderHeadless)
	require.NoError(t, err)
	assert.Equal(t, doc, got)
	assert.Equal(t, []crawler.RenderMode{crawler.RenderStatic, crawler.RenderHeadless, crawler.RenderHeadless}, f.modes)
}

func TestResolve_EmptyModeUsesConfiguredDefault(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]response{postingURL: typed("application/pdf", "%PDF")}}
	_, err := New(f, Config{Mode: crawler.RenderAuto}, nil).Resolve(context.Background(), postingURL, "")
	require.NoError(t, err)
	assert.Equal(t, []crawler.RenderMode{crawler.RenderAuto}, f.modes)
}

func TestResolve_FallsBackToAnyDocument(t *testing.T) {
	t.Parallel()

	anexo := "https://banca.example/files/anexo-i.pdf"
	f := &fakeFetcher{
		pages: map[string]response{postingURL: html(`
<a href="/files/edital-libras.pdf">Edital em Libras</a>
<a href="/files/anexo-i.pdf">Anexo I</a>
<a href="/noticias">Notícias</a>`)},
		heads: map[string]response{anexo: typed("application/pdf", "")},
	}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	require.NoError(t, err)
	assert.Equal(t, anexo, got)
}

func TestResolve_FollowsOneIntermediaryPage(t *testing.T) {
	t.Parallel()

	intermediary := "https://banca.example/concursos/tj-2025/documentos"
	doc := "https://cdn.banca.example/tj/edital-abertura.pdf"
	f := &fakeFetcher{
		pages: map[string]response{
			postingURL:   html(`<a href="/concursos/tj-2025/documentos">Edital de Abertura</a>`),
			intermediary: html(`<a href="https://cdn.banca.example/tj/edital-abertura.pdf">Baixar</a>`),
		},
		heads: map[string]response{doc: typed("application/pdf", "")},
	}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestResolve_DoesNotFollowSecondHop(t *testing.T) {
	t.Parallel()

	first := "https://banca.example/a"
	f := &fakeFetcher{pages: map[string]response{
		postingURL: html(`<a href="/a">Edital de Abertura</a>`),
		first:      html(`<a href="/b">Edital de Abertura completo</a>`),
	}}
	_, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNoDocument, invalid.Reason)
	assert.NotContains(t, f.calls, "GET https://banca.example/b")
}

func TestResolve_NoDocumentFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]response{postingURL: html(`<p>Em breve</p><a href="/">Início</a>`)}}
	_, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNoDocument, invalid.Reason)
	assert.True(t, IsInvalid(err))
}

func TestResolve_PageServesDocumentDirectly(t *testing.T) {
	t.Parallel()

	r := typed("application/pdf", "%PDF-1.4")
	r.page.FinalURL = "https://cdn.banca.example/edital-final.pdf"
	f := &fakeFetcher{pages: map[string]response{postingURL: r}}
	got, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.banca.example/edital-final.pdf", got)
}

func TestResolve_FetchErrorIsNotInvalid(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]response{postingURL: {err: &crawler.BlockedError{URL: postingURL, Fingerprint: "captcha"}}}}
	_, err := New(f, Config{}, nil).Resolve(context.Background(), postingURL, "")
	require.ErrorIs(t, err, crawler.ErrBlocked)
	assert.False(t, IsInvalid(err))
	assert.False(t, errors.Is(err, crawler.ErrNotModified))
}

func TestDocumentExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".pdf", DocumentExtension("https://x.example/a/Edital.PDF?download=1"))
	assert.Equal(t, ".odt", DocumentExtension("https://x.example/a.odt"))
	assert.Empty(t, DocumentExtension("https://x.example/pdf"))
	assert.Empty(t, DocumentExtension("https://x.example/a.html"))
	assert.Equal(t, ".pdf", ExtensionFor("application/pdf"))
	assert.Empty(t, ExtensionFor("text/html"))
}

func TestContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/pdf", ContentType(typed("application/octet-stream", "%PDF-1.7 body").page))
	assert.Equal(t, "application/rtf", ContentType(crawler.Page{Body: []byte("{\\rtf1 hello}")}))
	assert.Equal(t, "application/pdf", ContentType(typed("application/pdf; name=edital.pdf", "x").page))
	assert.Equal(t,
		"application/vnd.oasis.opendocument.text",
		ContentType(typed("binary/octet-stream", "PK\x03\x04mimetypeapplication/vnd.oasis.opendocument.text").page),
	)
}
