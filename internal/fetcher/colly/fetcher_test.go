package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}

	collector := f.buildCollector(context.Background(), req, time.Second, time.Unix(0, 0), &crawler.Page{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.ParseHTTPErrorResponse)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:        "https://example.com",
		Headers:    http.Header{"X-Trace": {"yes"}},
		Validators: crawler.CacheValidators{ETag: `"v1"`, LastModified: "Mon, 02 Jan 2006 15:04:05 GMT"},
	}
	var result crawler.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, `"v1"`, collyReq.Headers.Get("If-None-Match"))
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", collyReq.Headers.Get("If-Modified-Since"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Etag": {`"v2"`}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/final"),
		},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/final", result.FinalURL)
	require.Equal(t, `"v2"`, result.Validators.ETag)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetchConditionalGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>listing</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	page, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, `"abc"`, page.Validators.ETag)
	require.Contains(t, string(page.Body), "listing")

	_, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL, Validators: page.Validators})
	require.ErrorIs(t, err, crawler.ErrNotModified)
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})
	var httpErr *crawler.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestHead(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/pdf")
	}))
	defer srv.Close()

	f := New(Config{HeadTimeout: 2 * time.Second})
	page, err := f.Head(context.Background(), srv.URL+"/edital.pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", page.ContentType())
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(crawler.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
