package detector

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

func htmlPage(status int, body string) crawler.Page {
	return crawler.Page{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

// listingWith renders an ordinary contest listing with extra markup appended to the body.
func listingWith(extra string) string {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>Concursos abertos</title></head><body><h1>Concursos</h1><ul>`)
	for _, item := range []string{
		"Edital de Abertura Nº 1/2025 - Tribunal X",
		"Edital de Abertura Nº 2/2025 - Prefeitura Y",
		"Edital de Abertura Nº 3/2025 - Câmara Z",
	} {
		sb.WriteString(`<li><a href="/concursos/` + item[len(item)-1:] + `">` + item + `</a>`)
		sb.WriteString(`<p>Inscrições abertas até o fim do mês. Consulte o edital completo e os anexos.</p></li>`)
	}
	sb.WriteString(`</ul>`)
	sb.WriteString(extra)
	sb.WriteString(`</body></html>`)
	return sb.String()
}

func TestBlock_Detect(t *testing.T) {
	t.Parallel()

	b := NewBlock(nil, nil)

	fp, ok := b.Detect(htmlPage(403, `<html><title>Attention Required! | Cloudflare</title></html>`))
	require.True(t, ok)
	require.Equal(t, "attention required! | cloudflare", fp)

	fp, ok = b.Detect(htmlPage(503, `<html><body><form id="challenge-form" action="/x"></form></body></html>`))
	require.True(t, ok)
	require.Equal(t, "#challenge-form", fp)

	fp, ok = b.Detect(crawler.Page{
		StatusCode: 200,
		Body:       []byte(`<html><body><iframe src="https://example.org/captcha/v2"></iframe></body></html>`),
	})
	require.True(t, ok)
	require.Equal(t, "iframe[src*='captcha']", fp)

	_, ok = b.Detect(crawler.Page{
		StatusCode: 200,
		Body:       []byte(`<html><body><a href="/edital.pdf">Edital de Abertura</a></body></html>`),
	})
	require.False(t, ok)

	_, ok = b.Detect(crawler.Page{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"application/pdf"}},
		Body:       []byte("%PDF g-recaptcha"),
	})
	require.False(t, ok)
}

func TestBlock_OrdinaryPagesWithProtectionMarkup(t *testing.T) {
	t.Parallel()

	b := NewBlock(nil, nil)
	tests := []struct {
		name  string
		extra string
	}{
		{
			name:  "cloudflare beacon",
			extra: `<script src="/cdn-cgi/challenge-platform/scripts/jsd/main.js"></script>`,
		},
		{
			name: "recaptcha contact form",
			extra: `<form action="/contato"><input name="email"><div class="g-recaptcha" data-sitekey="k"></div>` +
				`<button>Enviar</button></form>`,
		},
		{
			name:  "hcaptcha search form",
			extra: `<form action="/busca"><input name="q"><div class="h-captcha"></div></form>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fp, ok := b.Detect(htmlPage(200, listingWith(tt.extra)))
			require.False(t, ok, "unexpected fingerprint %q", fp)
		})
	}
}

func TestBlock_CaptchaWallIsBlocked(t *testing.T) {
	t.Parallel()

	b := NewBlock(nil, nil)
	fp, ok := b.Detect(htmlPage(200,
		`<html><body><p>Confirme o acesso.</p><div class="g-recaptcha" data-sitekey="k"></div></body></html>`))
	require.True(t, ok)
	require.Equal(t, "div.g-recaptcha", fp)
}

func TestBlock_CustomKeywords(t *testing.T) {
	t.Parallel()

	b := NewBlock([]string{"  Portal Bloqueado "}, []string{"#wall"})
	fp, ok := b.Detect(htmlPage(200, `<html><body><h1>PORTAL BLOQUEADO</h1></body></html>`))
	require.True(t, ok)
	require.Equal(t, "portal bloqueado", fp)

	fp, ok = b.Detect(htmlPage(200, `<html><body><div id="wall"></div></body></html>`))
	require.True(t, ok)
	require.Equal(t, "#wall", fp)
}
