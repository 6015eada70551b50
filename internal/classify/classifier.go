// Package classify decides whether a posting title is a genuine opening notice.
//
// Rules are evaluated in a fixed order: denylist, allowlist, notice+exam terms,
// agency acronym followed by a year. Rejections are preferred over false accepts.
package classify

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/edital-crawler/internal/slug"
)

// Rules holds the keyword lists. Terms are matched as whole words on folded text;
// a trailing "*" turns a term into a word-prefix match ("retifica*" matches "retificacao").
type Rules struct {
	Deny        []string `mapstructure:"deny"`
	Allow       []string `mapstructure:"allow"`
	NoticeTerms []string `mapstructure:"notice_terms"`
	ExamTerms   []string `mapstructure:"exam_terms"`
	Acronyms    []string `mapstructure:"acronyms"`
}

// DefaultRules returns the built-in Portuguese and English term lists.
func DefaultRules() Rules {
	return Rules{
		Deny: []string{
			"retifica*", "resultado*", "gabarito*", "ratifica*", "homologa*", "convoca*",
			"classificacao", "classificados", "suspen*", "cancela*", "adiamento", "adiado", "prorroga*",
			"errata", "aviso", "avisos", "comunicado*", "republicacao", "republicado",
			"ata", "atas", "recurso", "recursos contra", "impugna*", "suplementar", "anexo*",
			"aditamento", "aditivo", "termo aditivo", "nomeacao",
			"amendment*", "result*", "answer key", "score key", "ratification", "homologation",
			"convocation", "ranking", "suspension", "suspended", "cancel*", "postpone*",
			"erratum", "errata", "communique", "republication", "minutes", "appeal*", "challenge*",
			"supplement*", "annex*", "addendum",
		},
		Allow: []string{
			"edital de abertura", "abertura", "edital completo", "edital no", "edital n",
			"edital consolidado", "concurso publico", "processo seletivo",
			"opening notice", "full notice", "notice no", "consolidated notice", "public exam",
			"selection process",
		},
		NoticeTerms: []string{"edital", "editais", "notice"},
		ExamTerms:   []string{"concurso*", "selecao", "seletivo", "exame", "exam", "selection"},
		Acronyms: []string{
			"PC", "PM", "PF", "PRF", "PP", "PPF", "CBM", "BM", "TJ", "TRT", "TRF", "TRE", "TST", "STJ", "STF",
			"TCE", "TCM", "TCU", "MP", "MPE", "MPU", "MPF", "DPE", "DPU", "PGE", "PGM", "AGU", "SEFAZ",
			"SEDUC", "SEE", "INSS", "IBGE", "RFB", "ANVISA", "ANS", "ANTT", "ANEEL", "BB", "CEF", "CAIXA",
			"BNB", "BACEN", "PETROBRAS", "DETRAN", "CGU", "CMN", "ALE", "ALEP", "ALERJ", "ALESP", "CLDF",
			"CM", "SEAP", "SUSEPE", "POLITEC", "PCDF", "PMDF", "CBMDF",
		},
	}
}

type term struct {
	text   string
	prefix bool
}

// Classifier applies a compiled rule set.
type Classifier struct {
	deny    []term
	allow   []term
	notice  []term
	exam    []term
	acronym *regexp.Regexp
}

// New compiles rules. Empty lists fall back to the defaults for that list.
func New(rules Rules) *Classifier {
	defaults := DefaultRules()
	pick := func(custom, fallback []string) []term {
		if len(custom) == 0 {
			custom = fallback
		}
		return compileTerms(custom)
	}
	acronyms := rules.Acronyms
	if len(acronyms) == 0 {
		acronyms = defaults.Acronyms
	}
	return &Classifier{
		deny:    pick(rules.Deny, defaults.Deny),
		allow:   pick(rules.Allow, defaults.Allow),
		notice:  pick(rules.NoticeTerms, defaults.NoticeTerms),
		exam:    pick(rules.ExamTerms, defaults.ExamTerms),
		acronym: compileAcronyms(acronyms),
	}
}

var defaultClassifier = New(Rules{})

// IsGenuineOpeningNotice classifies title with the default rules.
func IsGenuineOpeningNotice(title string) bool {
	return defaultClassifier.IsGenuineOpeningNotice(title)
}

// IsGenuineOpeningNotice reports whether title announces a new exam.
func (c *Classifier) IsGenuineOpeningNotice(title string) bool {
	_, ok := c.Explain(title)
	return ok
}

// Explain returns the rule that decided the outcome, for logging.
func (c *Classifier) Explain(title string) (string, bool) {
	text := " " + slug.Words(title) + " "
	if strings.TrimSpace(text) == "" {
		return "empty", false
	}
	if t, ok := firstMatch(text, c.deny); ok {
		return "deny:" + t, false
	}
	if t, ok := firstMatch(text, c.allow); ok {
		return "allow:" + t, true
	}
	if _, ok := firstMatch(text, c.notice); ok {
		if _, ok := firstMatch(text, c.exam); ok {
			return "notice+exam", true
		}
	}
	if c.acronym != nil && c.acronym.MatchString(strings.TrimSpace(text)) {
		return "acronym+year", true
	}
	return "no signal", false
}

func compileTerms(raw []string) []term {
	out := make([]term, 0, len(raw))
	for _, r := range raw {
		prefix := strings.HasSuffix(strings.TrimSpace(r), "*")
		text := slug.Words(strings.TrimSuffix(strings.TrimSpace(r), "*"))
		if text == "" {
			continue
		}
		out = append(out, term{text: text, prefix: prefix})
	}
	return out
}

// firstMatch expects text padded with one space on each side.
func firstMatch(text string, terms []term) (string, bool) {
	for _, t := range terms {
		needle := " " + t.text
		if !t.prefix {
			needle += " "
		}
		if strings.Contains(text, needle) {
			return t.text, true
		}
	}
	return "", false
}

// compileAcronyms matches "<ACRONYM> [<UF>] <yy|yyyy>" anywhere in the folded words.
func compileAcronyms(acronyms []string) *regexp.Regexp {
	parts := make([]string, 0, len(acronyms))
	for _, a := range acronyms {
		a = slug.Words(a)
		if a == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(a))
	}
	if len(parts) == 0 {
		return nil
	}
	pattern := `(^| )(` + strings.Join(parts, "|") + `)( [a-z]{2})? ([0-9]{4}|[0-9]{2})( |$)`
	return regexp.MustCompile(pattern)
}
