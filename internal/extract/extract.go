package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxTextChars caps the text sample sent to the similarity backend.
const MaxTextChars = 10000

var ErrScriptInjectionFailed = errors.New("script injection failed")

// Text sources, in the order the probe tries them.
const (
	SourceArticle = "article"
	SourceContent = "content"
	SourceBody    = "body"
)

type Page struct {
	Title  string `json:"title"`
	Text   string `json:"innerText"`
	Source string `json:"source"`
}

// PageReader is the privileged capability of running a read-only probe inside
// a tab's rendered page.
type PageReader interface {
	ExtractPageText(ctx context.Context, tabID string) (Page, error)
}

// ProbeScript runs in the page and returns {title, innerText, source}.
// Publisher markup is inconsistent, so it falls back from <article> to a
// .content container to the capped body text.
var ProbeScript = fmt.Sprintf(`() => {
  const pick = (el) => (el && typeof el.innerText === "string" && el.innerText.trim() !== "") ? el.innerText : null;
  const title = document.title || "";
  const article = pick(document.querySelector("article"));
  if (article !== null) return { title, innerText: article, source: %q };
  const content = pick(document.querySelector(".content"));
  if (content !== null) return { title, innerText: content, source: %q };
  const body = document.body ? (document.body.innerText || "") : "";
  return { title, innerText: body.slice(0, %d), source: %q };
}`, SourceArticle, SourceContent, MaxTextChars, SourceBody)

type Extractor struct {
	reader PageReader
}

func NewExtractor(reader PageReader) *Extractor {
	return &Extractor{reader: reader}
}

// Extract samples the current text of a tab. It runs once per request and the
// result is never cached, since page content may change between visits.
func (e *Extractor) Extract(ctx context.Context, tabID string) (Page, error) {
	if e.reader == nil {
		return Page{}, fmt.Errorf("%w: no page reader configured", ErrScriptInjectionFailed)
	}
	page, err := e.reader.ExtractPageText(ctx, tabID)
	if err != nil {
		if errors.Is(err, ErrScriptInjectionFailed) {
			return Page{}, err
		}
		return Page{}, fmt.Errorf("%w: %w", ErrScriptInjectionFailed, err)
	}
	page.Title = strings.TrimSpace(page.Title)
	page.Text = strings.TrimSpace(page.Text)
	if page.Source == SourceBody {
		page.Text = Truncate(page.Text, MaxTextChars)
	}
	return page, nil
}

// Truncate returns at most limit runes of text.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	count := 0
	for idx := range text {
		if count == limit {
			return text[:idx]
		}
		count++
	}
	return text
}
