package research

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"github.com/sondelab/sonde/pkg/config"
)

const extractorUserAgent = "Mozilla/5.0 (compatible; SondeBot/1.0)"

// Extractor fetches URLs and extracts readable text. HTML goes through
// readability with a tag-stripping fallback; PDFs go through page-by-page
// text extraction. Results are cached by normalized URL.
type Extractor struct {
	cfg    config.ExtractConfig
	cache  *Cache
	client *http.Client
	log    *slog.Logger
}

// NewExtractor creates an extractor with the configured timeout, body cap,
// and cache TTL.
func NewExtractor(cfg config.ExtractConfig) *Extractor {
	return &Extractor{
		cfg:    cfg,
		cache:  NewCache(cfg.CacheTTL),
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.With("component", "extractor"),
	}
}

// Extract fetches one URL and returns its readable text. The URL is
// normalized and validated against the scheme and domain allow-lists first;
// a cached page short-circuits the fetch.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := ValidateURL(normalized, e.cfg.AllowedDomains); err != nil {
		return nil, err
	}

	if page, ok := e.cache.Get(normalized); ok {
		return page, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, fmt.Errorf("building fetch request: %w", err)
	}
	req.Header.Set("User-Agent", extractorUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, normalized)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	page := &Page{URL: normalized}
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") || strings.HasSuffix(strings.ToLower(normalized), ".pdf") {
		text, err := extractPDF(body)
		if err != nil {
			return nil, fmt.Errorf("extracting PDF text: %w", err)
		}
		page.Text = text
	} else {
		page.Title, page.Text = extractHTML(string(body), normalized)
	}
	page.CharCount = len(page.Text)

	e.cache.Set(normalized, page)
	e.log.Info("Page extracted", "url", normalized, "chars", page.CharCount)
	return page, nil
}

// extractHTML runs readability extraction with a tag-stripping fallback.
func extractHTML(html, pageURL string) (title, text string) {
	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && article.TextContent != "" {
		return article.Title, strings.TrimSpace(article.TextContent)
	}
	return "", stripHTML(html)
}

// extractPDF extracts plain text from a PDF, page by page. Unreadable pages
// are skipped.
func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty PDF content")
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	return strings.TrimSpace(text.String()), nil
}

// stripHTML removes tags, scripts, and styles, collapsing whitespace. Used
// when readability cannot parse the document.
func stripHTML(content string) string {
	var result strings.Builder
	result.Grow(len(content))

	inTag := false
	inScript := false
	inStyle := false
	var tagName strings.Builder
	collectingTagName := false

	i := 0
	for i < len(content) {
		r, size := utf8.DecodeRuneInString(content[i:])

		if r == '<' {
			inTag = true
			tagName.Reset()
			collectingTagName = true
			i += size
			continue
		}

		if inTag {
			if collectingTagName {
				if unicode.IsSpace(r) || r == '>' || (r == '/' && tagName.Len() > 0) {
					collectingTagName = false
					switch strings.ToLower(tagName.String()) {
					case "script":
						inScript = true
					case "/script":
						inScript = false
					case "style":
						inStyle = true
					case "/style":
						inStyle = false
					}
				} else {
					tagName.WriteRune(r)
				}
			}
			if r == '>' {
				inTag = false
			}
			i += size
			continue
		}

		if !inScript && !inStyle {
			result.WriteRune(r)
		}
		i += size
	}

	return collapseWhitespace(result.String())
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}
