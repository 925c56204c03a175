// -----------------------------------------------------------------------
// Website Analyzer - fetches a site and extracts its listing metadata
// -----------------------------------------------------------------------

package website

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultUserAgent identifies the analyzer to fetched sites.
	DefaultUserAgent = "Scrutor/1.0 (+https://github.com/ternarybob/scrutor)"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default fetch rate (requests per second).
	DefaultRateLimit = 2

	// maxBodySize caps how much of a page is read.
	maxBodySize = 5 << 20

	// descriptionLimit caps a description derived from page content.
	descriptionLimit = 300
)

// Analyzer fetches websites and extracts the metadata shown on an app
// listing. Implements interfaces.WebsiteAnalyzer.
type Analyzer struct {
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	converter  *md.Converter
	logger     arbor.ILogger
}

// Option configures the Analyzer.
type Option func(*Analyzer)

// WithUserAgent sets a custom user agent.
func WithUserAgent(userAgent string) Option {
	return func(a *Analyzer) {
		a.userAgent = userAgent
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(a *Analyzer) {
		a.httpClient = httpClient
	}
}

// WithRateLimit sets requests per second.
func WithRateLimit(rps float64) Option {
	return func(a *Analyzer) {
		a.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewAnalyzer creates a website analyzer.
func NewAnalyzer(logger arbor.ILogger, opts ...Option) *Analyzer {
	a := &Analyzer{
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		converter:  md.NewConverter("", true, nil),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze fetches the page and extracts its metadata. All failures come back
// as *models.AnalysisError so callers can treat them uniformly.
func (a *Analyzer) Analyze(ctx context.Context, websiteURL string) (*models.WebsiteDetail, error) {
	startTime := time.Now()

	base, err := url.Parse(websiteURL)
	if err != nil || base.Host == "" {
		return nil, a.wrapErr(websiteURL, fmt.Errorf("invalid url: %q", websiteURL))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, a.wrapErr(websiteURL, err)
	}

	doc, err := a.fetch(ctx, websiteURL)
	if err != nil {
		return nil, a.wrapErr(websiteURL, err)
	}

	detail := &models.WebsiteDetail{
		Title:       a.extractTitle(doc),
		Description: a.extractDescription(doc),
		Keywords:    a.extractKeywords(doc),
		Favicon:     a.extractFavicon(doc, base),
		Banner:      a.extractBanner(doc, base),
		Tags:        a.extractTags(doc),
		Duration:    time.Since(startTime).Seconds(),
	}

	a.logger.Debug().
		Str("url", websiteURL).
		Str("title", detail.Title).
		Int("keywords", len(detail.Keywords)).
		Msg("Website analyzed")

	return detail, nil
}

func (a *Analyzer) fetch(ctx context.Context, websiteURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, websiteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// extractTitle tries the title tag, then Open Graph, then the first h1
func (a *Analyzer) extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

// extractDescription prefers declared metadata; when a page has none, the
// main content is converted to markdown and truncated instead
func (a *Analyzer) extractDescription(doc *goquery.Document) string {
	if desc, exists := doc.Find("meta[name='description']").Attr("content"); exists && desc != "" {
		return strings.TrimSpace(desc)
	}
	if ogDesc, exists := doc.Find("meta[property='og:description']").Attr("content"); exists && ogDesc != "" {
		return strings.TrimSpace(ogDesc)
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, nav, footer, aside").Remove()
	html, err := body.Html()
	if err != nil {
		return ""
	}
	markdown, err := a.converter.ConvertString(html)
	if err != nil {
		return ""
	}
	markdown = strings.Join(strings.Fields(markdown), " ")
	return strings.TrimSpace(truncateRunes(markdown, descriptionLimit))
}

// truncateRunes cuts s to at most limit bytes without splitting a rune
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (a *Analyzer) extractKeywords(doc *goquery.Document) []string {
	keywords, exists := doc.Find("meta[name='keywords']").Attr("content")
	if !exists || keywords == "" {
		return nil
	}

	var out []string
	for _, kw := range strings.Split(keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// extractFavicon resolves the declared icon link, falling back to the
// conventional /favicon.ico path
func (a *Analyzer) extractFavicon(doc *goquery.Document, base *url.URL) string {
	for _, selector := range []string{
		"link[rel='icon']",
		"link[rel='shortcut icon']",
		"link[rel='apple-touch-icon']",
	} {
		if href, exists := doc.Find(selector).First().Attr("href"); exists && href != "" {
			return resolveURL(base, href)
		}
	}
	return base.Scheme + "://" + base.Host + "/favicon.ico"
}

func (a *Analyzer) extractBanner(doc *goquery.Document, base *url.URL) string {
	if ogImage, exists := doc.Find("meta[property='og:image']").Attr("content"); exists && ogImage != "" {
		return resolveURL(base, ogImage)
	}
	if twImage, exists := doc.Find("meta[name='twitter:image']").Attr("content"); exists && twImage != "" {
		return resolveURL(base, twImage)
	}
	return ""
}

// extractTags collects article tags; keywords double as tags when a page
// declares none
func (a *Analyzer) extractTags(doc *goquery.Document) []string {
	var tags []string
	doc.Find("meta[property='article:tag']").Each(func(_ int, s *goquery.Selection) {
		if tag, exists := s.Attr("content"); exists {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	})
	if len(tags) > 0 {
		return tags
	}
	return a.extractKeywords(doc)
}

func (a *Analyzer) wrapErr(subject string, err error) error {
	return &models.AnalysisError{
		Kind:    models.KindWebsiteContent,
		Subject: subject,
		Err:     err,
	}
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
