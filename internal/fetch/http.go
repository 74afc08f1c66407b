package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/spindle/internal/model"
)

const (
	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBodySize caps how much of a response body is read.
	DefaultMaxBodySize = 5 * 1024 * 1024

	// DefaultMinTextLength is the quality floor: pages whose normalized
	// text is shorter are classified low quality.
	DefaultMinTextLength = 80

	// DefaultMaxRedirects bounds a redirect chain before it is treated
	// as a loop.
	DefaultMaxRedirects = 10

	// DefaultUserAgent identifies the crawler to servers.
	DefaultUserAgent = "spindle/1.0 (+https://github.com/nao1215/spindle)"
)

// errRedirectLimit marks a redirect chain that exceeded the limit.
var errRedirectLimit = errors.New("redirect limit exceeded")

// defaultErrorSignatures are phrases that mark soft error pages served
// with a 200 status. Matching is case-insensitive against the page text.
var defaultErrorSignatures = []string{
	"page not found",
	"404 not found",
	"access denied",
	"account suspended",
	"this site can't be reached",
}

// HTTPFetcher fetches pages over plain HTTP(S) and extracts text and
// links with goquery. Responses in legacy encodings are decoded to
// UTF-8 before parsing.
type HTTPFetcher struct {
	client          *http.Client
	userAgent       string
	headers         map[string]string
	maxBodySize     int64
	minTextLength   int
	errorSignatures []string
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(agent string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.userAgent = agent
	}
}

// WithHeaders sets extra request headers sent with every fetch.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.headers = headers
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client.Timeout = timeout
	}
}

// WithMaxBodySize caps the response body read per page.
func WithMaxBodySize(size int64) HTTPOption {
	return func(f *HTTPFetcher) {
		f.maxBodySize = size
	}
}

// WithMinTextLength sets the quality floor in normalized characters.
func WithMinTextLength(length int) HTTPOption {
	return func(f *HTTPFetcher) {
		f.minTextLength = length
	}
}

// WithErrorSignatures replaces the soft-error-page phrase list.
func WithErrorSignatures(signatures []string) HTTPOption {
	return func(f *HTTPFetcher) {
		f.errorSignatures = signatures
	}
}

// WithTransport replaces the underlying HTTP transport. Used by tests
// and by deployments that need a proxy.
func WithTransport(transport http.RoundTripper) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client.Transport = transport
	}
}

// NewHTTPFetcher creates an HTTP fetcher with the given options.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= DefaultMaxRedirects {
					return errRedirectLimit
				}
				return nil
			},
		},
		userAgent:       DefaultUserAgent,
		maxBodySize:     DefaultMaxBodySize,
		minTextLength:   DefaultMinTextLength,
		errorSignatures: defaultErrorSignatures,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the task's URL and classifies the result. All
// failures come back inside the outcome; no error escapes this method.
func (f *HTTPFetcher) Fetch(ctx context.Context, task model.CrawlTask) model.FetchOutcome {
	outcome := model.FetchOutcome{FetchedAt: time.Now()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return f.fail(outcome, model.ErrorKindParsing, 0, fmt.Sprintf("invalid URL: %v", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	for key, value := range f.headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, errRedirectLimit) {
			return f.fail(outcome, model.ErrorKindRedirectLoop, 0, "redirect chain exceeded limit")
		}
		return f.fail(outcome, model.ErrorKindNetwork, 0, err.Error())
	}
	defer resp.Body.Close()

	outcome.HTTPStatus = resp.StatusCode
	outcome.ContentType = mediaType(resp.Header.Get("Content-Type"))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return f.fail(outcome, model.ErrorKindHTTPStatus, resp.StatusCode,
			fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	body := io.LimitReader(resp.Body, f.maxBodySize)

	if !isHTML(outcome.ContentType) {
		return f.nonHTMLOutcome(outcome, body)
	}

	// Decode legacy encodings to UTF-8 using the Content-Type header
	// and in-document hints.
	decoded, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return f.fail(outcome, model.ErrorKindParsing, resp.StatusCode,
			fmt.Sprintf("charset detection failed: %v", err))
	}

	doc, err := goquery.NewDocumentFromReader(decoded)
	if err != nil {
		return f.fail(outcome, model.ErrorKindParsing, resp.StatusCode,
			fmt.Sprintf("HTML parse failed: %v", err))
	}

	return f.classifyDocument(outcome, doc)
}

// nonHTMLOutcome hashes a non-HTML body as-is. No links or title are
// extracted.
func (f *HTTPFetcher) nonHTMLOutcome(outcome model.FetchOutcome, body io.Reader) model.FetchOutcome {
	raw, err := io.ReadAll(body)
	if err != nil {
		return f.fail(outcome, model.ErrorKindNetwork, outcome.HTTPStatus,
			fmt.Sprintf("body read failed: %v", err))
	}
	if len(raw) == 0 {
		return f.fail(outcome, model.ErrorKindEmptyContent, outcome.HTTPStatus, "empty response body")
	}

	outcome.Status = model.StatusSuccess
	outcome.Text = string(raw)
	outcome.ComputeHashes()
	// Binary payloads are not snapshot material.
	outcome.Text = ""
	return outcome
}

// classifyDocument extracts text and links from a parsed page and
// applies the empty-content and quality-floor rules.
func (f *HTTPFetcher) classifyDocument(outcome model.FetchOutcome, doc *goquery.Document) model.FetchOutcome {
	outcome.Title = strings.TrimSpace(doc.Find("title").First().Text())
	outcome.DiscoveredLinks = extractLinks(doc)

	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	var text string
	if body.Length() > 0 {
		text = body.Text()
	} else {
		text = doc.Text()
	}
	outcome.Text = model.NormalizeText(text)

	if outcome.Text == "" && len(outcome.DiscoveredLinks) == 0 {
		return f.fail(outcome, model.ErrorKindEmptyContent, outcome.HTTPStatus, "no text or links extracted")
	}

	lower := strings.ToLower(outcome.Text)
	for _, signature := range f.errorSignatures {
		if strings.Contains(lower, signature) {
			outcome.Status = model.StatusLowQuality
			outcome.ErrorKind = model.ErrorKindContentQuality
			outcome.ComputeHashes()
			return outcome
		}
	}

	if len(outcome.Text) < f.minTextLength {
		outcome.Status = model.StatusLowQuality
		outcome.ErrorKind = model.ErrorKindContentQuality
		outcome.ComputeHashes()
		return outcome
	}

	outcome.Status = model.StatusSuccess
	outcome.ComputeHashes()
	return outcome
}

// fail fills an outcome from a classified failure. The retry decision
// comes from the taxonomy, keeping fetchers and scheduler consistent.
func (f *HTTPFetcher) fail(outcome model.FetchOutcome, kind model.ErrorKind, status int, message string) model.FetchOutcome {
	fetchErr := &model.FetchError{Kind: kind, HTTPStatus: status, Message: message}
	outcome.ErrorKind = kind
	outcome.HTTPStatus = status
	outcome.Retryable = fetchErr.Retryable()
	switch {
	case kind == model.ErrorKindEmptyContent:
		outcome.Status = model.StatusEmpty
	case outcome.Retryable:
		outcome.Status = model.StatusRetry
	default:
		outcome.Status = model.StatusFailed
	}
	return outcome
}

// extractLinks returns href values of anchors in document order.
// Fragment-only and javascript links are skipped; everything else is
// left raw for the discoverer to canonicalize.
func extractLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		links = append(links, href)
	})
	return links
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return parsed
}

// isHTML reports whether a media type is parseable as HTML.
func isHTML(mediaType string) bool {
	switch mediaType {
	case "", "text/html", "application/xhtml+xml":
		return true
	}
	return false
}
