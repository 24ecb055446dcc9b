// Package contact fetches a business website and pulls a contact email out
// of the landing page.
package contact

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/leadstorm/internal/monitoring"
	"github.com/sells-group/leadstorm/internal/resilience"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodyBytes = 2 << 20
)

// Params are the per-run throttling settings applied to one extraction.
type Params struct {
	RequestDelay      time.Duration
	RetryAttempts     int
	BackoffMultiplier float64
	RotateUserAgent   bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHTTPClient overrides the default http.Client. The caller owns its
// timeout and redirect policy.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Extractor) { e.http = hc }
}

// WithUserAgents overrides the selector used when rotation is on.
func WithUserAgents(s UserAgentSelector) Option {
	return func(e *Extractor) { e.agents = s }
}

// WithMaxBodyBytes caps how much of a page is read.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Extractor) { e.maxBody = n }
}

// Extractor finds a contact email on a business website.
type Extractor struct {
	http    *http.Client
	agents  UserAgentSelector
	fixed   string
	maxBody int64
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewHTTPClient returns a client that gives up after timeout and refuses
// to follow more than maxRedirects redirects.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return eris.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		http:    NewHTTPClient(defaultTimeout, defaultMaxRedirects),
		agents:  NewRandomSelector(),
		fixed:   DefaultUserAgents[0],
		maxBody: defaultMaxBodyBytes,
		sleep:   resilience.Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract fetches website and returns the first usable email on the page.
// It never returns an error: every failure, including exhausted retries,
// yields ("", false). A successful fetch ends the attempt loop whether or
// not an email was found.
func (e *Extractor) Extract(ctx context.Context, website string, p Params) (string, bool) {
	target := NormalizeURL(website)
	if target == "" {
		return "", false
	}
	log := zap.L().With(zap.String("url", target))

	cfg := resilience.RetryConfig{
		MaxAttempts: p.RetryAttempts,
		BaseDelay:   p.RequestDelay,
		Multiplier:  p.BackoffMultiplier,
		Sleep:       e.sleep,
		OnRetry: func(attempt int, err error) {
			log.Debug("retrying website fetch", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	page, err := resilience.DoVal(ctx, cfg, func(ctx context.Context, _ int) ([]byte, error) {
		return e.fetch(ctx, target, e.userAgent(p.RotateUserAgent))
	})
	if err != nil {
		log.Info("website fetch failed", zap.Error(err))
		monitoring.ObserveFetch(fetchOutcome(err))
		return "", false
	}

	email, ok := FindEmail(page)
	if ok {
		monitoring.ObserveFetch("email")
	} else {
		monitoring.ObserveFetch("no_email")
	}
	return email, ok
}

func (e *Extractor) userAgent(rotate bool) string {
	if rotate && e.agents != nil {
		return e.agents.UserAgent()
	}
	return e.fixed
}

func (e *Extractor) fetch(ctx context.Context, target, ua string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "contact: create request")
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "contact: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resilience.NewStatusError(resp.StatusCode, target)
	}

	body, err := io.ReadAll(decodeCharset(resp.Header.Get("Content-Type"), io.LimitReader(resp.Body, e.maxBody)))
	if err != nil {
		return nil, eris.Wrap(err, "contact: read body")
	}
	return body, nil
}

// decodeCharset converts a non-UTF-8 page to UTF-8 using the charset named
// in the Content-Type header. Unknown charsets pass through untouched.
func decodeCharset(contentType string, r io.Reader) io.Reader {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return r
	}
	name := params["charset"]
	if name == "" {
		return r
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return r
	}
	if canonical, _ := htmlindex.Name(enc); canonical == "utf-8" {
		return r
	}
	return enc.NewDecoder().Reader(r)
}

// NormalizeURL trims website and adds an https scheme when it has none.
func NormalizeURL(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	lower := strings.ToLower(website)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return website
	}
	return "https://" + strings.TrimPrefix(website, "//")
}

func fetchOutcome(err error) string {
	switch code := resilience.StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code != 0:
		return "http_error"
	default:
		return "error"
	}
}
