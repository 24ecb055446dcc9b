package contact

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T, opts ...Option) (*Extractor, *[]time.Duration) {
	t.Helper()
	e := New(opts...)
	waits := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return e, waits
}

var params = Params{
	RequestDelay:      time.Second,
	RetryAttempts:     3,
	BackoffMultiplier: 2,
}

func TestExtract_FindsEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en-US,en;q=0.5", r.Header.Get("Accept-Language"))
		assert.Equal(t, "1", r.Header.Get("Upgrade-Insecure-Requests"))
		assert.Equal(t, DefaultUserAgents[0], r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body>Write to hello@sugarloaf.com today</body></html>`)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), srv.URL, params)

	require.True(t, ok)
	assert.Equal(t, "hello@sugarloaf.com", email)
	assert.Empty(t, *waits)
}

func TestExtract_SkipsPlaceholders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `you@example.com errors@sentry.io owner@bakery.net`)
	}))
	defer srv.Close()

	e, _ := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), srv.URL, params)

	require.True(t, ok)
	assert.Equal(t, "owner@bakery.net", email)
}

func TestExtract_NoEmailDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `<p>Call us instead</p>`)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), srv.URL, params)

	assert.False(t, ok)
	assert.Empty(t, email)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestExtract_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `sales@corner.shop`)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), srv.URL, params)

	require.True(t, ok)
	assert.Equal(t, "sales@corner.shop", email)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *waits)
}

func TestExtract_RetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e, _ := newTestExtractor(t)
	_, ok := e.Extract(context.Background(), srv.URL, params)

	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExtract_RateLimitAddsWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	_, ok := e.Extract(context.Background(), srv.URL, params)

	assert.False(t, ok)
	// Each 429 with an attempt left adds delay*mult^k ahead of the regular
	// delay*mult^(k-1) retry wait. The last attempt adds nothing.
	assert.Equal(t, []time.Duration{
		2 * time.Second, 2 * time.Second,
		4 * time.Second, 4 * time.Second,
	}, *waits)
}

func TestExtract_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	p := params
	p.RetryAttempts = 1
	_, ok := e.Extract(context.Background(), srv.URL, p)

	assert.False(t, ok)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *waits)
}

func TestExtract_RotatesUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	e, _ := newTestExtractor(t, WithUserAgents(FixedSelector("rotated-agent")))
	p := params
	p.RotateUserAgent = true
	e.Extract(context.Background(), srv.URL, p)

	assert.Equal(t, "rotated-agent", got)
}

func TestExtract_EmptyWebsite(t *testing.T) {
	e, waits := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), "   ", params)
	assert.False(t, ok)
	assert.Empty(t, email)
	assert.Empty(t, *waits)
}

func TestExtract_CanceledContextStops(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestExtractor(t)
	_, ok := e.Extract(ctx, srv.URL, params)
	assert.False(t, ok)
	assert.Zero(t, calls.Load())
}

func TestExtract_BodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("x", 64)+" late@bakery.net")
	}))
	defer srv.Close()

	e, _ := newTestExtractor(t, WithMaxBodyBytes(32))
	_, ok := e.Extract(context.Background(), srv.URL, params)
	assert.False(t, ok)
}

func TestDecodeCharset(t *testing.T) {
	r := decodeCharset("text/html; charset=ISO-8859-1", strings.NewReader("caf\xe9 info@caf\xe9.fr"))
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "café info@café.fr", string(b))

	passthrough := decodeCharset("text/html", strings.NewReader("plain"))
	b, err = io.ReadAll(passthrough)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(b))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  ", ""},
		{"sugarloaf.com", "https://sugarloaf.com"},
		{"//sugarloaf.com/contact", "https://sugarloaf.com/contact"},
		{"http://sugarloaf.com", "http://sugarloaf.com"},
		{"HTTPS://Sugarloaf.com", "HTTPS://Sugarloaf.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestNewHTTPClient_RedirectLimit(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(time.Second, 2)
	resp, err := client.Get(srv.URL)
	if resp != nil {
		resp.Body.Close() //nolint:errcheck
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
	assert.Equal(t, 3, hits)
}

func TestExtract_FollowsDefaultRedirectChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("n"))
		if n < defaultMaxRedirects {
			http.Redirect(w, r, "/?n="+strconv.Itoa(n+1), http.StatusFound)
			return
		}
		_, _ = io.WriteString(w, `<p>Write to info@realbiz.com</p>`)
	}))
	defer srv.Close()

	e, waits := newTestExtractor(t)
	email, ok := e.Extract(context.Background(), srv.URL+"/?n=0", params)
	require.True(t, ok)
	assert.Equal(t, "info@realbiz.com", email)
	assert.Empty(t, *waits)
}
