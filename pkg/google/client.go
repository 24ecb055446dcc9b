package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

// Places web service status values.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// DetailFields is the field list requested by Details when none is given.
var DetailFields = []string{"name", "formatted_address", "website", "international_phone_number"}

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*SearchResponse, error)
	NearbySearch(ctx context.Context, req NearbySearchRequest) (*SearchResponse, error)
	Details(ctx context.Context, placeID string, fields []string) (*DetailsResponse, error)
}

// Factory builds a Client bound to an API key. The key is a runtime
// setting, so callers resolve a client per run.
type Factory func(apiKey string) Client

// NewFactory returns a Factory that applies opts to every client it builds.
func NewFactory(opts ...Option) Factory {
	return func(apiKey string) Client {
		return NewClient(apiKey, opts...)
	}
}

// TextSearchRequest is a free-text query, or a continuation of one.
type TextSearchRequest struct {
	Query     string
	PageToken string
}

// NearbySearchRequest is a radius search around a point, or a continuation
// of one.
type NearbySearchRequest struct {
	Lat       float64
	Lng       float64
	Radius    int
	Type      string
	PageToken string
}

// SearchResponse is the response shared by text and nearby search.
type SearchResponse struct {
	Status        string   `json:"status"`
	ErrorMessage  string   `json:"error_message,omitempty"`
	Results       []Result `json:"results"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// OK reports whether the provider accepted the request.
func (r *SearchResponse) OK() bool {
	return r.Status == StatusOK || r.Status == StatusZeroResults
}

// DetailsResponse is the response from Place Details.
type DetailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Result       Result `json:"result"`
}

// Result is a single place record.
type Result struct {
	PlaceID                  string `json:"place_id"`
	Name                     string `json:"name"`
	FormattedAddress         string `json:"formatted_address,omitempty"`
	Vicinity                 string `json:"vicinity,omitempty"`
	Website                  string `json:"website,omitempty"`
	InternationalPhoneNumber string `json:"international_phone_number,omitempty"`
}

// Address returns the formatted address, falling back to vicinity which is
// what nearby search returns.
func (r Result) Address() string {
	if r.FormattedAddress != "" {
		return r.FormattedAddress
	}
	return r.Vicinity
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header sent with each request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	apiKey    string
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*SearchResponse, error) {
	q := url.Values{}
	if req.PageToken != "" {
		q.Set("pagetoken", req.PageToken)
	} else {
		q.Set("query", req.Query)
	}

	var result SearchResponse
	if err := c.get(ctx, "/textsearch/json", q, &result); err != nil {
		return nil, eris.Wrap(err, "google: text search")
	}
	return &result, nil
}

func (c *httpClient) NearbySearch(ctx context.Context, req NearbySearchRequest) (*SearchResponse, error) {
	q := url.Values{}
	if req.PageToken != "" {
		q.Set("pagetoken", req.PageToken)
	} else {
		q.Set("location", strconv.FormatFloat(req.Lat, 'f', -1, 64)+","+strconv.FormatFloat(req.Lng, 'f', -1, 64))
		q.Set("radius", strconv.Itoa(req.Radius))
		if req.Type != "" {
			q.Set("type", req.Type)
		}
	}

	var result SearchResponse
	if err := c.get(ctx, "/nearbysearch/json", q, &result); err != nil {
		return nil, eris.Wrap(err, "google: nearby search")
	}
	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string, fields []string) (*DetailsResponse, error) {
	if len(fields) == 0 {
		fields = DetailFields
	}
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", strings.Join(fields, ","))

	var result DetailsResponse
	if err := c.get(ctx, "/details/json", q, &result); err != nil {
		return nil, eris.Wrapf(err, "google: details %s", placeID)
	}
	return &result, nil
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
