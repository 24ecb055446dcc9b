// Package discovery finds candidate businesses for a city and keyword using
// Google Places text search with a radius-search fallback.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/internal/resilience"
	"github.com/sells-group/leadstorm/pkg/google"
)

const (
	// maxPages is the provider's hard limit on pages per query.
	maxPages = 3
	// pageTokenDelay is how long a next_page_token takes to become valid.
	pageTokenDelay = 2000 * time.Millisecond
	// minResults below which the radius search fallback runs.
	minResults = 50
	// fallbackRadius in meters.
	fallbackRadius = 25000
	// fallbackType restricts the radius search to businesses.
	fallbackType = "establishment"
)

// Options tunes a Discoverer. Zero values fall back to the provider limits
// above.
type Options struct {
	MaxPages       int
	PageTokenDelay time.Duration
	MinResults     int
	Radius         int
	PlaceType      string
	// QPS paces outbound Places calls. Zero disables pacing.
	QPS float64
}

// Discoverer runs the two-branch Places search for a run.
type Discoverer struct {
	newClient google.Factory
	gazetteer *Gazetteer
	limiter   *rate.Limiter
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Discoverer. A nil gazetteer uses the embedded one.
func New(newClient google.Factory, gazetteer *Gazetteer, opts Options) *Discoverer {
	if gazetteer == nil {
		gazetteer = DefaultGazetteer()
	}
	if opts.MaxPages <= 0 || opts.MaxPages > maxPages {
		opts.MaxPages = maxPages
	}
	if opts.PageTokenDelay <= 0 {
		opts.PageTokenDelay = pageTokenDelay
	}
	if opts.MinResults <= 0 {
		opts.MinResults = minResults
	}
	if opts.Radius <= 0 {
		opts.Radius = fallbackRadius
	}
	if opts.PlaceType == "" {
		opts.PlaceType = fallbackType
	}

	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}

	return &Discoverer{
		newClient: newClient,
		gazetteer: gazetteer,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		sleep:     resilience.Sleep,
	}
}

// Discover returns the deduplicated candidate places for keyword in city, in
// discovery order. It fails only when the primary text search cannot
// return its first page.
func (d *Discoverer) Discover(ctx context.Context, city, keyword, apiKey string) ([]model.Place, error) {
	log := zap.L().With(zap.String("city", city), zap.String("keyword", keyword))
	client := d.newClient(apiKey)

	query := keyword + " in " + city
	results, err := d.paginate(ctx, "text", func(ctx context.Context, token string) (*google.SearchResponse, error) {
		return client.TextSearch(ctx, google.TextSearchRequest{Query: query, PageToken: token})
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: text search")
	}
	log.Info("text search complete", zap.Int("results", len(results)))

	if len(results) < d.opts.MinResults {
		results = append(results, d.fallback(ctx, client, city, len(results))...)
	}

	places := dedupe(results)
	log.Info("discovery complete", zap.Int("raw", len(results)), zap.Int("places", len(places)))
	return places, nil
}

// fallback runs the radius search around the gazetteer coordinates for
// city. Every failure here is soft.
func (d *Discoverer) fallback(ctx context.Context, client google.Client, city string, have int) []google.Result {
	log := zap.L().With(zap.String("city", city))

	at, ok := d.gazetteer.Lookup(city)
	if !ok {
		log.Info("no coordinates for location, skipping nearby search",
			zap.Strings("tried", LookupKeys(city)),
		)
		return nil
	}

	log.Info("low result count, trying nearby search", zap.Int("results", have))
	results, err := d.paginate(ctx, "nearby", func(ctx context.Context, token string) (*google.SearchResponse, error) {
		return client.NearbySearch(ctx, google.NearbySearchRequest{
			Lat:       at.Lat,
			Lng:       at.Lng,
			Radius:    d.opts.Radius,
			Type:      d.opts.PlaceType,
			PageToken: token,
		})
	})
	if err != nil {
		log.Warn("nearby search failed", zap.Error(err))
	}
	return results
}

// paginate pages through one search branch. An error is returned only when
// the first page fails; later failures end the branch with the results
// gathered so far.
func (d *Discoverer) paginate(ctx context.Context, branch string, fetch func(ctx context.Context, token string) (*google.SearchResponse, error)) ([]google.Result, error) {
	log := zap.L().With(zap.String("branch", branch))

	var (
		results []google.Result
		token   string
	)

	for page := 1; page <= d.opts.MaxPages; page++ {
		if page > 1 {
			if err := d.sleep(ctx, d.opts.PageTokenDelay); err != nil {
				return results, nil
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			if page == 1 {
				return nil, eris.Wrap(err, "rate limit wait")
			}
			return results, nil
		}

		resp, err := fetch(ctx, token)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			log.Warn("search page failed", zap.Int("page", page), zap.Error(err))
			return results, nil
		}

		if !resp.OK() {
			if page == 1 {
				return nil, statusError(resp)
			}
			log.Warn("search page status", zap.Int("page", page), zap.String("status", resp.Status))
			return results, nil
		}

		results = append(results, resp.Results...)
		log.Debug("search page", zap.Int("page", page), zap.Int("results", len(resp.Results)))

		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}

	return results, nil
}

func statusError(resp *google.SearchResponse) error {
	if resp.ErrorMessage == "" {
		return eris.Errorf("status %s", resp.Status)
	}
	return eris.Errorf("status %s: %s", resp.Status, resp.ErrorMessage)
}

// dedupe keeps the first record per place id, in order, and maps each into
// a Place. Records without an id are dropped.
func dedupe(results []google.Result) []model.Place {
	seen := make(map[string]struct{}, len(results))
	places := make([]model.Place, 0, len(results))
	for _, r := range results {
		if r.PlaceID == "" {
			continue
		}
		if _, ok := seen[r.PlaceID]; ok {
			continue
		}
		seen[r.PlaceID] = struct{}{}
		places = append(places, toPlace(r))
	}
	return places
}

func toPlace(r google.Result) model.Place {
	return model.Place{
		ExternalID: r.PlaceID,
		Name:       r.Name,
		Address:    r.Address(),
		Website:    r.Website,
		Phone:      r.InternationalPhoneNumber,
	}
}
