// Package enrich fills in missing place attributes from Place Details.
package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/pkg/google"
)

// Enricher looks up place details for places found without a website.
type Enricher struct {
	newClient google.Factory
	fields    []string
}

// New creates an Enricher that requests the default detail fields.
func New(newClient google.Factory) *Enricher {
	return &Enricher{newClient: newClient, fields: google.DetailFields}
}

// Enrich returns place with any non-empty detail fields applied. Lookup
// failures and non-OK statuses return place unchanged; enrichment never
// fails a run.
func (e *Enricher) Enrich(ctx context.Context, place model.Place, apiKey string) model.Place {
	log := zap.L().With(zap.String("place_id", place.ExternalID))

	resp, err := e.newClient(apiKey).Details(ctx, place.ExternalID, e.fields)
	if err != nil {
		log.Warn("place details failed", zap.Error(err))
		return place
	}
	if resp.Status != google.StatusOK {
		log.Warn("place details status", zap.String("status", resp.Status))
		return place
	}

	return place.Merge(model.Place{
		Name:    resp.Result.Name,
		Address: resp.Result.Address(),
		Website: resp.Result.Website,
		Phone:   resp.Result.InternationalPhoneNumber,
	})
}
