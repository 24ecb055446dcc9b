package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadstorm/internal/model"
	"github.com/sells-group/leadstorm/pkg/google"
	"github.com/sells-group/leadstorm/pkg/google/mocks"
)

func newTestEnricher(t *testing.T) (*Enricher, *mocks.MockClient) {
	t.Helper()
	client := mocks.NewMockClient(t)
	return New(func(string) google.Client { return client }), client
}

func TestEnrich_FillsMissingFields(t *testing.T) {
	e, client := newTestEnricher(t)

	client.On("Details", mock.Anything, "p1", google.DetailFields).Return(&google.DetailsResponse{
		Status: google.StatusOK,
		Result: google.Result{
			Name:                     "Sugar Loaf Bakery",
			FormattedAddress:         "1 Congress Ave, Austin, TX",
			Website:                  "https://sugarloaf.test",
			InternationalPhoneNumber: "+1 512-555-0101",
		},
	}, nil).Once()

	got := e.Enrich(context.Background(), model.Place{ExternalID: "p1", Name: "Sugar Loaf"}, "key")

	assert.Equal(t, model.Place{
		ExternalID: "p1",
		Name:       "Sugar Loaf Bakery",
		Address:    "1 Congress Ave, Austin, TX",
		Website:    "https://sugarloaf.test",
		Phone:      "+1 512-555-0101",
	}, got)
}

func TestEnrich_KeepsExistingWhenDetailEmpty(t *testing.T) {
	e, client := newTestEnricher(t)

	client.On("Details", mock.Anything, "p1", google.DetailFields).Return(&google.DetailsResponse{
		Status: google.StatusOK,
		Result: google.Result{Website: "https://sugarloaf.test"},
	}, nil).Once()

	in := model.Place{ExternalID: "p1", Name: "Sugar Loaf", Phone: "+1 512-555-0101", Address: "1 Congress Ave"}
	got := e.Enrich(context.Background(), in, "key")

	assert.Equal(t, "Sugar Loaf", got.Name)
	assert.Equal(t, "+1 512-555-0101", got.Phone)
	assert.Equal(t, "1 Congress Ave", got.Address)
	assert.Equal(t, "https://sugarloaf.test", got.Website)
}

func TestEnrich_ErrorReturnsOriginal(t *testing.T) {
	e, client := newTestEnricher(t)

	client.On("Details", mock.Anything, "p1", google.DetailFields).Return(nil, errors.New("timeout")).Once()

	in := model.Place{ExternalID: "p1", Name: "Sugar Loaf"}
	assert.Equal(t, in, e.Enrich(context.Background(), in, "key"))
}

func TestEnrich_NonOKStatusReturnsOriginal(t *testing.T) {
	e, client := newTestEnricher(t)

	client.On("Details", mock.Anything, "p1", google.DetailFields).Return(&google.DetailsResponse{
		Status: "NOT_FOUND",
		Result: google.Result{Website: "https://ignored.test"},
	}, nil).Once()

	in := model.Place{ExternalID: "p1", Name: "Sugar Loaf"}
	assert.Equal(t, in, e.Enrich(context.Background(), in, "key"))
}
