package model

import "time"

// Lead is an accepted business contact persisted after a successful email
// extraction.
type Lead struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"placeId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Website    string    `json:"website,omitempty"`
	Address    string    `json:"address,omitempty"`
	City       string    `json:"city"`
	Keyword    string    `json:"keyword"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewLead builds a lead from a place found during a run.
func NewLead(p Place, email, city, keyword string) Lead {
	return Lead{
		ExternalID: p.ExternalID,
		Name:       p.Name,
		Email:      email,
		Phone:      p.Phone,
		Website:    p.Website,
		Address:    p.Address,
		City:       city,
		Keyword:    keyword,
	}
}
