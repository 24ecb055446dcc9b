package model

// Place is a candidate business returned by location search, before it is
// accepted as a lead.
type Place struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Website    string `json:"website,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Merge returns a copy of p with every non-empty field of other applied.
// ExternalID is never replaced.
func (p Place) Merge(other Place) Place {
	if other.Name != "" {
		p.Name = other.Name
	}
	if other.Address != "" {
		p.Address = other.Address
	}
	if other.Website != "" {
		p.Website = other.Website
	}
	if other.Phone != "" {
		p.Phone = other.Phone
	}
	return p
}
