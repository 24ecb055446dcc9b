package discovery

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed gazetteer.yaml
var gazetteerYAML []byte

// LatLng is a point in decimal degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// Gazetteer maps location strings (city names, boroughs, ZIP codes) to the
// coordinates used by the radius-search fallback.
type Gazetteer struct {
	entries map[string]LatLng
}

type gazetteerFile struct {
	Cities map[string][]float64 `yaml:"cities"`
	Zips   map[string][]float64 `yaml:"zips"`
}

// LoadGazetteer parses a gazetteer document.
func LoadGazetteer(data []byte) (*Gazetteer, error) {
	var f gazetteerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "discovery: parse gazetteer")
	}
	g := &Gazetteer{entries: make(map[string]LatLng, len(f.Cities)+len(f.Zips))}
	for _, section := range []map[string][]float64{f.Cities, f.Zips} {
		for key, c := range section {
			if len(c) != 2 {
				return nil, eris.Errorf("discovery: gazetteer entry %q needs [lat, lng]", key)
			}
			g.entries[key] = LatLng{Lat: c[0], Lng: c[1]}
		}
	}
	return g, nil
}

// DefaultGazetteer returns the embedded gazetteer.
func DefaultGazetteer() *Gazetteer {
	g, err := LoadGazetteer(gazetteerYAML)
	if err != nil {
		panic(err)
	}
	return g
}

// Len returns the number of known locations.
func (g *Gazetteer) Len() int { return len(g.entries) }

var whitespace = regexp.MustCompile(`\s+`)

// LookupKeys returns the normalized forms tried for a location, in order.
func LookupKeys(location string) []string {
	lower := strings.ToLower(location)
	return []string{
		strings.TrimSpace(lower),
		whitespace.ReplaceAllString(lower, ""),
		whitespace.ReplaceAllString(lower, " "),
		strings.TrimSpace(location),
	}
}

// Lookup returns the coordinates for location using the first normalized
// form that matches.
func (g *Gazetteer) Lookup(location string) (LatLng, bool) {
	for _, key := range LookupKeys(location) {
		if c, ok := g.entries[key]; ok {
			return c, true
		}
	}
	return LatLng{}, false
}
