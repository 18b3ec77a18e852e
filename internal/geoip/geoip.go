package geoip

import (
	"encoding/json"
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
)

// Location is the result of a geo lookup. Empty fields mean the database
// had no answer; lookups never fail hard on the decision path.
type Location struct {
	// Country is the ISO 3166-1 alpha-2 code.
	Country string
	// Region is the first subdivision ISO code (state/province).
	Region string
	// Metro is the US DMA metro code, zero outside the US.
	Metro int
}

// GeoIP provides location lookup using a MaxMind City DB or a JSON fallback.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []record
}

type record struct {
	net     *net.IPNet
	country string
	region  string
	metro   int
}

// Init opens the GeoIP2 database located at path. When the file is not a
// MaxMind database it is retried as a JSON array of CIDR records, which is
// what tests and dev environments use.
func Init(path string) (*GeoIP, error) {
	g := &GeoIP{}
	db, err := geoip2.Open(path)
	if err == nil {
		g.db = db
		return g, nil
	}

	data, jerr := os.ReadFile(path)
	if jerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
		Region  string `json:"region"`
		Metro   int    `json:"metro"`
	}
	if jerr = json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, record{net: n, country: e.Country, region: e.Region, metro: e.Metro})
		}
	}
	return g, nil
}

// Lookup resolves an IP to a Location. A nil receiver, an unknown IP, or a
// database error all return the zero Location.
func (g *GeoIP) Lookup(ip net.IP) Location {
	if g == nil || ip == nil {
		return Location{}
	}
	if g.db != nil {
		rec, err := g.db.City(ip)
		if err == nil {
			loc := Location{
				Country: rec.Country.IsoCode,
				Metro:   int(rec.Location.MetroCode),
			}
			if len(rec.Subdivisions) > 0 {
				loc.Region = rec.Subdivisions[0].IsoCode
			}
			return loc
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return Location{Country: r.country, Region: r.region, Metro: r.metro}
		}
	}
	return Location{}
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
