package models

import (
	"fmt"
	"sync"
)

// AdDataStore provides thread-safe access to the in-memory ad object graph:
// publishers, advertisers, campaigns, flights, advertisements and ad types.
// The graph is read-mostly; implementations must support atomic wholesale
// reloads so the decision path never observes a half-updated graph.
type AdDataStore interface {
	GetPublisher(slug string) *Publisher
	GetPublisherByToken(token string) *Publisher
	GetAdvertiser(slug string) *Advertiser
	GetCampaign(slug string) *Campaign
	GetFlight(slug string) *Flight
	GetAdvertisement(slug string) *Advertisement
	GetAdType(slug string) *AdType

	// LiveFlights returns every flight currently flagged live.
	LiveFlights() []*Flight
	// AdsByFlight returns the live advertisements under a flight.
	AdsByFlight(flightSlug string) []*Advertisement
	// FlightsByCampaign returns all flights under a campaign.
	FlightsByCampaign(campaignSlug string) []*Flight

	// ReloadAll atomically replaces the whole object graph.
	ReloadAll(pubs []Publisher, advertisers []Advertiser, campaigns []Campaign, flights []Flight, ads []Advertisement, adTypes []AdType) error

	// UpdateFlightTotals sets the denormalized view/click totals on a flight.
	UpdateFlightTotals(slug string, views, clicks int64) error
}

// InMemoryAdDataStore is the standard AdDataStore backed by slug-indexed
// maps under an RWMutex.
type InMemoryAdDataStore struct {
	mu sync.RWMutex

	publishers  map[string]*Publisher
	tokens      map[string]*Publisher
	advertisers map[string]*Advertiser
	campaigns   map[string]*Campaign
	flights     map[string]*Flight
	ads         map[string]*Advertisement
	adTypes     map[string]*AdType

	adsByFlight       map[string][]*Advertisement
	flightsByCampaign map[string][]*Flight
}

// NewInMemoryAdDataStore creates an empty store.
func NewInMemoryAdDataStore() *InMemoryAdDataStore {
	s := &InMemoryAdDataStore{}
	s.reset()
	return s
}

func (s *InMemoryAdDataStore) reset() {
	s.publishers = map[string]*Publisher{}
	s.tokens = map[string]*Publisher{}
	s.advertisers = map[string]*Advertiser{}
	s.campaigns = map[string]*Campaign{}
	s.flights = map[string]*Flight{}
	s.ads = map[string]*Advertisement{}
	s.adTypes = map[string]*AdType{}
	s.adsByFlight = map[string][]*Advertisement{}
	s.flightsByCampaign = map[string][]*Flight{}
}

func (s *InMemoryAdDataStore) GetPublisher(slug string) *Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishers[slug]
}

func (s *InMemoryAdDataStore) GetPublisherByToken(token string) *Publisher {
	if token == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token]
}

func (s *InMemoryAdDataStore) GetAdvertiser(slug string) *Advertiser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advertisers[slug]
}

func (s *InMemoryAdDataStore) GetCampaign(slug string) *Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.campaigns[slug]
}

func (s *InMemoryAdDataStore) GetFlight(slug string) *Flight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flights[slug]
}

func (s *InMemoryAdDataStore) GetAdvertisement(slug string) *Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ads[slug]
}

func (s *InMemoryAdDataStore) GetAdType(slug string) *AdType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adTypes[slug]
}

func (s *InMemoryAdDataStore) LiveFlights() []*Flight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Flight, 0, len(s.flights))
	for _, f := range s.flights {
		if f.Live {
			out = append(out, f)
		}
	}
	return out
}

func (s *InMemoryAdDataStore) AdsByFlight(flightSlug string) []*Advertisement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Advertisement
	for _, a := range s.adsByFlight[flightSlug] {
		if a.Live {
			out = append(out, a)
		}
	}
	return out
}

func (s *InMemoryAdDataStore) FlightsByCampaign(campaignSlug string) []*Flight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flightsByCampaign[campaignSlug]
}

// ReloadAll atomically replaces the whole object graph. Referential
// integrity is checked so a flight pointing at a missing campaign fails the
// reload rather than disappearing from selection silently.
func (s *InMemoryAdDataStore) ReloadAll(pubs []Publisher, advertisers []Advertiser, campaigns []Campaign, flights []Flight, ads []Advertisement, adTypes []AdType) error {
	next := NewInMemoryAdDataStore()

	for i := range pubs {
		p := &pubs[i]
		next.publishers[p.Slug] = p
		if p.Token != "" {
			next.tokens[p.Token] = p
		}
	}
	for i := range advertisers {
		a := &advertisers[i]
		next.advertisers[a.Slug] = a
	}
	for i := range campaigns {
		c := &campaigns[i]
		next.campaigns[c.Slug] = c
	}
	for i := range flights {
		f := &flights[i]
		if next.campaigns[f.CampaignSlug] == nil {
			return fmt.Errorf("flight %s references unknown campaign %s", f.Slug, f.CampaignSlug)
		}
		next.flights[f.Slug] = f
		next.flightsByCampaign[f.CampaignSlug] = append(next.flightsByCampaign[f.CampaignSlug], f)
	}
	for i := range ads {
		a := &ads[i]
		if next.flights[a.FlightSlug] == nil {
			return fmt.Errorf("advertisement %s references unknown flight %s", a.Slug, a.FlightSlug)
		}
		next.ads[a.Slug] = a
		next.adsByFlight[a.FlightSlug] = append(next.adsByFlight[a.FlightSlug], a)
	}
	for i := range adTypes {
		t := &adTypes[i]
		next.adTypes[t.Slug] = t
	}

	s.mu.Lock()
	s.publishers = next.publishers
	s.tokens = next.tokens
	s.advertisers = next.advertisers
	s.campaigns = next.campaigns
	s.flights = next.flights
	s.ads = next.ads
	s.adTypes = next.adTypes
	s.adsByFlight = next.adsByFlight
	s.flightsByCampaign = next.flightsByCampaign
	s.mu.Unlock()
	return nil
}

func (s *InMemoryAdDataStore) UpdateFlightTotals(slug string, views, clicks int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[slug]
	if !ok {
		return fmt.Errorf("unknown flight %s", slug)
	}
	f.TotalViews = views
	f.TotalClicks = clicks
	return nil
}
