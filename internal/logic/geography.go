package logic

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Geography maps named region groups to country sets and named topics to
// keyword sets, so flights can target "eu" or "developer-tools" instead of
// enumerating countries and keywords per flight.
type Geography struct {
	tables atomic.Pointer[geoTables]
}

type geoTables struct {
	regions map[string]map[string]bool
	topics  map[string]map[string]bool
}

type geographyFile struct {
	Regions map[string][]string `yaml:"regions"`
	Topics  map[string][]string `yaml:"topics"`
}

var defaultRegions = map[string][]string{
	"us-ca": {"US", "CA"},
	"eu": {
		"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
		"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
		"PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB", "CH", "NO", "IS",
	},
	"eu-aus-nz": {
		"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR",
		"DE", "GR", "HU", "IE", "IT", "LV", "LT", "LU", "MT", "NL",
		"PL", "PT", "RO", "SK", "SI", "ES", "SE", "GB", "CH", "NO", "IS",
		"AU", "NZ",
	},
	"latam": {
		"AR", "BO", "BR", "CL", "CO", "CR", "CU", "DO", "EC", "GT",
		"HN", "MX", "NI", "PA", "PE", "PY", "SV", "UY", "VE",
	},
	"apac": {
		"AU", "CN", "HK", "ID", "IN", "JP", "KR", "MY", "NZ", "PH",
		"SG", "TH", "TW", "VN",
	},
}

var defaultTopics = map[string][]string{
	"backend":         {"go", "golang", "rust", "python", "java", "api", "database", "postgres", "redis", "kafka"},
	"frontend":        {"javascript", "typescript", "react", "vue", "svelte", "css", "html", "webdev"},
	"devops":          {"kubernetes", "docker", "terraform", "aws", "gcp", "azure", "ci", "cd", "sre", "observability"},
	"security":        {"security", "appsec", "cryptography", "vulnerability", "pentest", "auth"},
	"data-science":    {"machine-learning", "ai", "data", "analytics", "pandas", "llm", "mlops"},
	"developer-tools": {"ide", "editor", "git", "cli", "terminal", "productivity", "testing"},
}

// NewGeography returns the compiled-in region and topic tables.
func NewGeography() *Geography {
	g := &Geography{}
	g.tables.Store(buildGeoTables(defaultRegions, defaultTopics))
	return g
}

// LoadGeography builds the tables from a YAML file layered on top of the
// defaults. An empty path returns the defaults.
func LoadGeography(path string) (*Geography, error) {
	g := NewGeography()
	if path == "" {
		return g, nil
	}
	if err := g.Reload(path); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload re-reads the YAML file and atomically swaps the tables. File
// entries override defaults of the same name; unnamed defaults remain.
func (g *Geography) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read geography: %w", err)
	}
	var f geographyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse geography: %w", err)
	}

	regions := map[string][]string{}
	for name, countries := range defaultRegions {
		regions[name] = countries
	}
	for name, countries := range f.Regions {
		regions[strings.ToLower(name)] = countries
	}
	topics := map[string][]string{}
	for name, keywords := range defaultTopics {
		topics[name] = keywords
	}
	for name, keywords := range f.Topics {
		topics[strings.ToLower(name)] = keywords
	}

	g.tables.Store(buildGeoTables(regions, topics))
	return nil
}

func buildGeoTables(regions, topics map[string][]string) *geoTables {
	t := &geoTables{
		regions: make(map[string]map[string]bool, len(regions)),
		topics:  make(map[string]map[string]bool, len(topics)),
	}
	for name, countries := range regions {
		set := make(map[string]bool, len(countries))
		for _, c := range countries {
			set[strings.ToUpper(c)] = true
		}
		t.regions[strings.ToLower(name)] = set
	}
	for name, keywords := range topics {
		set := make(map[string]bool, len(keywords))
		for _, k := range keywords {
			set[strings.ToLower(k)] = true
		}
		t.topics[strings.ToLower(name)] = set
	}
	return t
}

// RegionContains reports whether country belongs to the named region group.
// Unknown regions contain nothing.
func (g *Geography) RegionContains(region, country string) bool {
	set, ok := g.tables.Load().regions[strings.ToLower(region)]
	if !ok {
		return false
	}
	return set[strings.ToUpper(country)]
}

// TopicMatches reports whether any of the request keywords belongs to the
// named topic.
func (g *Geography) TopicMatches(topic string, keywords map[string]bool) bool {
	set, ok := g.tables.Load().topics[strings.ToLower(topic)]
	if !ok {
		return false
	}
	for k := range keywords {
		if set[strings.ToLower(k)] {
			return true
		}
	}
	return false
}
