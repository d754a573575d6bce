package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/JakeFAU/placescrawler/internal/crawler"
	"github.com/JakeFAU/placescrawler/internal/geo"
)

// Input defaults.
const (
	DefaultMaxPlacesPerSearch = 500
	DefaultLanguage           = "en"
	DefaultMaxReviews         = 5000
)

// Input is the user-facing description of what to crawl. It may live under
// the `input` key of the config file or in a standalone JSON file.
type Input struct {
	SearchTerms               []string       `mapstructure:"searchTerms" json:"searchTerms"`
	Categories                []string       `mapstructure:"categories" json:"categories"`
	Location                  string         `mapstructure:"location" json:"location"`
	CustomGeolocation         map[string]any `mapstructure:"customGeolocation" json:"customGeolocation"`
	MaxCrawledPlacesPerSearch int            `mapstructure:"maxCrawledPlacesPerSearch" json:"maxCrawledPlacesPerSearch"`
	Language                  string         `mapstructure:"language" json:"language"`
	ExtractReviews            *bool          `mapstructure:"extractReviews" json:"extractReviews"`
	MaxReviews                *int           `mapstructure:"maxReviews" json:"maxReviews"`
	EnrichContacts            bool           `mapstructure:"enrichContacts" json:"enrichContacts"`
	EnrichLeads               bool           `mapstructure:"enrichLeads" json:"enrichLeads"`
	EnrichSocialProfiles      []string       `mapstructure:"enrichSocialProfiles" json:"enrichSocialProfiles"`
}

// Normalized is Input with defaults applied and search jobs expanded.
type Normalized struct {
	Jobs           []crawler.SearchJob
	ExtractReviews bool
	MaxReviews     int
	EnrichContacts bool
	EnrichLeads    bool
	SocialNetworks []crawler.SocialNetwork
}

// LoadInput reads a JSON input file.
func LoadInput(path string) (Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("read input: %w", err)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, fmt.Errorf("decode input %s: %w", path, err)
	}
	return in, nil
}

// Normalize applies defaults and builds one SearchJob per term × category.
// With neither terms nor categories a single job is built.
func (in Input) Normalize() (Normalized, error) {
	out := Normalized{
		ExtractReviews: in.ExtractReviews == nil || *in.ExtractReviews,
		MaxReviews:     DefaultMaxReviews,
		EnrichContacts: in.EnrichContacts,
		EnrichLeads:    in.EnrichLeads,
		SocialNetworks: socialNetworks(in.EnrichSocialProfiles),
	}
	if in.MaxReviews != nil && *in.MaxReviews >= 0 {
		out.MaxReviews = *in.MaxReviews
	}

	maxPlaces := in.MaxCrawledPlacesPerSearch
	if maxPlaces <= 0 {
		maxPlaces = DefaultMaxPlacesPerSearch
	}
	language := strings.TrimSpace(in.Language)
	if language == "" {
		language = DefaultLanguage
	}

	var geometry *crawler.Geometry
	if len(in.CustomGeolocation) > 0 {
		raw, err := json.Marshal(in.CustomGeolocation)
		if err != nil {
			return Normalized{}, fmt.Errorf("encode customGeolocation: %w", err)
		}
		geometry, err = geo.ParseGeoJSON(raw)
		if err != nil {
			return Normalized{}, fmt.Errorf("customGeolocation: %w", err)
		}
	}

	terms := nonBlank(in.SearchTerms)
	if len(terms) == 0 {
		terms = []string{""}
	}
	categories := nonBlank(in.Categories)
	if len(categories) == 0 {
		categories = []string{""}
	}
	location := strings.TrimSpace(in.Location)

	for _, term := range terms {
		for _, category := range categories {
			out.Jobs = append(out.Jobs, crawler.SearchJob{
				ID:                 fmt.Sprintf("job-%d", len(out.Jobs)+1),
				SearchTerm:         term,
				Category:           category,
				LocationText:       location,
				Language:           language,
				MaxPlacesPerSearch: maxPlaces,
				Geometry:           geometry,
			})
		}
	}
	return out, nil
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// socialNetworks keeps known networks in input order, dropping unknown
// values and repeats.
func socialNetworks(values []string) []crawler.SocialNetwork {
	var out []crawler.SocialNetwork
	for _, v := range values {
		n := crawler.SocialNetwork(strings.ToLower(strings.TrimSpace(v)))
		if slices.Contains(crawler.SocialNetworks, n) && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
