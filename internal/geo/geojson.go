package geo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

// ErrUnsupportedGeometry is returned for GeoJSON types other than Point,
// Polygon and MultiPolygon.
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

type radiusField struct {
	RadiusKm float64 `json:"radiusKm"`
}

// ParseGeoJSON decodes a customGeolocation value. Points may carry a
// radiusKm member next to their coordinates.
func ParseGeoJSON(data []byte) (*crawler.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	switch shape := g.Geometry().(type) {
	case orb.Point:
		var extra radiusField
		if err := json.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("parsing radius: %w", err)
		}
		return &crawler.Geometry{Shape: shape, RadiusKm: extra.RadiusKm}, nil
	case orb.Polygon, orb.MultiPolygon:
		return &crawler.Geometry{Shape: shape}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.Type)
	}
}
