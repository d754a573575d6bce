// Package geo turns search-job geometry into map tiles.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/JakeFAU/placescrawler/internal/crawler"
)

const (
	// DefaultTileSizeKm is the approximate edge of one search viewport.
	DefaultTileSizeKm = 2.5
	// DefaultZoom is the map zoom used for tile searches.
	DefaultZoom = 15
	// DefaultMaxTiles caps tiles generated per geometry.
	DefaultMaxTiles = 400
	// DefaultRadiusKm applies to points without an explicit radius.
	DefaultRadiusKm = 3.0

	globalZoom  = 3
	kmPerDegree = 111.0
	minSpanDeg  = 0.0001
	// minCosLat bounds the longitude shrink factor near the poles (~89.4°).
	minCosLat = 0.01
)

// Options tunes tile generation.
type Options struct {
	TileSizeKm float64
	Zoom       int
	MaxTiles   int
}

func (o Options) withDefaults() Options {
	if o.TileSizeKm <= 0 {
		o.TileSizeKm = DefaultTileSizeKm
	}
	if o.Zoom <= 0 {
		o.Zoom = DefaultZoom
	}
	if o.MaxTiles <= 0 {
		o.MaxTiles = DefaultMaxTiles
	}
	return o
}

// TilesFor returns the tiles covering a job's geometry. A job without
// geometry yields a single global tile.
func TilesFor(job crawler.SearchJob, opts Options) ([]crawler.Tile, error) {
	opts = opts.withDefaults()
	if job.Geometry == nil || job.Geometry.Shape == nil {
		return []crawler.Tile{{
			ID:     job.ID + "-global",
			Center: crawler.LatLng{},
			Zoom:   globalZoom,
		}}, nil
	}
	boxes, err := BoundingBoxes(*job.Geometry)
	if err != nil {
		return nil, err
	}
	if len(boxes) > opts.MaxTiles {
		union := boxes[0]
		for _, b := range boxes[1:] {
			union = union.Union(b)
		}
		boxes = []orb.Bound{union}
	}
	budget := opts.MaxTiles / len(boxes)
	tiles := make([]crawler.Tile, 0, opts.MaxTiles)
	for _, box := range boxes {
		for _, center := range gridCenters(box, opts.TileSizeKm, budget) {
			tiles = append(tiles, crawler.Tile{
				ID:     fmt.Sprintf("tile-%d", len(tiles)),
				Center: center,
				Zoom:   opts.Zoom,
			})
		}
	}
	return tiles, nil
}

// BoundingBoxes returns one bound per point radius, polygon or member polygon.
func BoundingBoxes(g crawler.Geometry) ([]orb.Bound, error) {
	switch shape := g.Shape.(type) {
	case orb.Point:
		radius := g.RadiusKm
		if radius <= 0 {
			radius = DefaultRadiusKm
		}
		return []orb.Bound{pointBound(shape, radius)}, nil
	case orb.Polygon:
		if len(shape) == 0 {
			return nil, fmt.Errorf("polygon has no rings")
		}
		return []orb.Bound{shape.Bound()}, nil
	case orb.MultiPolygon:
		boxes := make([]orb.Bound, 0, len(shape))
		for _, poly := range shape {
			if len(poly) == 0 {
				continue
			}
			boxes = append(boxes, poly.Bound())
		}
		if len(boxes) == 0 {
			return nil, fmt.Errorf("multipolygon has no rings")
		}
		return boxes, nil
	default:
		return nil, fmt.Errorf("unsupported geometry %T", g.Shape)
	}
}

func pointBound(p orb.Point, radiusKm float64) orb.Bound {
	latDelta := radiusKm / kmPerDegree
	lngDelta := min(radiusKm/kmPerLngDegree(p.Lat()), 180)
	return orb.Bound{
		Min: orb.Point{p.Lon() - lngDelta, p.Lat() - latDelta},
		Max: orb.Point{p.Lon() + lngDelta, p.Lat() + latDelta},
	}
}

// kmPerLngDegree is the length of one degree of longitude at lat.
func kmPerLngDegree(lat float64) float64 {
	return kmPerDegree * math.Max(math.Abs(math.Cos(lat*math.Pi/180)), minCosLat)
}

// gridCenters subdivides a bound into at most maxCells equal cells and returns
// their centers, clamped to the bound's max edge.
func gridCenters(b orb.Bound, tileSizeKm float64, maxCells int) []crawler.LatLng {
	if maxCells < 1 {
		maxCells = 1
	}
	minLat, maxLat := b.Min.Lat(), b.Max.Lat()
	minLng, maxLng := b.Min.Lon(), b.Max.Lon()
	centerLat := (minLat + maxLat) / 2

	latStep := tileSizeKm / kmPerDegree
	lngStep := tileSizeKm / kmPerLngDegree(centerLat)

	latSpan := math.Max(maxLat-minLat, minSpanDeg)
	lngSpan := math.Max(maxLng-minLng, minSpanDeg)

	latCells := max(1, int(math.Ceil(latSpan/latStep)))
	lngCells := max(1, int(math.Ceil(lngSpan/lngStep)))
	latCells, lngCells = capCells(latCells, lngCells, maxCells)

	latSize := (maxLat - minLat) / float64(latCells)
	lngSize := (maxLng - minLng) / float64(lngCells)

	centers := make([]crawler.LatLng, 0, latCells*lngCells)
	for i := 0; i < latCells; i++ {
		lat := minLat + latSize*(float64(i)+0.5)
		if i == latCells-1 {
			lat = math.Min(lat, maxLat)
		}
		for j := 0; j < lngCells; j++ {
			lng := minLng + lngSize*(float64(j)+0.5)
			if j == lngCells-1 {
				lng = math.Min(lng, maxLng)
			}
			centers = append(centers, crawler.LatLng{Lat: lat, Lng: lng})
		}
	}
	return centers
}

// capCells scales both axes by sqrt(total/cap) and then trims the larger axis
// until the product fits.
func capCells(latCells, lngCells, maxCells int) (int, int) {
	total := latCells * lngCells
	if total <= maxCells {
		return latCells, lngCells
	}
	scale := math.Sqrt(float64(total) / float64(maxCells))
	latCells = max(1, int(math.Round(float64(latCells)/scale)))
	lngCells = max(1, int(math.Round(float64(lngCells)/scale)))
	for latCells*lngCells > maxCells {
		if latCells >= lngCells {
			latCells = max(1, maxCells/lngCells)
		} else {
			lngCells = max(1, maxCells/latCells)
		}
	}
	return latCells, lngCells
}
