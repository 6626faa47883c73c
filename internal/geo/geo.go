package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/fieldctf/engine/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// EarthRadius is the mean Earth radius in metres (IUGG).
const EarthRadius = 6371008.8

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the great-circle distance between a and b in metres.
// The haversine form keeps precision for distances of a few metres.
func Distance(a, b core.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// IsInRange reports whether point lies within radius metres of center.
func IsInRange(point, center core.Coordinate, radius float64) bool {
	return Distance(point, center) <= radius
}

// ParseCoordinate parses "lat,lng" in decimal degrees.
func ParseCoordinate(s string) (core.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	c := core.Coordinate{Lat: lat, Lng: lng}
	if !Valid(c) {
		return core.Coordinate{}, ErrInvalidCoordinates
	}
	return c, nil
}

// Valid reports whether c is a finite WGS84 coordinate.
func Valid(c core.Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// GEO POINTS
// Spatial columns are stored as EPSG:3857 WKB so both SQLite and Postgres
// can round-trip them through geom.Point's Scan/Value.

// Point3857 projects c to Web Mercator.
func Point3857(c core.Coordinate) geom.Point {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ := f(c.Lng, c.Lat, 0)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
}

// Coordinate4326 is the inverse of Point3857. It returns false for an empty point.
func Coordinate4326(p geom.Point) (core.Coordinate, bool) {
	coords, ok := p.Coordinates()
	if !ok {
		return core.Coordinate{}, false
	}
	f := wgs84.EPSG().Transform(3857, 4326)
	lng, lat, _ := f(coords.X, coords.Y, 0)
	return core.Coordinate{Lat: lat, Lng: lng}, true
}

// Circle approximates the zone boundary around center with segments vertices,
// for map overlays. The ring is closed (first vertex repeated last).
func Circle(center core.Coordinate, radius float64, segments int) []core.Coordinate {
	if segments < 3 {
		segments = 3
	}
	lat := toRadians(center.Lat)
	lng := toRadians(center.Lng)
	d := radius / EarthRadius

	ring := make([]core.Coordinate, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(segments)
		lat2 := math.Asin(math.Sin(lat)*math.Cos(d) + math.Cos(lat)*math.Sin(d)*math.Cos(bearing))
		lng2 := lng + math.Atan2(
			math.Sin(bearing)*math.Sin(d)*math.Cos(lat),
			math.Cos(d)-math.Sin(lat)*math.Sin(lat2),
		)
		ring = append(ring, core.Coordinate{
			Lat: lat2 * 180 / math.Pi,
			Lng: lng2 * 180 / math.Pi,
		})
	}
	return append(ring, ring[0])
}

// Outline returns the zone boundary as a WGS84 polygon (x = lng, y = lat).
func Outline(center core.Coordinate, radius float64, segments int) geom.Polygon {
	ring := Circle(center, radius, segments)
	flat := make([]float64, 0, len(ring)*2)
	for _, c := range ring {
		flat = append(flat, c.Lng, c.Lat)
	}
	return geom.NewPolygon([]geom.LineString{
		geom.NewLineString(geom.NewSequence(flat, geom.DimXY)),
	})
}
