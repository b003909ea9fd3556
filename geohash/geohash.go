package geohash

import (
	"github.com/mmcloughlin/geohash"
)

// LabelPrecision is the number of geohash characters used to label stored points.
const LabelPrecision = 9

// Encode coordinates into a geohash with specified precision.
func Encode(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// Project maps a geographic position onto the unit square. x grows eastward from the
// antimeridian and y grows southward from the north pole, so the NW quadrant of the
// index is the north-western quarter of the globe. Latitude -90 and longitude 180
// land on the excluded upper edge of the square.
func Project(lat, lon float64) (x, y float64) {
	return (lon + 180) / 360, (90 - lat) / 180
}

// Unproject is the inverse of Project.
func Unproject(x, y float64) (lat, lon float64) {
	return 90 - y*180, x*360 - 180
}

// CellBounds returns the geographic box covered by a unit square region.
func CellBounds(minX, minY, maxX, maxY float64) (minLat, minLon, maxLat, maxLon float64) {
	maxLat, minLon = Unproject(minX, minY)
	minLat, maxLon = Unproject(maxX, maxY)
	return minLat, minLon, maxLat, maxLon
}
