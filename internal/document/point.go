// Package document defines the two document kinds replicated by this
// service — posts and users — plus the validation rules the original
// MeshNetwork models (backend/models/post.py, backend/models/user.py)
// enforced at the HTTP boundary.
package document

import "fmt"

// Point is a GeoJSON Point: Coordinates are [longitude, latitude].
type Point struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewPoint returns the zero-value point used as a default location.
func NewPoint() Point {
	return Point{Type: "Point", Coordinates: []float64{0, 0}}
}

// Validate checks the GeoJSON Point shape and coordinate bounds.
func (p Point) Validate() error {
	if p.Type != "Point" {
		return fmt.Errorf("location type must be 'Point'")
	}
	if len(p.Coordinates) != 2 {
		return fmt.Errorf("location coordinates must be [longitude, latitude]")
	}
	lon, lat := p.Coordinates[0], p.Coordinates[1]
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("invalid coordinate values")
	}
	return nil
}
