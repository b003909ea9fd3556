package models

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"quadtree-index/geohash"
	"quadtree-index/quadtree"
)

// Kind names the payload type of a point.
type Kind string

const (
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindString  Kind = "string"
	KindBool    Kind = "bool"
)

var (
	// ErrUnknownKind is returned when a record names a payload kind that is not supported.
	ErrUnknownKind = errors.New("unknown point kind")
	// ErrBadValue is returned when a record's value does not parse as its kind.
	ErrBadValue = errors.New("value does not match point kind")
	// ErrNoPosition is returned when a record has neither x/y nor latitude/longitude.
	ErrNoPosition = errors.New("point has no position")
)

// PointRecord is a stored point as it travels through the API and the database.
type PointRecord struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Value     string    `json:"value"`
	X         *float64  `json:"x,omitempty"`
	Y         *float64  `json:"y,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Geohash   string    `json:"geohash,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Normalize fills in the unit square position from latitude/longitude when x/y are
// missing, and the geohash label when a geographic position is known.
func (r *PointRecord) Normalize() error {
	hasXY := r.X != nil && r.Y != nil
	hasGeo := r.Latitude != nil && r.Longitude != nil
	if !hasXY && !hasGeo {
		return ErrNoPosition
	}
	if hasGeo {
		if !hasXY {
			x, y := geohash.Project(*r.Latitude, *r.Longitude)
			r.X, r.Y = &x, &y
		}
		if r.Geohash == "" {
			r.Geohash = geohash.Encode(*r.Latitude, *r.Longitude, geohash.LabelPrecision)
		}
	}
	if r.Kind == "" {
		r.Kind = KindString
	}
	return nil
}

// Position returns the record's unit square position. Normalize must have succeeded.
func (r *PointRecord) Position() (x, y float64) {
	if r.X == nil || r.Y == nil {
		return 0, 0
	}
	return *r.X, *r.Y
}

// Item decodes the record into a tagged payload of its kind.
func (r *PointRecord) Item() (quadtree.Item, error) {
	if r.X == nil || r.Y == nil {
		return nil, ErrNoPosition
	}
	pos := Pos{*r.X, *r.Y}
	switch r.Kind {
	case KindInteger:
		v, err := strconv.Atoi(r.Value)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "%s %q", r.Kind, r.Value)
		}
		return Tagged[int]{ID: r.ID, Value: v, Pos: pos}, nil
	case KindFloat:
		v, err := strconv.ParseFloat(r.Value, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "%s %q", r.Kind, r.Value)
		}
		return Tagged[float64]{ID: r.ID, Value: v, Pos: pos}, nil
	case KindString:
		return Tagged[string]{ID: r.ID, Value: r.Value, Pos: pos}, nil
	case KindBool:
		v, err := strconv.ParseBool(r.Value)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "%s %q", r.Kind, r.Value)
		}
		return Tagged[bool]{ID: r.ID, Value: v, Pos: pos}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "%q", r.Kind)
	}
}
