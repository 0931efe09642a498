package service

import (
	"context"
	"math"

	"deedstudio/internal/model"
)

// GeoLocator resolves the coordinate attached to a publish. Errors are
// never fatal to a publish.
type GeoLocator interface {
	Locate(ctx context.Context, req model.PublishRequest) (*model.GeoPoint, error)
}

// RequestGeo trusts the coordinate the client sent, if it is a real one.
type RequestGeo struct{}

func (RequestGeo) Locate(ctx context.Context, req model.PublishRequest) (*model.GeoPoint, error) {
	g := req.Geo
	if g == nil {
		return nil, nil
	}
	if math.IsNaN(g.Lat) || math.IsNaN(g.Lng) || g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return nil, model.Validationf("locate", "coordinate out of range")
	}
	return &model.GeoPoint{Lat: g.Lat, Lng: g.Lng}, nil
}
