package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Inbound device events. Payloads arrive as JSON on the broker; each kind is
// decoded into its own struct and validated before it reaches the core. The
// core never accepts an untyped payload.

var validate = validator.New(validator.WithRequiredStructEnabled())

// ButtonPressEvent is emitted by a stop unit when a passenger presses the call
// button for a route.
type ButtonPressEvent struct {
	StopID     string `json:"stop_id" validate:"required"`
	RouteID    string `json:"route_id" validate:"required"`
	RouteName  string `json:"route_name" validate:"required"`
	Color      string `json:"color,omitempty"`
	Passengers int    `json:"passengers,omitempty" validate:"gte=0"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// CancelEvent is emitted when a passenger cancels an outstanding call.
type CancelEvent struct {
	StopID  string `json:"stop_id" validate:"required"`
	RouteID string `json:"route_id" validate:"required"`
}

// LocationEvent is a raw GPS fix published by a bus unit.
type LocationEvent struct {
	BusID     string   `json:"bus_id" validate:"required"`
	RouteID   string   `json:"route_id" validate:"required"`
	Lat       float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lon       float64  `json:"lon" validate:"gte=-180,lte=180"`
	SpeedKmh  float64  `json:"speed_kmh" validate:"gte=0"`
	Heading   float64  `json:"heading" validate:"gte=0,lt=360"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"` // unix millis; zero means receive time
}

// locationAliases covers the older bus firmware field names (latitude/longitude,
// speed). Normalization happens here, at the boundary, never in the core.
type locationAliases struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed"`
	BusID     string   `json:"busId"`
	RouteID   string   `json:"routeId"`
}

// DecodeLocationEvent parses and validates a raw location payload. busID is
// the subject-derived identifier, used when the payload omits it.
func DecodeLocationEvent(data []byte, busID string) (*LocationEvent, error) {
	var ev LocationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode location event: %w", err)
	}

	// Zero is a valid coordinate and speed, so field presence is checked
	// through pointer decodes; a canonical field always beats its alias.
	var canon struct {
		Lat      *float64 `json:"lat"`
		Lon      *float64 `json:"lon"`
		SpeedKmh *float64 `json:"speed_kmh"`
	}
	_ = json.Unmarshal(data, &canon)

	var alias locationAliases
	if err := json.Unmarshal(data, &alias); err == nil {
		if canon.Lat == nil && alias.Latitude != nil {
			ev.Lat = *alias.Latitude
		}
		if canon.Lon == nil && alias.Longitude != nil {
			ev.Lon = *alias.Longitude
		}
		if canon.SpeedKmh == nil && alias.Speed != nil {
			ev.SpeedKmh = *alias.Speed
		}
		if ev.BusID == "" {
			ev.BusID = alias.BusID
		}
		if ev.RouteID == "" {
			ev.RouteID = alias.RouteID
		}
	}
	if ev.BusID == "" {
		ev.BusID = busID
	}

	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid location event: %w", err)
	}
	return &ev, nil
}

// DecodeButtonPressEvent parses and validates a raw button-press payload.
// stopID and routeID are the subject-derived identifiers, used when the
// payload omits them.
func DecodeButtonPressEvent(data []byte, stopID, routeID string) (*ButtonPressEvent, error) {
	var ev ButtonPressEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode button press: %w", err)
	}
	if ev.StopID == "" {
		ev.StopID = stopID
	}
	if ev.RouteID == "" {
		ev.RouteID = routeID
	}
	if ev.RouteName == "" {
		ev.RouteName = ev.RouteID
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid button press: %w", err)
	}
	return &ev, nil
}

// DecodeCancelEvent parses and validates a raw cancel payload.
func DecodeCancelEvent(data []byte, stopID, routeID string) (*CancelEvent, error) {
	var ev CancelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode cancel: %w", err)
	}
	if ev.StopID == "" {
		ev.StopID = stopID
	}
	if ev.RouteID == "" {
		ev.RouteID = routeID
	}
	if err := validate.Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid cancel: %w", err)
	}
	return &ev, nil
}

// Position converts a validated location event into a BusPosition.
func (ev *LocationEvent) Position(receivedAt time.Time) *BusPosition {
	ts := receivedAt
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}
	return &BusPosition{
		BusID:     ev.BusID,
		RouteID:   ev.RouteID,
		Location:  GeoPoint{Lat: ev.Lat, Lon: ev.Lon},
		SpeedKmh:  ev.SpeedKmh,
		Heading:   ev.Heading,
		AccuracyM: ev.AccuracyM,
		Time:      ts,
	}
}
