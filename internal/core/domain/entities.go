package domain

import (
	"fmt"
	"time"
)

// Route represents a bus line serving one or more stops.
type Route struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stop represents a fixed bus stop where passengers place calls.
type Stop struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  GeoPoint  `json:"location"`
	RouteIDs  []string  `json:"route_ids"`
	RegionID  string    `json:"region_id,omitempty"` // assigned when the region index is built
	CreatedAt time.Time `json:"created_at"`
}

// ServesRoute reports whether the given route passes through this stop.
func (s *Stop) ServesRoute(routeID string) bool {
	for _, id := range s.RouteIDs {
		if id == routeID {
			return true
		}
	}
	return false
}

// Region is a static geographic partition of stops. Regions are built once at
// startup and never mutated afterwards.
type Region struct {
	ID           string   `json:"id"`
	Center       GeoPoint `json:"center"`
	RadiusMeters float64  `json:"radius_meters"`
	Stops        []Stop   `json:"stops"`
}

// BusPosition is a real-time bus location reading. Lat/Lon are overwritten with
// the filtered estimate before the position is persisted.
type BusPosition struct {
	BusID     string    `json:"bus_id"`
	RouteID   string    `json:"route_id"`
	Location  GeoPoint  `json:"location"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Heading   float64   `json:"heading"` // degrees, 0-360
	AccuracyM *float64  `json:"accuracy_m,omitempty"`
	Time      time.Time `json:"time"`
}

// TrackSample is one entry in a bus's short position history, used for
// pass-detection.
type TrackSample struct {
	Location GeoPoint  `json:"location"`
	SpeedKmh float64   `json:"speed_kmh"`
	Time     time.Time `json:"time"`
}

// Call is an active pickup request at a stop for a specific route. Calls are
// keyed by (stop, route): a repeated button press overwrites the record rather
// than creating a second one. Deactivation shortens the record's expiry instead
// of deleting it so late duplicate cancels no-op safely.
type Call struct {
	ID         string    `json:"id"`
	StopID     string    `json:"stop_id"`
	RouteID    string    `json:"route_id"`
	RouteName  string    `json:"route_name"`
	Color      string    `json:"color,omitempty"`
	Active     bool      `json:"active"`
	Passengers int       `json:"passengers,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewCallID derives a call identifier from its slot and creation time.
func NewCallID(stopID, routeID string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", stopID, routeID, at.UnixMilli())
}

// ETAResult is a transient arrival estimate for one (bus, stop) pair. It is
// recomputed every cycle and persisted with a short TTL for concurrent readers
// only; state transitions never read it back.
type ETAResult struct {
	BusID          string    `json:"bus_id"`
	StopID         string    `json:"stop_id"`
	RouteID        string    `json:"route_id"`
	DistanceMeters int       `json:"distance_meters"`
	ArrivalTime    time.Time `json:"arrival_time"`
	Confidence     float64   `json:"confidence"` // [0, 0.95]
	ComputedAt     time.Time `json:"computed_at"`
}

// NotificationType classifies driver notifications.
type NotificationType string

const (
	NotifyApproaching NotificationType = "APPROACHING"
	NotifyPassed      NotificationType = "PASSED"
	NotifyArrived     NotificationType = "ARRIVED"

	// NotifyDeparted is an accepted alias for PASSED kept for older bus units
	// that still match on DEPARTED.
	NotifyDeparted NotificationType = "DEPARTED"
)

// Notification is a message pushed to a bus driver's unit.
type Notification struct {
	Type      NotificationType `json:"type"`
	BusID     string           `json:"bus_id"`
	StopID    string           `json:"stop_id"`
	RouteID   string           `json:"route_id"`
	RouteName string           `json:"route_name"`
	Color     string           `json:"color,omitempty"`
	Message   string           `json:"message"`
	Time      time.Time        `json:"time"`
}

// CallEventKind classifies call lifecycle broadcast events.
type CallEventKind string

const (
	CallCreated   CallEventKind = "created"
	CallCancelled CallEventKind = "cancelled"
	CallResolved  CallEventKind = "resolved"
)

// CallEvent is broadcast whenever a call changes state.
type CallEvent struct {
	Kind    CallEventKind `json:"kind"`
	Call    *Call         `json:"call,omitempty"`
	StopID  string        `json:"stop_id"`
	RouteID string        `json:"route_id"`
	BusID   string        `json:"bus_id,omitempty"`
	Time    time.Time     `json:"time"`
}

// DeviceStatus is a liveness report from a stop or bus unit. Informational
// only; no control decisions depend on it.
type DeviceStatus struct {
	DeviceID string    `json:"device_id"`
	Kind     string    `json:"kind"` // "stop" | "bus"
	Status   string    `json:"status"`
	Time     time.Time `json:"time"`
}
