package domain_test

import (
	"testing"
	"time"

	"github.com/joonhokim/buscall/internal/core/domain"
)

func TestDecodeLocationEvent(t *testing.T) {
	data := []byte(`{"bus_id":"b1","route_id":"route-7","lat":37.5665,"lon":126.978,"speed_kmh":32.5,"heading":180}`)

	ev, err := domain.DecodeLocationEvent(data, "")
	if err != nil {
		t.Fatal(err)
	}
	if ev.BusID != "b1" || ev.Lat != 37.5665 || ev.SpeedKmh != 32.5 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDecodeLocationEventLegacyFieldNames(t *testing.T) {
	// Older firmware sends latitude/longitude/speed and camelCase ids.
	data := []byte(`{"busId":"b1","routeId":"route-7","latitude":37.5665,"longitude":126.978,"speed":28}`)

	ev, err := domain.DecodeLocationEvent(data, "")
	if err != nil {
		t.Fatal(err)
	}
	if ev.BusID != "b1" || ev.RouteID != "route-7" {
		t.Errorf("camelCase ids not normalized: %+v", ev)
	}
	if ev.Lat != 37.5665 || ev.Lon != 126.978 || ev.SpeedKmh != 28 {
		t.Errorf("legacy coordinate fields not normalized: %+v", ev)
	}
}

func TestDecodeLocationEventExplicitZeroBeatsAlias(t *testing.T) {
	// lat/lon 0 is a real coordinate; a payload carrying both the canonical
	// field and a stale alias must keep the canonical value.
	data := []byte(`{"bus_id":"b1","route_id":"route-7","lat":0,"lon":0,"speed_kmh":0,"latitude":37.5665,"longitude":126.978,"speed":28}`)

	ev, err := domain.DecodeLocationEvent(data, "")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Lat != 0 || ev.Lon != 0 {
		t.Errorf("alias overrode explicit zero coordinates: %+v", ev)
	}
	if ev.SpeedKmh != 0 {
		t.Errorf("alias overrode explicit zero speed: %+v", ev)
	}
}

func TestDecodeLocationEventSubjectBackfill(t *testing.T) {
	data := []byte(`{"route_id":"route-7","lat":37.5,"lon":127.0}`)

	ev, err := domain.DecodeLocationEvent(data, "bus-42")
	if err != nil {
		t.Fatal(err)
	}
	if ev.BusID != "bus-42" {
		t.Errorf("expected bus id from subject, got %q", ev.BusID)
	}
}

func TestDecodeLocationEventRejectsBadCoordinates(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"lat out of range", `{"bus_id":"b1","route_id":"r1","lat":95,"lon":127}`},
		{"lon out of range", `{"bus_id":"b1","route_id":"r1","lat":37,"lon":200}`},
		{"negative speed", `{"bus_id":"b1","route_id":"r1","lat":37,"lon":127,"speed_kmh":-5}`},
		{"missing route", `{"bus_id":"b1","lat":37,"lon":127}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := domain.DecodeLocationEvent([]byte(tc.data), ""); err == nil {
				t.Error("expected a decode error")
			}
		})
	}
}

func TestDecodeButtonPressEvent(t *testing.T) {
	data := []byte(`{"stop_id":"s1","route_id":"route-7","route_name":"7","passengers":2}`)

	ev, err := domain.DecodeButtonPressEvent(data, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if ev.StopID != "s1" || ev.Passengers != 2 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDecodeButtonPressSubjectBackfill(t *testing.T) {
	// A bare press payload: everything comes from the broker subject.
	ev, err := domain.DecodeButtonPressEvent([]byte(`{}`), "s1", "route-7")
	if err != nil {
		t.Fatal(err)
	}
	if ev.StopID != "s1" || ev.RouteID != "route-7" {
		t.Errorf("subject ids not applied: %+v", ev)
	}
	if ev.RouteName != "route-7" {
		t.Errorf("route name must default to the route id, got %q", ev.RouteName)
	}
}

func TestDecodeButtonPressRejectsMissingIDs(t *testing.T) {
	if _, err := domain.DecodeButtonPressEvent([]byte(`{"stop_id":"s1"}`), "", ""); err == nil {
		t.Error("expected an error for a press with no route")
	}
}

func TestDecodeCancelEvent(t *testing.T) {
	ev, err := domain.DecodeCancelEvent([]byte(`{}`), "s1", "route-7")
	if err != nil {
		t.Fatal(err)
	}
	if ev.StopID != "s1" || ev.RouteID != "route-7" {
		t.Errorf("subject ids not applied: %+v", ev)
	}

	if _, err := domain.DecodeCancelEvent([]byte(`{}`), "", ""); err == nil {
		t.Error("expected an error for a cancel with no slot")
	}
}

func TestLocationEventPosition(t *testing.T) {
	received := time.Now()

	ev := &domain.LocationEvent{
		BusID: "b1", RouteID: "route-7", Lat: 37.5, Lon: 127.0, SpeedKmh: 30,
	}
	pos := ev.Position(received)
	if !pos.Time.Equal(received) {
		t.Errorf("zero timestamp must use receive time, got %v", pos.Time)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ev.Timestamp = at.UnixMilli()
	pos = ev.Position(received)
	if !pos.Time.Equal(at) {
		t.Errorf("expected payload timestamp, got %v", pos.Time)
	}
	if pos.Location.Lat != 37.5 || pos.Location.Lon != 127.0 {
		t.Errorf("unexpected location: %+v", pos.Location)
	}
}
