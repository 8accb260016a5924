package invalidation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

const square = `{"type":"Polygon","coordinates":[[[-83.1,42.3],[-83.0,42.3],[-83.0,42.4],[-83.1,42.4],[-83.1,42.3]]]}`

func TestEvent_Validate_BBoxAndGeometryMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Source: "detroit-parcels", TS: mustTS(),
		BBox:     &BBox{MinLon: -83.1, MinLat: 42.3, MaxLon: -83.0, MaxLat: 42.4},
		Geometry: json.RawMessage(square),
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both bbox and geometry are set")
	}
	ev.BBox, ev.Geometry = nil, nil
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when neither is set")
	}
}

func TestEvent_Validate_BBoxHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "delete", Source: "detroit-parcels", TS: mustTS(),
		BBox: &BBox{MinLon: -83.1, MinLat: 42.3, MaxLon: -83.0, MaxLat: 42.4},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	b, err := ev.Bound()
	if err != nil || b.Min != (orb.Point{-83.1, 42.3}) || b.Max != (orb.Point{-83.0, 42.4}) {
		t.Fatalf("bound=%v err=%v", b, err)
	}
}

func TestEvent_Validate_GeometryHappyPath(t *testing.T) {
	ev := Event{
		Version: 1, Op: "insert", Source: "detroit-parcels", TS: mustTS(),
		Geometry: json.RawMessage(square),
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	b, err := ev.Bound()
	if err != nil || b.Min != (orb.Point{-83.1, 42.3}) {
		t.Fatalf("bound=%v err=%v", b, err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return Event{Version: 1, Op: "update", Source: "s", TS: mustTS(),
			BBox: &BBox{MinLon: 1, MinLat: 1, MaxLon: 2, MaxLat: 2}}
	}
	cases := map[string]func(*Event){
		"version":      func(e *Event) { e.Version = 2 },
		"op":           func(e *Event) { e.Op = "upsert" },
		"source":       func(e *Event) { e.Source = " " },
		"ts":           func(e *Event) { e.TS = time.Time{} },
		"flat bbox":    func(e *Event) { e.BBox.MaxLon = 1 },
		"lat range":    func(e *Event) { e.BBox.MaxLat = 91 },
		"linestring":   func(e *Event) { e.BBox = nil; e.Geometry = json.RawMessage(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`) },
		"bad geometry": func(e *Event) { e.BBox = nil; e.Geometry = json.RawMessage(`{"type":`) },
	}
	for name, mut := range cases {
		ev := base()
		mut(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
