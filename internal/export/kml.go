package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type kmlRoot struct {
	XMLName  xml.Name    `xml:"kml"`
	Xmlns    string      `xml:"xmlns,attr"`
	Document kmlDocument `xml:"Document"`
}

type kmlDocument struct {
	Name       string         `xml:"name"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name         string           `xml:"name"`
	ExtendedData *kmlExtendedData `xml:"ExtendedData,omitempty"`
	Point        *kmlCoords       `xml:"Point,omitempty"`
	LineString   *kmlCoords       `xml:"LineString,omitempty"`
	Polygon      *kmlPolygon      `xml:"Polygon,omitempty"`
	Multi        *kmlMulti        `xml:"MultiGeometry,omitempty"`
}

type kmlExtendedData struct {
	Data []kmlData `xml:"Data"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type kmlCoords struct {
	Coordinates string `xml:"coordinates"`
}

type kmlBoundary struct {
	Ring kmlCoords `xml:"LinearRing"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlMulti struct {
	Points      []kmlCoords  `xml:"Point"`
	LineStrings []kmlCoords  `xml:"LineString"`
	Polygons    []kmlPolygon `xml:"Polygon"`
}

func renderKML(rs ResultSet) ([]byte, error) {
	doc := kmlRoot{
		Xmlns:    "http://www.opengis.net/kml/2.2",
		Document: kmlDocument{Name: "Survey Export"},
	}
	for _, r := range rs.Records {
		g := r.RecordGeometry()
		if g == nil {
			continue
		}
		pm := kmlPlacemark{Name: r.RecordID()}
		if !setGeometry(&pm, g) {
			continue
		}
		pm.ExtendedData = extendedData(r.RecordProperties())
		doc.Document.Placemarks = append(doc.Document.Placemarks, pm)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode kml: %w", err)
	}
	return buf.Bytes(), nil
}

func setGeometry(pm *kmlPlacemark, g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.Point:
		pm.Point = &kmlCoords{Coordinates: coords(t)}
	case orb.LineString:
		pm.LineString = &kmlCoords{Coordinates: coords(t...)}
	case orb.Polygon:
		if len(t) == 0 {
			return false
		}
		p := polygon(t)
		pm.Polygon = &p
	case orb.MultiPoint:
		m := &kmlMulti{}
		for _, p := range t {
			m.Points = append(m.Points, kmlCoords{Coordinates: coords(p)})
		}
		pm.Multi = m
	case orb.MultiLineString:
		m := &kmlMulti{}
		for _, ls := range t {
			m.LineStrings = append(m.LineStrings, kmlCoords{Coordinates: coords(ls...)})
		}
		pm.Multi = m
	case orb.MultiPolygon:
		m := &kmlMulti{}
		for _, p := range t {
			if len(p) == 0 {
				continue
			}
			m.Polygons = append(m.Polygons, polygon(p))
		}
		if len(m.Polygons) == 0 {
			return false
		}
		pm.Multi = m
	default:
		return false
	}
	return true
}

func polygon(p orb.Polygon) kmlPolygon {
	out := kmlPolygon{Outer: kmlBoundary{Ring: kmlCoords{Coordinates: coords(p[0]...)}}}
	for _, hole := range p[1:] {
		out.Inner = append(out.Inner, kmlBoundary{Ring: kmlCoords{Coordinates: coords(hole...)}})
	}
	return out
}

// coords formats lon,lat tuples separated by spaces.
func coords(pts ...orb.Point) string {
	var b strings.Builder
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(p.Lon(), 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Lat(), 'f', -1, 64))
	}
	return b.String()
}

func extendedData(props map[string]any) *kmlExtendedData {
	flat := map[string]string{}
	for k, v := range props {
		flatten(escapeKey(k), v, flat)
	}
	if len(flat) == 0 {
		return nil
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ed := &kmlExtendedData{Data: make([]kmlData, 0, len(keys))}
	for _, k := range keys {
		ed.Data = append(ed.Data, kmlData{Name: k, Value: flat[k]})
	}
	return ed
}
