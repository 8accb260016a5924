// Package export renders result sets as JSON, GeoJSON, CSV or KML.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
	ContentTypeKML  = "application/vnd.google-earth.kml+xml"

	DispositionCSV = `attachment; filename="Survey Export.csv"`
	DispositionKML = `attachment; filename="Survey Export.kml"`
)

const (
	EnvelopeFeatures  = "features"
	EnvelopeResponses = "responses"
)

type ResultSet struct {
	Envelope string
	Records  []model.Record
}

func Features(fs []model.Feature) ResultSet {
	recs := make([]model.Record, len(fs))
	for i, f := range fs {
		recs[i] = f
	}
	return ResultSet{Envelope: EnvelopeFeatures, Records: recs}
}

func Responses(rs []model.Response) ResultSet {
	recs := make([]model.Record, len(rs))
	for i, r := range rs {
		recs[i] = r
	}
	return ResultSet{Envelope: EnvelopeResponses, Records: recs}
}

type Rendered struct {
	Body        []byte
	ContentType string
	Disposition string
}

func Render(rs ResultSet, f model.Format) (Rendered, error) {
	switch f {
	case model.FormatJSON:
		b, err := renderJSON(rs)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Body: b, ContentType: ContentTypeJSON}, nil
	case model.FormatGeoJSON:
		b, err := renderGeoJSON(rs)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Body: b, ContentType: ContentTypeJSON}, nil
	case model.FormatCSV:
		b, err := renderCSV(rs)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Body: b, ContentType: ContentTypeCSV, Disposition: DispositionCSV}, nil
	case model.FormatKML:
		b, err := renderKML(rs)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Body: b, ContentType: ContentTypeKML, Disposition: DispositionKML}, nil
	default:
		return Rendered{}, fmt.Errorf("unsupported format %q", f)
	}
}

func renderJSON(rs ResultSet) ([]byte, error) {
	recs := rs.Records
	if recs == nil {
		recs = []model.Record{}
	}
	b, err := json.Marshal(map[string]any{rs.Envelope: recs})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", rs.Envelope, err)
	}
	return b, nil
}

func renderGeoJSON(rs ResultSet) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, r := range rs.Records {
		gf := geojson.NewFeature(r.RecordGeometry())
		if id := r.RecordID(); id != "" {
			gf.ID = id
		}
		if props := r.RecordProperties(); len(props) > 0 {
			gf.Properties = props
		}
		fc.Append(gf)
	}
	b, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal FeatureCollection: %w", err)
	}
	return b, nil
}
