package export

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
)

type NegotiationInput struct {
	Requested     model.Format
	AcceptHeader  string
	DefaultFormat model.Format
}

// Negotiate picks the output format. A requested format (explicit parameter
// or path suffix) wins, then the Accept header by q-value, then the default.
// application/json maps to the default since GeoJSON is JSON too.
func Negotiate(in NegotiationInput) model.Format {
	if in.Requested != "" {
		return in.Requested
	}

	bestQ := -1.0
	best := in.DefaultFormat
	for part := range strings.SplitSeq(strings.ToLower(in.AcceptHeader), ",") {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		mt := token
		params := ""
		if i := strings.Index(token, ";"); i >= 0 {
			mt = strings.TrimSpace(token[:i])
			params = token[i+1:]
		}
		q := 1.0
		for p := range strings.SplitSeq(params, ";") {
			p = strings.TrimSpace(p)
			if after, ok := strings.CutPrefix(p, "q="); ok {
				if v, err := strconv.ParseFloat(after, 64); err == nil {
					q = v
				}
			}
		}
		if q <= 0 {
			continue
		}
		var cand model.Format
		switch mt {
		case "application/geo+json":
			cand = model.FormatGeoJSON
		case "text/csv":
			cand = model.FormatCSV
		case "application/vnd.google-earth.kml+xml":
			cand = model.FormatKML
		case "application/json", "*/*":
			cand = in.DefaultFormat
		default:
			continue
		}
		if q > bestQ {
			bestQ = q
			best = cand
		}
	}
	return best
}
