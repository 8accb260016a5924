package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"
)

func renderCSV(rs ResultSet) ([]byte, error) {
	rows := make([]map[string]string, len(rs.Records))
	columns := map[string]struct{}{}
	for i, r := range rs.Records {
		row := map[string]string{}
		for k, v := range r.RecordProperties() {
			flatten(escapeKey(k), v, row)
		}
		for k := range row {
			columns[k] = struct{}{}
		}
		rows[i] = row
	}

	cols := make([]string, 0, len(columns))
	for k := range columns {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"id", "geometry"}, cols...)); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	for i, r := range rs.Records {
		rec := make([]string, 0, len(cols)+2)
		geom := ""
		if g := r.RecordGeometry(); g != nil {
			geom = wkt.MarshalString(g)
		}
		rec = append(rec, r.RecordID(), geom)
		for _, c := range cols {
			rec = append(rec, rows[i][c])
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

// flatten writes nested maps as dot-separated paths of escaped keys, so
// distinct leaves never share a column. Arrays are kept as JSON.
func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			flatten(prefix+"."+escapeKey(k), sub, out)
		}
	default:
		out[prefix] = scalar(t)
	}
}

var keyEscaper = strings.NewReplacer("~", "~0", ".", "~1")

// escapeKey encodes "~" as "~0" and "." as "~1" inside one path segment.
func escapeKey(k string) string {
	return keyEscaper.Replace(k)
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
