// Package checkpoint persists resolved results as numbered CSV segments that can
// be scanned to resume an interrupted run and merged into one table.
package checkpoint

import (
	"math"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// Fixed result columns, in order. Pass-through input columns follow them.
var Columns = []string{
	"entity_id",
	"longitude",
	"latitude",
	"category",
	"is_approximate",
	"reference_longitude",
	"reference_latitude",
	"diagnostic",
}

// Header returns the full header for a table with the given extra columns.
func Header(extra []string) []string {
	h := make([]string, 0, len(Columns)+len(extra))
	h = append(h, Columns...)
	return append(h, extra...)
}

// EncodeRow renders a result as CSV fields.
func EncodeRow(r model.Result) []string {
	row := make([]string, 0, len(Columns)+len(r.Point.Extra))
	lon, lat := formatCoord(r.Point.Longitude), formatCoord(r.Point.Latitude)
	refLon, refLat := formatCoord(r.RefLongitude), formatCoord(r.RefLatitude)

	category := ""
	if r.Resolved {
		category = strconv.FormatInt(int64(r.Category), 10)
	}

	row = append(row,
		r.Point.EntityID,
		lon,
		lat,
		category,
		strconv.FormatBool(r.Approximate),
		refLon,
		refLat,
		r.Diagnostic,
	)
	return append(row, r.Point.Extra...)
}

// formatCoord writes non-finite coordinates as empty fields.
func formatCoord(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DecodeRow parses CSV fields produced by EncodeRow.
func DecodeRow(row []string) (model.Result, error) {
	if len(row) < len(Columns) {
		return model.Result{}, eris.Errorf("checkpoint: row has %d fields, want at least %d", len(row), len(Columns))
	}

	var r model.Result
	var err error
	r.Point.EntityID = row[0]
	if r.Point.Longitude, err = parseCoord(row[1]); err != nil {
		return model.Result{}, eris.Wrap(err, "checkpoint: longitude")
	}
	if r.Point.Latitude, err = parseCoord(row[2]); err != nil {
		return model.Result{}, eris.Wrap(err, "checkpoint: latitude")
	}
	if row[3] != "" {
		c, err := strconv.ParseInt(row[3], 10, 32)
		if err != nil {
			return model.Result{}, eris.Wrap(err, "checkpoint: category")
		}
		r.Category, r.Resolved = int32(c), true
	}
	if r.Approximate, err = strconv.ParseBool(row[4]); err != nil {
		return model.Result{}, eris.Wrap(err, "checkpoint: is_approximate")
	}
	if r.RefLongitude, err = parseCoord(row[5]); err != nil {
		return model.Result{}, eris.Wrap(err, "checkpoint: reference_longitude")
	}
	if r.RefLatitude, err = parseCoord(row[6]); err != nil {
		return model.Result{}, eris.Wrap(err, "checkpoint: reference_latitude")
	}
	r.Diagnostic = row[7]
	if r.Diagnostic == model.DiagMalformedCoordinate {
		r.Point.Diagnostic = r.Diagnostic
	}
	if len(row) > len(Columns) {
		r.Point.Extra = append([]string(nil), row[len(Columns):]...)
	}
	return r, nil
}

func parseCoord(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
