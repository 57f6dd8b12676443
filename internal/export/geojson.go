package export

import (
	"bufio"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/model"
)

// Counts reports what an export wrote.
type Counts struct {
	Written int
	Skipped int // rows without finite coordinates
}

// Properties returns the feature properties of r.
func Properties(extra []string, r model.Result) map[string]any {
	props := map[string]any{
		"entity_id":           r.Point.EntityID,
		"category":            nullableCategory(r),
		"is_approximate":      r.Approximate,
		"reference_longitude": nullableFloat(r.RefLongitude),
		"reference_latitude":  nullableFloat(r.RefLatitude),
	}
	if r.Diagnostic != "" {
		props["diagnostic"] = r.Diagnostic
	}
	for i, name := range extra {
		if i < len(r.Point.Extra) {
			props[name] = r.Point.Extra[i]
		}
	}
	return props
}

// WriteGeoJSON streams the table at src into a GeoJSON FeatureCollection at
// dest. Rows without finite coordinates are skipped.
func WriteGeoJSON(src, dest string) (Counts, error) {
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Counts{}, eris.Wrap(err, "export: create geojson")
	}
	fail := func(err error) (Counts, error) {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return Counts{}, err
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(`{"type":"FeatureCollection","features":[`); err != nil {
		return fail(eris.Wrap(err, "export: write geojson"))
	}

	var c Counts
	err = checkpoint.ReadTable(src, func(extra []string, r model.Result) error {
		p := Point(r)
		if p == nil {
			c.Skipped++
			return nil
		}
		data, err := (&geojson.Feature{Geometry: p, Properties: Properties(extra, r)}).MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "export: encode feature %d", c.Written+c.Skipped)
		}
		if c.Written > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		c.Written++
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return fail(eris.Wrap(err, "export: geojson"))
	}

	if _, err := w.WriteString("]}\n"); err != nil {
		return fail(eris.Wrap(err, "export: write geojson"))
	}
	if err := w.Flush(); err != nil {
		return fail(eris.Wrap(err, "export: flush geojson"))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return Counts{}, eris.Wrap(err, "export: close geojson")
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return Counts{}, eris.Wrap(err, "export: rename geojson")
	}

	zap.L().Info("export: geojson written",
		zap.String("dest", dest),
		zap.Int("features", c.Written),
		zap.Int("skipped", c.Skipped),
	)
	return c, nil
}
