package export

import (
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/model"
)

// DBF field names are capped at ten characters.
var shapefileFields = []shp.Field{
	shp.StringField("entity_id", 254),
	shp.NumberField("category", 11),
	shp.NumberField("approx", 1),
	shp.FloatField("ref_lon", 19, 8),
	shp.FloatField("ref_lat", 19, 8),
	shp.StringField("diagnostic", 32),
}

// WriteShapefile writes the table at src as a point shapefile at dest (.shp
// plus .shx and .dbf siblings). Pass-through columns are not written.
func WriteShapefile(src, dest string) (Counts, error) {
	if !strings.EqualFold(filepath.Ext(dest), ".shp") {
		dest += ".shp"
	}
	w, err := shp.Create(dest, shp.POINT)
	if err != nil {
		return Counts{}, eris.Wrap(err, "export: create shapefile")
	}
	if err := w.SetFields(shapefileFields); err != nil {
		w.Close()
		return Counts{}, eris.Wrap(err, "export: set shapefile fields")
	}

	var c Counts
	err = checkpoint.ReadTable(src, func(_ []string, r model.Result) error {
		if Point(r) == nil {
			c.Skipped++
			return nil
		}
		n := int(w.Write(&shp.Point{X: r.Point.Longitude, Y: r.Point.Latitude}))
		c.Written++

		attrs := []any{r.Point.EntityID, nil, 0, nil, nil, r.Diagnostic}
		if r.Resolved {
			attrs[1] = int(r.Category)
		}
		if r.Approximate {
			attrs[2] = 1
		}
		if finite(r.RefLongitude) && finite(r.RefLatitude) {
			attrs[3], attrs[4] = r.RefLongitude, r.RefLatitude
		}
		for i, v := range attrs {
			if v == nil {
				continue
			}
			if err := w.WriteAttribute(n, i, v); err != nil {
				return eris.Wrapf(err, "export: write attribute %s", shapefileFields[i].String())
			}
		}
		return nil
	})
	w.Close()
	if err != nil {
		return Counts{}, eris.Wrap(err, "export: shapefile")
	}

	zap.L().Info("export: shapefile written",
		zap.String("dest", dest),
		zap.Int("features", c.Written),
		zap.Int("skipped", c.Skipped),
	)
	return c, nil
}
