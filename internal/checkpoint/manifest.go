package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ManifestName is the file name of the run manifest inside an output directory.
const ManifestName = "manifest.yaml"

// ErrManifestMismatch is returned when an output directory belongs to a run with
// different inputs or search settings.
var ErrManifestMismatch = errors.New("checkpoint: output directory belongs to a different run")

// FileIdentity identifies an input file well enough to detect replacement.
type FileIdentity struct {
	Path    string    `yaml:"path"`
	Size    int64     `yaml:"size"`
	ModTime time.Time `yaml:"mod_time"`
}

// Identify stats path and returns its identity with an absolute path.
func Identify(path string) (FileIdentity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileIdentity{}, eris.Wrapf(err, "checkpoint: abs %s", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileIdentity{}, eris.Wrapf(err, "checkpoint: stat %s", path)
	}
	return FileIdentity{Path: abs, Size: info.Size(), ModTime: info.ModTime().UTC().Truncate(time.Second)}, nil
}

// Manifest records what an output directory was produced from.
type Manifest struct {
	RunID        string       `yaml:"run_id"`
	Raster       FileIdentity `yaml:"raster"`
	Input        FileIdentity `yaml:"input"`
	MinRadius    float64      `yaml:"min_search_radius"`
	MaxRadius    float64      `yaml:"max_search_radius"`
	Index        string       `yaml:"index"`
	ExtraColumns []string     `yaml:"extra_columns"`
	CreatedAt    time.Time    `yaml:"created_at"`
}

// Compatible reports whether a run described by m may continue the output of
// prev. RunID and CreatedAt are not compared.
func (m Manifest) Compatible(prev Manifest) error {
	switch {
	case m.Raster.Path != prev.Raster.Path || m.Raster.Size != prev.Raster.Size || !m.Raster.ModTime.Equal(prev.Raster.ModTime):
		return eris.Wrapf(ErrManifestMismatch, "raster %s differs from %s", m.Raster.Path, prev.Raster.Path)
	case m.Input.Path != prev.Input.Path || m.Input.Size != prev.Input.Size || !m.Input.ModTime.Equal(prev.Input.ModTime):
		return eris.Wrapf(ErrManifestMismatch, "input %s differs from %s", m.Input.Path, prev.Input.Path)
	case m.MinRadius != prev.MinRadius || m.MaxRadius != prev.MaxRadius:
		return eris.Wrapf(ErrManifestMismatch, "search radii [%v, %v] differ from [%v, %v]",
			m.MinRadius, m.MaxRadius, prev.MinRadius, prev.MaxRadius)
	case m.Index != prev.Index:
		return eris.Wrapf(ErrManifestMismatch, "index %q differs from %q", m.Index, prev.Index)
	case !slices.Equal(m.ExtraColumns, prev.ExtraColumns):
		return eris.Wrapf(ErrManifestMismatch, "extra columns %v differ from %v", m.ExtraColumns, prev.ExtraColumns)
	}
	return nil
}

// LoadManifest reads the manifest in dir. It returns nil without error when no
// manifest exists.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "checkpoint: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "checkpoint: parse manifest")
	}
	return &m, nil
}

// SaveManifest writes m to dir atomically.
func SaveManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "checkpoint: encode manifest")
	}

	final := filepath.Join(dir, ManifestName)
	tmp := final + tmpExt
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrap(err, "checkpoint: create manifest")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: write manifest")
	}
	if err := f.Sync(); err != nil {
		f.Close()      //nolint:errcheck
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: sync manifest")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: close manifest")
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return eris.Wrap(err, "checkpoint: rename manifest")
	}
	return nil
}
