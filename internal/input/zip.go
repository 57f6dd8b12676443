package input

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/model"
)

// readZIP extracts the archive to a temporary directory and reads the single
// supported table inside it. A shapefile wins over other members because its
// .dbf and .shx siblings ride along in the same archive.
func readZIP(ctx context.Context, path string, opts Options) (*Table, error) {
	dir, err := os.MkdirTemp(opts.TempDir, "biome-input-*")
	if err != nil {
		return nil, eris.Wrap(err, "input: create extract dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	files, err := ExtractZIP(path, dir)
	if err != nil {
		return nil, err
	}

	member, format, err := pickMember(files)
	if err != nil {
		return nil, eris.Wrapf(err, "input: %s", path)
	}

	inner := opts
	inner.Format = format
	inner.TempDir = dir
	switch format {
	case FormatCSV:
		return readCSVPoints(ctx, member, inner)
	case FormatXLSX:
		return readXLSXPoints(ctx, member, inner)
	default:
		return readShapefile(ctx, member, inner.Columns)
	}
}

func pickMember(files []string) (string, Format, error) {
	byFormat := map[Format][]string{}
	for _, f := range files {
		base := filepath.Base(f)
		if strings.HasPrefix(base, ".") || strings.Contains(filepath.ToSlash(f), "__MACOSX/") {
			continue
		}
		format, err := DetectFormat(f)
		if err != nil || format == FormatZIP {
			continue
		}
		byFormat[format] = append(byFormat[format], f)
	}

	for _, format := range []Format{FormatShapefile, FormatCSV, FormatXLSX} {
		found := byFormat[format]
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], format, nil
		default:
			sort.Strings(found)
			return "", "", eris.Wrapf(model.ErrConfiguration, "archive holds %d %s tables (%s)",
				len(found), format, strings.Join(found, ", "))
		}
	}
	return "", "", eris.Wrap(model.ErrConfiguration, "archive holds no supported table")
}

// ExtractZIP extracts every file of a ZIP archive into destDir and returns the
// extracted paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "input: open zip archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}
	return extracted, nil
}

// extractZIPEntry writes one entry below destDir. Directories return "".
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("input: illegal path %q in zip", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "input: create directory")
		}
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "input: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "input: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "input: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "input: write file")
	}
	return destPath, nil
}
