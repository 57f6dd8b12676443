package model

import (
	"errors"
)

// ErrConfiguration marks failures that prevent a run from starting: a missing raster,
// missing input columns, an unsupported format, or invalid settings.
var ErrConfiguration = errors.New("configuration error")
