package main

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/model"
)

func TestRunIDFor(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "biomes.csv")

	_, err := runIDFor(src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfiguration))

	require.NoError(t, checkpoint.SaveManifest(dir, checkpoint.Manifest{RunID: "run-42", Index: "kdtree"}))
	id, err := runIDFor(src)
	require.NoError(t, err)
	assert.Equal(t, "run-42", id)
}
