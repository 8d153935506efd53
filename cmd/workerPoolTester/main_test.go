package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadComputesEachRecipeAtMostOncePerBurst(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := load(context.Background(), "seed", 4, 200, 10, "SHA256", 1024, log)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.failed)
	assert.GreaterOrEqual(t, r.computed, int64(10))
	assert.LessOrEqual(t, r.computed, int64(200))
	assert.Equal(t, 10, r.baselineDerived)
}

func TestBaselineRunsEveryDistinctRecipeInOneRoom(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	// more distinct recipes than requests still fit the global buffer
	r, err := load(context.Background(), "seed", 2, 3, 8, "BLAKE2b", 0, log)
	require.NoError(t, err)
	assert.Equal(t, 8, r.baselineDerived)
	assert.Equal(t, int64(0), r.failed)
}

func TestLoadReportsFailures(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := load(context.Background(), "seed", 2, 20, 2, "MD5", 0, log)
	require.NoError(t, err)
	assert.Equal(t, int64(20), r.failed)
	assert.Equal(t, 0, r.baselineDerived)
}
