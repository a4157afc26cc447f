package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/checkpoint"
	"github.com/tanq16/splitfetch/internal/testutil"
)

func TestRunReleasesStoreAfterFailedCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	fx := testutil.NewFixture(t, testutil.Payload(100))
	checkpoints := filepath.Join(dir, "checkpoints")

	err := run(context.Background(), []string{
		"get", fx.URL("/missing"),
		"-o", filepath.Join(dir, "out.bin"),
		"--checkpoint-dir", checkpoints,
		"--env-file", filepath.Join(dir, "absent.env"),
	})
	require.Error(t, err)
	assert.Nil(t, store)

	s, err := checkpoint.Open(checkpoints)
	require.NoError(t, err, "store must be unlocked after a failed run")
	assert.NoError(t, s.Close())
}

func TestCleanupIsIdempotent(t *testing.T) {
	s, err := checkpoint.OpenInMemory()
	require.NoError(t, err)
	stopped := 0
	store, stopServer = s, func() { stopped++ }

	cleanup()
	cleanup()
	assert.Nil(t, store)
	assert.Nil(t, stopServer)
	assert.Equal(t, 1, stopped)
}
