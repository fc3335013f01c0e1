package backend_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/config"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *backend.Backend {
	t.Helper()

	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		FS:               afero.NewMemMapFs(),
		GitDirPath:       "/repo/.git",
		SkipGitDirLookUp: true,
		IsBare:           true,
	})
	require.NoError(t, err)

	b, err := backend.New(cfg, githash.SHA1)
	require.NoError(t, err)

	require.NoError(t, b.Init("main"))
	return b
}

func TestInitIsIdempotent(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	require.NoError(t, b.Init("main"))
}

func TestInitRejectsHashAlgoMismatch(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	err := b.InitWithOptions("main", backend.InitOptions{HashAlgorithm: "sha256"})
	require.ErrorIs(t, err, backend.ErrHashAlgoMismatch)
}

func TestInitRejectsUnknownHashAlgo(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		FS:               afero.NewMemMapFs(),
		GitDirPath:       "/repo/.git",
		SkipGitDirLookUp: true,
		IsBare:           true,
	})
	require.NoError(t, err)

	b, err := backend.New(cfg, githash.SHA1)
	require.NoError(t, err)

	err = b.InitWithOptions("main", backend.InitOptions{HashAlgorithm: "md5"})
	require.ErrorIs(t, err, backend.ErrUnknownHashAlgo)
}
