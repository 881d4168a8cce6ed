package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResource_OutputStreamTwiceFails(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), "/jobs/1")
	res, err := m.CreateTempResource()
	require.NoError(t, err)

	w, err := res.OutputStream()
	require.NoError(t, err)
	assert.True(t, res.IsOpen())

	_, err = res.OutputStream()
	require.Error(t, err)
	assert.True(t, IsAlreadyOpen(err))
	var aoe *AlreadyOpenError
	require.ErrorAs(t, err, &aoe)
	assert.Equal(t, res.Path(), aoe.Path)

	require.NoError(t, w.Close())
	assert.False(t, res.IsOpen())

	w2, err := res.OutputStream()
	require.NoError(t, err, "stream can be reopened after close")
	require.NoError(t, w2.Close())
}

func TestResource_MixedStreamsAreExclusive(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), "/jobs/1")
	res, err := m.CreateFile("a.txt")
	require.NoError(t, err)

	w, err := res.OutputStream()
	require.NoError(t, err)
	_, err = res.InputStream()
	assert.True(t, IsAlreadyOpen(err))
	require.NoError(t, w.Close())

	r, err := res.InputStream()
	require.NoError(t, err)
	_, err = res.OutputStream()
	assert.True(t, IsAlreadyOpen(err))
	require.NoError(t, r.Close())
}

func TestResource_CloseIsIdempotent(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), "/jobs/1")
	res, err := m.CreateFile("a.txt")
	require.NoError(t, err)

	w, err := res.OutputStream()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestResource_InputStreamMissingFile(t *testing.T) {
	m := NewManager(afero.NewMemMapFs(), "/jobs/1")
	res, err := m.CreateFile("missing.txt")
	require.NoError(t, err)

	_, err = res.InputStream()
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.False(t, IsAlreadyOpen(err))
	assert.False(t, res.IsOpen())
}
