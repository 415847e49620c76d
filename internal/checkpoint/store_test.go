package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingFileLoadsZero(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "cp.json"))
	last, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cp.json")
	s := Open(path)
	require.NoError(t, s.Save(120))
	assert.Equal(t, uint64(120), s.Last())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	last, err := Open(path).Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(120), last)
}

func TestSaveIsMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	s := Open(path)
	require.NoError(t, s.Save(50))
	require.NoError(t, s.Save(40))

	last, err := Open(path).Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), last)
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Open(path).Load()
	assert.Error(t, err)
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.Nil(t, Open(""))
	last, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, last)
	assert.NoError(t, s.Save(10))
	assert.Zero(t, s.Last())
}
