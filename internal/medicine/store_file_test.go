package medicine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileStore_InitializesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	_, err := NewFileStore(path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"medicines":[]}`, string(b))
}

func TestNewFileStore_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"medicines":[{"name":"Aspirin","price":3}]}`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	recs, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Aspirin"}, names(recs))
}

func TestFileStore_MissingCollectionFieldReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)

	recs, err := s.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)

	mustCreate(t, s, "a", 1)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"medicines":[{"name":"a","price":1}]}`, string(b))
}

func TestFileStore_CorruptFileIsStorageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"medicines": [`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.ListAll(ctx)
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "decode", se.Op)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, _, err = s.GetByName(ctx, "a")
	assert.ErrorIs(t, err, ErrCorrupt)
	_, _, err = s.AveragePrice(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = s.Create(ctx, "a", 1)
	assert.ErrorIs(t, err, ErrCorrupt)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"medicines": [`, string(b), "corrupt file must not be overwritten")
}

func TestFileStore_NonNumericPricesSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"medicines":[{"name":"a","price":"bad"}]}`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	_, out, err := s.AveragePrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, NoValidPrices, out)

	mustCreate(t, s, "b", 8)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"medicines":[{"name":"a","price":"bad"},{"name":"b","price":8}]}`, string(b))

	avg, out, err := s.AveragePrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, OK, out)
	assert.Equal(t, 8.0, avg)
}

func TestFileStore_UnknownKeysSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": 2,
		"medicines": [
			{"name": "a", "price": 1, "stock": 4, "tags": ["otc"]},
			{"name": "c"}
		]
	}`), 0o644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := s.UpdatePrice(ctx, "A", 5)
	require.NoError(t, err)
	require.Equal(t, OK, out)
	mustCreate(t, s, "b", 2)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 2,
		"medicines": [
			{"name": "a", "price": 5, "stock": 4, "tags": ["otc"]},
			{"name": "c"},
			{"name": "b", "price": 2}
		]
	}`, string(b))

	out, err = s.Delete(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, OK, out)

	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 2,
		"medicines": [
			{"name": "a", "price": 5, "stock": 4, "tags": ["otc"]},
			{"name": "b", "price": 2}
		]
	}`, string(b))
}

func TestFileStore_MissingFileAfterOpenIsStorageError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = s.Delete(context.Background(), "a")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "read", se.Op)

	assert.Error(t, s.Ping(context.Background()))
}

func TestWriteFileAtomic_FailureLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.json")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o755))

	err := writeFileAtomic(target, []byte(`{}`), dataFilePerm)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}

func TestWriteFileAtomic_RelativePath(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeFileAtomic("data.json", []byte("new"), dataFilePerm))

	b, err := os.ReadFile("data.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestSyncDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, syncDir(dir))
	assert.Error(t, syncDir(filepath.Join(dir, "missing")))
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	target := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(target, []byte("old content that is longer"), 0o644))

	require.NoError(t, writeFileAtomic(target, []byte("new"), dataFilePerm))

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}
