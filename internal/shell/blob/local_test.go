package blob

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocal(t *testing.T) *LocalStorage {
	t.Helper()
	return NewLocalStorage(afero.NewMemMapFs(), "examai-test")
}

func TestLocal_UploadReadDelete(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	info, err := s.Upload(ctx, "notes/20250601_093000_abcd1234_a.pdf", strings.NewReader("%PDF-1.4"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "notes/20250601_093000_abcd1234_a.pdf", info.Name)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)
	assert.NotNil(t, info.Created)

	data, err := s.Read(ctx, "notes/20250601_093000_abcd1234_a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	exists, err := s.Exists(ctx, "notes/20250601_093000_abcd1234_a.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "notes/20250601_093000_abcd1234_a.pdf"))

	exists, err = s.Exists(ctx, "notes/20250601_093000_abcd1234_a.pdf")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocal_NotFound(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	_, err := s.Read(ctx, "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Delete(ctx, "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	var blobErr *BlobError
	require.True(t, errors.As(err, &blobErr))
	assert.Equal(t, "Delete", blobErr.Op)
	assert.Equal(t, "Delete examai-test/missing.png: object not found", blobErr.Error())
}

func TestLocal_DirectoryIsNotAnObject(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, "notes/a.png", strings.NewReader("png"), "image/png")
	require.NoError(t, err)

	exists, err := s.Exists(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocal_InvalidNames(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	for _, name := range []string{"", "../escape.txt", "a/../../b", "dir/"} {
		_, err := s.Upload(ctx, name, strings.NewReader("x"), "")
		assert.ErrorIs(t, err, ErrInvalidName, "%q", name)

		exists, err := s.Exists(ctx, name)
		assert.NoError(t, err)
		assert.False(t, exists)
	}
}

func TestLocal_List(t *testing.T) {
	s := setupLocal(t)
	ctx := context.Background()

	for _, name := range []string{"b.png", "notes/a.pdf", "notes/c.jpg", "ocr_results/x/output-1-to-2.json"} {
		_, err := s.Upload(ctx, name, strings.NewReader(name), "")
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, o := range all {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"b.png", "notes/a.pdf", "notes/c.jpg", "ocr_results/x/output-1-to-2.json"}, names)
	assert.Equal(t, "image/png", all[0].ContentType)
	assert.Equal(t, "application/pdf", all[1].ContentType)

	notes, err := s.List(ctx, "notes/")
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	none, err := s.List(ctx, "nothing/")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestLocal_URI(t *testing.T) {
	s := setupLocal(t)
	assert.Equal(t, "examai-test", s.Bucket())
	assert.Equal(t, "file://examai-test/notes/a.pdf", s.URI("notes/a.pdf"))
}

func TestNewLocalDirStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalDirStorage(dir)
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "x/y.png", strings.NewReader("img"), "image/png")
	require.NoError(t, err)

	exists, err := afero.Exists(afero.NewOsFs(), dir+"/x/y.png")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = NewLocalDirStorage("")
	assert.ErrorIs(t, err, ErrBucketRequired)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverLocal, LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(context.Background(), Config{Driver: "s3"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Config{Driver: DriverGCS})
	assert.ErrorIs(t, err, ErrBucketRequired)
}
