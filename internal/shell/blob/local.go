package blob

import (
	"context"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// LocalStorage implements Storage on an afero filesystem. Object names map
// to slash-separated paths under the filesystem root; content types are
// derived from the extension.
type LocalStorage struct {
	fs     afero.Fs
	bucket string
}

// NewLocalStorage stores objects in fs and reports bucket as the bucket name.
func NewLocalStorage(fs afero.Fs, bucket string) *LocalStorage {
	return &LocalStorage{fs: fs, bucket: bucket}
}

// NewLocalDirStorage stores objects under dir on the host filesystem.
func NewLocalDirStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		return nil, NewBlobError("NewLocalDirStorage", "", "", "storage.local_dir is not set", ErrBucketRequired)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, NewBlobError("NewLocalDirStorage", dir, "", err.Error(), err)
	}
	return NewLocalStorage(afero.NewBasePathFs(osFs, dir), filepath.Base(dir)), nil
}

// Bucket returns the base name of the storage directory.
func (s *LocalStorage) Bucket() string {
	return s.bucket
}

// URI returns a file:// reference to the object.
func (s *LocalStorage) URI(name string) string {
	return "file://" + s.bucket + "/" + name
}

// Close is a no-op.
func (s *LocalStorage) Close() error {
	return nil
}

// objectPath maps an object name to a rooted path, rejecting names that
// would escape the root.
func objectPath(name string) (string, error) {
	if name == "" || strings.HasSuffix(name, "/") {
		return "", ErrInvalidName
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", ErrInvalidName
		}
	}
	return path.Clean("/" + name), nil
}

// Upload writes r to the object, creating parent directories as needed.
func (s *LocalStorage) Upload(ctx context.Context, name string, r io.Reader, contentType string) (*ObjectInfo, error) {
	p, err := objectPath(name)
	if err != nil {
		return nil, NewBlobError("Upload", s.bucket, name, "invalid object name", err)
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, NewBlobError("Upload", s.bucket, name, err.Error(), ErrUploadFailed)
	}
	if err := afero.WriteReader(s.fs, p, r); err != nil {
		return nil, NewBlobError("Upload", s.bucket, name, err.Error(), ErrUploadFailed)
	}

	info, err := s.stat(p, name)
	if err != nil {
		return nil, NewBlobError("Upload", s.bucket, name, err.Error(), ErrUploadFailed)
	}
	if contentType != "" {
		info.ContentType = contentType
	}
	return info, nil
}

// Read returns the object contents or ErrNotFound.
func (s *LocalStorage) Read(ctx context.Context, name string) ([]byte, error) {
	p, err := objectPath(name)
	if err != nil {
		return nil, NewBlobError("Read", s.bucket, name, "invalid object name", err)
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewBlobError("Read", s.bucket, name, "object not found", ErrNotFound)
		}
		return nil, NewBlobError("Read", s.bucket, name, err.Error(), err)
	}
	return data, nil
}

// Delete removes the object. Deleting a missing object returns ErrNotFound.
func (s *LocalStorage) Delete(ctx context.Context, name string) error {
	p, err := objectPath(name)
	if err != nil {
		return NewBlobError("Delete", s.bucket, name, "invalid object name", err)
	}
	if ok, _ := s.Exists(ctx, name); !ok {
		return NewBlobError("Delete", s.bucket, name, "object not found", ErrNotFound)
	}
	if err := s.fs.Remove(p); err != nil {
		return NewBlobError("Delete", s.bucket, name, err.Error(), err)
	}
	return nil
}

// Exists reports whether a regular file holds the object. Invalid names
// simply do not exist.
func (s *LocalStorage) Exists(ctx context.Context, name string) (bool, error) {
	p, err := objectPath(name)
	if err != nil {
		return false, nil
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewBlobError("Exists", s.bucket, name, err.Error(), err)
	}
	return !fi.IsDir(), nil
}

// List walks the directory and returns every object whose name starts with
// prefix.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects := []ObjectInfo{}
	err := afero.Walk(s.fs, "/", func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		name := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		objects = append(objects, *fileInfoToObject(name, fi))
		return nil
	})
	if err != nil {
		return nil, NewBlobError("List", s.bucket, prefix, err.Error(), err)
	}
	return objects, nil
}

func (s *LocalStorage) stat(p, name string) (*ObjectInfo, error) {
	fi, err := s.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	return fileInfoToObject(name, fi), nil
}

func fileInfoToObject(name string, fi os.FileInfo) *ObjectInfo {
	mod := fi.ModTime().UTC()
	return &ObjectInfo{
		Name:        name,
		Size:        fi.Size(),
		Created:     &mod,
		Updated:     &mod,
		ContentType: mime.TypeByExtension(path.Ext(name)),
	}
}
