package blob

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage on a Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// NewGCSStorage creates a client for bucket.
func NewGCSStorage(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStorage, error) {
	if bucket == "" {
		return nil, NewBlobError("NewGCSStorage", "", "", "GCS_BUCKET_NAME is not set", ErrBucketRequired)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewBlobError("NewGCSStorage", bucket, "", "failed to create client", err)
	}
	return &GCSStorage{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket name.
func (s *GCSStorage) Bucket() string {
	return s.bucket
}

// URI returns the gs:// reference Vision uses to read the object.
func (s *GCSStorage) URI(name string) string {
	return "gs://" + s.bucket + "/" + name
}

// Close closes the storage client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload streams r into the object. A failed copy cancels the write so no
// partial object is left behind.
func (s *GCSStorage) Upload(ctx context.Context, name string, r io.Reader, contentType string) (*ObjectInfo, error) {
	if name == "" {
		return nil, NewBlobError("Upload", s.bucket, name, "empty object name", ErrInvalidName)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return nil, NewBlobError("Upload", s.bucket, name, err.Error(), ErrUploadFailed)
	}
	if err := w.Close(); err != nil {
		return nil, NewBlobError("Upload", s.bucket, name, err.Error(), ErrUploadFailed)
	}
	return attrsToInfo(w.Attrs()), nil
}

// Read downloads the whole object. A missing object returns ErrNotFound.
func (s *GCSStorage) Read(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NewBlobError("Read", s.bucket, name, "object not found", ErrNotFound)
		}
		return nil, NewBlobError("Read", s.bucket, name, err.Error(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, NewBlobError("Read", s.bucket, name, err.Error(), err)
	}
	return data, nil
}

// Delete removes the object. A missing object returns ErrNotFound.
func (s *GCSStorage) Delete(ctx context.Context, name string) error {
	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return NewBlobError("Delete", s.bucket, name, "object not found", ErrNotFound)
		}
		return NewBlobError("Delete", s.bucket, name, err.Error(), err)
	}
	return nil
}

// Exists reports whether the object has attributes in the bucket.
func (s *GCSStorage) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, NewBlobError("Exists", s.bucket, name, err.Error(), err)
	}
	return true, nil
}

// List returns the objects whose names start with prefix.
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	objects := []ObjectInfo{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, NewBlobError("List", s.bucket, prefix, err.Error(), err)
		}
		objects = append(objects, *attrsToInfo(attrs))
	}
	return objects, nil
}

func attrsToInfo(attrs *storage.ObjectAttrs) *ObjectInfo {
	info := &ObjectInfo{
		Name:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}
	if !attrs.Created.IsZero() {
		created := attrs.Created
		info.Created = &created
	}
	if !attrs.Updated.IsZero() {
		updated := attrs.Updated
		info.Updated = &updated
	}
	return info
}
