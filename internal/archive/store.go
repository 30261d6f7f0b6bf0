package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the narrow surface the Archiver needs from a blob
// store: conditional-put (collision is a permanent error, never a
// silent overwrite), prefix enumeration, and whole-object read — the
// three capabilities §6 requires of the object store.
type ObjectStore interface {
	PutIfAbsent(ctx context.Context, path string, data []byte, metadata map[string]string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// MinIOStore implements ObjectStore over an S3-compatible endpoint via
// minio-go, chosen over the Azure Blob SDK as the storage dependency
// class best represented across the example pack (see DESIGN.md).
type MinIOStore struct {
	client    *minio.Client
	bucket    string
}

// NewMinIOStore constructs a MinIOStore against endpoint/bucket using
// static access/secret key credentials.
func NewMinIOStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: construct minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

// PutIfAbsent uploads data to path only if no object currently exists
// there. minio-go has no native If-None-Match, so existence is checked
// via StatObject first; an object found there is reported as
// ErrBlobCollision. A PUT failure is returned as a plain wrapped error,
// and an object created between the stat and the PUT is overwritten.
func (s *MinIOStore) PutIfAbsent(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return ErrBlobCollision
	}
	if resp := minio.ToErrorResponse(err); resp.Code != "" && resp.Code != "NoSuchKey" && resp.Code != "NotFound" {
		return fmt.Errorf("archive: stat before put: %w", err)
	}

	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, s.bucket, path, reader, int64(len(data)), minio.PutObjectOptions{
		UserMetadata:    metadata,
		ContentType:     "application/octet-stream",
		SendContentMd5:  true,
	})
	if err != nil {
		return fmt.Errorf("archive: put object: %w", err)
	}
	return nil
}

// List enumerates object keys under prefix.
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return keys, fmt.Errorf("archive: list objects under %q: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Get downloads and returns the full contents of the object at path.
func (s *MinIOStore) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: get object %q: %w", path, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("archive: read object %q: %w", path, err)
	}
	return data, nil
}

// ErrBlobCollision is returned by PutIfAbsent when an object already
// exists at the target path — treated as a permanent error per §4.3.
var ErrBlobCollision = fmt.Errorf("archive: blob already exists at target path")

// blobPath builds the date-partitioned path
// raw_events/yyyy=YYYY/mm=MM/dd=DD/events_<utc-timestamp>_<8-hex>.parquet
// named in §4.3, given the flush time and a random suffix.
func blobPath(now time.Time, suffix string) string {
	return fmt.Sprintf(
		"raw_events/yyyy=%04d/mm=%02d/dd=%02d/events_%s_%s.parquet",
		now.Year(), now.Month(), now.Day(),
		now.Format("20060102_150405.000000000"),
		suffix,
	)
}

// datePrefix builds the date-partition prefix used by GetByDate/GetByRange.
func datePrefix(d time.Time) string {
	return fmt.Sprintf("raw_events/yyyy=%04d/mm=%02d/dd=%02d/", d.Year(), d.Month(), d.Day())
}
