package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hpungsan/robolabel/internal/errors"
)

// MinIOConfig holds the bucket connection settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// TempDir is where Localize downloads objects. Empty means os.TempDir().
	TempDir string
}

// MinIO stores videos as objects in a single bucket.
type MinIO struct {
	client  *miniogo.Client
	bucket  string
	tempDir string
}

// NewMinIO creates the client. It does not contact the server; call
// EnsureBucket for that.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, errors.NewInvalidRequest("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.NewInvalidRequest("minio bucket is required")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket, tempDir: cfg.TempDir}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *MinIO) Location(name string) string {
	return "s3://" + s.bucket + "/" + name
}

func (s *MinIO) Save(ctx context.Context, name string, r io.Reader) (Info, error) {
	if err := ValidateName(name); err != nil {
		return Info{}, err
	}
	up, err := s.client.PutObject(ctx, s.bucket, name, r, -1, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return Info{}, fmt.Errorf("upload video: %w", err)
	}
	return Info{Name: name, Size: up.Size, ModTime: up.LastModified.UTC()}, nil
}

func (s *MinIO) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, name, miniogo.StatObjectOptions{})
	if isNoSuchKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat video: %w", err)
	}
	return true, nil
}

func (s *MinIO) Open(ctx context.Context, name string) (io.ReadSeekCloser, Info, error) {
	if err := ValidateName(name); err != nil {
		return nil, Info{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, Info{}, fmt.Errorf("get video: %w", err)
	}
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, Info{}, errors.NewNotFound("video", name)
		}
		return nil, Info{}, fmt.Errorf("stat video: %w", err)
	}
	return obj, Info{Name: name, Size: st.Size, ModTime: st.LastModified.UTC()}, nil
}

// Localize downloads the object into a private temp directory that release
// removes.
func (s *MinIO) Localize(ctx context.Context, name string) (string, func(), error) {
	ok, err := s.Exists(ctx, name)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, errors.NewNotFound("video", name)
	}
	dir, err := os.MkdirTemp(s.tempDir, "robolabel-")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	release := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	if err := s.client.FGetObject(ctx, s.bucket, name, path, miniogo.GetObjectOptions{}); err != nil {
		release()
		return "", nil, fmt.Errorf("download video: %w", err)
	}
	return path, release, nil
}

func (s *MinIO) List(ctx context.Context) ([]Info, error) {
	var out []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list videos: %w", obj.Err)
		}
		if !IsVideo(obj.Key) || ValidateName(obj.Key) != nil {
			continue
		}
		out = append(out, Info{Name: obj.Key, Size: obj.Size, ModTime: obj.LastModified.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	return miniogo.ToErrorResponse(err).Code == "NoSuchKey"
}
