// Package objectstore stores uploaded images in an S3-compatible bucket using
// minio-go.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cory-johannsen/duel/internal/config"
)

// Folder is the object name prefix an upload is stored under.
type Folder string

const (
	FolderAvatars    Folder = "avatars"
	FolderChatImages Folder = "chat-images"
)

// Upload size limits in bytes.
const (
	MaxAvatarBytes    int64 = 2 << 20
	MaxChatImageBytes int64 = 5 << 20
)

// Limit returns the maximum upload size for f.
func (f Folder) Limit() int64 {
	if f == FolderAvatars {
		return MaxAvatarBytes
	}
	return MaxChatImageBytes
}

// ErrImageType is returned for uploads that are not jpeg, png or webp.
var ErrImageType = errors.New("only jpeg, png and webp images are allowed")

// ErrImageTooLarge is returned for uploads over the folder's size limit.
var ErrImageTooLarge = errors.New("image too large")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// DetectImageType sniffs the content type of an image from its leading bytes.
//
// Postcondition: Returns the content type and file extension, or ErrImageType.
func DetectImageType(head []byte) (contentType, ext string, err error) {
	contentType = http.DetectContentType(head)
	ext, ok := extensions[contentType]
	if !ok {
		return "", "", ErrImageType
	}
	return contentType, ext, nil
}

// ReadImage reads at most limit bytes of an image from r and validates its type.
//
// Postcondition: Returns the image bytes and content type, ErrImageTooLarge
// when r holds more than limit bytes, or ErrImageType.
func ReadImage(r io.Reader, limit int64) (data []byte, contentType, ext string, err error) {
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, "", "", fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", "", ErrImageTooLarge
	}
	contentType, ext, err = DetectImageType(data)
	if err != nil {
		return nil, "", "", err
	}
	return data, contentType, ext, nil
}

// Store uploads images to a single bucket.
type Store struct {
	client  *minio.Client
	bucket  string
	baseURL string
	newName func() string
}

// New connects to the object store and ensures the bucket exists.
//
// Precondition: cfg.Endpoint and cfg.Bucket must be non-empty.
// Postcondition: Returns a ready Store or a non-nil error.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}

	baseURL := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(client.EndpointURL().String(), "/"), cfg.Bucket)
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: baseURL,
		newName: func() string { return uuid.NewString() },
	}, nil
}

// UploadImage validates and stores an image under folder.
//
// Postcondition: Returns the public URL of the stored object, ErrImageType,
// ErrImageTooLarge, or an error wrapping the store failure.
func (s *Store) UploadImage(ctx context.Context, folder Folder, r io.Reader) (string, error) {
	data, contentType, ext, err := ReadImage(r, folder.Limit())
	if err != nil {
		return "", err
	}

	name := ObjectName(folder, s.newName(), ext)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}
	return s.URL(name), nil
}

// Get returns the stored object for name. The caller must close it.
func (s *Store) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	return obj, nil
}

// URL returns the public URL of the object name.
func (s *Store) URL(name string) string {
	return s.baseURL + "/" + name
}

// ObjectName builds the object name for an upload.
func ObjectName(folder Folder, id, ext string) string {
	return string(folder) + "/" + id + ext
}
