package receipt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gcs "google.golang.org/api/storage/v1"
)

const gcsPublicHost = "https://storage.googleapis.com/"

// GCSStorage implements the Storage interface using a Google Cloud Storage bucket
type GCSStorage struct {
	service *gcs.Service
	bucket  string
}

// NewGCSStorage creates a new GCSStorage instance.
// Credentials come from opts, or from the environment when none are given.
func NewGCSStorage(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStorage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	service, err := gcs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStorage{service: service, bucket: bucket}, nil
}

func mapGCSError(path string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("object %s: %w", path, ErrNotFound)
	}
	return err
}

// Save uploads an object
func (g *GCSStorage) Save(ctx context.Context, path string, data []byte, contentType string) error {
	object := &gcs.Object{Name: path, ContentType: contentType}
	_, err := g.service.Objects.Insert(g.bucket, object).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

// Get downloads an object
func (g *GCSStorage) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := g.service.Objects.Get(g.bucket, path).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading object: %w", mapGCSError(path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object: %w", err)
	}
	return data, nil
}

// Delete removes an object
func (g *GCSStorage) Delete(ctx context.Context, path string) error {
	if err := g.service.Objects.Delete(g.bucket, path).Context(ctx).Do(); err != nil {
		return fmt.Errorf("deleting object: %w", mapGCSError(path, err))
	}
	return nil
}

// URL returns the public object URL
func (g *GCSStorage) URL(path string) string {
	return gcsPublicHost + g.bucket + "/" + (&url.URL{Path: path}).EscapedPath()
}

// PathFromURL strips the bucket prefix from a public object URL
func (g *GCSStorage) PathFromURL(rawURL string) (string, bool) {
	return trimURLPrefix(rawURL, gcsPublicHost+g.bucket+"/")
}
