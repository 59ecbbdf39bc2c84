package receipt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save stores data under path
	Save(ctx context.Context, path string, data []byte, contentType string) error

	// Get retrieves a file by path
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes a file
	Delete(ctx context.Context, path string) error

	// URL returns the URL a client can load the file from
	URL(path string) string

	// PathFromURL maps a URL returned by URL back to its storage path
	PathFromURL(rawURL string) (string, bool)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new LocalStorage instance.
// publicURL is the externally reachable base of the server that serves /files/.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (l *LocalStorage) fullPath(path string) (string, error) {
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("%w: invalid storage path %q", ErrValidation, path)
	}
	return filepath.Join(l.basePath, path), nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(ctx context.Context, path string, data []byte, contentType string) error {
	fullPath, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := l.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// URL returns the /files/ URL of path
func (l *LocalStorage) URL(path string) string {
	return l.publicURL + "/files/" + (&url.URL{Path: path}).EscapedPath()
}

// PathFromURL reverses URL
func (l *LocalStorage) PathFromURL(rawURL string) (string, bool) {
	return trimURLPrefix(rawURL, l.publicURL+"/files/")
}

func trimURLPrefix(rawURL, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(rawURL, prefix)
	if !ok || rest == "" {
		return "", false
	}
	path, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return path, true
}

// isExternalURL reports whether ref is a full URL rather than a storage path
func isExternalURL(ref string) bool {
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(strings.ToLower(ref), scheme) {
			return true
		}
	}
	return false
}
