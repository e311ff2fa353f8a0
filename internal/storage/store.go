// Package storage keeps uploaded game images in a bucket-like file tree.
package storage

import (
	"context"
	"encoding/base64"
	"os"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ErrObjectNotFound indicates no object is stored under the path.
var ErrObjectNotFound = eris.New("storage object not found")

// ErrInvalidPath indicates a path that is empty or escapes the bucket.
var ErrInvalidPath = eris.New("invalid storage path")

// ErrEmptyObject indicates an upload without a body.
var ErrEmptyObject = eris.New("storage object is empty")

// Object is a downloaded blob.
type Object struct {
	Path        string
	ContentType string
	Data        []byte
}

// DataURL renders the object as an inline data URL.
func (o Object) DataURL() string {
	return "data:" + o.ContentType + ";base64," + base64.StdEncoding.EncodeToString(o.Data)
}

// Store reads and writes blobs on an afero filesystem.
type Store struct {
	fs     afero.Fs
	logger *logrus.Logger
}

// NewStore wraps fs. Paths are resolved relative to its root.
func NewStore(fs afero.Fs, logger *logrus.Logger) (*Store, error) {
	if fs == nil {
		return nil, eris.New("storage filesystem is required")
	}
	return &Store{fs: fs, logger: logger}, nil
}

// NewDiskStore stores blobs below root on the local disk.
func NewDiskStore(root string, logger *logrus.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, eris.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "creating storage root: %s", root)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), root), logger)
}

// NewMemoryStore keeps blobs in memory.
func NewMemoryStore(logger *logrus.Logger) *Store {
	return &Store{fs: afero.NewMemMapFs(), logger: logger}
}

// CleanPath normalises an object path and rejects paths that leave the bucket.
func CleanPath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", eris.Wrap(ErrInvalidPath, "path is empty")
	}

	cleaned := path.Clean("/" + strings.ReplaceAll(trimmed, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", eris.Wrapf(ErrInvalidPath, "path %q", raw)
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", eris.Wrapf(ErrInvalidPath, "path %q escapes the bucket", raw)
		}
	}
	return cleaned, nil
}

// Upload writes data under objectPath, replacing any existing object, and returns the stored object.
func (s *Store) Upload(_ context.Context, objectPath string, data []byte) (*Object, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, eris.Wrapf(ErrEmptyObject, "object %s", cleaned)
	}

	if dir := path.Dir(cleaned); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			s.logError(cleaned, err, "creating object directory")
			return nil, eris.Wrapf(err, "creating directory for %s", cleaned)
		}
	}

	if err := afero.WriteFile(s.fs, cleaned, data, 0o644); err != nil {
		s.logError(cleaned, err, "writing object")
		return nil, eris.Wrapf(err, "writing object %s", cleaned)
	}

	return &Object{Path: cleaned, ContentType: mimetype.Detect(data).String(), Data: data}, nil
}

// Download reads the object stored under objectPath.
func (s *Store) Download(_ context.Context, objectPath string) (*Object, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrObjectNotFound, "object %s", cleaned)
		}
		s.logError(cleaned, err, "reading object")
		return nil, eris.Wrapf(err, "reading object %s", cleaned)
	}

	return &Object{Path: cleaned, ContentType: mimetype.Detect(data).String(), Data: data}, nil
}

// Remove deletes the given objects. Missing objects are ignored.
func (s *Store) Remove(_ context.Context, paths ...string) error {
	for _, raw := range paths {
		cleaned, err := CleanPath(raw)
		if err != nil {
			return err
		}
		if err := s.fs.Remove(cleaned); err != nil && !os.IsNotExist(err) {
			s.logError(cleaned, err, "removing object")
			return eris.Wrapf(err, "removing object %s", cleaned)
		}
	}
	return nil
}

// Exists reports whether an object is stored under objectPath.
func (s *Store) Exists(_ context.Context, objectPath string) (bool, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, cleaned)
	if err != nil {
		return false, eris.Wrapf(err, "checking object %s", cleaned)
	}
	return ok, nil
}

func (s *Store) logError(objectPath string, err error, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"component": "storage",
		"path":      objectPath,
		"error":     err.Error(),
	}).Error(message)
}
