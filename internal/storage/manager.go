// Package storage keeps uploaded floor-plan files on the local disk.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/site-tracker/backend/internal/models"
)

// ErrFileNotFound is returned for unknown file ids.
var ErrFileNotFound = errors.New("file not found")

const (
	drawingExt = ".dxf"
	metaExt    = ".meta.json"
)

// Store defines the interface for drawing file storage.
type Store interface {
	Save(siteID int64, name string, r io.Reader) (*models.DrawingFile, error)
	SaveBytes(siteID int64, name string, data []byte) (*models.DrawingFile, error)
	Get(id string) (*models.DrawingFile, error)
	List(limit int) ([]*models.DrawingFile, error)
	Delete(id string) error
	SetStatus(id string, status models.FileStatus) error
	GetFilePath(id string) (string, error)
}

// LocalStore implements Store using the local filesystem. Every drawing is
// stored as <id>.dxf next to an <id>.meta.json sidecar so the index
// survives restarts.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.DrawingFile
}

// NewLocalStore creates a new LocalStore and indexes the files already in
// uploadDir.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.DrawingFile),
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) scan() error {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return fmt.Errorf("scanning upload directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.uploadDir, e.Name()))
		if err != nil {
			continue
		}
		var info models.DrawingFile
		if err := json.Unmarshal(data, &info); err != nil || info.ID == "" {
			continue
		}
		if _, err := os.Stat(s.dataPath(info.ID)); err != nil {
			continue
		}
		s.files[info.ID] = &info
	}
	return nil
}

func (s *LocalStore) dataPath(id string) string {
	return filepath.Join(s.uploadDir, id+drawingExt)
}

func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.uploadDir, id+metaExt)
}

func (s *LocalStore) writeMeta(info *models.DrawingFile) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(info.ID), data, 0644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// Save saves a drawing to the local filesystem.
func (s *LocalStore) Save(siteID int64, name string, r io.Reader) (*models.DrawingFile, error) {
	id := uuid.New().String()
	path := s.dataPath(id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.DrawingFile{
		ID:         id,
		SiteID:     siteID,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}
	if err := s.writeMeta(info); err != nil {
		os.Remove(path)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return copyInfo(info), nil
}

// SaveBytes saves an in-memory drawing, e.g. one decoded from a base64 upload.
func (s *LocalStore) SaveBytes(siteID int64, name string, data []byte) (*models.DrawingFile, error) {
	return s.Save(siteID, name, bytes.NewReader(data))
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.DrawingFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return copyInfo(info), nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.DrawingFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.DrawingFile, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, copyInfo(info))
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file and its metadata from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	for _, path := range []string{s.dataPath(id), s.metaPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("deleting file: %w", err)
		}
	}
	delete(s.files, id)
	return nil
}

// SetStatus updates the lifecycle status of a file.
func (s *LocalStore) SetStatus(id string, status models.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	info.Status = status
	return s.writeMeta(info)
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return s.dataPath(id), nil
}

func copyInfo(info *models.DrawingFile) *models.DrawingFile {
	c := *info
	return &c
}
