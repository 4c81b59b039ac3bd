// mock_storage.go - Mock drawing storage for handler tests
package testutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/storage"
)

// MockStorage implements storage.Store in memory. When created with a
// directory it also writes every file to disk so parsers can open it.
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.DrawingFile
	fileData map[string][]byte
	dir      string

	// SaveErr, when set, is returned by every save.
	SaveErr error
}

// NewMockStorage creates an in-memory mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.DrawingFile),
		fileData: make(map[string][]byte),
	}
}

// NewMockStorageWithTempDir creates a mock storage that also writes files to dir.
func NewMockStorageWithTempDir(dir string) *MockStorage {
	m := NewMockStorage()
	m.dir = dir
	return m
}

func (m *MockStorage) Save(siteID int64, name string, r io.Reader) (*models.DrawingFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(siteID, name, data)
}

func (m *MockStorage) SaveBytes(siteID int64, name string, data []byte) (*models.DrawingFile, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	return m.AddFile(generateTestID(), siteID, name, data), nil
}

func (m *MockStorage) Get(id string) (*models.DrawingFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, storage.ErrFileNotFound
	}
	c := *file
	return &c, nil
}

func (m *MockStorage) List(limit int) ([]*models.DrawingFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.DrawingFile, 0, len(m.files))
	for _, file := range m.files {
		c := *file
		files = append(files, &c)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return storage.ErrFileNotFound
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *MockStorage) SetStatus(id string, status models.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[id]
	if !ok {
		return storage.ErrFileNotFound
	}
	file.Status = status
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.files[id]; !ok {
		return "", storage.ErrFileNotFound
	}
	if m.dir == "" {
		return "/mock/path/" + id, nil
	}
	return filepath.Join(m.dir, id+".dxf"), nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// AddFile adds a file directly to the mock
func (m *MockStorage) AddFile(id string, siteID int64, name string, data []byte) *models.DrawingFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir != "" {
		if err := os.WriteFile(filepath.Join(m.dir, id+".dxf"), data, 0644); err != nil {
			panic(fmt.Sprintf("failed to write test file: %v", err))
		}
	}

	file := &models.DrawingFile{
		ID:         id,
		SiteID:     siteID,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
	}
	m.files[id] = file
	m.fileData[id] = data
	c := *file
	return &c
}

// GetFileData returns the file content
func (m *MockStorage) GetFileData(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
