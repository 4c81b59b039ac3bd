package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/site-tracker/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const parsedExt = ".drawing.msgpack"

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// PersistentParsedStore keeps parsed drawings on disk keyed by file ID so a
// site map reloads at startup without parsing the DXF again.
type PersistentParsedStore struct {
	parsedDir string
	mu        sync.RWMutex
	// fileID -> path
	cache map[string]string
}

// NewPersistentParsedStore creates a store in parsedDir and indexes the
// drawings already there.
func NewPersistentParsedStore(parsedDir string) (*PersistentParsedStore, error) {
	if err := os.MkdirAll(parsedDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parsed directory: %w", err)
	}

	store := &PersistentParsedStore{
		parsedDir: parsedDir,
		cache:     make(map[string]string),
	}
	if err := store.scanExisting(); err != nil {
		return nil, err
	}
	return store, nil
}

func (pps *PersistentParsedStore) scanExisting() error {
	entries, err := os.ReadDir(pps.parsedDir)
	if err != nil {
		return fmt.Errorf("scanning parsed directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, parsedExt) {
			continue
		}
		pps.cache[strings.TrimSuffix(name, parsedExt)] = filepath.Join(pps.parsedDir, name)
	}
	return nil
}

func (pps *PersistentParsedStore) path(fileID string) string {
	return filepath.Join(pps.parsedDir, filepath.Base(fileID)+parsedExt)
}

// IsParsed reports whether a drawing is stored for fileID.
func (pps *PersistentParsedStore) IsParsed(fileID string) bool {
	pps.mu.RLock()
	defer pps.mu.RUnlock()
	_, ok := pps.cache[fileID]
	return ok
}

// Save stores the drawing parsed from fileID.
func (pps *PersistentParsedStore) Save(fileID string, d *models.Drawing) error {
	data, err := msgpack.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding drawing %s: %w", shortID(fileID), err)
	}

	path := pps.path(fileID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing drawing %s: %w", shortID(fileID), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing drawing %s: %w", shortID(fileID), err)
	}

	pps.mu.Lock()
	pps.cache[fileID] = path
	pps.mu.Unlock()
	return nil
}

// Load returns the stored drawing of fileID.
func (pps *PersistentParsedStore) Load(fileID string) (*models.Drawing, error) {
	pps.mu.RLock()
	path, ok := pps.cache[fileID]
	pps.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no parsed drawing for %s", fileID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading drawing %s: %w", shortID(fileID), err)
	}
	var d models.Drawing
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding drawing %s: %w", shortID(fileID), err)
	}
	return &d, nil
}

// Delete removes the stored drawing of fileID.
func (pps *PersistentParsedStore) Delete(fileID string) error {
	pps.mu.Lock()
	path, ok := pps.cache[fileID]
	delete(pps.cache, fileID)
	pps.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting drawing %s: %w", shortID(fileID), err)
	}
	return nil
}

// List returns the stored file IDs.
func (pps *PersistentParsedStore) List() []string {
	pps.mu.RLock()
	defer pps.mu.RUnlock()

	ids := make([]string, 0, len(pps.cache))
	for id := range pps.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupOrphaned removes drawings whose source file no longer exists.
func (pps *PersistentParsedStore) CleanupOrphaned(rawFileIDs []string) int {
	keep := make(map[string]struct{}, len(rawFileIDs))
	for _, id := range rawFileIDs {
		keep[id] = struct{}{}
	}

	removed := 0
	for _, id := range pps.List() {
		if _, ok := keep[id]; ok {
			continue
		}
		if err := pps.Delete(id); err == nil {
			removed++
		}
	}
	return removed
}
