// Package association keeps the tag to entity links and joins them with
// live positions for display.
package association

import (
	"sort"
	"sync"

	"github.com/site-tracker/backend/internal/models"
)

// Store holds at most one association per tag. Writes replace.
type Store struct {
	mu    sync.RWMutex
	links map[string]models.Association
}

// NewStore creates an empty association store.
func NewStore() *Store {
	return &Store{links: make(map[string]models.Association)}
}

// Associate links tagID to the given entity, replacing any previous link.
// An empty target type or a zero target id removes the association.
// It reports whether the tag ends up associated.
func (s *Store) Associate(tagID string, targetType models.TargetType, targetID int64) bool {
	if tagID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetType == "" || targetID == 0 {
		delete(s.links, tagID)
		return false
	}
	s.links[tagID] = models.Association{TagID: tagID, TargetType: targetType, TargetID: targetID}
	return true
}

// Remove drops the association of tagID, if any.
func (s *Store) Remove(tagID string) {
	s.mu.Lock()
	delete(s.links, tagID)
	s.mu.Unlock()
}

// Resolve returns the association of tagID.
func (s *Store) Resolve(tagID string) (models.Association, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.links[tagID]
	return a, ok
}

// All returns every association ordered by tag id.
func (s *Store) All() []models.Association {
	s.mu.RLock()
	out := make([]models.Association, 0, len(s.links))
	for _, a := range s.links {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Len returns the number of associated tags.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Load replaces the store content, typically from the database at startup.
func (s *Store) Load(links []models.Association) {
	m := make(map[string]models.Association, len(links))
	for _, a := range links {
		if a.TagID == "" || a.TargetType == "" || a.TargetID == 0 {
			continue
		}
		m[a.TagID] = a
	}
	s.mu.Lock()
	s.links = m
	s.mu.Unlock()
}
