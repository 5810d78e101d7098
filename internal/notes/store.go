package notes

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a note ID does not exist in the store.
var ErrNotFound = errors.New("note not found")

// Store persists notes for one user. Implementations must be safe for
// concurrent use.
type Store interface {
	Create(ownerID string, note Note) (Note, error)
	Get(ownerID, noteID string) (Note, error)
	List(ownerID string) ([]Note, error)
	Update(ownerID string, note Note) (Note, error)
	Delete(ownerID, noteID string) error
}

// MemoryStore is an in-memory Store keyed by owner.
type MemoryStore struct {
	mu    sync.RWMutex
	notes map[string]map[string]Note // ownerID -> noteID -> note
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes: make(map[string]map[string]Note),
		now:   time.Now,
	}
}

// Create stores a new note and assigns it an ID.
func (s *MemoryStore) Create(ownerID string, note Note) (Note, error) {
	if note.Title == "" {
		return Note{}, fmt.Errorf("title is required")
	}

	id, err := generateNoteID()
	if err != nil {
		return Note{}, fmt.Errorf("failed to generate note ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	note.ID = id
	note.CreatedAt = s.now()
	note.UpdatedAt = note.CreatedAt

	if s.notes[ownerID] == nil {
		s.notes[ownerID] = make(map[string]Note)
	}
	s.notes[ownerID][id] = note

	return note, nil
}

// Get returns one note by ID.
func (s *MemoryStore) Get(ownerID, noteID string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	note, ok := s.notes[ownerID][noteID]
	if !ok {
		return Note{}, ErrNotFound
	}
	return note, nil
}

// List returns the owner's notes, newest first.
func (s *MemoryStore) List(ownerID string) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Note, 0, len(s.notes[ownerID]))
	for _, note := range s.notes[ownerID] {
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces an existing note's content, keeping its creation time.
func (s *MemoryStore) Update(ownerID string, note Note) (Note, error) {
	if note.ID == "" {
		return Note{}, fmt.Errorf("note ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.notes[ownerID][note.ID]
	if !ok {
		return Note{}, ErrNotFound
	}

	note.CreatedAt = existing.CreatedAt
	note.UpdatedAt = s.now()
	s.notes[ownerID][note.ID] = note

	return note, nil
}

// Delete removes a note.
func (s *MemoryStore) Delete(ownerID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[ownerID][noteID]; !ok {
		return ErrNotFound
	}
	delete(s.notes[ownerID], noteID)
	return nil
}

func generateNoteID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
