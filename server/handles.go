package server

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/chazu/jary/vm/dist"
)

// program is a compiled image held for later evaluation.
type program struct {
	id       string
	name     string
	image    *dist.Image
	created  time.Time
	lastUsed time.Time
}

// ProgramStore maps program IDs to compiled images. The ID is the hex image
// hash, so compiling the same program twice yields the same ID.
type ProgramStore struct {
	mu       sync.RWMutex
	programs map[string]*program
}

// NewProgramStore creates an empty store.
func NewProgramStore() *ProgramStore {
	return &ProgramStore{programs: make(map[string]*program)}
}

// ProgramID returns the ID under which img is stored.
func ProgramID(img *dist.Image) string {
	return hex.EncodeToString(img.Hash[:])
}

// Put registers img and returns its ID.
func (s *ProgramStore) Put(name string, img *dist.Image) string {
	id := ProgramID(img)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p, ok := s.programs[id]; ok {
		p.lastUsed = now
		return id
	}
	s.programs[id] = &program{id: id, name: name, image: img, created: now, lastUsed: now}
	return id
}

// Lookup retrieves the image for an ID.
func (s *ProgramStore) Lookup(id string) (*dist.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.programs[id]
	if !ok {
		return nil, false
	}
	p.lastUsed = time.Now()
	return p.image, true
}

// Release removes a program.
func (s *ProgramStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.programs, id)
}

// Len returns the number of stored programs.
func (s *ProgramStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.programs)
}

// Sweep removes programs that haven't been used within the TTL.
func (s *ProgramStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, p := range s.programs {
		if p.lastUsed.Before(cutoff) {
			delete(s.programs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *ProgramStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Debugf("swept %d idle programs", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
