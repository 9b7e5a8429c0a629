package api

import (
	"sync"

	"github.com/google/uuid"
)

// GenerationStore keeps completed generations in memory so clients can
// fetch them again by id.
type GenerationStore struct {
	mu          sync.Mutex
	generations map[string]GenerateResponse
}

func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		generations: make(map[string]GenerateResponse),
	}
}

func (s *GenerationStore) Save(resp GenerateResponse) {
	s.mu.Lock()
	s.generations[resp.ID] = resp
	s.mu.Unlock()
}

func (s *GenerationStore) Get(id string) (GenerateResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.generations[id]
	return resp, ok
}

func (s *GenerationStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[id]; !ok {
		return false
	}
	delete(s.generations, id)
	return true
}

func newGenerationID() string {
	return "gen_" + uuid.NewString()
}
