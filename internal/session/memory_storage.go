package session

import (
	"sync"

	"github.com/wolfeidau/psadmin/internal/models"
)

// MemoryStorage keeps the session in process memory only.
type MemoryStorage struct {
	mu    sync.Mutex
	user  *models.User
	token string
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load() (*models.User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil && s.token == "" {
		return nil, "", ErrNoSession
	}
	return cloneUser(s.user), s.token, nil
}

func (s *MemoryStorage) Save(user *models.User, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = cloneUser(user)
	s.token = token
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	s.token = ""
	return nil
}
