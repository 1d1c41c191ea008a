package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
)

// MemoryUserStore keeps users in process memory. The service and handler
// tests run against it; the binaries always use UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]models.User)}
}

func cloneUser(u models.User) models.User {
	u.Roles = append([]string{}, u.Roles...)
	if u.Email != nil {
		email := *u.Email
		u.Email = &email
	}
	return u
}

func (s *MemoryUserStore) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[externalID]
	if !ok {
		return nil, nil
	}
	c := cloneUser(u)
	return &c, nil
}

func (s *MemoryUserStore) Exists(ctx context.Context, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[externalID]
	return ok, nil
}

// Save behaves like the Postgres upsert: an existing row keeps its id and
// created_at.
func (s *MemoryUserStore) Save(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[user.ExternalID]; ok {
		user.ID = existing.ID
		user.CreatedAt = existing.CreatedAt
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	s.users[user.ExternalID] = cloneUser(*user)
	return nil
}

func (s *MemoryUserStore) Delete(ctx context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[externalID]; !ok {
		return false, nil
	}
	delete(s.users, externalID)
	return true, nil
}

func (s *MemoryUserStore) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := []models.User{}
	for _, u := range s.users {
		if u.HasRole(role) {
			users = append(users, cloneUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// Len returns the number of stored users.
func (s *MemoryUserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
