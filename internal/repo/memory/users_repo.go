package memory

import (
	"context"
	"sync"

	"github.com/geocoder89/chime/internal/domain/user"
)

type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.Info
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{items: make(map[string]user.Info)}
}

func (r *UsersRepo) Create(ctx context.Context, u user.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[u.ID] = u
	return nil
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.Info{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) Update(ctx context.Context, u user.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[u.ID]; !ok {
		return user.ErrNotFound
	}
	r.items[u.ID] = u
	return nil
}

func (r *UsersRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return user.ErrNotFound
	}
	delete(r.items, id)
	return nil
}
