package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"phone-auth-service/internal/models"
	"phone-auth-service/internal/repository"
)

type UserRepository struct {
	mu      sync.Mutex
	byPhone map[string]*models.User
	hash    func(string) string
}

// NewUserRepository builds the store; hash derives PhoneHash and may be nil.
func NewUserRepository(hash func(string) string) *UserRepository {
	if hash == nil {
		hash = func(string) string { return "" }
	}
	return &UserRepository{byPhone: make(map[string]*models.User), hash: hash}
}

func (r *UserRepository) UpsertVerified(_ context.Context, phone string, at time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byPhone[phone]
	if !ok {
		u = &models.User{
			UserID:      uuid.NewString(),
			PhoneNumber: phone,
			PhoneHash:   r.hash(phone),
			Role:        models.RoleCustomer,
			CreatedAt:   at,
		}
		r.byPhone[phone] = u
	}
	login := at
	u.IsVerified = true
	u.LastLogin = &login
	u.UpdatedAt = at

	c := *u
	return &c, nil
}

func (r *UserRepository) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byPhone[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}
