package store

import (
	"context"
	"sync"
	"time"

	"github.com/keyward/apiserver/types"
)

// MemoryAccountRepository keeps accounts in process memory. It serves the
// "memory" store driver and tests.
type MemoryAccountRepository struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]types.Account
	byUsername map[string]int64
	byEmail    map[string]int64
	byPhone    map[string]int64
	now        func() time.Time
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:       make(map[int64]types.Account),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		byPhone:    make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryAccountRepository) GetByID(_ context.Context, id int64) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return clone(account), nil
}

func (r *MemoryAccountRepository) GetByUsername(_ context.Context, username string) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byUsername[username]
	if !ok {
		return types.Account{}, ErrNotFound
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryAccountRepository) Create(_ context.Context, account types.Account) (types.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byUsername[account.Username]; taken {
		return types.Account{}, ErrDuplicateKey
	}
	if _, taken := r.byEmail[account.Email]; taken {
		return types.Account{}, ErrDuplicateKey
	}
	if account.Phone != nil {
		if _, taken := r.byPhone[*account.Phone]; taken {
			return types.Account{}, ErrDuplicateKey
		}
	}

	r.nextID++
	account = clone(account)
	account.ID = r.nextID
	account.CreatedAt = r.now()
	account.UpdatedAt = account.CreatedAt

	r.byID[account.ID] = account
	r.byUsername[account.Username] = account.ID
	r.byEmail[account.Email] = account.ID
	if account.Phone != nil {
		r.byPhone[*account.Phone] = account.ID
	}
	return clone(account), nil
}

func (r *MemoryAccountRepository) UpdatePasswordHash(_ context.Context, id int64, oldHash, newHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if account.PasswordHash != oldHash {
		return ErrConflict
	}
	account.PasswordHash = newHash
	account.UpdatedAt = r.now()
	r.byID[id] = account
	return nil
}

func clone(account types.Account) types.Account {
	if account.Phone != nil {
		phone := *account.Phone
		account.Phone = &phone
	}
	return account
}
