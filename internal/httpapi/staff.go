package httpapi

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pekseg/backend/internal/domain"
)

// staffRefreshTimeout bounds how long a request waits on the user store
// before falling back to the cached accounts.
const staffRefreshTimeout = 2 * time.Second

var errUsernameTaken = domain.NewValidationError("username already exists")

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

// staffDirectory caches the bakery's staff accounts. The user store stays
// authoritative; a nil store keeps accounts in memory only.
type staffDirectory struct {
	mu       sync.RWMutex
	store    UserStore
	accounts map[string]credential
}

func newStaffDirectory(store UserStore) *staffDirectory {
	return &staffDirectory{store: store, accounts: make(map[string]credential)}
}

func (d *staffDirectory) lookup(username string) (credential, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cred, ok := d.accounts[username]
	return cred, ok
}

func (d *staffDirectory) register(ctx context.Context, account domain.UserAccount) error {
	d.refresh(ctx)
	if _, taken := d.lookup(account.Username); taken {
		return errUsernameTaken
	}
	if d.store != nil {
		if err := d.store.CreateUser(ctx, account); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[account.Username] = credential{
		password: account.Password,
		role:     account.Role,
		active:   account.Active,
		created:  account.CreatedAt,
	}
	log.Info().Str("component", "auth").Str("username", account.Username).Str("role", account.Role).Msg("staff account created")
	return nil
}

func (d *staffDirectory) members(role string) []domain.CashierUser {
	d.mu.RLock()
	out := make([]domain.CashierUser, 0, len(d.accounts))
	for username, cred := range d.accounts {
		if cred.role != role {
			continue
		}
		out = append(out, domain.CashierUser{
			Username:  username,
			Role:      cred.role,
			Active:    cred.active,
			CreatedAt: cred.created,
		})
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.CashierUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// refresh reloads accounts from the store, upgrading plain-text passwords
// to bcrypt on the way. A slow or failing store leaves the cache as it was.
func (d *staffDirectory) refresh(ctx context.Context) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, staffRefreshTimeout)
	defer cancel()

	users, err := d.store.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "auth").Msg("staff refresh failed")
		return
	}

	loaded := make(map[string]credential, len(users))
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		password, err := d.upgradePassword(ctx, username, user.Password)
		if err != nil {
			log.Warn().Err(err).Str("component", "auth").Str("username", username).Msg("password upgrade not persisted")
		}
		loaded[username] = credential{
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for username, cred := range loaded {
		d.accounts[username] = cred
	}
}

// upgradePassword returns the bcrypt form of stored, persisting it when the
// store still held plain text. The hash is usable even if persisting fails.
func (d *staffDirectory) upgradePassword(ctx context.Context, username, stored string) (string, error) {
	if isPasswordHash(stored) {
		return stored, nil
	}
	if stored == "" {
		return "", errors.New("empty stored password")
	}
	hash, err := hashPassword(stored)
	if err != nil {
		return "", err
	}
	return hash, d.store.UpdateUserPassword(ctx, username, hash)
}
