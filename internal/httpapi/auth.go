package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"pekseg/backend/internal/domain"
)

const tokenIssuer = "pekseg"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errReturnsLocked      = errors.New("returns are locked: no manager pin configured")
	errManagerPINRejected = errors.New("invalid manager pin")
)

// AuthManager issues bearer tokens for the staff directory and holds the
// manager PIN that unlocks customer returns.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	staff    *staffDirectory
	now      func() time.Time
}

type tokenClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// ReturnApproval records who let a return through the manager PIN gate.
type ReturnApproval struct {
	RequestedBy string
	Role        string
	ApprovedAt  time.Time
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		staff:    newStaffDirectory(userStore),
		now:      func() time.Time { return time.Now().UTC() },
	}
	// An empty PIN leaves pinHash nil and every return is refused.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			log.Error().Err(err).Str("component", "auth").Msg("manager pin not hashed, returns locked")
		} else {
			a.pinHash = hash
		}
	}
	a.staff.refresh(context.Background())
	return a
}

// Login reloads the staff directory first so accounts created by another
// instance can sign in.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.staff.refresh(ctx)
	username := normalizeUsername(req.Username)
	cred, ok := a.staff.lookup(username)
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &tokenClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// AuthorizeReturn checks the manager PIN for a return booked by actor. Every
// role needs the PIN, including admins.
func (a *AuthManager) AuthorizeReturn(actor domain.Actor, pin string) (ReturnApproval, error) {
	if a.pinHash == nil {
		return ReturnApproval{}, errReturnsLocked
	}
	input := strings.TrimSpace(pin)
	if input == "" || bcrypt.CompareHashAndPassword(a.pinHash, []byte(input)) != nil {
		log.Warn().Str("component", "auth").Str("username", actor.Username).Msg("return refused, manager pin rejected")
		return ReturnApproval{}, errManagerPINRejected
	}
	return ReturnApproval{RequestedBy: actor.Username, Role: actor.Role, ApprovedAt: a.now()}, nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username, err := validateCashier(req)
	if err != nil {
		return domain.CashierUser{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, errors.New("failed to hash password")
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleCashier,
		Active:    true,
		CreatedAt: a.now(),
	}
	if err := a.staff.register(ctx, account); err != nil {
		return domain.CashierUser{}, err
	}
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.staff.refresh(ctx)
	return a.staff.members(domain.RoleCashier)
}

func validateCashier(req domain.CashierCreateRequest) (string, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return "", domain.NewValidationError("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return "", domain.NewValidationError("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 6:
		return "", domain.NewValidationError("password must be at least 6 characters")
	}
	return username, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(stored string, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
