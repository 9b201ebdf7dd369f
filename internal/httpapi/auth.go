package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

const (
	tokenIssuer       = "tokoledger"
	minUsernameLength = 4
	minPasswordLength = 6
	userLookupTimeout = 3 * time.Second
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errUsernameTaken      = fmt.Errorf("%w: username already exists", store.ErrInvalidTransaction)
)

// UserStore persists accounts. Stored passwords are bcrypt hashes; anything
// else never matches.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// AuthManager issues access tokens and checks the manager PIN. Accounts are
// read from the user store on every call, so an account created by another
// server process can sign in immediately.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	users    UserStore
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthManager hashes managerPIN up front. An empty PIN disables the
// manager-only routes.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	var pinHash []byte
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		pinHash, _ = bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		pinHash:  pinHash,
		users:    users,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, found, err := a.lookup(ctx, req.Username)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !found || !matchesHash(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.Username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(*jwtlib.Token) (interface{}, error) {
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

func (a *AuthManager) sign(username string, role string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateManagerPIN guards sale and supplier payment deletion.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || a.pinHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	account, err := a.createAccount(ctx, req.Username, req.Password, domain.RoleCashier)
	if err != nil {
		return domain.CashierUser{}, err
	}
	return cashierView(account), nil
}

// EnsureAdmin creates the named admin account unless an account with that
// username already exists. It is how a fresh database gets its first login.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username string, password string) error {
	_, found, err := a.lookup(ctx, username)
	if err != nil || found {
		return err
	}
	_, err = a.createAccount(ctx, username, password, domain.RoleAdmin)
	if errors.Is(err, errUsernameTaken) {
		return nil
	}
	return err
}

func (a *AuthManager) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	accounts, err := a.listAccounts(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.CashierUser, 0, len(accounts))
	for _, account := range accounts {
		if account.Role == domain.RoleCashier {
			result = append(result, cashierView(account))
		}
	}
	slices.SortFunc(result, func(x, y domain.CashierUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return result, nil
}

func (a *AuthManager) createAccount(ctx context.Context, username string, password string, role string) (domain.UserAccount, error) {
	username = normalizeUsername(username)
	switch {
	case len(username) < minUsernameLength:
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least %d characters", store.ErrInvalidTransaction, minUsernameLength)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidTransaction)
	case len(strings.TrimSpace(password)) < minPasswordLength:
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalidTransaction, minPasswordLength)
	}

	if _, found, err := a.lookup(ctx, username); err != nil {
		return domain.UserAccount{}, err
	} else if found {
		return domain.UserAccount{}, errUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, account); err != nil {
		// Lost a race with a concurrent create of the same username.
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.UserAccount{}, errUsernameTaken
		}
		return domain.UserAccount{}, err
	}
	return account, nil
}

func (a *AuthManager) lookup(ctx context.Context, username string) (domain.UserAccount, bool, error) {
	username = normalizeUsername(username)
	accounts, err := a.listAccounts(ctx)
	if err != nil {
		return domain.UserAccount{}, false, err
	}
	for _, account := range accounts {
		if normalizeUsername(account.Username) == username {
			return account, true, nil
		}
	}
	return domain.UserAccount{}, false, nil
}

func (a *AuthManager) listAccounts(ctx context.Context) ([]domain.UserAccount, error) {
	if a.users == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, userLookupTimeout)
	defer cancel()
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return accounts, nil
}

func cashierView(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// matchesHash is false for empty input and for stored values that are not
// bcrypt hashes.
func matchesHash(stored string, input string) bool {
	if strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}
