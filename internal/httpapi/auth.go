package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/service"
	"colorstock/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const tokenIssuer = "colorstock"

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	hashCost int
	users    UserStore
	now      func() time.Time
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 2 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		hashCost: bcrypt.DefaultCost,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetPasswordCost changes the bcrypt cost for new hashes. Tests lower it.
func (a *AuthManager) SetPasswordCost(cost int) {
	if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
		a.hashCost = cost
	}
}

func (a *AuthManager) TokenTTL() time.Duration {
	return a.tokenTTL
}

// Register creates a seller account. Elevated roles are only granted through EnsureAdmin.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	if err := service.Validate(req); err != nil {
		return domain.User{}, err
	}
	email := domain.NormalizeEmail(req.Email)
	if _, err := a.users.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, store.Conflict("user already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	hash, err := a.hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	created, err := a.users.CreateUser(ctx, domain.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleSeller,
		IsActive:     true,
		CreatedAt:    a.now(),
	})
	if err != nil {
		return domain.User{}, err
	}
	return *created, nil
}

// EnsureAdmin creates an admin account for email unless one already exists.
// It reports whether a new account was created.
func (a *AuthManager) EnsureAdmin(ctx context.Context, name string, email string, password string) (domain.User, bool, error) {
	email = domain.NormalizeEmail(email)
	existing, err := a.users.GetUserByEmail(ctx, email)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, false, err
	}
	if len(password) < 8 {
		return domain.User{}, false, errors.New("admin password must be at least 8 characters")
	}

	hash, err := a.hashPassword(password)
	if err != nil {
		return domain.User{}, false, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	created, err := a.users.CreateUser(ctx, domain.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		IsActive:     true,
		CreatedAt:    a.now(),
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return *created, true, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.users.GetUserByEmail(ctx, domain.NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user.ID, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		User:      *user,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	if !domain.IsKnownRole(claims.Role) {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{UserID: sub, Role: claims.Role}, nil
}

// Me returns the account behind actor.
func (a *AuthManager) Me(ctx context.Context, actor domain.Actor) (domain.User, error) {
	user, err := a.users.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (a *AuthManager) sign(userID string, role string, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
