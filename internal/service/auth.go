package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
)

// dummyPasswordHash is a valid cost-10 bcrypt hash. It is compared against
// when a login names an unknown user, so those requests pay the full bcrypt
// cost and response timing cannot be used to enumerate usernames.
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// SessionPrincipal identifies the operator behind an authenticated request.
type SessionPrincipal struct {
	UserID   int64
	Username string
	Role     string
}

// UserStore is the persistence contract the auth service consumes.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateUserLastLogin(ctx context.Context, id int64) error
}

// AuthService authenticates operators and manages their session tokens. The
// session secret is distinct from the response signing secret.
type AuthService struct {
	store      UserStore
	audit      *audit.Recorder
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewAuthService creates an AuthService issuing sessions with the given TTL.
func NewAuthService(store UserStore, rec *audit.Recorder, jwtSecret string, sessionTTL time.Duration) *AuthService {
	return &AuthService{
		store:      store,
		audit:      rec,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
	}
}

// Login verifies an operator's credentials and returns a signed session token.
// Unknown usernames and wrong passwords collapse into ErrInvalidCredentials so
// responses cannot be used to probe for valid usernames.
func (s *AuthService) Login(ctx context.Context, username, password, sourceIP string) (string, *model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		// Burn a full bcrypt comparison anyway so lookup misses take as long
		// as password mismatches.
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if user.Status == model.UserDisabled {
		return "", nil, ErrAccountDisabled
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("issue session token: %w", err)
	}

	s.audit.Record(model.ActionLogin, user.ID, fmt.Sprintf("Operator %s logged in", user.Username), sourceIP)
	_ = s.store.UpdateUserLastLogin(ctx, user.ID)

	return token, user, nil
}

// IssueToken creates a signed session token for the given operator.
func (s *AuthService) IssueToken(user *model.User) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			Issuer:    "keygate",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken verifies a session token and returns the operator identity
// embedded in it. Sessions are stateless: disabling an account blocks new
// logins but does not revoke tokens issued before disablement.
func (s *AuthService) ValidateToken(ctx context.Context, tokenStr string) (*SessionPrincipal, error) {
	claims := &sessionClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &SessionPrincipal{
		UserID:   claims.UserID,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

type sessionClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// HashPassword produces a bcrypt hash suitable for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
