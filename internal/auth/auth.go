// Package auth issues and verifies HS256 bearer tokens for static users
// configured with bcrypt password hashes.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"clinicd/internal/config"
)

// Tier selects the rate limit bucket of a caller.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
)

// ParseTier maps a configured tier name to a Tier. Unknown or empty names
// are authenticated.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPremium:
		return TierPremium
	case TierAnonymous:
		return TierAnonymous
	default:
		return TierAuthenticated
	}
}

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const issuer = "clinicd"

// User is the identity attached to a request.
type User struct {
	Username string
	Email    string
	Tier     Tier
}

// Anonymous is the identity of requests without a bearer token.
var Anonymous = User{Tier: TierAnonymous}

// Claims is the JWT payload.
type Claims struct {
	Email string `json:"email,omitempty"`
	Tier  Tier   `json:"tier"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

type authError struct{ msg string }

func (e authError) Error() string   { return e.msg }
func (e authError) StatusCode() int { return http.StatusUnauthorized }

var (
	ErrInvalidCredentials = authError{msg: "invalid username or password"}
	ErrInvalidToken       = authError{msg: "could not validate credentials"}
	ErrTokenExpired       = authError{msg: "token expired"}
)

// IsUnauthorized reports whether err is one of the auth errors.
func IsUnauthorized(err error) bool {
	var ae authError
	return errors.As(err, &ae)
}

// Pair is an issued access and refresh token.
type Pair struct {
	Access    string
	Refresh   string
	ExpiresIn time.Duration
}

// Issuer signs and verifies tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      map[string]config.UserConfig
	now        func() time.Time
}

// dummyHash is compared against when the user is unknown so lookups of
// missing accounts cost the same as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("clinicd"), bcrypt.MinCost)

// NewIssuer builds an Issuer from the auth config. The secret is required.
func NewIssuer(c config.AuthConfig) (*Issuer, error) {
	if strings.TrimSpace(c.Secret) == "" {
		return nil, errors.New("auth: secret is required (set JWT_SECRET_KEY)")
	}
	i := &Issuer{
		secret:     []byte(c.Secret),
		accessTTL:  c.AccessTTL.Std(),
		refreshTTL: c.RefreshTTL.Std(),
		users:      make(map[string]config.UserConfig, len(c.Users)),
		now:        time.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = 30 * time.Minute
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = 7 * 24 * time.Hour
	}
	for _, u := range c.Users {
		if u.Username == "" {
			return nil, errors.New("auth: user without username")
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("auth: user %q: password_hash is not a bcrypt hash: %w", u.Username, err)
		}
		i.users[u.Username] = u
	}
	return i, nil
}

// HashPassword returns a bcrypt hash suitable for users[].password_hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Authenticate checks username and password against the configured users.
func (i *Issuer) Authenticate(username, password string) (User, error) {
	u, ok := i.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return User{Username: u.Username, Email: u.Email, Tier: ParseTier(u.Tier)}, nil
}

// Issue signs a fresh token pair for u.
func (i *Issuer) Issue(u User) (Pair, error) {
	access, err := i.sign(u, TypeAccess, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(u, TypeRefresh, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh, ExpiresIn: i.accessTTL}, nil
}

func (i *Issuer) sign(u User, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		Email: u.Email,
		Tier:  u.Tier,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   u.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return s, nil
}

// Verify parses a token and checks its signature, expiry and type.
func (i *Issuer) Verify(token, typ string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh exchanges a valid refresh token for a new pair. Users removed
// from the config can no longer refresh.
func (i *Issuer) Refresh(refreshToken string) (Pair, error) {
	claims, err := i.Verify(refreshToken, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	u, ok := i.users[claims.Subject]
	if !ok {
		return Pair{}, ErrInvalidToken
	}
	return i.Issue(User{Username: u.Username, Email: u.Email, Tier: ParseTier(u.Tier)})
}

// UserOf converts verified claims into a User.
func UserOf(c *Claims) User {
	tier := c.Tier
	if tier == "" || tier == TierAnonymous {
		tier = TierAuthenticated
	}
	return User{Username: c.Subject, Email: c.Email, Tier: tier}
}
