package core

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is an authenticated user, resolved once per connection from
// a bearer credential. It is immutable for the connection's lifetime.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CredentialVerifier resolves a bearer credential to an Identity.
// Verify must be safe for concurrent use.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

type AuthClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewToken(identity Identity, expiration time.Duration, secret []byte) (string, time.Time, error) {
	exp := time.Now().Add(expiration)
	claims := &AuthClaims{
		UserID:   identity.ID,
		Username: identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "beacon",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	return signed, exp, err
}

func VerifyToken(token string, secret []byte) (*AuthClaims, error) {
	claims := &AuthClaims{}
	_token, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))

	switch {
	case err == nil && _token.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrTokenInvalid
	}
}

// JWTVerifier verifies HS256 bearer tokens and resolves the subject
// against the user store. A token for a user that no longer exists is
// rejected.
type JWTVerifier struct {
	secret []byte
	users  UserStore
}

func NewJWTVerifier(secret []byte, users UserStore) *JWTVerifier {
	return &JWTVerifier{secret: secret, users: users}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrBadCredentials
	}
	claims, err := VerifyToken(token, v.secret)
	if err != nil {
		return Identity{}, err
	}
	user, err := v.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return Identity{}, err
	}
	if user == nil {
		return Identity{}, ErrUnknownIdentity
	}
	return Identity{ID: user.ID, Username: user.Username}, nil
}
