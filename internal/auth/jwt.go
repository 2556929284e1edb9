package auth

import (
	"context"
	"crypto/rsa"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
)

var ErrUnauthorized = errors.New("unauthorized")

type Identity struct {
	UserID uuid.UUID
	Role   Role
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	key *rsa.PublicKey
}

func NewVerifier(publicKeyPEM string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parse jwt public key")
	}
	return &Verifier{key: key}, nil
}

func NewVerifierFromKey(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Identity{}, errors.Wrap(ErrUnauthorized, "missing token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, errors.Mark(errors.Wrap(err, "verify token"), ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, errors.Wrap(ErrUnauthorized, "subject is not a user id")
	}
	role := Role(claims.Role)
	if role != RoleMerchant {
		role = RoleCustomer
	}
	return Identity{UserID: userID, Role: role}, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
