package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertarktes/salon-booking-settlement/internal/auth"
)

func sign(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims auth.Claims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return raw
}

func claimsFor(sub string, role string, exp time.Time) auth.Claims {
	return auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func TestVerify(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	v, err := auth.NewVerifier(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	require.NoError(t, err)

	userID := uuid.New()
	later := time.Now().Add(time.Hour)

	id, err := v.Verify("Bearer " + sign(t, key, jwt.SigningMethodRS256, claimsFor(userID.String(), "merchant", later)))
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, auth.RoleMerchant, id.Role)

	id, err = v.Verify(sign(t, key, jwt.SigningMethodRS256, claimsFor(userID.String(), "", later)))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleCustomer, id.Role)

	rejected := map[string]string{
		"empty":       "",
		"garbage":     "Bearer not-a-token",
		"expired":     sign(t, key, jwt.SigningMethodRS256, claimsFor(userID.String(), "", time.Now().Add(-time.Minute))),
		"wrong key":   sign(t, other, jwt.SigningMethodRS256, claimsFor(userID.String(), "", later)),
		"bad subject": sign(t, key, jwt.SigningMethodRS256, claimsFor("alice", "", later)),
		"no expiry":   sign(t, key, jwt.SigningMethodRS256, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()}}),
	}
	for name, raw := range rejected {
		_, err := v.Verify(raw)
		assert.True(t, errors.Is(err, auth.ErrUnauthorized), name)
	}
}

func TestNewVerifier_BadPEM(t *testing.T) {
	_, err := auth.NewVerifier("not a key")
	assert.Error(t, err)
}
