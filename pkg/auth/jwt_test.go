package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
)

func TestJWTService_RoundTripSupervisor(t *testing.T) {
	svc := NewJWTService("secret", "consult")
	actor := model.Actor{Role: model.RoleSupervisor, ID: uuid.New(), PatientIDs: []uuid.UUID{uuid.New(), uuid.New()}}

	token, err := svc.Issue(actor, time.Hour)
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret", "consult")
	id := uuid.New()

	sign := func(claims Claims, method jwt.SigningMethod, key interface{}) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func(role model.Role) Claims {
		return Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   id.String(),
				Issuer:    "consult",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Role: role,
		}
	}

	expired := valid(model.RolePatient)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := valid(model.RolePatient)
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid(model.RolePatient)
	wrongIssuer.Issuer = "someone-else"
	badSubject := valid(model.RoleDoctor)
	badSubject.Subject = "doctor-7"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(valid(model.RolePatient), jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(expired, jwt.SigningMethodHS256, []byte("secret"))},
		{"no expiry", sign(noExpiry, jwt.SigningMethodHS256, []byte("secret"))},
		{"wrong issuer", sign(wrongIssuer, jwt.SigningMethodHS256, []byte("secret"))},
		{"system role", sign(valid(model.RoleSystem), jwt.SigningMethodHS256, []byte("secret"))},
		{"unknown role", sign(valid(model.Role("NURSE")), jwt.SigningMethodHS256, []byte("secret"))},
		{"non uuid subject", sign(badSubject, jwt.SigningMethodHS256, []byte("secret"))},
		{"hs512", sign(valid(model.RolePatient), jwt.SigningMethodHS512, []byte("secret"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}
