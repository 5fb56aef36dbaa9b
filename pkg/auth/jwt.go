// Package auth turns bearer tokens into lifecycle actors.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the actor in a signed token. Patients lists the patients a
// supervisor acts for.
type Claims struct {
	jwt.RegisteredClaims
	Role     model.Role `json:"role"`
	Patients []string   `json:"patients,omitempty"`
}

// JWTService verifies and issues HS256 actor tokens.
type JWTService interface {
	Verify(token string) (model.Actor, error)
	Issue(actor model.Actor, ttl time.Duration) (string, error)
}

type jwtService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTService(secret, issuer string) JWTService {
	return &jwtService{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (s *jwtService) Verify(token string) (model.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...); err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// SYSTEM is reserved for transitions the service triggers itself.
	if !claims.Role.Valid() || claims.Role == model.RoleSystem {
		return model.Actor{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}

	actor := model.Actor{Role: claims.Role, ID: id}
	for _, p := range claims.Patients {
		pid, err := uuid.Parse(p)
		if err != nil {
			return model.Actor{}, fmt.Errorf("%w: patient %q", ErrInvalidToken, p)
		}
		actor.PatientIDs = append(actor.PatientIDs, pid)
	}
	return actor, nil
}

func (s *jwtService) Issue(actor model.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: actor.Role,
	}
	for _, p := range actor.PatientIDs {
		claims.Patients = append(claims.Patients, p.String())
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
