package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nominal-hq/qbo-gateway/internal/store"
	"github.com/nominal-hq/qbo-gateway/params"
)

// StateNonce is the stored half of an issued state; its presence in the
// store is what makes a state single-use.
type StateNonce struct {
	IssuedAt time.Time `json:"issued_at" redis:"issued_at"`
}

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateIssuer issues and verifies the anti-forgery state passed through the
// provider redirect. A state is an HS256 JWT carrying a one-time nonce; the
// nonce lives in the store until the callback consumes it, so a replayed
// callback fails verification.
type StateIssuer struct {
	secret string
	nonces store.Store[StateNonce]
}

func NewStateIssuer(secret string, nonces store.Store[StateNonce]) *StateIssuer {
	return &StateIssuer{
		secret: secret,
		nonces: nonces,
	}
}

func (s *StateIssuer) Issue(ctx context.Context) (string, error) {
	nonce := uuid.NewString()
	issuedAt := time.Now()
	if err := s.nonces.Set(ctx, nonce, StateNonce{IssuedAt: issuedAt}, params.AuthStateTTL); err != nil {
		return "", err
	}
	claims := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(params.AuthStateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
}

func (s *StateIssuer) Verify(ctx context.Context, state string) error {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	})
	if err != nil || !token.Valid || claims.Nonce == "" {
		return ErrStateInvalid
	}
	if _, err := s.nonces.Get(ctx, claims.Nonce); err != nil {
		return ErrStateInvalid
	}
	// consume the nonce so the state cannot be replayed
	return s.nonces.Del(ctx, claims.Nonce)
}
