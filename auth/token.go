package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const pushTokenName = "campushub-push"

// ErrInvalidPushToken is returned for tokens that fail authentication,
// decryption or have expired.
var ErrInvalidPushToken = errors.New("invalid push token")

// pushClaims is the payload sealed inside a push token.
type pushClaims struct {
	UserID    string `json:"uid"`
	ExpiresAt int64  `json:"exp"`
}

// TokenIssuer mints and verifies the short-lived tokens a client puts in the
// push channel URI. Tokens are authenticated and encrypted with the session
// keys, so only this server can produce or read them.
type TokenIssuer struct {
	codec *securecookie.SecureCookie
	ttl   time.Duration
	now   func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. hashKey authenticates and blockKey
// encrypts; both are the 32-byte session keys.
func NewTokenIssuer(hashKey, blockKey []byte, ttl time.Duration) *TokenIssuer {
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl / time.Second))
	return &TokenIssuer{codec: codec, ttl: ttl, now: time.Now}
}

// Issue returns a token identifying userID and its expiry.
func (t *TokenIssuer) Issue(userID uuid.UUID) (string, time.Time, error) {
	expiresAt := t.now().Add(t.ttl).UTC()
	token, err := t.codec.Encode(pushTokenName, pushClaims{
		UserID:    userID.String(),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encoding push token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify returns the user a token was issued for.
func (t *TokenIssuer) Verify(token string) (uuid.UUID, error) {
	var claims pushClaims
	if err := t.codec.Decode(pushTokenName, token, &claims); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPushToken, err)
	}
	if t.now().Unix() > claims.ExpiresAt {
		return uuid.Nil, fmt.Errorf("%w: expired", ErrInvalidPushToken)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPushToken, err)
	}
	return userID, nil
}
