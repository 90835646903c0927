package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// clockSkew is the leeway applied to exp/iat validation.
const clockSkew = 30 * time.Second

// Claims is the parsed payload of a valid access token.
type Claims struct {
	UserID    string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

// tokenManager signs and parses HS256 access tokens and mints refresh
// tokens. Rotating the signing key keeps the previous key valid for one
// access-token lifetime so in-flight tokens survive a config reload.
type tokenManager struct {
	mu        sync.RWMutex
	current   []byte
	previous  []byte
	rotatedAt time.Time

	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

func newTokenManager(secret, issuer string, accessTTL time.Duration) (*tokenManager, error) {
	if secret == "" {
		return nil, errs.NewConfigError("jwt signing secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &tokenManager{
		current:   []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// Rotate swaps in a new signing key. Tokens signed with the old key stay
// valid for one accessTTL from now.
func (m *tokenManager) Rotate(secret string) error {
	if secret == "" {
		return errs.NewConfigError("jwt signing secret is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previous = m.current
	m.current = []byte(secret)
	m.rotatedAt = m.now()
	return nil
}

func (m *tokenManager) sign(user User, sessionID string) (string, time.Time, error) {
	m.mu.RLock()
	key := m.current
	m.mu.RUnlock()

	iat := m.now()
	exp := iat.Add(m.accessTTL)
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"sid":  sessionID,
		"iat":  iat.Unix(),
		"exp":  exp.Unix(),
		"iss":  m.issuer,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// parse validates the token against the current key, falling back to the
// previous key inside the rotation grace window.
func (m *tokenManager) parse(token string) (Claims, error) {
	m.mu.RLock()
	keys := [][]byte{m.current}
	if m.previous != nil && m.now().Sub(m.rotatedAt) < m.accessTTL {
		keys = append(keys, m.previous)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, key := range keys {
		claims, err := m.parseWithKey(token, key)
		if err == nil {
			return claims, nil
		}
		lastErr = err
		// Only a signature mismatch justifies trying the older key.
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	return Claims{}, m.classify(lastErr)
}

func (m *tokenManager) parseWithKey(token string, key []byte) (Claims, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return Claims{}, err
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, jwt.ErrTokenInvalidClaims
	}
	sub, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	sid, _ := mapClaims["sid"].(string)
	expValue, _ := mapClaims["exp"].(float64)
	return Claims{
		UserID:    sub,
		Role:      role,
		SessionID: sid,
		ExpiresAt: time.Unix(int64(expValue), 0),
	}, nil
}

func (m *tokenManager) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return errs.NewAuthError(errs.CodeSessionExpired, "access token expired")
	default:
		return errs.NewAuthError(errs.CodeTokenInvalid, "access token invalid")
	}
}

// newRefreshToken returns 32 CSPRNG bytes, hex encoded.
func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// constantTimeEqual compares two tokens without leaking how much of them
// matches through timing.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
