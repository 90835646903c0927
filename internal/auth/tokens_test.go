package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
)

// testClock returns a now func frozen at start and a function that moves it.
func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
}

func newTestTokenManager(t *testing.T) (*tokenManager, func(time.Duration)) {
	t.Helper()
	m, err := newTokenManager("unit-test-signing-secret", "codi", 15*time.Minute)
	if err != nil {
		t.Fatalf("newTokenManager: %v", err)
	}
	now, advance := testClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m.now = now
	return m, advance
}

func TestTokenManagerRequiresSecret(t *testing.T) {
	if _, err := newTokenManager("", "codi", time.Minute); !errs.IsConfigError(err) {
		t.Fatalf("expected config error for empty secret, got %v", err)
	}
}

func TestSignParseRoundTrip(t *testing.T) {
	m, _ := newTestTokenManager(t)

	user := User{ID: "u-1", Username: "alice", Role: "user"}
	token, exp, err := m.sign(user, "sess-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got, want := exp.Sub(m.now()), 15*time.Minute; got != want {
		t.Fatalf("expiry %v from now, want %v", got, want)
	}

	claims, err := m.parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u-1" {
		t.Fatalf("UserID = %q, want u-1", claims.UserID)
	}
	if claims.Role != "user" {
		t.Fatalf("Role = %q, want user", claims.Role)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("SessionID = %q, want sess-1", claims.SessionID)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", claims.ExpiresAt, exp)
	}
}

func TestParseWithinLeeway(t *testing.T) {
	m, advance := newTestTokenManager(t)

	token, _, err := m.sign(User{ID: "u-1", Role: "user"}, "sess-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Ten seconds past nominal expiry is still inside the clock-skew leeway.
	advance(15*time.Minute + 10*time.Second)
	if _, err := m.parse(token); err != nil {
		t.Fatalf("parse inside leeway: %v", err)
	}
}

func TestExpiredTokenClassified(t *testing.T) {
	m, advance := newTestTokenManager(t)

	token, _, err := m.sign(User{ID: "u-1", Role: "user"}, "sess-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	advance(15*time.Minute + clockSkew + time.Second)
	_, err = m.parse(token)
	if !errs.HasCode(err, errs.CodeSessionExpired) {
		t.Fatalf("expected %s, got %v", errs.CodeSessionExpired, err)
	}
}

func TestForeignKeyRejected(t *testing.T) {
	m, _ := newTestTokenManager(t)

	other, err := newTokenManager("a-completely-different-secret", "codi", 15*time.Minute)
	if err != nil {
		t.Fatalf("newTokenManager: %v", err)
	}
	other.now = m.now

	token, _, err := other.sign(User{ID: "u-1", Role: "user"}, "sess-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.parse(token); !errs.HasCode(err, errs.CodeTokenInvalid) {
		t.Fatalf("expected %s, got %v", errs.CodeTokenInvalid, err)
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	m, _ := newTestTokenManager(t)

	for _, token := range []string{"", "not-a-token", "aaa.bbb.ccc"} {
		if _, err := m.parse(token); !errs.HasCode(err, errs.CodeTokenInvalid) {
			t.Fatalf("parse(%q): expected %s, got %v", token, errs.CodeTokenInvalid, err)
		}
	}
}

func TestUnsignedAlgorithmRejected(t *testing.T) {
	m, _ := newTestTokenManager(t)

	claims := jwt.MapClaims{
		"sub": "u-1",
		"sid": "sess-1",
		"exp": m.now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign alg=none: %v", err)
	}
	if _, err := m.parse(token); !errs.HasCode(err, errs.CodeTokenInvalid) {
		t.Fatalf("alg=none token accepted: %v", err)
	}
}

func TestRotateRequiresSecret(t *testing.T) {
	m, _ := newTestTokenManager(t)
	if err := m.Rotate(""); !errs.IsConfigError(err) {
		t.Fatalf("expected config error for empty rotation secret, got %v", err)
	}
}

func TestRotationGraceWindow(t *testing.T) {
	m, advance := newTestTokenManager(t)

	old, _, err := m.sign(User{ID: "u-1", Role: "user"}, "sess-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := m.Rotate("replacement-signing-secret"); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Inside the grace window the previous key still verifies.
	advance(14 * time.Minute)
	if _, err := m.parse(old); err != nil {
		t.Fatalf("parse old-key token inside grace window: %v", err)
	}

	fresh, _, err := m.sign(User{ID: "u-1", Role: "user"}, "sess-2")
	if err != nil {
		t.Fatalf("sign after rotate: %v", err)
	}
	if _, err := m.parse(fresh); err != nil {
		t.Fatalf("parse current-key token: %v", err)
	}

	// 15m10s after rotation the window is closed but the old token has not
	// yet hit its exp+leeway, so the failure is a signature mismatch.
	advance(70 * time.Second)
	if _, err := m.parse(old); !errs.HasCode(err, errs.CodeTokenInvalid) {
		t.Fatalf("expected %s after grace window, got %v", errs.CodeTokenInvalid, err)
	}
	if _, err := m.parse(fresh); err != nil {
		t.Fatalf("current-key token must survive grace expiry: %v", err)
	}
}

func TestRefreshTokenShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		token, err := newRefreshToken()
		if err != nil {
			t.Fatalf("newRefreshToken: %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("token length = %d, want 64 hex chars", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate refresh token generated")
		}
		seen[token] = true
	}
}
