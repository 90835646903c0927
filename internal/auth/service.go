package auth

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/errors"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/infra/filestore"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/logging"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/ratelimit"
	"github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/secstore"
)

const (
	userFileName    = "users"
	sessionFileName = "sessions"
)

// Config tunes the auth service. Zero values take the stated defaults.
type Config struct {
	Dir                string
	JWTSecret          string
	Issuer             string        // default "codi"
	AccessTTL          time.Duration // default 15m
	RefreshTTL         time.Duration // default 30d
	LockoutThreshold   int           // failed logins before lockout, default 5
	LockoutDuration    time.Duration // default 15m
	LoginRatePerMin    int           // per username+ip, default 5
	RefreshRatePerMin  int           // per session, default 10
	PasswordIterations int           // default DefaultIterations
	Audit              AuditConfig
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = "codi"
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = 5
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.LoginRatePerMin <= 0 {
		c.LoginRatePerMin = 5
	}
	if c.RefreshRatePerMin <= 0 {
		c.RefreshRatePerMin = 10
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = filepath.Join(c.Dir, "audit")
	}
	return c
}

// Service owns users, sessions, tokens, rate limits, and the audit trail.
// All methods are safe for concurrent use.
type Service struct {
	config   Config
	users    *filestore.Collection[string, User]
	sessions *filestore.Collection[string, Session]
	tokens   *tokenManager
	audit    *AuditLog
	logger   logging.Logger

	loginLimiter   *ratelimit.KeyedWindow
	refreshLimiter *ratelimit.KeyedWindow

	now func() time.Time
}

// New wires the service. User and session stores are encrypted at rest;
// construction fails without an encryption key or signing secret.
func New(config Config, sec *secstore.Store, logger logging.Logger) (*Service, error) {
	config = config.withDefaults()
	if !sec.Available() {
		return nil, errs.NewConfigError("auth requires an encryption key")
	}
	tokens, err := newTokenManager(config.JWTSecret, config.Issuer, config.AccessTTL)
	if err != nil {
		return nil, err
	}
	audit, err := NewAuditLog(config.Audit, sec, logger)
	if err != nil {
		return nil, err
	}

	users := filestore.NewCollection[string, User](filestore.CollectionConfig{
		FilePath: filepath.Join(config.Dir, userFileName),
		Name:     "users",
	})
	secstore.BindCollection(users, sec, userFileName)
	sessions := filestore.NewCollection[string, Session](filestore.CollectionConfig{
		FilePath: filepath.Join(config.Dir, sessionFileName),
		Name:     "sessions",
	})
	secstore.BindCollection(sessions, sec, sessionFileName)

	return &Service{
		config:         config,
		users:          users,
		sessions:       sessions,
		tokens:         tokens,
		audit:          audit,
		logger:         logging.OrNop(logger),
		loginLimiter:   ratelimit.NewKeyedWindow(config.LoginRatePerMin, time.Minute),
		refreshLimiter: ratelimit.NewKeyedWindow(config.RefreshRatePerMin, time.Minute),
		now:            time.Now,
	}, nil
}

// WithNow fixes the clock for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.tokens.now = now
		s.audit.now = now
	}
}

// Initialize loads persisted users and sessions. A user record without a
// password hash is a hard startup error: there is no plaintext migration.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.users.EnsureDir(); err != nil {
		return err
	}
	if err := s.users.Load(); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for name, u := range s.users.Snapshot() {
		if u.PasswordHash.IsZero() {
			return errs.NewConfigError(fmt.Sprintf("user %q has no password hash; plaintext credentials are not migrated", name))
		}
	}

	if err := s.sessions.Load(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	now := s.now()
	err := s.sessions.Mutate(func(items map[string]Session) error {
		for id, sess := range items {
			if sess.RefreshExpiresAt.Before(now) {
				delete(items, id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}

	s.logger.Info("auth: initialized (users=%d, sessions=%d)", s.users.Len(), s.sessions.Len())
	return nil
}

// Login authenticates a user and opens a session. Every path emits an audit
// entry. Rate-limited attempts do not count as failures.
func (s *Service) Login(ctx context.Context, username, password, ip, userAgent string) (TokenPair, error) {
	username = strings.TrimSpace(username)

	if !s.loginLimiter.Allow(username + "|" + ip) {
		s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "rate_limited", IP: ip, UserAgent: userAgent})
		return TokenPair{}, errs.NewAuthError(errs.CodeRateLimited, "too many login attempts")
	}

	user, ok := s.users.Get(username)
	if !ok {
		s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "failure", IP: ip, UserAgent: userAgent,
			Details: map[string]any{"reason": "unknown user"}})
		return TokenPair{}, errs.NewAuthError(errs.CodeInvalidCredentials, "invalid username or password")
	}
	if user.Disabled {
		s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "failure", IP: ip, UserAgent: userAgent,
			Details: map[string]any{"reason": "account disabled"}})
		return TokenPair{}, errs.NewAuthError(errs.CodeInvalidCredentials, "invalid username or password")
	}

	now := s.now()
	if user.FailedAttempts >= s.config.LockoutThreshold && now.Before(user.LockedUntil) {
		s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "locked", IP: ip, UserAgent: userAgent})
		return TokenPair{}, errs.NewAuthError(errs.CodeAccountLocked,
			fmt.Sprintf("account locked until %s", user.LockedUntil.UTC().Format(time.RFC3339)))
	}

	if !VerifyPassword(password, user.PasswordHash) {
		user.FailedAttempts++
		user.UpdatedAt = now
		if user.FailedAttempts >= s.config.LockoutThreshold {
			user.LockedUntil = now.Add(s.config.LockoutDuration)
		}
		if err := s.users.Put(username, user); err != nil {
			s.logger.Error("auth: persist failed attempt for %s: %v", username, err)
		}
		s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "failure", IP: ip, UserAgent: userAgent,
			Details: map[string]any{"failed_attempts": user.FailedAttempts}})
		return TokenPair{}, errs.NewAuthError(errs.CodeInvalidCredentials, "invalid username or password")
	}

	user.FailedAttempts = 0
	user.LockedUntil = time.Time{}
	user.UpdatedAt = now
	if err := s.users.Put(username, user); err != nil {
		return TokenPair{}, fmt.Errorf("persist user: %w", err)
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	session := Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		Username:         user.Username,
		Role:             user.Role,
		RefreshToken:     refresh,
		UserAgent:        userAgent,
		IP:               ip,
		CreatedAt:        now,
		RefreshExpiresAt: now.Add(s.config.RefreshTTL),
		LastRotatedAt:    now,
	}
	if err := s.sessions.Put(session.ID, session); err != nil {
		return TokenPair{}, fmt.Errorf("persist session: %w", err)
	}

	access, accessExp, err := s.tokens.sign(user, session.ID)
	if err != nil {
		return TokenPair{}, err
	}

	s.logEvent(AuditEntry{Actor: username, Action: "login", Outcome: "success", IP: ip, UserAgent: userAgent,
		Details: map[string]any{"session_id": session.ID}})
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: session.RefreshExpiresAt,
		SessionID:        session.ID,
		User:             user.public(),
	}, nil
}

// Refresh rotates both tokens of the session holding refreshToken. Rotation
// is single-use: the presented token is invalid afterwards whatever the
// outcome of the caller's next step.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	session, found := s.findSessionByToken(refreshToken)
	if !found {
		s.logEvent(AuditEntry{Action: "refresh", Outcome: "failure",
			Details: map[string]any{"reason": "token not recognized"}})
		return TokenPair{}, errs.NewAuthError(errs.CodeTokenInvalid, "refresh token not recognized")
	}

	if !s.refreshLimiter.Allow(session.ID) {
		s.logEvent(AuditEntry{Actor: session.Username, Action: "refresh", Outcome: "rate_limited",
			Details: map[string]any{"session_id": session.ID}})
		return TokenPair{}, errs.NewAuthError(errs.CodeRateLimited, "too many refresh attempts")
	}

	now := s.now()
	if session.RefreshExpiresAt.Before(now) {
		if err := s.sessions.Delete(session.ID); err != nil {
			s.logger.Error("auth: delete expired session %s: %v", session.ID, err)
		}
		s.logEvent(AuditEntry{Actor: session.Username, Action: "refresh", Outcome: "failure",
			Details: map[string]any{"reason": "expired", "session_id": session.ID}})
		return TokenPair{}, errs.NewAuthError(errs.CodeSessionExpired, "refresh token expired")
	}

	user, ok := s.users.Get(session.Username)
	if !ok || user.Disabled {
		if err := s.sessions.Delete(session.ID); err != nil {
			s.logger.Error("auth: delete orphaned session %s: %v", session.ID, err)
		}
		s.logEvent(AuditEntry{Actor: session.Username, Action: "refresh", Outcome: "failure",
			Details: map[string]any{"reason": "user gone or disabled", "session_id": session.ID}})
		return TokenPair{}, errs.NewAuthError(errs.CodeSessionRevoked, "session revoked")
	}

	newRefresh, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	session.RefreshToken = newRefresh
	session.RefreshExpiresAt = now.Add(s.config.RefreshTTL)
	session.LastRotatedAt = now
	if err := s.sessions.Put(session.ID, session); err != nil {
		return TokenPair{}, fmt.Errorf("persist session: %w", err)
	}

	access, accessExp, err := s.tokens.sign(user, session.ID)
	if err != nil {
		return TokenPair{}, err
	}

	s.logEvent(AuditEntry{Actor: session.Username, Action: "refresh", Outcome: "success",
		Details: map[string]any{"session_id": session.ID}})
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     newRefresh,
		RefreshExpiresAt: session.RefreshExpiresAt,
		SessionID:        session.ID,
		User:             user.public(),
	}, nil
}

// findSessionByToken scans every live session and compares tokens in
// constant time, without early exit, so response timing does not reveal how
// close a guess came.
func (s *Service) findSessionByToken(token string) (Session, bool) {
	var (
		match Session
		found bool
	)
	for _, sess := range s.sessions.Snapshot() {
		if constantTimeEqual(token, sess.RefreshToken) {
			match = sess
			found = true
		}
	}
	return match, found
}

// Verify validates an access token and confirms its session is still live.
func (s *Service) Verify(ctx context.Context, accessToken string) (VerifyResult, error) {
	claims, err := s.tokens.parse(accessToken)
	if err != nil {
		return VerifyResult{}, err
	}

	session, ok := s.sessions.Get(claims.SessionID)
	if !ok {
		return VerifyResult{}, errs.NewAuthError(errs.CodeSessionRevoked, "session revoked")
	}
	user, ok := s.users.Get(session.Username)
	if !ok || user.Disabled {
		return VerifyResult{}, errs.NewAuthError(errs.CodeSessionRevoked, "session revoked")
	}
	return VerifyResult{Valid: true, User: user.public(), Session: session}, nil
}

// Logout deletes the session. Deleting an absent session succeeds.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	_, existed := s.sessions.Get(sessionID)
	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if existed {
		s.logEvent(AuditEntry{Action: "logout", Outcome: "success",
			Details: map[string]any{"session_id": sessionID}})
	}
	return nil
}

// CheckPermission decides whether the user may perform action on resource.
// Admins are always allowed. Requested conditions must all appear verbatim
// in the matching permission's condition map.
func (s *Service) CheckPermission(ctx context.Context, userID, resource, action string, conditions map[string]string) Decision {
	user, ok := s.findUserByID(userID)
	if !ok {
		return Decision{Allowed: false, Reason: "user not found"}
	}
	if user.Disabled {
		return Decision{Allowed: false, Reason: "user disabled"}
	}
	if user.Role == RoleAdmin {
		return Decision{Allowed: true, Reason: "admin role"}
	}

	for _, perm := range user.Permissions {
		if perm.Resource != "*" && perm.Resource != resource {
			continue
		}
		if perm.Action != "*" && perm.Action != action {
			continue
		}
		if !conditionsSubset(conditions, perm.Conditions) {
			continue
		}
		return Decision{Allowed: true, Reason: fmt.Sprintf("permission %s:%s", perm.Resource, perm.Action)}
	}
	return Decision{Allowed: false, Reason: "no matching permission"}
}

func conditionsSubset(requested, granted map[string]string) bool {
	for k, v := range requested {
		if granted[k] != v {
			return false
		}
	}
	return true
}

func (s *Service) findUserByID(id string) (User, bool) {
	for _, u := range s.users.Snapshot() {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// CreateUser registers a new account.
func (s *Service) CreateUser(ctx context.Context, username, password, role string, perms []Permission) (PublicUser, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return PublicUser{}, errs.NewConfigError("username is required")
	}
	if _, exists := s.users.Get(username); exists {
		return PublicUser{}, errs.NewConfigError(fmt.Sprintf("user %q already exists", username))
	}
	hash, err := HashPassword(password, s.config.PasswordIterations)
	if err != nil {
		return PublicUser{}, err
	}
	if role == "" {
		role = "user"
	}

	now := s.now()
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		Permissions:  perms,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(username, user); err != nil {
		return PublicUser{}, fmt.Errorf("persist user: %w", err)
	}
	s.logEvent(AuditEntry{Actor: username, Action: "user_create", Resource: "user", Outcome: "success",
		Details: map[string]any{"role": role}})
	return user.public(), nil
}

// DisableUser blocks future logins and revokes the user's live sessions.
func (s *Service) DisableUser(ctx context.Context, username string) error {
	user, ok := s.users.Get(username)
	if !ok {
		return errs.NewNotFound("user", username)
	}
	user.Disabled = true
	user.UpdatedAt = s.now()
	if err := s.users.Put(username, user); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	if err := s.revokeUserSessions(user.ID); err != nil {
		return err
	}
	s.logEvent(AuditEntry{Actor: username, Action: "user_disable", Resource: "user", Outcome: "success"})
	return nil
}

// ChangePassword verifies the current password, installs the new one, and
// revokes every live session so stolen tokens die with the old credential.
func (s *Service) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	user, ok := s.users.Get(username)
	if !ok {
		return errs.NewNotFound("user", username)
	}
	if !VerifyPassword(oldPassword, user.PasswordHash) {
		s.logEvent(AuditEntry{Actor: username, Action: "password_change", Outcome: "failure"})
		return errs.NewAuthError(errs.CodeInvalidCredentials, "invalid username or password")
	}
	hash, err := HashPassword(newPassword, s.config.PasswordIterations)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	if err := s.users.Put(username, user); err != nil {
		return fmt.Errorf("persist user: %w", err)
	}
	if err := s.revokeUserSessions(user.ID); err != nil {
		return err
	}
	s.logEvent(AuditEntry{Actor: username, Action: "password_change", Outcome: "success"})
	return nil
}

func (s *Service) revokeUserSessions(userID string) error {
	return s.sessions.Mutate(func(items map[string]Session) error {
		for id, sess := range items {
			if sess.UserID == userID {
				delete(items, id)
			}
		}
		return nil
	})
}

// ListUsers returns public views sorted by username.
func (s *Service) ListUsers(ctx context.Context) []PublicUser {
	all := s.users.Snapshot()
	users := make([]PublicUser, 0, len(all))
	for _, u := range all {
		users = append(users, u.public())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// RotateSigningKey installs a new JWT secret; tokens signed with the old key
// stay valid for one access-token lifetime.
func (s *Service) RotateSigningKey(secret string) error {
	if err := s.tokens.Rotate(secret); err != nil {
		return err
	}
	s.logEvent(AuditEntry{Action: "key_rotate", Resource: "jwt", Outcome: "success"})
	return nil
}

// SessionCount reports live sessions.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

// UserCount reports registered users.
func (s *Service) UserCount() int {
	return s.users.Len()
}

// LogEvent lets other components append audit entries without owning the
// log. Details are sanitized before writing.
func (s *Service) LogEvent(ctx context.Context, action, resource string, details map[string]any) error {
	actor, _ := details["actor"].(string)
	return s.audit.Append(AuditEntry{
		Actor:    actor,
		Action:   action,
		Resource: resource,
		Outcome:  "info",
		Details:  details,
	})
}

// AuditFile returns the path of the audit file currently receiving entries.
func (s *Service) AuditFile() string {
	return s.audit.CurrentFile()
}

// DecodeAuditFile decrypts one audit file. Intended for operator tooling.
func (s *Service) DecodeAuditFile(path string) ([]AuditEntry, error) {
	return s.audit.DecodeFile(path)
}

func (s *Service) logEvent(entry AuditEntry) {
	if err := s.audit.Append(entry); err != nil {
		s.logger.Error("auth: audit append failed: %v", err)
	}
}
