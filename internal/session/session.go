// Package session tracks the client's authentication state and the
// persisted credentials behind it.
//
// A Manager starts Uninitialized, resolves to Authenticated or Anonymous on
// Restore, and moves between those two on Login, Register, Logout and
// credential expiry. Protected operations call RequireAuthenticated first.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/psadmin/internal/client"
	"github.com/wolfeidau/psadmin/internal/models"
	"github.com/wolfeidau/psadmin/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
)

// Messages stored in Session.Error.
const (
	MsgSessionExpired     = "Session expired"
	MsgLoginFailed        = "Login failed"
	MsgRegistrationFailed = "Registration failed"
)

var (
	// ErrSessionExpired is returned when a persisted or held credential is rejected.
	ErrSessionExpired = errors.New("session expired")

	// ErrUninitialized is returned by RequireAuthenticated before Restore completes.
	ErrUninitialized = errors.New("session not initialized")

	// ErrNotAuthenticated is returned when no user is logged in.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoSession is returned by Storage.Load when nothing is persisted.
	ErrNoSession = errors.New("no persisted session")
)

// AuthAPI is the subset of the auth endpoints the session drives.
type AuthAPI interface {
	Login(ctx context.Context, creds models.Credentials) (*models.AuthResult, error)
	Register(ctx context.Context, reg models.Registration) (*models.AuthResult, error)
	Me(ctx context.Context, token string) (*models.User, error)
	Logout(ctx context.Context, token string) error
}

// Storage persists the user record and bearer token between process runs.
type Storage interface {
	// Load returns ErrNoSession when nothing is stored.
	Load() (*models.User, string, error)
	Save(user *models.User, token string) error
	Clear() error
}

// ExpiryFunc reports the expiry encoded in a token, if it has one.
type ExpiryFunc func(token string) (time.Time, bool)

// Option configures a Manager.
type Option func(*Manager)

// WithExpiryCheck lets Restore reject a token that has already expired
// without asking the server.
func WithExpiryCheck(fn ExpiryFunc) Option {
	return func(m *Manager) { m.expiry = fn }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the Session. It is safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	state       models.Session
	auth        AuthAPI
	storage     Storage
	expiry      ExpiryFunc
	now         func() time.Time
	subscribers map[int]chan models.Session
	nextSub     int
}

var _ oauth2.TokenSource = (*Manager)(nil)

// NewManager returns a Manager in the Uninitialized state.
func NewManager(auth AuthAPI, storage Storage, opts ...Option) *Manager {
	m := &Manager{
		state:       models.Session{IsLoading: true},
		auth:        auth,
		storage:     storage,
		now:         time.Now,
		subscribers: make(map[int]chan models.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore resolves the initial state from persisted credentials. With none
// stored the session becomes Anonymous without error. A stored token is
// verified with the server; if that fails for any reason the storage is
// erased, the session becomes Anonymous with "Session expired", and an
// error wrapping ErrSessionExpired is returned.
func (m *Manager) Restore(ctx context.Context) error {
	user, token, err := m.storage.Load()
	if err != nil && !errors.Is(err, ErrNoSession) {
		log.Warn().Err(err).Msg("persisted session unreadable, discarding")
		m.clearStorage()
		m.transition(ctx, models.Session{})
		return nil
	}

	if user == nil || token == "" {
		if user != nil || token != "" {
			m.clearStorage()
		}
		m.transition(ctx, models.Session{})
		return nil
	}

	if m.expiry != nil {
		if exp, ok := m.expiry(token); ok && !m.now().Before(exp) {
			log.Info().Time("expired_at", exp).Msg("persisted token expired")
			m.expire(ctx)
			return ErrSessionExpired
		}
	}

	fresh, err := m.auth.Me(ctx, token)
	if err != nil {
		log.Info().Err(err).Msg("persisted session rejected")
		m.expire(ctx)
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	if err := m.storage.Save(fresh, token); err != nil {
		log.Warn().Err(err).Msg("failed to refresh persisted user")
	}
	m.transition(ctx, models.Session{User: fresh, Token: token})

	return nil
}

// Login authenticates with email and password. On failure the session is
// Anonymous with the server message (or "Login failed") and the error is
// returned as well.
func (m *Manager) Login(ctx context.Context, creds models.Credentials) (*models.User, error) {
	m.begin()

	result, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, m.fail(ctx, err, MsgLoginFailed)
	}

	return m.authenticated(ctx, result, MsgLoginFailed)
}

// Register creates an account and logs it in; otherwise identical to Login.
func (m *Manager) Register(ctx context.Context, reg models.Registration) (*models.User, error) {
	m.begin()

	result, err := m.auth.Register(ctx, reg)
	if err != nil {
		return nil, m.fail(ctx, err, MsgRegistrationFailed)
	}

	return m.authenticated(ctx, result, MsgRegistrationFailed)
}

// Logout erases the persisted credentials and makes the session Anonymous
// with no error, whatever the prior state. The server is told afterwards on
// a best-effort basis; that call cannot change the outcome.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.RLock()
	token := m.state.Token
	m.mu.RUnlock()

	m.clearStorage()
	m.transition(ctx, models.Session{})

	if token == "" {
		return
	}
	if err := m.auth.Logout(ctx, token); err != nil {
		log.Debug().Err(err).Msg("server logout failed, ignoring")
	}
}

// ClearError removes the error message and nothing else.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.state.Error = ""
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
}

// HandleUnauthorized expires the session if err is a 401 from the API and a
// credential is held. It reports whether the session was expired.
func (m *Manager) HandleUnauthorized(ctx context.Context, err error) bool {
	if !errors.Is(err, client.ErrUnauthorized) {
		return false
	}

	m.mu.RLock()
	held := m.state.Token != ""
	m.mu.RUnlock()
	if !held {
		return false
	}

	m.expire(ctx)
	return true
}

// RequireAuthenticated gates protected operations.
func (m *Manager) RequireAuthenticated() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state.State() {
	case models.SessionAuthenticated:
		return nil
	case models.SessionUninitialized:
		return ErrUninitialized
	default:
		if m.state.Error != "" {
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, m.state.Error)
		}
		return ErrNotAuthenticated
	}
}

// Snapshot returns a copy of the current session.
func (m *Manager) Snapshot() models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Token implements oauth2.TokenSource so API clients read the bearer
// credential from the session on every request.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state.Token == "" {
		return nil, ErrNotAuthenticated
	}
	return &oauth2.Token{AccessToken: m.state.Token, TokenType: "Bearer"}, nil
}

// Subscribe returns a channel receiving a snapshot after every change, and
// a function that unsubscribes and closes it. Slow receivers miss
// intermediate snapshots rather than blocking transitions.
func (m *Manager) Subscribe() (<-chan models.Session, func()) {
	ch := make(chan models.Session, 8)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.state.IsLoading = true
	m.state.Error = ""
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Manager) authenticated(ctx context.Context, result *models.AuthResult, fallback string) (*models.User, error) {
	if result == nil || result.User == nil || result.Token == "" {
		return nil, m.fail(ctx, client.ErrMalformedAuthResponse, fallback)
	}

	m.transition(ctx, models.Session{User: result.User, Token: result.Token})

	if err := m.storage.Save(result.User, result.Token); err != nil {
		log.Error().Err(err).Msg("failed to persist session")
		return cloneUser(result.User), fmt.Errorf("failed to persist session: %w", err)
	}

	log.Info().Str("user_id", result.User.ID).Str("email", result.User.Email).Msg("authenticated")

	return cloneUser(result.User), nil
}

func (m *Manager) fail(ctx context.Context, err error, fallback string) error {
	msg, ok := client.ServerMessage(err)
	if !ok {
		msg = fallback
	}

	m.mu.RLock()
	wasAuthenticated := m.state.IsAuthenticated()
	m.mu.RUnlock()
	if wasAuthenticated {
		m.clearStorage()
	}

	m.transition(ctx, models.Session{Error: msg})

	return fmt.Errorf("%s: %w", msg, err)
}

func (m *Manager) expire(ctx context.Context) {
	m.clearStorage()
	m.transition(ctx, models.Session{Error: MsgSessionExpired})
}

func (m *Manager) clearStorage() {
	if err := m.storage.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear persisted session")
	}
}

func (m *Manager) transition(ctx context.Context, next models.Session) {
	m.mu.Lock()
	from := m.state.State()
	m.state = next
	to := m.state.State()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	telemetry.GetMetrics().SessionTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("session transition")

	m.notify(snapshot)
}

func (m *Manager) notify(snapshot models.Session) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (m *Manager) snapshotLocked() models.Session {
	s := m.state
	s.User = cloneUser(s.User)
	return s
}

func cloneUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
