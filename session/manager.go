package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/store"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrNotAuthenticated is returned by operations that need a current
// credential when the session has none.
var ErrNotAuthenticated = errors.New("no authenticated session")

const (
	defaultTick = time.Second
	eventBuffer = 16

	refreshKey = "refresh"
)

// Manager owns the client session: the current credential, the cached
// profile, the expiry countdown and the persisted record. All methods are
// safe for concurrent use; at most one refresh exchange is in flight at any
// time, and concurrent callers share its outcome.
type Manager struct {
	id        string
	api       *api.Client
	refresher refresh.Refresher
	store     store.Repo
	log       zerolog.Logger
	validate  *validator.Validate
	nowTime   func() time.Time
	tick      time.Duration

	group  singleflight.Group
	events chan Event

	mu      sync.Mutex
	status  Status
	cred    *credentials.Credential
	profile *api.Profile
	gen     uint64 // bumped whenever the credential is superseded or cleared
	closed  bool
}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithTickInterval sets the countdown resolution (primarily for testing).
func WithTickInterval(tick time.Duration) Option {
	return func(m *Manager) {
		m.tick = tick
	}
}

// New initializes a session Manager with required dependencies. Optional
// configuration can be provided via options.
func New(apiClient *api.Client, refresher refresh.Refresher, repo store.Repo, options ...Option) (*Manager, error) {
	if apiClient == nil {
		return nil, errors.New("[session.New] api client is required")
	}
	if refresher == nil {
		return nil, errors.New("[session.New] refresher is required")
	}
	if repo == nil {
		return nil, errors.New("[session.New] token store is required")
	}

	manager := &Manager{
		id:        uuid.New().String(),
		api:       apiClient,
		refresher: refresher,
		store:     repo,
		log:       zerolog.Nop(),
		validate:  validator.New(),
		nowTime:   time.Now,
		tick:      defaultTick,
		events:    make(chan Event, eventBuffer),
		status:    Unauthenticated,
	}

	for _, opt := range options {
		opt(manager)
	}

	return manager, nil
}

// Initialize runs once per process start. A persisted unexpired record seeds
// the session without touching the refresh endpoint; otherwise a silent
// CheckAuth is attempted. Reports whether the session ended authenticated.
func (m *Manager) Initialize(ctx context.Context) bool {
	record, err := m.store.Get()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to read persisted credential")
	}

	if record != nil {
		cred := credentials.Restore(record.AccessToken, record.ExpiresAt)
		if !cred.IsExpired(m.nowTime()) {
			m.adopt(cred)
			if err := m.loadProfile(ctx); err != nil {
				// An authorisation failure already tore the session down;
				// anything else (outage, server fault) drops the in-memory
				// session but keeps the record so the next start can retry.
				m.log.Warn().Err(err).Msg("profile fetch for seeded session failed")
				m.dropLocal()
				return false
			}
			m.log.Info().Str("session_id", m.id).Dur("remaining", m.Remaining()).Msg("session seeded from persisted credential")
			return true
		}
		if err := m.store.Clear(); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear expired record")
		}
	}

	return m.CheckAuth(ctx)
}

// CheckAuth silently re-authenticates via the refresh exchange. On success
// the new credential is adopted (persisted, countdown started, profile
// fetched); on failure the session is cleared. Idempotent, and concurrent
// callers await the same in-flight refresh rather than issuing duplicates.
func (m *Manager) CheckAuth(ctx context.Context) bool {
	result, _, _ := m.group.Do(refreshKey, func() (any, error) {
		return m.refreshSession(ctx), nil
	})
	authenticated, _ := result.(bool)
	return authenticated
}

func (m *Manager) refreshSession(ctx context.Context) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.status == Unauthenticated || m.status == Expired {
		m.setStatusLocked(Authenticating)
	}
	m.mu.Unlock()

	cred, err := m.refresher.Refresh(ctx)
	if err != nil {
		m.log.Debug().Err(err).Str("session_id", m.id).Msg("silent re-authentication failed")
		m.clearSession(true)
		return false
	}

	m.adopt(cred)
	if err := m.loadProfile(ctx); err != nil {
		// An authenticated session needs a loaded profile. An authorisation
		// failure already tore everything down; a transient fault drops the
		// in-memory session but keeps the persisted record for the next
		// attempt.
		m.log.Warn().Err(err).Msg("profile fetch after refresh failed")
		m.dropLocal()
		return false
	}
	return true
}

// Login authenticates with the user's credentials and adopts the returned
// credential exactly as CheckAuth does. Validation failures never reach the
// network.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	request := api.LoginRequest{Email: email, Password: password}
	if err := m.validate.Struct(request); err != nil {
		return errors.Wrap(err, "[Manager.Login] invalid login request")
	}
	return m.authenticate(ctx, "/auth/login", request)
}

// Register creates an account and adopts the returned credential exactly as
// Login does.
func (m *Manager) Register(ctx context.Context, fullName, email, password string) error {
	request := api.RegisterRequest{FullName: fullName, Email: email, Password: password}
	if err := m.validate.Struct(request); err != nil {
		return errors.Wrap(err, "[Manager.Register] invalid register request")
	}
	return m.authenticate(ctx, "/auth/register", request)
}

func (m *Manager) authenticate(ctx context.Context, endpoint string, request any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("[Manager.authenticate] session closed")
	}
	previous := m.status
	m.setStatusLocked(Authenticating)
	m.mu.Unlock()

	var response api.AuthResponse
	if _, err := m.api.Call(ctx, http.MethodPost, endpoint, request, nil, &response); err != nil {
		m.restoreStatus(previous)
		return errors.Wrapf(err, "[Manager.authenticate] %s", endpoint)
	}
	if response.AccessToken == "" {
		m.restoreStatus(previous)
		return errors.New("[Manager.authenticate] response carried no access token")
	}

	m.adopt(credentials.New(response.AccessToken, m.nowTime()))
	if err := m.loadProfile(ctx); err != nil {
		m.log.Warn().Err(err).Str("endpoint", endpoint).Msg("profile fetch after authentication failed")
	}
	return nil
}

// Logout best-effort notifies the server, then unconditionally clears the
// credential, profile and persisted record. A server failure never blocks
// the local teardown, and logging out an already-unauthenticated session is
// a no-op.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	cred := m.cred
	m.mu.Unlock()

	if cred != nil {
		// No refresh-and-retry here: the credential is being discarded, so
		// recovering a 401 would be a wasted round-trip.
		if err := m.api.CallOnce(ctx, http.MethodPost, "/auth/logout", nil, cred, nil); err != nil {
			m.log.Warn().Err(err).Str("session_id", m.id).Msg("logout notification failed")
		}
	}

	m.clearSession(false)
}

// GetProfile returns the authenticated user's profile, cached on the session
// after the first fetch; force re-fetches. An authorisation failure that
// survives the single refresh-retry cycle ends the session and raises a
// redirect-to-login event. Network and server faults are surfaced to the
// caller and never end the session.
func (m *Manager) GetProfile(ctx context.Context, force bool) (*api.Profile, error) {
	m.mu.Lock()
	if !force && m.profile != nil {
		profile := *m.profile
		m.mu.Unlock()
		return &profile, nil
	}
	cred := m.cred
	gen := m.gen
	m.mu.Unlock()

	if cred == nil {
		return nil, ErrNotAuthenticated
	}

	var profile api.Profile
	result, err := m.api.Call(ctx, http.MethodGet, "/auth/dashboard", nil, cred, &profile)
	if err != nil {
		if errors.Is(err, api.ErrAuthExpired) {
			m.expireSession(gen)
		}
		return nil, errors.Wrap(err, "[Manager.GetProfile] dashboard fetch")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &profile, nil
	}
	if gen == m.gen {
		if result.Refreshed != nil {
			m.adoptLocked(result.Refreshed)
		}
		m.profile = &profile
	}
	m.mu.Unlock()
	return &profile, nil
}

// Credential returns the current credential, nil when unauthenticated.
func (m *Manager) Credential() *credentials.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Profile returns the cached profile without fetching, nil when absent.
func (m *Manager) Profile() *api.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	profile := *m.profile
	return &profile
}

// Remaining returns the credential lifetime left, zero when unauthenticated.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.ExpiresIn(m.nowTime())
}

// Events exposes session notifications to the presentation layer. The
// channel is buffered; when the consumer falls behind, events are dropped
// rather than blocking the session.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Close tears the manager down. In-flight calls may still complete but no
// longer mutate the session, the countdown stops, and the events channel is
// closed so consumers ranging over it terminate.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	close(m.events)
}

func (m *Manager) loadProfile(ctx context.Context) error {
	_, err := m.GetProfile(ctx, true)
	return err
}

func (m *Manager) adopt(cred *credentials.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.adoptLocked(cred)
}

func (m *Manager) adoptLocked(cred *credentials.Credential) {
	m.cred = cred
	m.gen++
	m.setStatusLocked(Authenticated)
	if err := m.store.Put(cred.AccessToken, cred.ExpiresAt); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist credential")
	}
	m.startCountdown(m.gen)
}

// clearSession resets everything, including the persisted record, and
// transitions to Unauthenticated. redirect additionally raises the
// redirect-to-login event.
func (m *Manager) clearSession(redirect bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.cred = nil
	m.profile = nil
	m.gen++
	m.setStatusLocked(Unauthenticated)
	if redirect {
		m.emitLocked(Event{Type: EventRedirectToLogin, Status: Unauthenticated})
	}
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear persisted credential")
	}
}

// dropLocal resets the in-memory session without touching the persisted
// record.
func (m *Manager) dropLocal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.cred = nil
	m.profile = nil
	m.gen++
	m.setStatusLocked(Unauthenticated)
}

// expireSession forces Expired then Unauthenticated, clearing the credential
// and the persisted record without any server call. gen guards against
// expiring a credential that has already been superseded (last-write-wins).
func (m *Manager) expireSession(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.cred == nil {
		m.mu.Unlock()
		return
	}
	m.cred = nil
	m.profile = nil
	m.gen++
	m.setStatusLocked(Expired)
	m.setStatusLocked(Unauthenticated)
	m.emitLocked(Event{Type: EventRedirectToLogin, Status: Unauthenticated})
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear persisted credential")
	}
	m.log.Info().Str("session_id", m.id).Msg("credential expired")
}

// startCountdown runs the expiry countdown for the credential generation
// gen. The goroutine exits as soon as the generation is superseded, favouring
// proactive local expiry over waiting for the next request to hit a 401.
func (m *Manager) startCountdown(gen uint64) {
	go func() {
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for range ticker.C {
			if !m.countdownTick(gen) {
				return
			}
		}
	}()
}

func (m *Manager) countdownTick(gen uint64) bool {
	m.mu.Lock()
	live := !m.closed && gen == m.gen && m.cred != nil
	remaining := m.cred.ExpiresIn(m.nowTime())
	m.mu.Unlock()

	if !live {
		return false
	}
	if remaining > 0 {
		return true
	}
	m.expireSession(gen)
	return false
}

func (m *Manager) restoreStatus(previous Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.status != Authenticating {
		return
	}
	m.setStatusLocked(previous)
}

func (m *Manager) setStatusLocked(status Status) {
	if m.status == status {
		return
	}
	m.status = status
	m.emitLocked(Event{Type: EventStatusChanged, Status: status})
}

func (m *Manager) emitLocked(event Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- event:
	default:
		m.log.Debug().Int("event_type", int(event.Type)).Msg("session event dropped")
	}
}
