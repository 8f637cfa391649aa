package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/credentials/store"
	"github.com/jrsteele09/go-auth-client/refresh"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

const (
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"
	testUserFullName = "John Doe"

	testLoginToken = "login-token"
)

// fakeService is an httptest-backed stand-in for the authentication service.
type fakeService struct {
	mu           sync.Mutex
	accepted        map[string]bool
	refreshToken    string // token handed out by /auth/refresh, "" rejects
	loginToken      string
	refreshDelay    time.Duration
	logoutStatus    int
	dashboardStatus int // non-zero forces this status on every dashboard call

	refreshHits   int32
	dashboardHits int32
	loginHits     int32
	logoutHits    int32

	server *httptest.Server
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	svc := &fakeService{
		accepted:     map[string]bool{},
		loginToken:   testLoginToken,
		logoutStatus: http.StatusNoContent,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", svc.handleRefresh)
	mux.HandleFunc("/auth/login", svc.handleLogin)
	mux.HandleFunc("/auth/logout", svc.handleLogout)
	mux.HandleFunc("/auth/dashboard", svc.handleDashboard)

	svc.server = httptest.NewServer(mux)
	t.Cleanup(svc.server.Close)
	return svc
}

func (s *fakeService) accept(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted[token] = true
}

func (s *fakeService) revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accepted, token)
}

func (s *fakeService) setRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = token
}

func (s *fakeService) setDashboardStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboardStatus = status
}

func (s *fakeService) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	atomic.AddInt32(&s.refreshHits, 1)

	s.mu.Lock()
	token := s.refreshToken
	delay := s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.accept(token)
	fmt.Fprintf(w, `{"accessToken":%q}`, token)
}

func (s *fakeService) handleLogin(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.loginHits, 1)

	var request api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil ||
		request.Email != testUserEmail || request.Password != testUserPassword {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Login failed"}`))
		return
	}

	s.mu.Lock()
	token := s.loginToken
	s.mu.Unlock()
	s.accept(token)
	fmt.Fprintf(w, `{"accessToken":%q}`, token)
}

func (s *fakeService) handleLogout(w http.ResponseWriter, _ *http.Request) {
	atomic.AddInt32(&s.logoutHits, 1)
	w.WriteHeader(s.logoutStatus)
}

func (s *fakeService) handleDashboard(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&s.dashboardHits, 1)

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	ok := s.accepted[token]
	forced := s.dashboardStatus
	s.mu.Unlock()
	if forced != 0 {
		w.WriteHeader(forced)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	fmt.Fprintf(w, `{"email":%q,"fullName":%q}`, testUserEmail, testUserFullName)
}

// eventRecorder collects session events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []session.Event
}

func recordEvents(t *testing.T, manager *session.Manager) *eventRecorder {
	t.Helper()

	recorder := &eventRecorder{}
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		for {
			select {
			case event, ok := <-manager.Events():
				if !ok {
					return
				}
				recorder.mu.Lock()
				recorder.events = append(recorder.events, event)
				recorder.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	return recorder
}

func (r *eventRecorder) redirected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Type == session.EventRedirectToLogin {
			return true
		}
	}
	return false
}

func (r *eventRecorder) sawStatus(status session.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.Type == session.EventStatusChanged && event.Status == status {
			return true
		}
	}
	return false
}

// testFixture holds the manager under test and its collaborators.
type testFixture struct {
	service *fakeService
	store   *store.InMemoryRepo
	manager *session.Manager
	events  *eventRecorder
}

func setupTestFixture(t *testing.T, options ...session.Option) *testFixture {
	t.Helper()

	service := newFakeService(t)
	repo := store.NewInMemoryRepo()
	refresher := refresh.NewCoalesced(refresh.NewClient(service.server.URL))
	apiClient := api.NewClient(service.server.URL, refresher)

	options = append([]session.Option{session.WithTickInterval(10 * time.Millisecond)}, options...)
	manager, err := session.New(apiClient, refresher, repo, options...)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return &testFixture{
		service: service,
		store:   repo,
		manager: manager,
		events:  recordEvents(t, manager),
	}
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Login(context.Background(), testUserEmail, testUserPassword))
	require.Equal(t, session.Authenticated, f.manager.Status())
}

func shortLivedJWT(t *testing.T, ttl time.Duration) string {
	t.Helper()
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestScenarioFreshLoadRefreshRejected(t *testing.T) {
	f := setupTestFixture(t) // no persisted record, refresh endpoint rejects

	require.False(t, f.manager.Initialize(context.Background()))
	require.Equal(t, session.Unauthenticated, f.manager.Status())
	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.refreshHits))

	require.Eventually(t, f.events.redirected, time.Second, 10*time.Millisecond,
		"presentation layer must be told to redirect to login")
}

func TestScenarioSeededFromPersistedRecord(t *testing.T) {
	f := setupTestFixture(t)
	f.service.accept("seeded-token")
	require.NoError(t, f.store.Put("seeded-token", time.Now().Add(5*time.Minute)))

	require.True(t, f.manager.Initialize(context.Background()))

	require.Equal(t, session.Authenticated, f.manager.Status())
	require.Zero(t, atomic.LoadInt32(&f.service.refreshHits), "seeding must not contact the refresh endpoint")
	require.InDelta(t, 300, f.manager.Remaining().Seconds(), 2, "countdown starts from the persisted expiry")

	profile := f.manager.Profile()
	require.NotNil(t, profile)
	require.Equal(t, testUserEmail, profile.Email)
}

func TestScenarioMidSessionRefreshRetry(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	// The server invalidates the current token but will hand out a new one.
	f.service.revoke(testLoginToken)
	f.service.setRefreshToken("second-token")

	profile, err := f.manager.GetProfile(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, testUserFullName, profile.FullName)

	require.Equal(t, session.Authenticated, f.manager.Status())
	require.Equal(t, "second-token", f.manager.Credential().AccessToken)

	record, err := f.store.Get()
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "second-token", record.AccessToken, "adopted credential must be persisted")
}

func TestScenarioCountdownExpiryWhileIdle(t *testing.T) {
	f := setupTestFixture(t)
	f.service.mu.Lock()
	f.service.loginToken = shortLivedJWT(t, 300*time.Millisecond)
	f.service.mu.Unlock()

	f.login(t)

	require.Eventually(t, func() bool {
		return f.manager.Status() == session.Unauthenticated
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, f.events.sawStatus(session.Expired), "expiry must pass through the Expired state")
	require.True(t, f.events.redirected())
	require.Zero(t, atomic.LoadInt32(&f.service.refreshHits), "proactive expiry makes no server call")

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, record, "persisted record cleared on expiry")
}

func TestConcurrentCheckAuthCoalesced(t *testing.T) {
	f := setupTestFixture(t)
	f.service.mu.Lock()
	f.service.refreshToken = "fresh-token"
	f.service.refreshDelay = 100 * time.Millisecond
	f.service.mu.Unlock()

	const callers = 8
	results := make([]bool, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = f.manager.CheckAuth(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i, ok := range results {
		require.True(t, ok, "caller %d must observe the shared outcome", i)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.refreshHits), "exactly one refresh call issued")
	require.Equal(t, "fresh-token", f.manager.Credential().AccessToken)
}

func TestProfileAuthExpiredEndsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	f.service.revoke(testLoginToken)
	f.service.setRefreshToken("")

	// The next dashboard fetch hits a 401, the refresh is rejected, and the
	// session ends.
	_, err := f.manager.GetProfile(context.Background(), true)
	require.ErrorIs(t, err, api.ErrAuthExpired)

	require.Equal(t, session.Unauthenticated, f.manager.Status())
	require.Nil(t, f.manager.Credential())
	require.Eventually(t, f.events.redirected, time.Second, 10*time.Millisecond)

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestLogoutIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	f.manager.Logout(context.Background())
	f.manager.Logout(context.Background())

	require.Equal(t, session.Unauthenticated, f.manager.Status())
	require.Zero(t, atomic.LoadInt32(&f.service.logoutHits), "no server call without a credential")

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestLogoutServerFailureStillClearsLocally(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.service.logoutStatus = http.StatusInternalServerError

	f.manager.Logout(context.Background())

	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.logoutHits))
	require.Equal(t, session.Unauthenticated, f.manager.Status())
	require.Nil(t, f.manager.Credential())

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, record, "local teardown is unconditional")
}

func TestRemainingFollowsInjectedClock(t *testing.T) {
	var clockMu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nowFunc := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		defer clockMu.Unlock()
		now = now.Add(d)
	}

	f := setupTestFixture(t, session.WithNowTime(nowFunc))
	f.login(t)

	require.Equal(t, 15*time.Minute, f.manager.Remaining())

	advance(10 * time.Minute)
	require.Equal(t, 5*time.Minute, f.manager.Remaining())

	advance(6 * time.Minute)
	require.Equal(t, time.Duration(0), f.manager.Remaining())
}

func TestGetProfileCachesUntilForced(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t) // initial profile fetch happens here
	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.dashboardHits))

	profile, err := f.manager.GetProfile(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, testUserEmail, profile.Email)
	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.dashboardHits), "cached profile served without a fetch")

	_, err = f.manager.GetProfile(context.Background(), true)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&f.service.dashboardHits))
}

func TestGetProfileWithoutSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.GetProfile(context.Background(), false)
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestLoginValidationNeverReachesNetwork(t *testing.T) {
	f := setupTestFixture(t)

	require.Error(t, f.manager.Login(context.Background(), "not-an-email", "password123"))
	require.Error(t, f.manager.Login(context.Background(), testUserEmail, ""))
	require.Zero(t, atomic.LoadInt32(&f.service.loginHits))
	require.Equal(t, session.Unauthenticated, f.manager.Status())
}

func TestLoginRejectedSurfacesServerMessage(t *testing.T) {
	f := setupTestFixture(t)

	err := f.manager.Login(context.Background(), testUserEmail, "wrong-password")
	require.Error(t, err)

	var serverErr *api.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "Login failed", serverErr.Message)
	require.Equal(t, session.Unauthenticated, f.manager.Status())
}

func TestRegisterAdoptsCredential(t *testing.T) {
	service := newFakeService(t)
	mux, ok := service.server.Config.Handler.(*http.ServeMux)
	require.True(t, ok)
	mux.HandleFunc("/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var request api.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, testUserFullName, request.FullName)
		service.accept("registered-token")
		_, _ = w.Write([]byte(`{"accessToken":"registered-token"}`))
	})

	repo := store.NewInMemoryRepo()
	refresher := refresh.NewCoalesced(refresh.NewClient(service.server.URL))
	manager, err := session.New(api.NewClient(service.server.URL, refresher), refresher, repo,
		session.WithTickInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	require.NoError(t, manager.Register(context.Background(), testUserFullName, testUserEmail, testUserPassword))
	require.Equal(t, session.Authenticated, manager.Status())
	require.Equal(t, "registered-token", manager.Credential().AccessToken)
}

func TestInitializeProfileFailureAfterRefreshEndsUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)
	f.service.setRefreshToken("fresh-token")
	f.service.setDashboardStatus(http.StatusInternalServerError)

	require.False(t, f.manager.Initialize(context.Background()),
		"a session is only authenticated once the profile fetch succeeds")
	require.Equal(t, session.Unauthenticated, f.manager.Status())
	require.Nil(t, f.manager.Credential())

	// A transient fault keeps the persisted record so the next start can
	// retry without a new login.
	record, err := f.store.Get()
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "fresh-token", record.AccessToken)
}

func TestInitializeSeededProfileFailureEndsUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)
	f.service.accept("seeded-token")
	f.service.setDashboardStatus(http.StatusInternalServerError)
	require.NoError(t, f.store.Put("seeded-token", time.Now().Add(5*time.Minute)))

	require.False(t, f.manager.Initialize(context.Background()))
	require.Equal(t, session.Unauthenticated, f.manager.Status())

	record, err := f.store.Get()
	require.NoError(t, err)
	require.NotNil(t, record, "transient fault must not discard the persisted record")
}

func TestLogoutDoesNotRefreshOn401(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.service.revoke(testLoginToken)
	f.service.setRefreshToken("should-never-be-fetched")
	f.service.logoutStatus = http.StatusUnauthorized

	f.manager.Logout(context.Background())

	require.Zero(t, atomic.LoadInt32(&f.service.refreshHits),
		"a credential being discarded is never refreshed")
	require.Equal(t, session.Unauthenticated, f.manager.Status())

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestCloseEndsEventStream(t *testing.T) {
	service := newFakeService(t)
	refresher := refresh.NewCoalesced(refresh.NewClient(service.server.URL))
	manager, err := session.New(api.NewClient(service.server.URL, refresher), refresher, store.NewInMemoryRepo())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for range manager.Events() {
		}
		close(done)
	}()

	manager.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event consumers must terminate after Close")
	}

	manager.Close() // second close is a no-op, not a panic
}

func TestInitializeExpiredRecordFallsBackToRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.service.setRefreshToken("fresh-token")
	require.NoError(t, f.store.Put("expired-token", time.Now().Add(-time.Minute)))

	require.True(t, f.manager.Initialize(context.Background()))

	require.EqualValues(t, 1, atomic.LoadInt32(&f.service.refreshHits))
	require.Equal(t, "fresh-token", f.manager.Credential().AccessToken)

	record, err := f.store.Get()
	require.NoError(t, err)
	require.Equal(t, "fresh-token", record.AccessToken)
}

func TestTokenSource(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	token, err := f.manager.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, testLoginToken, token.AccessToken)
	require.Equal(t, "Bearer", token.TokenType)
	require.Equal(t, f.manager.Credential().ExpiresAt, token.Expiry)
}

func TestTokenSourceUnauthenticated(t *testing.T) {
	f := setupTestFixture(t) // refresh endpoint rejects

	_, err := f.manager.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestCloseStopsMutations(t *testing.T) {
	f := setupTestFixture(t)
	f.service.setRefreshToken("fresh-token")

	f.manager.Close()

	require.False(t, f.manager.CheckAuth(context.Background()))
	require.Zero(t, atomic.LoadInt32(&f.service.refreshHits), "a closed manager issues no refresh")
	require.Nil(t, f.manager.Credential())
}
