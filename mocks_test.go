package appkit_test

import (
	"context"
	"io"
	"mime/multipart"
	"sync"
	"time"

	appkit "github.com/goliatone/go-appkit"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// testConfig implements appkit.Config with sane defaults for tests.
type testConfig struct {
	signingKey   string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	issuer       string
	audience     []string
	workerSecret string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey: "test-signing-key-0123456789",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		issuer:     "appkit-test",
	}
}

func (c *testConfig) GetSigningKey() string                   { return c.signingKey }
func (c *testConfig) GetSigningMethod() string                { return "HS256" }
func (c *testConfig) GetContextKey() string                   { return "user" }
func (c *testConfig) GetAccessTokenExpiration() time.Duration { return c.accessTTL }
func (c *testConfig) GetRefreshTokenExpiration() time.Duration {
	return c.refreshTTL
}
func (c *testConfig) GetTokenLookup() string          { return "header:Authorization" }
func (c *testConfig) GetAuthScheme() string           { return "Bearer" }
func (c *testConfig) GetIssuer() string               { return c.issuer }
func (c *testConfig) GetAudience() []string           { return c.audience }
func (c *testConfig) GetRefreshCookieName() string    { return "refresh_token" }
func (c *testConfig) GetWorkerSecret() string         { return c.workerSecret }
func (c *testConfig) GetRejectedRouteKey() string     { return "rejected_route" }
func (c *testConfig) GetRejectedRouteDefault() string { return "/" }

// testIdentity implements appkit.Identity.
type testIdentity struct {
	id          string
	email       string
	displayName string
	plan        string
	admin       bool
}

func (t testIdentity) ID() string          { return t.id }
func (t testIdentity) Email() string       { return t.email }
func (t testIdentity) DisplayName() string { return t.displayName }
func (t testIdentity) Plan() string        { return t.plan }
func (t testIdentity) IsAdmin() bool       { return t.admin }

func newTestIdentity() testIdentity {
	return testIdentity{
		id:          uuid.NewString(),
		email:       "pepe.rone@example.com",
		displayName: "Pepe Rone",
		plan:        string(appkit.PlanCreator),
	}
}

// MockSessionStore implements appkit.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) CreateSession(ctx context.Context, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*appkit.Session, error) {
	args := m.Called(ctx, principalID, token, issuedAt, expiresAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appkit.Session), args.Error(1)
}

func (m *MockSessionStore) FindByToken(ctx context.Context, token string) (*appkit.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appkit.Session), args.Error(1)
}

func (m *MockSessionStore) FindByPrincipal(ctx context.Context, principalID uuid.UUID) (*appkit.Session, error) {
	args := m.Called(ctx, principalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appkit.Session), args.Error(1)
}

func (m *MockSessionStore) DeleteByToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockSessionStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

// memorySessionStore is a thread-safe in-memory appkit.SessionStore for
// flows where mock choreography would obscure the behavior under test.
type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*appkit.Session
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: map[string]*appkit.Session{}}
}

func (s *memorySessionStore) CreateSession(ctx context.Context, principalID uuid.UUID, token string, issuedAt, expiresAt time.Time) (*appkit.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[token]; ok {
		return existing, nil
	}

	session := &appkit.Session{
		ID:          uuid.New(),
		Token:       token,
		PrincipalID: principalID,
		IssuedAt:    issuedAt,
		ExpiresAt:   expiresAt,
	}
	s.sessions[token] = session
	return session, nil
}

func (s *memorySessionStore) FindByToken(ctx context.Context, token string) (*appkit.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, appkit.ErrSessionNotFound
	}
	return session, nil
}

func (s *memorySessionStore) FindByPrincipal(ctx context.Context, principalID uuid.UUID) (*appkit.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *appkit.Session
	for _, session := range s.sessions {
		if session.PrincipalID != principalID {
			continue
		}
		if newest == nil || session.IssuedAt.After(newest.IssuedAt) {
			newest = session
		}
	}
	if newest == nil {
		return nil, appkit.ErrSessionNotFound
	}
	return newest, nil
}

func (s *memorySessionStore) DeleteByToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *memorySessionStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, session := range s.sessions {
		if !session.ExpiresAt.After(cutoff) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (s *memorySessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// MockIdentityProvider implements appkit.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (appkit.Identity, error) {
	args := m.Called(ctx, identifier, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(appkit.Identity), args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (appkit.Identity, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(appkit.Identity), args.Error(1)
}

// MockActivitySink implements appkit.ActivitySink, recording every event.
type MockActivitySink struct {
	mu     sync.Mutex
	events []appkit.ActivityEvent
}

func (m *MockActivitySink) Record(ctx context.Context, event appkit.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockActivitySink) Events() []appkit.ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]appkit.ActivityEvent, len(m.events))
	copy(out, m.events)
	return out
}

// fakeJobs is a thread-safe in-memory appkit.Jobs. The embedded interface
// covers the generic repository surface the state machine never touches.
type fakeJobs struct {
	appkit.Jobs

	mu   sync.Mutex
	byID map[string]*appkit.Job
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{byID: map[string]*appkit.Job{}}
}

func (f *fakeJobs) Submit(ctx context.Context, job *appkit.Job) (*appkit.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byID[job.JobID]; exists {
		return nil, appkit.ErrDuplicateJob
	}

	clone := *job
	clone.EnsureStatus()
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	now := time.Now()
	clone.CreatedAt = &now
	clone.UpdatedAt = &now

	f.byID[clone.JobID] = &clone
	out := clone
	return &out, nil
}

func (f *fakeJobs) GetByJobID(ctx context.Context, jobID string) (*appkit.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.byID[jobID]
	if !ok {
		return nil, appkit.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (f *fakeJobs) CompareAndSetStatus(ctx context.Context, jobID string, from, to appkit.JobStatus, apply func(*appkit.Job)) (*appkit.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.byID[jobID]
	if !ok {
		return nil, false, appkit.ErrJobNotFound
	}

	if job.Status != from {
		out := *job
		return &out, false, nil
	}

	job.Status = to
	now := time.Now()
	job.UpdatedAt = &now
	if apply != nil {
		apply(job)
	}

	out := *job
	return &out, true, nil
}

// MockContext mocks router.Context for handler and middleware tests.
type MockContext struct {
	mock.Mock
	NextCalled bool
}

func (m *MockContext) Next() error {
	m.NextCalled = true
	return nil
}

func (m *MockContext) Context() context.Context {
	args := m.Called()
	c, ok := args.Get(0).(context.Context)
	if !ok {
		panic("arg needs to be context.Context")
	}
	return c
}

func (m *MockContext) SetContext(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockContext) Path() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Method() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) Body() []byte {
	args := m.Called()
	return args.Get(0).([]byte)
}

func (m *MockContext) Status(code int) router.Context {
	m.Called(code)
	return m
}

func (m *MockContext) SendString(s string) error {
	args := m.Called(s)
	return args.Error(0)
}

func (m *MockContext) Send(b []byte) error {
	args := m.Called(b)
	return args.Error(0)
}

func (m *MockContext) JSON(code int, val any) error {
	args := m.Called(code, val)
	return args.Error(0)
}

func (m *MockContext) NoContent(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) Render(name string, bind any, layout ...string) error {
	if len(layout) > 0 {
		args := m.Called(name, bind, layout[0])
		return args.Error(0)
	}
	args := m.Called(name, bind)
	return args.Error(0)
}

func (m *MockContext) Redirect(path string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(path, status)
		return args.Error(0)
	}
	args := m.Called(path)
	return args.Error(0)
}

func (m *MockContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	if len(status) > 0 {
		args := m.Called(name, data, status[0])
		return args.Error(0)
	}
	args := m.Called(name, data)
	return args.Error(0)
}

func (m *MockContext) RedirectBack(fallback string, status ...int) error {
	if len(status) > 0 {
		args := m.Called(fallback, status)
		return args.Error(0)
	}
	args := m.Called(fallback)
	return args.Error(0)
}

func (m *MockContext) SetHeader(key, val string) router.Context {
	m.Called(key, val)
	return m
}

func (m *MockContext) Header(key string) string {
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Get(key string, defaultValue any) any {
	args := m.Called(key, defaultValue)
	return args.Get(0)
}

func (m *MockContext) GetBool(key string, defaultValue bool) bool {
	args := m.Called(key, defaultValue)
	return args.Bool(0)
}

func (m *MockContext) GetInt(key string, def int) int {
	args := m.Called(key, def)
	return args.Int(0)
}

func (m *MockContext) Set(key string, val any) {
	m.Called(key, val)
}

func (m *MockContext) Bind(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindJSON(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindXML(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) BindQuery(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) CookieParser(i any) error {
	args := m.Called(i)
	return args.Error(0)
}

func (m *MockContext) Cookie(cookie *router.Cookie) {
	m.Called(cookie)
}

func (m *MockContext) Cookies(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) ParamsInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) QueryValues(key string) []string {
	args := m.Called(key)
	vals, _ := args.Get(0).([]string)
	return vals
}

func (m *MockContext) QueryInt(key string, defaultValue int) int {
	args := m.Called(key, defaultValue)
	return args.Int(0)
}

func (m *MockContext) Queries() map[string]string {
	args := m.Called()
	return args.Get(0).(map[string]string)
}

func (m *MockContext) GetString(key string, defaultValue string) string {
	args := m.Called(key, defaultValue)
	return args.String(0)
}

func (m *MockContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.Called(key, value[0])
		return nil
	}
	args := m.Called(key)
	return args.Get(0)
}

func (m *MockContext) OriginalURL() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) OnNext(callback func() error) {
	m.Called(callback)
}

func (m *MockContext) Referer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) LocalsMerge(key any, value map[string]any) map[string]any {
	args := m.Called(key, value)
	merged, _ := args.Get(0).(map[string]any)
	return merged
}

func (m *MockContext) FormFile(key string) (*multipart.FileHeader, error) {
	args := m.Called(key)
	fh, _ := args.Get(0).(*multipart.FileHeader)
	return fh, args.Error(1)
}

func (m *MockContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		args := m.Called(key, defaultValue[0])
		return args.String(0)
	}
	args := m.Called(key)
	return args.String(0)
}

func (m *MockContext) IP() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) SendStatus(code int) error {
	args := m.Called(code)
	return args.Error(0)
}

func (m *MockContext) SendStream(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}

func (m *MockContext) RouteName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockContext) RouteParams() map[string]string {
	args := m.Called()
	params, _ := args.Get(0).(map[string]string)
	return params
}
