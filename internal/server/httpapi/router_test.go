package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/tglink/internal/errs"
	"github.com/and161185/tglink/internal/initdata"
	"github.com/and161185/tglink/internal/model"
)

const (
	testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	testAPIKey   = "operator-key"
)

// ============================================================================
// MOCKS
// ============================================================================

type MockLinker struct {
	mock.Mock
}

func (m *MockLinker) StartHandshake(ctx context.Context, identity, phone, password string) (uuid.UUID, error) {
	args := m.Called(ctx, identity, phone, password)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockLinker) SubmitCode(ctx context.Context, identity string, id uuid.UUID, code string) error {
	return m.Called(ctx, identity, id, code).Error(0)
}

func (m *MockLinker) CompleteAndPersist(ctx context.Context, identity string, id uuid.UUID) (string, error) {
	args := m.Called(ctx, identity, id)
	return args.String(0), args.Error(1)
}

func (m *MockLinker) Status(ctx context.Context, identity string, id uuid.UUID) (model.OperationView, error) {
	args := m.Called(ctx, identity, id)
	return args.Get(0).(model.OperationView), args.Error(1)
}

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Status(ctx context.Context, id string) (model.SessionStatus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.SessionStatus), args.Error(1)
}

func (m *MockSessions) Reveal(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockSessions) Revoke(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessions) Probe(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// ============================================================================
// HELPERS
// ============================================================================

type fixture struct {
	linker   *MockLinker
	sessions *MockSessions
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{linker: new(MockLinker), sessions: new(MockSessions)}
	f.handler = NewRouter(Deps{
		Auth:     initdata.New(testBotToken),
		Linker:   f.linker,
		Sessions: f.sessions,
		APIKey:   testAPIKey,
		Log:      zaptest.NewLogger(t),
	})
	t.Cleanup(func() {
		f.linker.AssertExpectations(t)
		f.sessions.AssertExpectations(t)
	})
	return f
}

func initData(id string) string {
	return "Bearer " + initdata.Sign(testBotToken, url.Values{
		"id":         {id},
		"first_name": {"Ana"},
		"auth_date":  {"1700000000"},
	})
}

func (f *fixture) do(method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ============================================================================
// AUTHENTICATION
// ============================================================================

func TestAuth_RejectsMissingAndForgedInitData(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v2/auth/session", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ErrMsgNotAuthenticated, decode(t, w)["error"])

	forged := initData("42") + "0"
	w = f.do(http.MethodGet, "/v2/auth/session", forged, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodGet, "/v2/auth/session", "Basic "+initdata.Sign(testBotToken, url.Values{"id": {"42"}}), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuth_MisconfiguredBotToken(t *testing.T) {
	h := NewRouter(Deps{Auth: initdata.New(""), Linker: new(MockLinker), Sessions: new(MockSessions), Log: zaptest.NewLogger(t)})
	req := httptest.NewRequest(http.MethodGet, "/v2/auth/session", nil)
	req.Header.Set("Authorization", initData("42"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "", nil).Code)
}

// ============================================================================
// HANDSHAKE
// ============================================================================

func TestInit_StartsHandshake(t *testing.T) {
	f := newFixture(t)
	opID := uuid.Must(uuid.NewV4())
	f.linker.On("StartHandshake", mock.Anything, "42", "5511999999999", "hunter2").Return(opID, nil)

	w := f.do(http.MethodPost, "/v2/auth/init", initData("42"), map[string]string{"phone": "5511999999999", "password": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, opID.String(), body["operationId"])
	assert.Equal(t, "pending", body["status"])
}

func TestInit_Validation(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v2/auth/init", initData("42"), map[string]string{"phone": "call me"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields, _ := decode(t, w)["fields"].(map[string]any)
	assert.Equal(t, "Invalid phone number", fields["phone"])

	req := httptest.NewRequest(http.MethodPost, "/v2/auth/init", bytes.NewBufferString("not json"))
	req.Header.Set("Authorization", initData("42"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.linker.AssertNotCalled(t, "StartHandshake", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInit_RateLimited(t *testing.T) {
	f := newFixture(t)
	resume := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	f.linker.On("StartHandshake", mock.Anything, "7", "5511999999999", "").
		Return(uuid.Nil, &errs.RateLimitedError{ResumeAt: resume})

	w := f.do(http.MethodPost, "/v2/auth/init", initData("7"), map[string]string{"phone": "5511999999999"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2024-03-01T12:00:30Z", decode(t, w)["resumeAt"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCallback_ReturnsPersistedSession(t *testing.T) {
	f := newFixture(t)
	opID := uuid.Must(uuid.NewV4())
	f.linker.On("SubmitCode", mock.Anything, "42", opID, "12345").Return(nil)
	f.linker.On("CompleteAndPersist", mock.Anything, "42", opID).Return("aXY%3D.Y3Q%3D", nil)

	w := f.do(http.MethodPost, "/v2/auth/callback", initData("42"), map[string]string{"operationId": opID.String(), "code": "12345"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "aXY%3D.Y3Q%3D", body["session"])
	assert.Equal(t, "code_received", body["status"])
}

func TestCallback_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown operation", errs.ErrNotFound, http.StatusNotFound},
		{"code already queued", errs.ErrNotReady, http.StatusConflict},
		{"login failed", &errs.LoginError{Class: "PHONE_CODE_INVALID", Code: 400}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			opID := uuid.Must(uuid.NewV4())
			f.linker.On("SubmitCode", mock.Anything, "42", opID, "12345").Return(tc.err)

			w := f.do(http.MethodPost, "/v2/auth/callback", initData("42"), map[string]string{"operationId": opID.String(), "code": "12345"})
			assert.Equal(t, tc.status, w.Code)
			f.linker.AssertNotCalled(t, "CompleteAndPersist", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCallback_LoginErrorExposesClassOnly(t *testing.T) {
	f := newFixture(t)
	opID := uuid.Must(uuid.NewV4())
	f.linker.On("SubmitCode", mock.Anything, "42", opID, "12345").Return(nil)
	f.linker.On("CompleteAndPersist", mock.Anything, "42", opID).
		Return("", &errs.LoginError{Class: "SESSION_PASSWORD_NEEDED", Code: 401, Err: assert.AnError})

	w := f.do(http.MethodPost, "/v2/auth/callback", initData("42"), map[string]string{"operationId": opID.String(), "code": "12345"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "SESSION_PASSWORD_NEEDED", body["class"])
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestCallback_Validation(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/v2/auth/callback", initData("42"), map[string]string{"operationId": "nope", "code": "12a45"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields, _ := decode(t, w)["fields"].(map[string]any)
	assert.Contains(t, fields, "operationId")
	assert.Contains(t, fields, "code")
}

func TestOperation(t *testing.T) {
	f := newFixture(t)
	opID := uuid.Must(uuid.NewV4())
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.linker.On("Status", mock.Anything, "42", opID).Return(model.OperationView{
		ID: opID, Identity: "42", Status: model.StatusErrored, ErrorClass: errs.ClassFlood, CreatedAt: created,
	}, nil)

	w := f.do(http.MethodGet, "/v2/auth/operations/"+opID.String(), initData("42"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "FLOOD", body["error"])

	w = f.do(http.MethodGet, "/v2/auth/operations/not-a-uuid", initData("42"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// ============================================================================
// SESSIONS
// ============================================================================

func TestSessionStatus(t *testing.T) {
	f := newFixture(t)
	saved := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.sessions.On("Status", mock.Anything, "42").Return(model.SessionStatus{Linked: true, SavedAt: saved}, nil)
	f.sessions.On("Status", mock.Anything, "43").Return(model.SessionStatus{}, nil)

	body := decode(t, f.do(http.MethodGet, "/v2/auth/session", initData("42"), nil))
	assert.Equal(t, true, body["linked"])
	assert.Equal(t, "2024-03-01T12:00:00Z", body["savedAt"])

	body = decode(t, f.do(http.MethodGet, "/v2/auth/session", initData("43"), nil))
	assert.Equal(t, false, body["linked"])
	assert.NotContains(t, body, "savedAt")
}

func TestRevealSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Reveal", mock.Anything, "42").Return("1BVtsOK8Bu2session", nil)
	f.sessions.On("Reveal", mock.Anything, "43").Return("", errs.ErrMalformedCipherText)
	f.sessions.On("Reveal", mock.Anything, "44").Return("", errs.ErrNotFound)

	w := f.do(http.MethodGet, "/v2/auth/session/reveal", initData("42"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1BVtsOK8Bu2session", decode(t, w)["session"])

	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/v2/auth/session/reveal", initData("43"), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v2/auth/session/reveal", initData("44"), nil).Code)
}

func TestProbeSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Probe", mock.Anything, "42").Return(false, nil)

	w := f.do(http.MethodPost, "/v2/auth/session/probe", initData("42"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["linked"])
}

func TestRevokeSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Revoke", mock.Anything, "42").Return(nil)
	f.sessions.On("Revoke", mock.Anything, "43").Return(errs.ErrNotFound)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/v2/auth/session", initData("42"), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/v2/auth/session", initData("43"), nil).Code)
}

// ============================================================================
// ADMIN
// ============================================================================

func TestAdminRevoke(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Revoke", mock.Anything, "99").Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/admin/sessions/99", nil)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/sessions/99", nil)
	req.Header.Set(HeaderAPIKey, "wrong")
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/sessions/99", nil)
	req.Header.Set(HeaderAPIKey, testAPIKey)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminRevoke_InitDataIsNotEnough(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodDelete, "/admin/sessions/99", initData("99"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
