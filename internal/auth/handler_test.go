package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vantage-admin/vantage/internal/auth"
	"github.com/vantage-admin/vantage/internal/shared"
	_ "github.com/vantage-admin/vantage/testing"
)

type stubRepo struct {
	user       *auth.User
	lastLogin  *time.Time
	sessions   map[string]int64
	deletedIDs []string
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, shared.ErrNotFound
	}
	copied := *s.user
	return &copied, nil
}

func (s *stubRepo) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	s.lastLogin = &at
	return nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := auth.NewHandler(logger, auth.NewService(repo), sessionManager, csrfManager)
	return handler, sessionManager
}

func activeUser(t *testing.T, password string) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &auth.User{
		ID:           1,
		Name:         "Ada Admin",
		Email:        "admin@test.local",
		PasswordHash: string(hashed),
		Status:       "active",
	}
}

func postLogin(t *testing.T, handler *auth.Handler, sessionManager *shared.SessionManager, email, password string) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	sess, err := sessionManager.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)
	require.NoError(t, sessionManager.Commit(ctx, res, req, sess))
	return res, sess
}

func TestLoginPageIssuesCSRFToken(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	sess, err := sessionManager.Load(context.Background(), req)
	require.NoError(t, err)
	ctx := shared.ContextWithSession(req.Context(), sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.ShowLoginForTest(res, req)
	require.NoError(t, sessionManager.Commit(ctx, res, req, sess))

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "csrf_token")
}

func TestLoginSuccess(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correct-horse")}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess := postLogin(t, handler, sessionManager, "admin@test.local", "correct-horse")

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, int64(1), sess.UserID())
	require.NotNil(t, repo.lastLogin, "last_login_at must be stamped")
	require.Contains(t, repo.sessions, sess.ID, "session audit row must be written")
}

func TestLoginRotatesSessionID(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correct-horse")}
	handler, sessionManager := newAuthHandler(t, repo)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	sess, err := sessionManager.Load(context.Background(), req)
	require.NoError(t, err)
	before := sess.ID

	form := url.Values{}
	form.Set("email", "admin@test.local")
	form.Set("password", "correct-horse")
	postReq := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("Accept", "application/json")
	ctx := shared.ContextWithSession(postReq.Context(), sess)
	postReq = postReq.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, postReq)
	require.NoError(t, sessionManager.Commit(ctx, res, postReq, sess))

	require.Equal(t, http.StatusOK, res.Code)
	require.NotEqual(t, before, sess.ID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{user: activeUser(t, "correct-horse")}
	handler, sessionManager := newAuthHandler(t, repo)

	res, sess := postLogin(t, handler, sessionManager, "admin@test.local", "wrong-password")

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Zero(t, sess.UserID())
}

func TestLoginSuspendedAccountRejected(t *testing.T) {
	user := activeUser(t, "correct-horse")
	user.Status = "suspended"
	handler, sessionManager := newAuthHandler(t, &stubRepo{user: user})

	res, sess := postLogin(t, handler, sessionManager, "admin@test.local", "correct-horse")

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Zero(t, sess.UserID())
}

func TestLoginValidationFailure(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &stubRepo{})

	res, _ := postLogin(t, handler, sessionManager, "not-an-email", "short")

	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
}
