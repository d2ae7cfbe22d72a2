package auth

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, f *serviceFixture, opts ...HandlerOption) http.Handler {
	t.Helper()
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service, opts...)
	r := chi.NewRouter()
	r.Route("/api/auth", handler.MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var payload map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	}
	return rr, payload
}

func TestHandlerRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t, nil)
	router := newTestRouter(t, f)

	rr, body := doJSON(t, router, http.MethodPost, "/api/auth/register", `{"name":"A","email":"a@x.com","password":"p"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "User registered successfully", body["message"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", user["email"])
	assert.NotContains(t, rr.Body.String(), "PasswordHash")
	assert.NotContains(t, rr.Body.String(), "$2a$")

	rr, body = doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"p"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)

	rr, body = doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid credentials", body["detail"])
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr, unknown := doJSON(t, router, http.MethodPost, "/api/auth/login", `{"email":"nobody@x.com","password":"p"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, body, unknown)
}

func TestHandlerRegisterConflictAndValidation(t *testing.T) {
	f := newServiceFixture(t, nil)
	router := newTestRouter(t, f)

	rr, _ := doJSON(t, router, http.MethodPost, "/api/auth/register", `{"name":"A","email":"a@x.com","password":"p"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/register", `{"name":"B","email":"a@x.com","password":"q"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, body := doJSON(t, router, http.MethodPost, "/api/auth/register", `{"name":"A","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, rr.Body.String())
	assert.Contains(t, errs, "Email")
	assert.Contains(t, errs, "Password")

	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/register", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerPasscodeFlow(t *testing.T) {
	f := newServiceFixture(t, sequenceCodes("123456"))
	router := newTestRouter(t, f)
	f.register(t, "a@x.com", "p")

	rr, body := doJSON(t, router, http.MethodPost, "/api/auth/login/otp", `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "OTP sent successfully", body["message"])
	require.Equal(t, 1, f.notifier.calls())
	code := f.notifier.last().code

	rr, body = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":"`+code+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "OTP successfully verified", body["message"])
	assert.NotEmpty(t, body["token"])

	rr, body = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":"`+code+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid OTP", body["detail"])
}

func TestHandlerPasscodeNumericOTP(t *testing.T) {
	f := newServiceFixture(t, sequenceCodes("654321"))
	router := newTestRouter(t, f)
	f.register(t, "a@x.com", "p")

	rr, _ := doJSON(t, router, http.MethodPost, "/api/auth/login/otp", `{"email":"a@x.com"}`)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":654321}`)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestHandlerPasscodeErrors(t *testing.T) {
	f := newServiceFixture(t, sequenceCodes("123456"))
	router := newTestRouter(t, f)
	f.register(t, "a@x.com", "p")

	rr, body := doJSON(t, router, http.MethodPost, "/api/auth/login/otp", `{"email":"nobody@x.com"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "User not registered", body["detail"])

	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":"12ab56"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, body = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":"012345"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, rr.Body.String())
	assert.Equal(t, "passcode", errs["OTP"])

	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/login/otp/verify", `{"email":"a@x.com","otp":true}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.notifier.err = errors.New("relay unavailable")
	rr, _ = doJSON(t, router, http.MethodPost, "/api/auth/login/otp", `{"email":"a@x.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandlerPasscodeRateLimit(t *testing.T) {
	f := newServiceFixture(t, sequenceCodes("111111", "222222", "333333"))
	router := newTestRouter(t, f, WithPasscodeRateLimit(2))
	f.register(t, "a@x.com", "p")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr, _ := doJSON(t, router, http.MethodPost, "/api/auth/login/otp", `{"email":"a@x.com"}`)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, f.notifier.calls())
}

func TestHandlerMe(t *testing.T) {
	f := newServiceFixture(t, nil)
	router := newTestRouter(t, f)
	user := f.register(t, "a@x.com", "p")

	rr, _ := doJSON(t, router, http.MethodGet, "/api/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = doJSON(t, router, http.MethodGet, "/api/auth/me", "", "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := f.tokens.Issue(user.ID)
	require.NoError(t, err)
	rr, body := doJSON(t, router, http.MethodGet, "/api/auth/me", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, user.ID, got["id"])
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		ok     bool
	}{
		"valid":       {header: "Bearer abc", token: "abc", ok: true},
		"lowercase":   {header: "bearer abc", token: "abc", ok: true},
		"missing":     {header: "", ok: false},
		"basic":       {header: "Basic abc", ok: false},
		"empty token": {header: "Bearer   ", ok: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tc.header)
			token, ok := BearerToken(req)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}
