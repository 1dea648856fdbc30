package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philipyoungg/ws-pubsub/internal/app"
	"github.com/philipyoungg/ws-pubsub/internal/store"
	"github.com/philipyoungg/ws-pubsub/pkg/auth"
)

// fakeUsers keeps accounts in memory; passwords are stored as-is
type fakeUsers struct {
	mu    sync.Mutex
	users map[string]string
}

func newFakeUsers() *fakeUsers { return &fakeUsers{users: map[string]string{}} }

func (f *fakeUsers) CreateUser(ctx context.Context, email, password string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[email]; ok {
		return store.User{}, store.ErrEmailTaken
	}
	f.users[email] = password
	return store.User{ID: "id-" + email, Email: email, CreatedAt: time.Now()}, nil
}

func (f *fakeUsers) VerifyUser(ctx context.Context, email, password string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pw, ok := f.users[email]; !ok || pw != password {
		return store.User{}, store.ErrInvalidCredentials
	}
	return store.User{ID: "id-" + email, Email: email}, nil
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthAPI(t *testing.T) {
	const secret = "auth-secret"
	ts := newTestServer(t, app.Config{JWTSecret: secret}, newFakeUsers())
	base := ts.srv.URL + "/api/auth"

	resp := postJSON(t, base+"/register", registerReq{Email: "a@b.io", Password: "longenough"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reg tokenResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	assert.Equal(t, "id-a@b.io", reg.User.ID)

	resp = postJSON(t, base+"/register", registerReq{Email: "a@b.io", Password: "longenough"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, base+"/register", registerReq{Email: "nope", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, base+"/login", loginReq{Email: "a@b.io", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, base+"/login", loginReq{Email: "a@b.io", Password: "longenough", Room: "r9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var login tokenResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))

	claims, err := auth.New(secret).Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.Claims{Subject: "id-a@b.io", Room: "r9"}, claims)

	req, err := http.NewRequest(http.MethodGet, base+"/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	me, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer me.Body.Close()
	require.Equal(t, http.StatusOK, me.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(me.Body).Decode(&body))
	assert.Equal(t, "id-a@b.io", body["userId"])

	anon, err := http.Get(base + "/me")
	require.NoError(t, err)
	anon.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)
}

func TestAuthAPI_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, app.Config{JWTSecret: "s"}, newFakeUsers())

	resp, err := http.Get(ts.srv.URL + "/api/auth/login")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthAPI_NotMountedWithoutStore(t *testing.T) {
	ts := newTestServer(t, app.Config{}, nil)

	resp := postJSON(t, ts.srv.URL+"/api/auth/login", loginReq{Email: "a@b.io", Password: "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
