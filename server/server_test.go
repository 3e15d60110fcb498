package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-room/common"
	"secure-room/configs"
	"secure-room/crypto/ecdhp256"
)

func newTestServer(t *testing.T, mutate func(cfg *configs.Config)) *httptest.Server {
	t.Helper()
	cfg := configs.Default()
	cfg.JWTSecret = "test-secret"
	cfg.PingInterval = 0
	if mutate != nil {
		mutate(cfg)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := NewServer(t.Context(), cfg, NewMemoryKeyDirectory(), NewMemoryAccountStore(), NewMemoryBlobStore(), logger)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return ts
}

type testUser struct {
	name string
	http *http.Client
	csrf string
	base string
}

func credentialsBody(t *testing.T, user, password string) io.Reader {
	t.Helper()
	data, err := json.Marshal(credentials{User: user, Password: password})
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func register(t *testing.T, ts *httptest.Server, name, password string) int {
	t.Helper()
	resp, err := http.Post(ts.URL+configs.RegisterPath, "application/json", credentialsBody(t, name, password))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func newTestUser(t *testing.T, ts *httptest.Server, name string) *testUser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testUser{name: name, http: &http.Client{Jar: jar}, base: ts.URL}
}

// tryLogin posts credentials and returns the status code.
func (u *testUser) tryLogin(t *testing.T, password string) int {
	t.Helper()
	resp, err := u.http.Post(u.base+configs.SessionPath, "application/json", credentialsBody(t, u.name, password))
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode
	}

	var out sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.CSRFToken)
	u.csrf = out.CSRFToken
	return resp.StatusCode
}

// login registers name and opens a session for it.
func login(t *testing.T, ts *httptest.Server, name string) *testUser {
	t.Helper()
	password := name + "-password"
	require.Equal(t, http.StatusCreated, register(t, ts, name, password))
	u := newTestUser(t, ts, name)
	require.Equal(t, http.StatusOK, u.tryLogin(t, password))
	return u
}

func (u *testUser) post(t *testing.T, path, contentType string, body io.Reader, withCSRF bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, u.base+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if withCSRF {
		req.Header.Set(configs.CSRFHeaderName, u.csrf)
	}
	resp, err := u.http.Do(req)
	require.NoError(t, err)
	return resp
}

func (u *testUser) dial(t *testing.T, room string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Jar: u.http.Jar, HandshakeTimeout: time.Second}
	wsURL := "ws" + strings.TrimPrefix(u.base, "http") + configs.WebSocketPath + room
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, f common.Frame) {
	t.Helper()
	data, err := common.EncodeFrame(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// next reads frames until one of type T arrives.
func next[T common.Frame](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		f, err := common.DecodeFrame(data)
		require.NoError(t, err)
		if v, ok := f.(T); ok {
			return v
		}
	}
}

func TestTokens(t *testing.T) {
	secret := []byte("secret")

	token, err := GenerateToken("alice", "csrf", secret, time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "csrf", claims.CSRFToken)

	_, err = ParseToken(token, []byte("other"))
	assert.Error(t, err)

	expired, err := GenerateToken("alice", "csrf", secret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired, secret)
	assert.Error(t, err)
}

func TestAccounts(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, register(t, ts, "alice", "alice-password"))

	t.Run("register", func(t *testing.T) {
		tests := []struct {
			name       string
			user       string
			password   string
			wantStatus int
		}{
			{name: "taken user name", user: "alice", password: "another-password", wantStatus: http.StatusConflict},
			{name: "short password", user: "bob", password: "short", wantStatus: http.StatusBadRequest},
			{name: "missing user", user: " ", password: "bob-password", wantStatus: http.StatusBadRequest},
			{name: "ok", user: "bob", password: "bob-password", wantStatus: http.StatusCreated},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.wantStatus, register(t, ts, tt.user, tt.password))
			})
		}
	})

	t.Run("login", func(t *testing.T) {
		tests := []struct {
			name       string
			user       string
			password   string
			wantStatus int
		}{
			{name: "wrong password", user: "alice", password: "guessed-password", wantStatus: http.StatusForbidden},
			{name: "unknown user", user: "mallory", password: "mallory-password", wantStatus: http.StatusForbidden},
			{name: "missing password", user: "alice", password: "", wantStatus: http.StatusBadRequest},
			{name: "ok", user: "alice", password: "alice-password", wantStatus: http.StatusOK},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				u := newTestUser(t, ts, tt.user)
				assert.Equal(t, tt.wantStatus, u.tryLogin(t, tt.password))
			})
		}
	})
}

func TestKeysCannotBeTakenOver(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := login(t, ts, "alice")

	publish := func(u *testUser) int {
		pair, err := ecdhp256.New()
		require.NoError(t, err)
		data, err := json.Marshal(common.PublishKeyRequest{User: "alice", PublicKey: pair.PublicJWK()})
		require.NoError(t, err)
		resp := u.post(t, "/keys?room=lobby", "application/json", bytes.NewReader(data), true)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, publish(alice))

	fetch := func() []common.PeerKeyRecord {
		resp, err := http.Get(ts.URL + "/keys?room=lobby")
		require.NoError(t, err)
		defer resp.Body.Close()
		var records []common.PeerKeyRecord
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
		return records
	}
	before := fetch()
	require.Len(t, before, 1)

	impostor := newTestUser(t, ts, "alice")
	assert.Equal(t, http.StatusForbidden, impostor.tryLogin(t, "not-alices-password"))
	assert.Equal(t, http.StatusForbidden, publish(impostor))
	assert.Equal(t, http.StatusConflict, register(t, ts, "alice", "impostor-password"))

	assert.Equal(t, before, fetch())
}

func TestKeysEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := login(t, ts, "alice")
	pair, err := ecdhp256.New()
	require.NoError(t, err)

	body := func(user string, jwk ecdhp256.JWK) io.Reader {
		data, err := json.Marshal(common.PublishKeyRequest{User: user, PublicKey: jwk})
		require.NoError(t, err)
		return bytes.NewReader(data)
	}

	tests := []struct {
		name       string
		path       string
		user       string
		jwk        ecdhp256.JWK
		withCSRF   bool
		wantStatus int
	}{
		{name: "missing anti-forgery token", path: "/keys?room=lobby", user: "alice", jwk: pair.PublicJWK(), wantStatus: http.StatusForbidden},
		{name: "other user", path: "/keys?room=lobby", user: "mallory", jwk: pair.PublicJWK(), withCSRF: true, wantStatus: http.StatusForbidden},
		{name: "missing room", path: "/keys", user: "alice", jwk: pair.PublicJWK(), withCSRF: true, wantStatus: http.StatusBadRequest},
		{name: "invalid key", path: "/keys?room=lobby", user: "alice", jwk: ecdhp256.JWK{Kty: "EC", Crv: "P-256"}, withCSRF: true, wantStatus: http.StatusBadRequest},
		{name: "ok", path: "/keys?room=lobby", user: "alice", jwk: pair.PrivateJWK(), withCSRF: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := alice.post(t, tt.path, "application/json", body(tt.user, tt.jwk), tt.withCSRF)
			resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	resp, err := http.Get(ts.URL + "/keys?room=lobby")
	require.NoError(t, err)
	defer resp.Body.Close()
	var records []common.PeerKeyRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].User)
	assert.Empty(t, records[0].PublicKey.D, "private component is stripped")
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestUploadDownload(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := login(t, ts, "alice")
	payload := []byte{0x00, 0x01, 0x02, 0xff}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "blob.bin")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp := alice.post(t, configs.UploadPath, w.FormDataContentType(), bytes.NewReader(buf.Bytes()), false)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = alice.post(t, configs.UploadPath, w.FormDataContentType(), bytes.NewReader(buf.Bytes()), true)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result common.UploadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, strings.HasPrefix(result.StorageKey, "files/"))
	assert.Equal(t, configs.DownloadPath+result.StorageKey, result.DownloadURL)

	anon, err := http.Get(ts.URL + result.DownloadURL)
	require.NoError(t, err)
	anon.Body.Close()
	assert.Equal(t, http.StatusForbidden, anon.StatusCode)

	got, err := alice.http.Get(ts.URL + result.DownloadURL)
	require.NoError(t, err)
	defer got.Body.Close()
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	missing, err := alice.http.Get(ts.URL + configs.DownloadPath + "files/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestRelay(t *testing.T) {
	ts := newTestServer(t, nil)
	alice := login(t, ts, "alice").dial(t, "lobby")
	next[common.PresenceUpdateFrame](t, alice)

	bob := login(t, ts, "bob").dial(t, "lobby")
	next[common.PresenceUpdateFrame](t, alice)

	send(t, alice, common.GetPresenceFrame{})
	list := next[common.PresenceListFrame](t, alice)
	assert.Equal(t, map[string]common.PresenceInfo{
		"alice": {Status: common.StatusOnline},
		"bob":   {Status: common.StatusOnline},
	}, list.Users)

	send(t, bob, common.TypingIndicatorFrame{Typing: true})
	next[common.PresenceUpdateFrame](t, alice)
	send(t, alice, common.GetPresenceFrame{})
	list = next[common.PresenceListFrame](t, alice)
	assert.Equal(t, common.StatusTyping, list.Users["bob"].Status)

	send(t, bob, common.EncryptedTextFrame{User: "spoofed", IV: "aXY=", Ciphertext: "Y3Q="})
	got := next[common.EncryptedTextFrame](t, alice)
	assert.Equal(t, "bob", got.User, "relay stamps the authenticated sender")
	assert.NotEmpty(t, got.Timestamp)
	echo := next[common.EncryptedTextFrame](t, bob)
	assert.Equal(t, got, echo)

	bob.Close()
	next[common.PresenceUpdateFrame](t, alice)
	send(t, alice, common.GetPresenceFrame{})
	list = next[common.PresenceListFrame](t, alice)
	assert.Equal(t, map[string]common.PresenceInfo{"alice": {Status: common.StatusOnline}}, list.Users)
}

func TestRelayRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.Config) {
		cfg.RateLimitMessages = 2
		cfg.RateLimitWindow = time.Minute
	})
	alice := login(t, ts, "alice").dial(t, "lobby")

	for i := 0; i < 3; i++ {
		send(t, alice, common.PlainTextFrame{Message: "spam"})
	}
	warning := next[common.RateLimitWarningFrame](t, alice)
	assert.NotEmpty(t, warning.Message)
}

func TestRelayPing(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.Config) {
		cfg.PingInterval = 20 * time.Millisecond
	})
	alice := login(t, ts, "alice").dial(t, "lobby")
	next[common.PingFrame](t, alice)
}

func TestRelayRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+configs.WebSocketPath+"lobby", nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
