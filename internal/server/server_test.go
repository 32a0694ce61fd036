package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"streamhub/internal/api"
	"streamhub/internal/auth"
	"streamhub/internal/chat"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/storage"
)

type testServer struct {
	url      string
	handler  *api.Handler
	repo     *storage.JSONRepository
	recorder *metrics.Recorder
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"), storage.WithPasswordIterations(1000))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	handler := api.NewHandler(repo, auth.NewSessionManager(time.Hour))
	handler.Logger = logging.Discard()
	handler.Hub = chat.NewHub(chat.HubConfig{Logger: logging.Discard(), Metrics: metrics.New()})

	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	httpServer := httptest.NewServer(srv.Handler())
	t.Cleanup(httpServer.Close)
	return &testServer{url: httpServer.URL, handler: handler, repo: repo, recorder: cfg.Metrics}
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (s *testServer) signup(t *testing.T, username string) (string, string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "supersecret",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: %d %s", username, resp.StatusCode, body)
	}
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	return out.Token, out.User.ID
}

func messageOf(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode message from %q: %v", body, err)
	}
	return out.Message
}

func TestNewReturnsErrorWhenHandlerNil(t *testing.T) {
	t.Parallel()

	srv, err := New(nil, Config{})
	if err == nil {
		t.Fatalf("expected error when handler is nil, got server: %#v", srv)
	}
}

func TestNewRejectsInvalidCORSOrigin(t *testing.T) {
	handler := api.NewHandler(nil, nil)
	if _, err := New(handler, Config{CORS: CORSConfig{AllowedOrigins: []string{"::bad"}}}); err == nil {
		t.Fatal("expected invalid origin to fail")
	}
}

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, body := ts.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"database":"connected"`) {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}

	resp, body = ts.do(t, http.MethodGet, "/", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "StreamHub API") {
		t.Fatalf("unexpected index response %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/videos", "", nil)
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("unexpected video list %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/videos/unknown", "", nil)
	if resp.StatusCode != http.StatusNotFound || messageOf(t, body) != "Video not found" {
		t.Fatalf("unexpected missing video response %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || messageOf(t, body) != "Route not found" {
		t.Fatalf("unexpected not found response %d %s", resp.StatusCode, body)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, Config{})
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/api/users/history"},
		{http.MethodGet, "/api/videos/user"},
		{http.MethodPost, "/api/videos"},
		{http.MethodPost, "/api/videos/abc/like"},
		{http.MethodGet, "/api/chat"},
		{http.MethodGet, "/api/chat/abc"},
	} {
		resp, body := ts.do(t, route.method, route.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d %s", route.method, route.path, resp.StatusCode, body)
		}
	}
	resp, _ := ts.do(t, http.MethodGet, "/api/users", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", resp.StatusCode)
	}
}

func TestChatFlowThroughRouter(t *testing.T) {
	ts := newTestServer(t, Config{})
	aliceToken, aliceID := ts.signup(t, "alice")
	bobToken, bobID := ts.signup(t, "bob")

	resp, body := ts.do(t, http.MethodGet, "/api/auth/me", aliceToken, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), aliceID) {
		t.Fatalf("unexpected me response %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/chat", aliceToken, map[string]string{"participantId": bobID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat: %d %s", resp.StatusCode, body)
	}
	var room struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(body, &room); err != nil || room.ID == "" {
		t.Fatalf("decode room %s: %v", body, err)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/chat", bobToken, map[string]string{"participantId": aliceID})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), room.ID) {
		t.Fatalf("expected existing room, got %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPost, "/api/chat/"+room.ID+"/messages", bobToken, map[string]string{"content": "hey alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create message: %d %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodGet, "/api/chat/"+room.ID, aliceToken, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "hey alice") {
		t.Fatalf("list messages: %d %s", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/logout", aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/chat", aliceToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", resp.StatusCode)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute}})
	ts.signup(t, "alice")

	credentials := map[string]string{"email": "alice@example.com", "password": "wrong-password"}
	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/api/auth/login", "", credentials)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp, body := ts.do(t, http.MethodPost, "/api/auth/login", "", credentials)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestWebsocketThroughRouter(t *testing.T) {
	ts := newTestServer(t, Config{})
	token, userID := ts.signup(t, "alice")
	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/api/chat/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame chat.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Event != chat.EventUsersOnline || !strings.Contains(string(frame.Data), userID) {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.do(t, http.MethodGet, "/api/videos/abc", "", nil)

	resp, body := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `route="/api/videos/{id}"`) {
		t.Fatalf("expected route pattern label in metrics output:\n%s", body)
	}
}

func TestMediaMount(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "thumbnails"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "thumbnails", "a.jpg"), []byte("jpg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts := newTestServer(t, Config{Media: http.FileServer(http.Dir(root))})

	resp, body := ts.do(t, http.MethodGet, "/media/thumbnails/a.jpg", "", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "jpg" {
		t.Fatalf("unexpected media response %d %q", resp.StatusCode, body)
	}
}

func TestServerPingWithoutRedis(t *testing.T) {
	srv, err := New(api.NewHandler(nil, nil), Config{Logger: logging.Discard(), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if srv.HTTPServer().ReadHeaderTimeout == 0 {
		t.Fatal("expected header timeout to be set")
	}
}
