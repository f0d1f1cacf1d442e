package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wagate/internal/config"
	"wagate/internal/protocol"
	"wagate/internal/protocol/protocoltest"
	"wagate/internal/service/dispatch"
	"wagate/internal/service/pairing"
	"wagate/internal/service/ratelimit"
	"wagate/internal/service/session"
	"wagate/internal/store"
)

type testGateway struct {
	router   http.Handler
	dialer   *protocoltest.FakeDialer
	sessions *session.Manager
}

func setupGateway(t *testing.T, authCfg config.AuthConfig, limit int) *testGateway {
	t.Helper()
	dialer := &protocoltest.FakeDialer{}
	creds, err := store.NewCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	artifacts, err := store.NewArtifactStore(t.TempDir(), 64)
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	limiter := ratelimit.New(ratelimit.Options{Limit: limit, Window: time.Minute})
	sessions := session.NewManager(dialer, creds, artifacts, limiter, session.Config{})
	pairingSvc := pairing.New(sessions, artifacts, pairing.Options{
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	engine := dispatch.New(sessions, limiter, dispatch.Options{
		NetworkSuffix: "@c.us",
		BulkPacing:    time.Millisecond,
		BulkRetryWait: time.Millisecond,
	})

	return &testGateway{
		router:   NewRouter(sessions, pairingSvc, engine, authCfg),
		dialer:   dialer,
		sessions: sessions,
	}
}

// connect drives a session into the connected state the way the protocol
// layer would.
func (g *testGateway) connect(t *testing.T, id string) *protocoltest.FakeClient {
	t.Helper()
	s, err := g.sessions.Ensure(context.Background(), id)
	if err != nil {
		t.Fatalf("ensure %s: %v", id, err)
	}
	client := g.dialer.LastClient()
	client.Emit(protocol.Event{Kind: protocol.EventConnected})
	deadline := time.Now().Add(time.Second)
	for s.State() != session.StateConnected {
		if time.Now().After(deadline) {
			t.Fatalf("session %s never connected", id)
		}
		time.Sleep(time.Millisecond)
	}
	return client
}

func TestLiveness(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "wagate is running" {
		t.Fatalf("unexpected body: %q", resp.Body.String())
	}
}

func TestQRTimesOut(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/qr/alpha", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.Code)
	}
}

func TestQRAlreadyConnected(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	g.connect(t, "alpha")

	req := httptest.NewRequest(http.MethodGet, "/qr/alpha", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != "already connected" {
		t.Fatalf("unexpected body: %q", resp.Body.String())
	}
}

func TestQRInvalidSessionID(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/qr/bad%2Fid", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendRequiresConnectedSession(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	body, _ := json.Marshal(map[string]string{"number": "123", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/send/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendValidation(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	g.connect(t, "alpha")

	body, _ := json.Marshal(map[string]string{"number": "", "message": "hi"})
	req := httptest.NewRequest(http.MethodPost, "/send/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSendSuccess(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	client := g.connect(t, "alpha")

	body, _ := json.Marshal(map[string]string{"number": "49123", "message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/send/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			MessageID string `json:"messageId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Success || envelope.Data.MessageID == "" {
		t.Fatalf("unexpected envelope: %s", resp.Body.String())
	}

	calls := client.SentTexts()
	if len(calls) != 1 || calls[0].Address != "49123@c.us" {
		t.Fatalf("unexpected protocol calls: %+v", calls)
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	client := g.connect(t, "alpha")
	client.ExistsFn = func(address string) (bool, error) { return false, nil }

	body, _ := json.Marshal(map[string]string{"number": "49123", "message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/send/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSendRateLimited(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 1)
	g.connect(t, "alpha")

	send := func() *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"number": "49123", "message": "hello"})
		req := httptest.NewRequest(http.MethodPost, "/send/alpha", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp := httptest.NewRecorder()
		g.router.ServeHTTP(resp, req)
		return resp
	}

	if resp := send(); resp.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d", resp.Code)
	}
	resp := send()
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("second send: expected 429, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("Try again in")) {
		t.Fatalf("429 body must carry the retry delay: %s", resp.Body.String())
	}
}

func TestSendMultipartUpload(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	client := g.connect(t, "alpha")

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("number", "49123")
	writer.WriteField("message", "caption text")
	part, err := writer.CreateFormFile("image", "photo.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("png-bytes"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/send/alpha", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(client.ImageCalls) != 1 {
		t.Fatalf("expected one image send, got %d", len(client.ImageCalls))
	}
	if client.ImageCalls[0].Caption != "caption text" {
		t.Fatalf("unexpected caption: %q", client.ImageCalls[0].Caption)
	}
}

func TestSendBulk(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)
	client := g.connect(t, "alpha")
	client.ExistsFn = func(address string) (bool, error) {
		return address != "2@c.us", nil
	}

	body, _ := json.Marshal(map[string]any{
		"numbers": []string{"1", "2", "3"},
		"message": "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/send-bulk/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out bulkResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.Success || out.Summary.Total != 3 || out.Summary.Sent != 2 || out.Summary.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", out.Summary)
	}
	if out.Summary.Processed != out.Summary.Total {
		t.Fatalf("processed %d != total %d", out.Summary.Processed, out.Summary.Total)
	}
	if len(out.Report) != 3 || out.Report[1].Status != dispatch.StatusSkipped {
		t.Fatalf("unexpected report: %+v", out.Report)
	}
}

func TestSendBulkInvalidInput(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	// Empty recipient list fails fast before any session check.
	body, _ := json.Marshal(map[string]any{"numbers": []string{}, "message": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/send-bulk/alpha", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestStatusAndLogout(t *testing.T) {
	g := setupGateway(t, config.AuthConfig{}, 10)

	req := httptest.NewRequest(http.MethodGet, "/status/alpha", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status of unknown session: expected 404, got %d", resp.Code)
	}

	g.connect(t, "alpha")

	req = httptest.NewRequest(http.MethodGet, "/status/alpha", nil)
	resp = httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("connected")) {
		t.Fatalf("unexpected status body: %s", resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/session/alpha", nil)
	resp = httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/session/alpha", nil)
	resp = httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("second logout: expected 404, got %d", resp.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	secret := "test-secret"
	g := setupGateway(t, config.AuthConfig{Enabled: true, JWTSecret: secret}, 10)

	req := httptest.NewRequest(http.MethodGet, "/status/alpha", nil)
	resp := httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", resp.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/status/alpha", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp = httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("valid token: expected 404 (unknown session), got %d", resp.Code)
	}

	// The liveness endpoint stays open.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	resp = httptest.NewRecorder()
	g.router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("liveness must bypass auth, got %d", resp.Code)
	}
}
