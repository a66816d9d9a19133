package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const testToken = "test-access-token"

// testSpec은 팀 서버 OpenAPI 문서의 축소판입니다.
const testSpec = `{
  "openapi": "3.0.1",
  "info": {"title": "Team Server API", "version": "1.0"},
  "paths": {
    "/api/auth/login": {
      "post": {"operationId": "login", "tags": ["Security"], "responses": {"200": {"description": "ok"}}}
    },
    "/api/v1/beacons": {
      "get": {"operationId": "getBeacons", "summary": "List beacons", "tags": ["Beacons"], "responses": {"200": {"description": "ok"}}}
    },
    "/api/v1/beacons/{bid}": {
      "get": {
        "operationId": "getBeacon",
        "tags": ["Beacons"],
        "parameters": [{"name": "bid", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"200": {"description": "ok"}}
      }
    },
    "/api/v1/config/resetData": {
      "post": {"operationId": "resetData", "tags": ["Configuration"], "responses": {"200": {"description": "ok"}}}
    },
    "/api/v1/listeners": {
      "get": {"operationId": "getListeners", "tags": ["Listeners"], "responses": {"200": {"description": "ok"}}}
    }
  }
}`

// fakeTeamServer는 로그인, 문서, 데이터 뷰 엔드포인트를 제공하는 테스트 서버입니다.
// routes에 경로별 핸들러를 덮어써서 실패 상황을 만들 수 있습니다.
type fakeTeamServer struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
}

func newFakeTeamServer(t *testing.T) *fakeTeamServer {
	t.Helper()

	f := &fakeTeamServer{routes: map[string]http.HandlerFunc{}}
	f.routes["/api/auth/login"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"access_token":"`+testToken+`"}`)
	}
	f.routes["/v3/api-docs"] = jsonHandler(http.StatusOK, testSpec)
	f.routes["/api/v1/beacons"] = jsonHandler(http.StatusOK, `[{"bid":"1001","user":"alice"},{"bid":"1002","user":"bob"}]`)
	f.routes["/api/v1/beacons/1001"] = jsonHandler(http.StatusOK, `{"bid":"1001","user":"alice"}`)
	f.routes["/api/v1/listeners"] = jsonHandler(http.StatusOK, `[{"name":"http"}]`)
	f.routes["/api/v1/tasks"] = jsonHandler(http.StatusOK, `[{"taskId":"t1"},{"taskId":"t2"},{"taskId":"t3"}]`)

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" && r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		h, ok := f.routes[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeTeamServer) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// newAuthenticatedClient는 fakeTeamServer에 로그인한 클라이언트를 반환합니다.
func newAuthenticatedClient(t *testing.T, ts *fakeTeamServer) *teamserver.Client {
	t.Helper()

	client := teamserver.NewClient(teamserver.Options{
		BaseURL:   ts.URL,
		VerifyTLS: true,
		Logger:    zerolog.Nop(),
	})
	if _, err := client.Authenticate(context.Background(), "operator", "secret", 60_000, "/api/auth/login"); err != nil {
		t.Fatalf("인증 실패: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// newCreatedServer는 CreateServer까지 완료한 Server를 반환합니다.
func newCreatedServer(t *testing.T, ts *fakeTeamServer) *Server {
	t.Helper()

	srv := NewServer(newAuthenticatedClient(t, ts), Options{
		Logger:  zerolog.Nop(),
		Metrics: metrics.New(),
	})
	if _, err := srv.CreateServer(context.Background(), ""); err != nil {
		t.Fatalf("CreateServer 실패: %v", err)
	}
	return srv
}

// rpc는 JSON-RPC 요청을 MCP 서버에 직접 전달하고 result를 디코딩합니다.
func rpc(t *testing.T, srv *server.MCPServer, method string, params any, out any) {
	t.Helper()

	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("요청 직렬화 실패: %v", err)
	}

	resp := srv.HandleMessage(context.Background(), raw)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("응답 직렬화 실패: %v", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("응답 파싱 실패: %v", err)
	}
	if envelope.Error != nil {
		t.Fatalf("%s 호출 실패: %d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			t.Fatalf("result 파싱 실패: %v\n%s", err, envelope.Result)
		}
	}
}

// syncBuffer는 동시에 쓰여도 안전한 버퍼입니다.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func initializeRequest(id int) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0.0.1"}}}`, id)
}
