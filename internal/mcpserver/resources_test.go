package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// stubReply는 fakeGetter가 경로별로 반환할 응답입니다.
type stubReply struct {
	status int
	body   string
	err    error
}

// fakeGetter는 경로별로 정해진 응답을 반환하는 Getter입니다.
type fakeGetter struct {
	mu      sync.Mutex
	replies map[string]stubReply
	calls   map[string]int
}

func newFakeGetter() *fakeGetter {
	return &fakeGetter{replies: map[string]stubReply{}, calls: map[string]int{}}
}

func (f *fakeGetter) set(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[path] = stubReply{status: status, body: body}
}

func (f *fakeGetter) fail(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[path] = stubReply{err: err}
}

func (f *fakeGetter) Get(ctx context.Context, path string) (*teamserver.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++

	reply, ok := f.replies[path]
	if !ok {
		return &teamserver.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &teamserver.Response{
		StatusCode: reply.status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(reply.body),
	}, nil
}

func newTestViews(getter Getter) *dataViews {
	return &dataViews{
		getter:     getter,
		baseURL:    "https://teamserver:50443",
		specPath:   DefaultSpecPath,
		loginPath:  DefaultLoginPath,
		serverName: "Cobalt Strike API",
		version:    ServerVersion,
		cache:      NewCache(time.Minute),
		metrics:    metrics.New(),
		logger:     zerolog.Nop(),
	}
}

func findView(t *testing.T, v *dataViews, uri string) view {
	t.Helper()
	for _, vw := range v.views() {
		if vw.uri == uri {
			return vw
		}
	}
	t.Fatalf("리소스 %s를 찾을 수 없습니다", uri)
	return view{}
}

// readView는 리소스 핸들러를 호출하고 JSON 텍스트를 맵으로 디코딩합니다.
func readView(t *testing.T, v *dataViews, uri string) map[string]any {
	t.Helper()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	contents, err := v.handler(findView(t, v, uri))(context.Background(), req)
	if err != nil {
		t.Fatalf("리소스 핸들러는 오류를 반환하지 않아야 합니다: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("예상 콘텐츠 1개, 실제: %d", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("TextResourceContents여야 합니다, 실제: %T", contents[0])
	}
	if text.URI != uri || text.MIMEType != "application/json" {
		t.Errorf("예상하지 못한 URI/MIME: %s %s", text.URI, text.MIMEType)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		t.Fatalf("리소스 JSON 파싱 실패: %v\n%s", err, text.Text)
	}
	return out
}

// TestActiveBeacons_PassThrough는 비콘 목록이 그대로 전달되는지 테스트합니다.
func TestActiveBeacons_PassThrough(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathBeacons, http.StatusOK, `[{"bid":"1"},{"bid":"2"}]`)
	v := newTestViews(getter)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = URIActiveBeacons
	contents, err := v.handler(findView(t, v, URIActiveBeacons))(context.Background(), req)
	if err != nil {
		t.Fatalf("오류가 없어야 합니다: %v", err)
	}

	var beacons []map[string]any
	if err := json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &beacons); err != nil {
		t.Fatalf("비콘 목록 파싱 실패: %v", err)
	}
	if len(beacons) != 2 || beacons[0]["bid"] != "1" {
		t.Errorf("예상하지 못한 비콘 목록: %v", beacons)
	}
}

// TestDataView_NonOKStatus는 비 2xx 응답이 오류 엔벌로프가 되는지 테스트합니다.
func TestDataView_NonOKStatus(t *testing.T) {
	tests := []struct {
		uri     string
		path    string
		errText string
		message string
	}{
		{URIActiveBeacons, pathBeacons, "Failed to fetch beacons", "Unable to retrieve active beacon data"},
		{URIActiveListeners, pathListeners, "Failed to fetch listeners", "Unable to retrieve listener data"},
		{URIRecentActivity, pathTasks, "Failed to fetch activity logs", "Unable to retrieve recent activity data"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			getter := newFakeGetter()
			getter.set(tt.path, http.StatusServiceUnavailable, `{"error":"down"}`)
			v := newTestViews(getter)

			out := readView(t, v, tt.uri)
			if out["error"] != tt.errText {
				t.Errorf("예상 error %q, 실제: %v", tt.errText, out["error"])
			}
			if out["status_code"] != float64(http.StatusServiceUnavailable) {
				t.Errorf("status_code가 숫자 503이어야 합니다: %v", out["status_code"])
			}
			if out["message"] != tt.message {
				t.Errorf("예상 message %q, 실제: %v", tt.message, out["message"])
			}
			if _, ok := out["cached"]; ok {
				t.Error("캐시가 없으면 cached 필드가 없어야 합니다")
			}
			if v.metrics.ResourceErrors.Load() != 1 {
				t.Errorf("리소스 오류가 기록되어야 합니다: %d", v.metrics.ResourceErrors.Load())
			}
		})
	}
}

// TestDataView_TransportError는 전송 실패가 exception 엔벌로프가 되는지 테스트합니다.
func TestDataView_TransportError(t *testing.T) {
	getter := newFakeGetter()
	getter.fail(pathListeners, errors.New("dial tcp: connection refused"))
	v := newTestViews(getter)

	out := readView(t, v, URIActiveListeners)
	if out["error"] != "Exception occurred" {
		t.Errorf("예상 error Exception occurred, 실제: %v", out["error"])
	}
	if !strings.Contains(fmt.Sprint(out["exception"]), "connection refused") {
		t.Errorf("exception에 원인이 포함되어야 합니다: %v", out["exception"])
	}
	if out["message"] != "Error while fetching listener data" {
		t.Errorf("예상하지 못한 message: %v", out["message"])
	}
}

// TestDataView_InvalidJSON은 파싱 실패가 exception 엔벌로프가 되는지 테스트합니다.
func TestDataView_InvalidJSON(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		uri     string
		message string
	}{
		{"HTML 본문", pathTasks, `<html>oops</html>`, URIRecentActivity, "Error while fetching activity logs"},
		{"값 뒤의 추가 데이터", pathListeners, `[{"name":"http"}] not-json-trailer`, URIActiveListeners, "Error while fetching listener data"},
		{"연속된 두 값", pathTasks, `[] []`, URIRecentActivity, "Error while fetching activity logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := newFakeGetter()
			getter.set(tt.path, http.StatusOK, tt.body)
			v := newTestViews(getter)

			out := readView(t, v, tt.uri)
			if out["error"] != "Exception occurred" || out["message"] != tt.message {
				t.Errorf("파싱 실패는 exception 엔벌로프여야 합니다: %v", out)
			}
		})
	}
}

// TestDecodeJSON_TrailingWhitespace는 값 뒤의 공백이 허용되는지 테스트합니다.
func TestDecodeJSON_TrailingWhitespace(t *testing.T) {
	data, err := decodeJSON([]byte("[1, 2]\n  \n"))
	if err != nil {
		t.Fatalf("예상하지 못한 오류: %v", err)
	}
	if items, _ := data.([]any); len(items) != 2 {
		t.Errorf("예상 항목 2개, 실제: %v", data)
	}
}

// TestActiveListeners는 리스너 요약을 테스트합니다.
func TestActiveListeners(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathListeners, http.StatusOK, `[{"name":"http","port":80},{"name":"smb"}]`)
	v := newTestViews(getter)

	out := readView(t, v, URIActiveListeners)
	meta, _ := out["metadata"].(map[string]any)
	if meta["total_listeners"] != float64(2) || meta["status"] != "active" {
		t.Errorf("예상하지 못한 메타데이터: %v", meta)
	}
	if _, err := time.Parse(time.RFC3339, fmt.Sprint(meta["last_updated"])); err != nil {
		t.Errorf("last_updated는 RFC3339여야 합니다: %v", meta["last_updated"])
	}
	listeners, _ := out["listeners"].([]any)
	if len(listeners) != 2 {
		t.Errorf("예상 리스너 2개, 실제: %d", len(listeners))
	}
	first, _ := listeners[0].(map[string]any)
	if first["port"] != float64(80) {
		t.Errorf("숫자 값이 보존되어야 합니다: %v", first)
	}
}

// TestActiveListeners_SingleObject는 목록이 아닌 응답의 개수를 테스트합니다.
func TestActiveListeners_SingleObject(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathListeners, http.StatusOK, `{"name":"http"}`)
	v := newTestViews(getter)

	out := readView(t, v, URIActiveListeners)
	meta, _ := out["metadata"].(map[string]any)
	if meta["total_listeners"] != float64(1) {
		t.Errorf("목록이 아니면 개수는 1이어야 합니다: %v", meta["total_listeners"])
	}
}

// TestRecentActivity_Truncates는 최근 활동이 50개로 제한되는지 테스트합니다.
func TestRecentActivity_Truncates(t *testing.T) {
	tasks := make([]map[string]any, 120)
	for i := range tasks {
		tasks[i] = map[string]any{"taskId": fmt.Sprintf("task-%03d", i)}
	}
	body, _ := json.Marshal(tasks)

	getter := newFakeGetter()
	getter.set(pathTasks, http.StatusOK, string(body))
	v := newTestViews(getter)

	out := readView(t, v, URIRecentActivity)
	activities, _ := out["activities"].([]any)
	if len(activities) != 50 {
		t.Fatalf("예상 활동 50개, 실제: %d", len(activities))
	}
	first, _ := activities[0].(map[string]any)
	if first["taskId"] != "task-000" {
		t.Errorf("팀 서버 순서를 유지해야 합니다: %v", first)
	}

	meta, _ := out["metadata"].(map[string]any)
	if meta["total_tasks_available"] != float64(120) {
		t.Errorf("예상 available 120, 실제: %v", meta["total_tasks_available"])
	}
	if meta["total_tasks_shown"] != float64(50) {
		t.Errorf("예상 shown 50, 실제: %v", meta["total_tasks_shown"])
	}
	if !strings.Contains(fmt.Sprint(meta["note"]), "50") {
		t.Errorf("note에 제한이 표시되어야 합니다: %v", meta["note"])
	}
}

// TestRecentActivity_Short는 50개 이하 목록을 테스트합니다.
func TestRecentActivity_Short(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathTasks, http.StatusOK, `[{"taskId":"a"},{"taskId":"b"}]`)
	v := newTestViews(getter)

	out := readView(t, v, URIRecentActivity)
	meta, _ := out["metadata"].(map[string]any)
	if meta["total_tasks_shown"] != float64(2) || meta["total_tasks_available"] != float64(2) {
		t.Errorf("예상하지 못한 메타데이터: %v", meta)
	}
}

// TestDashboardStats_PartialFailure는 한 엔드포인트 실패가 격리되는지 테스트합니다.
func TestDashboardStats_PartialFailure(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(g *fakeGetter)
		status string
	}{
		{
			name:   "비 2xx 응답",
			setup:  func(g *fakeGetter) { g.set(pathTasks, http.StatusInternalServerError, "") },
			status: "unavailable",
		},
		{
			name:   "전송 실패",
			setup:  func(g *fakeGetter) { g.fail(pathTasks, errors.New("timeout")) },
			status: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := newFakeGetter()
			getter.set(pathBeacons, http.StatusOK, `[{"bid":"1"},{"bid":"2"},{"bid":"3"}]`)
			getter.set(pathListeners, http.StatusOK, `{"name":"only"}`)
			tt.setup(getter)
			v := newTestViews(getter)

			out := readView(t, v, URIDashboardStats)

			beacons, _ := out["beacons"].(map[string]any)
			if beacons["status"] != "available" || beacons["count"] != float64(3) {
				t.Errorf("beacons는 available/3이어야 합니다: %v", beacons)
			}
			listeners, _ := out["listeners"].(map[string]any)
			if listeners["status"] != "available" || listeners["count"] != float64(1) {
				t.Errorf("listeners는 available/1이어야 합니다: %v", listeners)
			}
			tasks, _ := out["tasks"].(map[string]any)
			if tasks["status"] != tt.status || tasks["count"] != float64(0) {
				t.Errorf("tasks는 %s/0이어야 합니다: %v", tt.status, tasks)
			}

			dashboard, _ := out["dashboard"].(map[string]any)
			if dashboard["status"] != "degraded" {
				t.Errorf("일부 실패 시 대시보드 상태는 degraded여야 합니다: %v", dashboard)
			}
			if _, ok := out["error"]; ok {
				t.Error("부분 실패는 전체 오류 엔벌로프가 아니어야 합니다")
			}
		})
	}
}

// TestDashboardStats_AllAvailable은 모든 엔드포인트가 정상인 경우를 테스트합니다.
func TestDashboardStats_AllAvailable(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathBeacons, http.StatusOK, `[]`)
	getter.set(pathListeners, http.StatusOK, `[{"name":"http"}]`)
	getter.set(pathTasks, http.StatusOK, `[{"id":1},{"id":2}]`)
	v := newTestViews(getter)

	out := readView(t, v, URIDashboardStats)
	dashboard, _ := out["dashboard"].(map[string]any)
	if dashboard["status"] != "operational" {
		t.Errorf("예상 operational, 실제: %v", dashboard["status"])
	}
	tasks, _ := out["tasks"].(map[string]any)
	if tasks["count"] != float64(2) {
		t.Errorf("예상 tasks 2, 실제: %v", tasks["count"])
	}

	for _, p := range []string{pathBeacons, pathListeners, pathTasks} {
		if getter.calls[p] != 1 {
			t.Errorf("%s는 한 번 조회되어야 합니다, 실제: %d", p, getter.calls[p])
		}
	}
}

// TestServerInfo_Degraded는 localip 실패와 systeminformation 생략을 테스트합니다.
func TestServerInfo_Degraded(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathLocalIP, http.StatusForbidden, "")
	getter.fail(pathSystemInformation, errors.New("reset by peer"))
	v := newTestViews(getter)

	out := readView(t, v, URIServerInfo)
	if _, ok := out["error"]; ok {
		t.Fatalf("보조 엔드포인트 실패는 전체 실패가 아니어야 합니다: %v", out)
	}

	cs, _ := out["cobalt_strike"].(map[string]any)
	version, _ := cs["version"].(map[string]any)
	if version["version"] != "unknown" || version["api_status"] != "limited" {
		t.Errorf("버전 블록이 축소되어야 합니다: %v", version)
	}
	if _, ok := cs["system_information"]; ok {
		t.Error("systeminformation 실패 시 필드가 생략되어야 합니다")
	}
	if cs["api_base_url"] != "https://teamserver:50443" {
		t.Errorf("예상하지 못한 api_base_url: %v", cs["api_base_url"])
	}

	endpoints, _ := out["api_endpoints"].(map[string]any)
	if endpoints["api_docs"] != "https://teamserver:50443/v3/api-docs" {
		t.Errorf("예상하지 못한 api_docs: %v", endpoints["api_docs"])
	}
	if endpoints["authentication"] != "https://teamserver:50443/api/auth/login" {
		t.Errorf("예상하지 못한 authentication: %v", endpoints["authentication"])
	}
}

// TestServerInfo_Enriched는 보조 엔드포인트 성공 시 정보가 추가되는지 테스트합니다.
func TestServerInfo_Enriched(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathLocalIP, http.StatusOK, `"10.0.0.5"`)
	getter.set(pathSystemInformation, http.StatusOK, `{"os":"linux","cores":8}`)
	v := newTestViews(getter)

	out := readView(t, v, URIServerInfo)
	cs, _ := out["cobalt_strike"].(map[string]any)
	version, _ := cs["version"].(map[string]any)
	if version["api_status"] != "operational" || version["local_ip"] != "10.0.0.5" {
		t.Errorf("예상하지 못한 버전 블록: %v", version)
	}
	sys, _ := cs["system_information"].(map[string]any)
	if sys["os"] != "linux" {
		t.Errorf("systeminformation이 포함되어야 합니다: %v", cs["system_information"])
	}

	bridge, _ := out["mcp_server"].(map[string]any)
	if bridge["name"] != "Cobalt Strike API" || bridge["authenticated"] != true {
		t.Errorf("예상하지 못한 브리지 정보: %v", bridge)
	}
}

// TestDataView_StaleCache는 실패 시 마지막 성공 응답이 첨부되는지 테스트합니다.
func TestDataView_StaleCache(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathListeners, http.StatusOK, `[{"name":"http"}]`)
	v := newTestViews(getter)

	readView(t, v, URIActiveListeners)

	getter.set(pathListeners, http.StatusBadGateway, "")
	out := readView(t, v, URIActiveListeners)

	if out["error"] != "Failed to fetch listeners" || out["status_code"] != float64(http.StatusBadGateway) {
		t.Errorf("오류 엔벌로프여야 합니다: %v", out)
	}
	cached, ok := out["cached"].(map[string]any)
	if !ok {
		t.Fatalf("캐시된 사본이 첨부되어야 합니다: %v", out)
	}
	if cached["cached"] != true || cached["cached_at"] == "" {
		t.Errorf("캐시 메타데이터가 설정되어야 합니다: %v", cached)
	}
	data, _ := cached["data"].(map[string]any)
	meta, _ := data["metadata"].(map[string]any)
	if meta["total_listeners"] != float64(1) {
		t.Errorf("캐시된 데이터가 마지막 성공 응답이어야 합니다: %v", data)
	}
}

// TestDataView_ExpiredCache는 TTL이 지난 사본이 첨부되지 않는지 테스트합니다.
func TestDataView_ExpiredCache(t *testing.T) {
	getter := newFakeGetter()
	getter.set(pathBeacons, http.StatusOK, `[{"bid":"1"}]`)
	v := newTestViews(getter)
	cache, clock := newTestCache(time.Minute)
	v.cache = cache

	readView(t, v, URIActiveBeacons)
	getter.set(pathBeacons, http.StatusBadGateway, "")

	clock.Advance(time.Minute)
	if out := readView(t, v, URIActiveBeacons); out["cached"] == nil {
		t.Errorf("TTL 안에서는 캐시된 사본이 첨부되어야 합니다: %v", out)
	}

	clock.Advance(time.Second)
	out := readView(t, v, URIActiveBeacons)
	if out["error"] != "Failed to fetch beacons" {
		t.Errorf("오류 엔벌로프여야 합니다: %v", out)
	}
	if _, ok := out["cached"]; ok {
		t.Errorf("만료된 사본은 첨부되지 않아야 합니다: %v", out)
	}
}

// TestBridgeStats는 브리지 메트릭 리소스를 테스트합니다.
func TestBridgeStats(t *testing.T) {
	v := newTestViews(newFakeGetter())
	v.metrics.ToolCalls.Add(3)
	v.metrics.RecordUpstream(10*time.Millisecond, true)

	out := readView(t, v, URIBridgeStats)
	if out["tool_calls"] != float64(3) {
		t.Errorf("예상 tool_calls 3, 실제: %v", out["tool_calls"])
	}
	if out["upstream_failures"] != float64(1) {
		t.Errorf("예상 upstream_failures 1, 실제: %v", out["upstream_failures"])
	}
	if out["resource_reads"] != float64(1) {
		t.Errorf("자기 자신의 조회가 기록되어야 합니다: %v", out["resource_reads"])
	}
}

// TestResources_ThroughMCPServer는 등록된 리소스를 MCP 요청으로 읽습니다.
func TestResources_ThroughMCPServer(t *testing.T) {
	ts := newFakeTeamServer(t)
	srv := newCreatedServer(t, ts)

	var result struct {
		Contents []struct {
			URI      string `json:"uri"`
			MIMEType string `json:"mimeType"`
			Text     string `json:"text"`
		} `json:"contents"`
	}
	rpc(t, srv.MCPServer(), "resources/read", map[string]any{"uri": URIDashboardStats}, &result)

	if len(result.Contents) != 1 {
		t.Fatalf("예상 콘텐츠 1개, 실제: %d", len(result.Contents))
	}
	var stats map[string]map[string]any
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &stats); err != nil {
		t.Fatalf("대시보드 파싱 실패: %v", err)
	}
	if stats["beacons"]["count"] != float64(2) || stats["tasks"]["count"] != float64(3) {
		t.Errorf("예상하지 못한 대시보드: %v", stats)
	}
	if srv.Metrics().ResourceReads.Load() != 1 {
		t.Errorf("리소스 조회가 기록되어야 합니다: %d", srv.Metrics().ResourceReads.Load())
	}
}

// TestRawOrText는 본문 변환을 테스트합니다.
func TestRawOrText(t *testing.T) {
	if got, ok := rawOrText([]byte(` {"a":1} `)).(json.RawMessage); !ok || string(got) != `{"a":1}` {
		t.Errorf("유효한 JSON은 RawMessage여야 합니다: %v", got)
	}
	if got := rawOrText([]byte("10.0.0.5\n")); got != "10.0.0.5" {
		t.Errorf("JSON이 아니면 문자열이어야 합니다: %v", got)
	}
	if got := rawOrText(nil); got != "" {
		t.Errorf("빈 본문은 빈 문자열이어야 합니다: %v", got)
	}
}
