package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// 데이터 뷰 리소스 URI
const (
	URIActiveBeacons   = "cobalt-strike://beacons/active"
	URIActiveListeners = "cobalt-strike://listeners/active"
	URIRecentActivity  = "cobalt-strike://logs/recent-activity"
	URIDashboardStats  = "cobalt-strike://stats/dashboard"
	URIServerInfo      = "cobalt-strike://config/server-info"
	URIBridgeStats     = "cobalt-strike://stats/bridge"
)

// 팀 서버 엔드포인트
const (
	pathBeacons           = "/api/v1/beacons"
	pathListeners         = "/api/v1/listeners"
	pathTasks             = "/api/v1/tasks"
	pathLocalIP           = "/api/v1/config/localip"
	pathSystemInformation = "/api/v1/config/systeminformation"
	pathVersion           = "/api/v1/version"
)

// recentActivityLimit은 recent-activity 리소스가 반환하는 최대 태스크 수입니다.
const recentActivityLimit = 50

// Getter는 데이터 뷰가 팀 서버를 조회할 때 사용하는 인터페이스입니다.
// *teamserver.Session이 이 인터페이스를 만족합니다.
type Getter interface {
	Get(ctx context.Context, path string) (*teamserver.Response, error)
}

// ErrorEnvelope는 데이터 뷰 실패 시 반환되는 응답입니다.
// 비 2xx 응답은 StatusCode를, 전송/파싱 실패는 Exception을 채웁니다.
type ErrorEnvelope struct {
	Error      string          `json:"error"`
	StatusCode int             `json:"status_code,omitempty"`
	Exception  string          `json:"exception,omitempty"`
	Message    string          `json:"message"`
	Cached     *CachedResponse `json:"cached,omitempty"`
}

// CachedResponse는 마지막으로 성공한 데이터 뷰 응답입니다.
type CachedResponse struct {
	Data     interface{} `json:"data"`
	Cached   bool        `json:"cached"`
	CachedAt string      `json:"cached_at"`
}

// ListenerSummary는 listeners/active 리소스 응답입니다.
type ListenerSummary struct {
	Metadata  ListenerMetadata `json:"metadata"`
	Listeners interface{}      `json:"listeners"`
}

// ListenerMetadata는 리스너 요약 메타데이터입니다.
type ListenerMetadata struct {
	TotalListeners int    `json:"total_listeners"`
	Status         string `json:"status"`
	LastUpdated    string `json:"last_updated"`
}

// ActivitySummary는 logs/recent-activity 리소스 응답입니다.
type ActivitySummary struct {
	Metadata   ActivityMetadata `json:"metadata"`
	Activities interface{}      `json:"activities"`
}

// ActivityMetadata는 최근 활동 메타데이터입니다.
type ActivityMetadata struct {
	Timestamp           string `json:"timestamp"`
	TotalTasksShown     int    `json:"total_tasks_shown"`
	TotalTasksAvailable int    `json:"total_tasks_available"`
	Note                string `json:"note"`
}

// EndpointStats는 대시보드의 엔드포인트별 집계입니다.
type EndpointStats struct {
	Count     int    `json:"count"`
	Status    string `json:"status"`
	ErrorCode int    `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DashboardStatus는 대시보드 전체 상태입니다.
type DashboardStatus struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// ServerInfo는 config/server-info 리소스 응답입니다.
type ServerInfo struct {
	CobaltStrike TeamServerInfo    `json:"cobalt_strike"`
	MCPServer    BridgeInfo        `json:"mcp_server"`
	APIEndpoints map[string]string `json:"api_endpoints"`
	Resources    map[string]string `json:"resources"`
}

// TeamServerInfo는 팀 서버 연결 정보입니다.
type TeamServerInfo struct {
	Version           map[string]interface{} `json:"version"`
	APIBaseURL        string                 `json:"api_base_url"`
	HealthStatus      string                 `json:"health_status"`
	SystemInformation interface{}            `json:"system_information,omitempty"`
}

// BridgeInfo는 MCP 브리지 자체 정보입니다.
type BridgeInfo struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Authenticated bool     `json:"authenticated"`
	Transport     string   `json:"transport"`
	Capabilities  []string `json:"capabilities"`
}

// upstreamStatusError는 팀 서버가 2xx가 아닌 상태로 응답한 경우입니다.
type upstreamStatusError struct {
	StatusCode int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("팀 서버 응답 오류: HTTP %d", e.StatusCode)
}

// view는 리소스 하나의 정의입니다.
type view struct {
	uri         string
	name        string
	description string
	// resource는 "Failed to fetch <resource>"에 사용됩니다.
	resource string
	// subject는 "Unable to retrieve <subject>"에 사용됩니다.
	subject string
	// fetching은 "Error while fetching <fetching>"에 사용됩니다.
	fetching string
	read     func(ctx context.Context) (interface{}, error)
}

// dataViews는 공유 세션으로 팀 서버 상태를 조회하는 리소스 핸들러 모음입니다.
type dataViews struct {
	getter     Getter
	baseURL    string
	specPath   string
	loginPath  string
	serverName string
	version    string
	cache      *Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func (v *dataViews) views() []view {
	return []view{
		{
			uri:         URIActiveBeacons,
			name:        "Active Beacons",
			description: "Current active beacons in JSON format",
			resource:    "beacons",
			subject:     "active beacon data",
			fetching:    "beacon data",
			read:        v.activeBeacons,
		},
		{
			uri:         URIServerInfo,
			name:        "Server Information",
			description: "Team server information and bridge configuration",
			resource:    "server information",
			subject:     "server information",
			fetching:    "server information",
			read:        v.serverInfo,
		},
		{
			uri:         URIRecentActivity,
			name:        "Recent Activity",
			description: "The 50 most recent team server tasks",
			resource:    "activity logs",
			subject:     "recent activity data",
			fetching:    "activity logs",
			read:        v.recentActivity,
		},
		{
			uri:         URIActiveListeners,
			name:        "Active Listeners",
			description: "Current active listeners in JSON format",
			resource:    "listeners",
			subject:     "listener data",
			fetching:    "listener data",
			read:        v.activeListeners,
		},
		{
			uri:         URIDashboardStats,
			name:        "Dashboard Statistics",
			description: "Beacon, listener and task counts gathered concurrently",
			resource:    "dashboard statistics",
			subject:     "dashboard statistics",
			fetching:    "dashboard statistics",
			read:        v.dashboardStats,
		},
		{
			uri:         URIBridgeStats,
			name:        "Bridge Statistics",
			description: "Tool, resource and upstream request counters of this bridge",
			resource:    "bridge statistics",
			subject:     "bridge statistics",
			fetching:    "bridge statistics",
			read:        v.bridgeStats,
		},
	}
}

// register는 모든 데이터 뷰를 MCP 서버에 등록합니다.
func (v *dataViews) register(srv *server.MCPServer) {
	views := v.views()
	for _, vw := range views {
		resource := mcp.NewResource(
			vw.uri,
			vw.name,
			mcp.WithResourceDescription(vw.description),
			mcp.WithMIMEType("application/json"),
		)
		srv.AddResource(resource, v.handler(vw))
	}
	v.logger.Debug().Int("count", len(views)).Msg("MCP 리소스 등록 완료")
}

// handler는 view를 mcp-go 리소스 핸들러로 감쌉니다.
// 어떤 실패도 Go 오류로 반환하지 않고 오류 엔벌로프로 변환합니다.
func (v *dataViews) handler(vw view) server.ResourceHandlerFunc {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		if uri == "" {
			uri = vw.uri
		}

		payload := v.render(ctx, vw)
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			data, _ = json.MarshalIndent(exceptionEnvelope(vw, err), "", "  ")
		}
		return []mcp.ResourceContents{
			newTextResource(uri, string(data), "application/json"),
		}, nil
	}
}

// render는 view를 읽고 성공 페이로드 또는 오류 엔벌로프를 반환합니다.
// 성공한 페이로드는 캐시되며, 실패 시 TTL 안의 캐시된 사본이 있으면 엔벌로프에 첨부됩니다.
func (v *dataViews) render(ctx context.Context, vw view) interface{} {
	v.metrics.ResourceReads.Add(1)

	payload, err := vw.read(ctx)
	if err == nil {
		v.cache.Set(vw.uri, payload)
		return payload
	}

	v.metrics.ResourceErrors.Add(1)
	v.logger.Warn().Err(err).Str("uri", vw.uri).Msg("데이터 뷰 조회 실패")

	var env ErrorEnvelope
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		env = ErrorEnvelope{
			Error:      "Failed to fetch " + vw.resource,
			StatusCode: statusErr.StatusCode,
			Message:    "Unable to retrieve " + vw.subject,
		}
	} else {
		env = exceptionEnvelope(vw, err)
	}

	if cached, storedAt, ok := v.cache.Get(vw.uri); ok {
		v.logger.Info().Str("uri", vw.uri).Msg("캐시된 데이터 뷰를 폴백으로 첨부")
		env.Cached = &CachedResponse{
			Data:     cached,
			Cached:   true,
			CachedAt: storedAt.Format(time.RFC3339),
		}
	}
	return env
}

func exceptionEnvelope(vw view, err error) ErrorEnvelope {
	return ErrorEnvelope{
		Error:     "Exception occurred",
		Exception: err.Error(),
		Message:   "Error while fetching " + vw.fetching,
	}
}

// get은 path를 조회하고 2xx가 아니면 upstreamStatusError를 반환합니다.
func (v *dataViews) get(ctx context.Context, path string) (*teamserver.Response, error) {
	resp, err := v.getter.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &upstreamStatusError{StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// getJSON은 path를 조회해 JSON으로 디코딩합니다. 숫자는 json.Number로 보존됩니다.
func (v *dataViews) getJSON(ctx context.Context, path string) (interface{}, error) {
	resp, err := v.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeJSON(resp.Body)
}

// activeBeacons는 비콘 목록을 그대로 전달합니다.
func (v *dataViews) activeBeacons(ctx context.Context) (interface{}, error) {
	resp, err := v.get(ctx, pathBeacons)
	if err != nil {
		return nil, err
	}
	return rawOrText(resp.Body), nil
}

// activeListeners는 리스너 목록에 개수 메타데이터를 붙입니다.
func (v *dataViews) activeListeners(ctx context.Context) (interface{}, error) {
	data, err := v.getJSON(ctx, pathListeners)
	if err != nil {
		return nil, err
	}
	return ListenerSummary{
		Metadata: ListenerMetadata{
			TotalListeners: countItems(data),
			Status:         "active",
			LastUpdated:    now(),
		},
		Listeners: data,
	}, nil
}

// recentActivity는 태스크 목록의 앞쪽 50개만 반환합니다.
func (v *dataViews) recentActivity(ctx context.Context) (interface{}, error) {
	data, err := v.getJSON(ctx, pathTasks)
	if err != nil {
		return nil, err
	}

	activities := data
	if list, ok := data.([]interface{}); ok && len(list) > recentActivityLimit {
		activities = list[:recentActivityLimit]
	}

	return ActivitySummary{
		Metadata: ActivityMetadata{
			Timestamp:           now(),
			TotalTasksShown:     countItems(activities),
			TotalTasksAvailable: countItems(data),
			Note:                fmt.Sprintf("Limited to %d most recent tasks for performance", recentActivityLimit),
		},
		Activities: activities,
	}, nil
}

// dashboardStats는 세 엔드포인트를 동시에 조회해 엔드포인트별 결과를 독립적으로 기록합니다.
// 한 엔드포인트의 실패는 다른 엔드포인트 결과에 영향을 주지 않습니다.
func (v *dataViews) dashboardStats(ctx context.Context) (interface{}, error) {
	endpoints := []struct {
		name string
		path string
	}{
		{"beacons", pathBeacons},
		{"listeners", pathListeners},
		{"tasks", pathTasks},
	}

	results := make([]EndpointStats, len(endpoints))
	var g errgroup.Group
	for i, ep := range endpoints {
		g.Go(func() error {
			results[i] = v.endpointStats(ctx, ep.path)
			return nil
		})
	}
	_ = g.Wait()

	status := "operational"
	stats := map[string]interface{}{}
	for i, ep := range endpoints {
		stats[ep.name] = results[i]
		if results[i].Status != "available" {
			status = "degraded"
		}
	}
	stats["dashboard"] = DashboardStatus{
		Timestamp: now(),
		Status:    status,
	}
	return stats, nil
}

func (v *dataViews) endpointStats(ctx context.Context, path string) EndpointStats {
	resp, err := v.getter.Get(ctx, path)
	if err != nil {
		return EndpointStats{Count: 0, Status: "error", Error: err.Error()}
	}
	if !resp.OK() {
		return EndpointStats{Count: 0, Status: "unavailable", ErrorCode: resp.StatusCode}
	}
	data, err := decodeJSON(resp.Body)
	if err != nil {
		return EndpointStats{Count: 0, Status: "error", Error: err.Error()}
	}
	return EndpointStats{Count: countItems(data), Status: "available"}
}

// serverInfo는 브리지 정보와 팀 서버 정보를 합칩니다.
// localip 조회 실패는 버전 블록만 축소하고, systeminformation은 성공할 때만 포함합니다.
func (v *dataViews) serverInfo(ctx context.Context) (interface{}, error) {
	version := map[string]interface{}{
		"version":    "unknown",
		"api_status": "limited",
	}
	if resp, err := v.get(ctx, pathLocalIP); err == nil {
		version = map[string]interface{}{
			"version":    "available",
			"api_status": "operational",
			"local_ip":   rawOrText(resp.Body),
		}
	} else {
		v.logger.Debug().Err(err).Msg("localip 조회 실패, 제한된 버전 정보 사용")
	}

	info := ServerInfo{
		CobaltStrike: TeamServerInfo{
			Version:      version,
			APIBaseURL:   v.baseURL,
			HealthStatus: "connected",
		},
		MCPServer: BridgeInfo{
			Name:          v.serverName,
			Version:       v.version,
			Authenticated: true,
			Transport:     "MCP",
			Capabilities:  []string{"tools", "prompts", "resources"},
		},
		APIEndpoints: map[string]string{
			"base_url":       v.baseURL,
			"api_docs":       v.baseURL + v.specPath,
			"health_check":   v.baseURL + pathVersion,
			"authentication": v.baseURL + v.loginPath,
		},
		Resources: map[string]string{
			"beacons":       URIActiveBeacons,
			"server_info":   URIServerInfo,
			"activity_logs": URIRecentActivity,
			"listeners":     URIActiveListeners,
			"dashboard":     URIDashboardStats,
			"bridge_stats":  URIBridgeStats,
		},
	}

	if resp, err := v.get(ctx, pathSystemInformation); err == nil {
		info.CobaltStrike.SystemInformation = rawOrText(resp.Body)
	}
	return info, nil
}

// bridgeStats는 브리지 메트릭 스냅샷을 반환합니다.
func (v *dataViews) bridgeStats(ctx context.Context) (interface{}, error) {
	return v.metrics.Snapshot(), nil
}

// newTextResource는 텍스트 리소스 콘텐츠를 생성하는 헬퍼입니다.
func newTextResource(uri, text, mimeType string) mcp.TextResourceContents {
	return mcp.TextResourceContents{
		URI:      uri,
		MIMEType: mimeType,
		Text:     text,
	}
}

func decodeJSON(body []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("JSON 응답 파싱 실패: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("JSON 응답 파싱 실패: 값 뒤에 추가 데이터가 있습니다")
	}
	return data, nil
}

// rawOrText는 유효한 JSON이면 그대로, 아니면 문자열로 반환합니다.
func rawOrText(body []byte) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	return string(trimmed)
}

// countItems는 목록이면 길이를, 그 외에는 1을 반환합니다.
func countItems(data interface{}) int {
	if list, ok := data.([]interface{}); ok {
		return len(list)
	}
	return 1
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
