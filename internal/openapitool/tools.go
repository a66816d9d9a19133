package openapitool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// maxToolNameLength는 MCP 클라이언트가 허용하는 도구 이름의 최대 길이입니다.
const maxToolNameLength = 64

var (
	invalidNameChars   = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
)

// Requester는 팀 서버로 요청을 전송합니다.
// *teamserver.Session이 이 인터페이스를 만족합니다.
type Requester interface {
	Send(ctx context.Context, method, path string, query url.Values, header http.Header, body []byte) (*teamserver.Response, error)
}

// Options는 도구 생성 옵션입니다.
type Options struct {
	// Tags는 모든 도구의 _meta.tags에 추가되는 서버 태그입니다.
	Tags []string
	// RouteMaps는 operation 분류 규칙입니다. 첫 번째로 일치하는 규칙이 적용됩니다.
	RouteMaps []RouteMap
	Logger    zerolog.Logger
}

// ToolInfo는 생성되었거나 제외된 operation의 요약입니다.
type ToolInfo struct {
	Name        string    `json:"name"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	OperationID string    `json:"operation_id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Route       RouteType `json:"-"`
}

// Result는 Build의 결과입니다.
type Result struct {
	Tools     []server.ServerTool
	Generated []ToolInfo
	Excluded  []ToolInfo
}

// Register는 생성된 도구를 MCP 서버에 등록합니다.
func (r *Result) Register(srv *server.MCPServer) {
	if len(r.Tools) == 0 {
		return
	}
	srv.AddTools(r.Tools...)
}

// Build는 OpenAPI 문서에서 MCP 도구를 생성합니다.
// 모든 도구 핸들러는 같은 requester를 공유합니다.
func Build(doc *openapi3.T, requester Requester, opts Options) (*Result, error) {
	if doc == nil {
		return nil, errors.New("OpenAPI 문서가 nil입니다")
	}
	if requester == nil {
		return nil, errors.New("requester가 nil입니다")
	}

	logger := opts.Logger.With().Str("component", "openapitool").Logger()
	result := &Result{}
	names := make(map[string]bool)

	for _, op := range ExtractOperations(doc) {
		info := ToolInfo{
			Method:      op.Method,
			Path:        op.Path,
			OperationID: op.OperationID,
			Summary:     op.Summary,
			Tags:        op.Tags,
			Route:       Classify(op, opts.RouteMaps),
		}

		if info.Route == RouteExclude {
			result.Excluded = append(result.Excluded, info)
			logger.Debug().
				Str("method", op.Method).
				Str("path", op.Path).
				Msg("라우트 규칙에 따라 operation 제외")
			continue
		}

		info.Name = uniqueName(toolName(op), names)
		tool, err := buildTool(info.Name, op, requester, opts.Tags, logger)
		if err != nil {
			return nil, fmt.Errorf("도구 생성 실패 (%s %s): %w", op.Method, op.Path, err)
		}

		result.Tools = append(result.Tools, tool)
		result.Generated = append(result.Generated, info)
	}

	logger.Info().
		Int("generated", len(result.Generated)).
		Int("excluded", len(result.Excluded)).
		Msg("OpenAPI 도구 생성 완료")

	return result, nil
}

// buildTool은 operation 하나를 MCP 도구와 핸들러로 변환합니다.
func buildTool(name string, op Operation, requester Requester, serverTags []string, logger zerolog.Logger) (server.ServerTool, error) {
	ep, schema := newEndpoint(op, requester, logger)

	raw, err := json.Marshal(schema)
	if err != nil {
		return server.ServerTool{}, fmt.Errorf("입력 스키마 직렬화 실패: %w", err)
	}

	tool := mcp.NewToolWithRawSchema(name, toolDescription(op), raw)
	tool.Annotations = annotationsFor(op)
	tool.Meta = mcp.NewMetaFromMap(map[string]any{
		"tags":   mergeTags(serverTags, op.Tags),
		"method": op.Method,
		"path":   op.Path,
	})

	return server.ServerTool{Tool: tool, Handler: ep.handle}, nil
}

// toolName은 operationId에서 도구 이름을 만듭니다.
// operationId가 없으면 메서드와 경로로 이름을 만듭니다.
func toolName(op Operation) string {
	base := op.OperationID
	if base == "" {
		base = strings.ToLower(op.Method) + "_" + op.Path
	}

	name := invalidNameChars.ReplaceAllString(base, "_")
	name = strings.Trim(repeatedUnderscore.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = strings.ToLower(op.Method)
	}
	if len(name) > maxToolNameLength {
		name = strings.TrimRight(name[:maxToolNameLength], "_")
	}
	return name
}

// uniqueName은 이미 사용된 이름이면 _2, _3 ... 접미사를 붙입니다.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for i := 2; used[candidate]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := name
		if len(base)+len(suffix) > maxToolNameLength {
			base = base[:maxToolNameLength-len(suffix)]
		}
		candidate = base + suffix
	}
	used[candidate] = true
	return candidate
}

// toolDescription은 요약과 설명을 합친 도구 설명을 만듭니다.
func toolDescription(op Operation) string {
	var parts []string
	if op.Summary != "" {
		parts = append(parts, op.Summary)
	}
	if op.Description != "" && op.Description != op.Summary {
		parts = append(parts, op.Description)
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%s %s", op.Method, op.Path))
	}
	if op.Deprecated {
		parts = append(parts, "Deprecated: this endpoint may be removed by the team server.")
	}
	return strings.Join(parts, "\n\n")
}

// annotationsFor는 HTTP 메서드 의미에 따른 도구 힌트를 설정합니다.
func annotationsFor(op Operation) mcp.ToolAnnotation {
	readOnly := op.Method == http.MethodGet || op.Method == http.MethodHead || op.Method == http.MethodOptions
	destructive := op.Method == http.MethodDelete
	idempotent := readOnly || op.Method == http.MethodPut || op.Method == http.MethodDelete

	title := op.Summary
	if title == "" {
		title = fmt.Sprintf("%s %s", op.Method, op.Path)
	}

	return mcp.ToolAnnotation{
		Title:           title,
		ReadOnlyHint:    mcp.ToBoolPtr(readOnly),
		DestructiveHint: mcp.ToBoolPtr(destructive),
		IdempotentHint:  mcp.ToBoolPtr(idempotent),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}
}

// mergeTags는 서버 태그와 operation 태그를 중복 없이 정렬해 합칩니다.
func mergeTags(serverTags, opTags []string) []string {
	set := make(map[string]bool, len(serverTags)+len(opTags))
	for _, t := range serverTags {
		set[t] = true
	}
	for _, t := range opTags {
		set[t] = true
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
